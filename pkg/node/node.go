// Package node runs a vault ledger node.
//
// The Node ties together all components:
// - Accounts database (badger) holding account state
// - Blockstore (bbolt) holding blocks and transaction statuses
// - Ledger executing transactions and producing a block every slot
// - JSON-RPC server for clients
// - Geyser server streaming account updates
// - Web dashboard for browsing blocks and vault records
//
// The node manages the lifecycle of these components: it creates the
// genesis state on first start, resumes from storage afterwards and shuts
// everything down in order.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/dashboard"
	"github.com/fortiblox/X1-Vault/pkg/geyser"
	"github.com/fortiblox/X1-Vault/pkg/ledger"
	"github.com/fortiblox/X1-Vault/pkg/rpc"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories will be created for blockstore and accounts.
	DataDir string

	// VaultProgramID is the address the vault program is deployed at.
	VaultProgramID types.Pubkey

	// FaucetKeypair is the faucet's keypair file. It is generated on first
	// start if missing. Defaults to faucet.json in DataDir.
	FaucetKeypair string

	// FaucetLamports is the faucet's balance at genesis.
	FaucetLamports uint64

	// DisableFaucet turns requestAirdrop off.
	DisableFaucet bool

	// GenesisSnapshot is an optional accounts snapshot whose accounts are
	// created at genesis. It is ignored once the ledger exists.
	GenesisSnapshot string

	// SlotInterval is the time between produced blocks.
	SlotInterval time.Duration

	// MaxAirdrop caps a single faucet payout in lamports.
	MaxAirdrop uint64

	// PruneEnabled enables automatic pruning of old blocks.
	PruneEnabled bool

	// PruneRetainSlots is the number of slots to retain during pruning.
	PruneRetainSlots uint64

	// RPC server configuration.
	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool

	// RPCAddr is the listen address for the RPC server (default ":8899").
	RPCAddr string

	// RPCLogRequests enables logging of RPC requests.
	RPCLogRequests bool

	// GeyserEnabled enables the account update stream.
	GeyserEnabled bool

	// GeyserAddr is the listen address for the stream (default ":10000").
	GeyserAddr string

	// DashboardEnabled enables the web dashboard.
	DashboardEnabled bool

	// DashboardAddr is the listen address for the dashboard.
	DashboardAddr string

	// OnError is called for failures of background components.
	OnError func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	ledgerConfig := ledger.DefaultConfig()
	return Config{
		DataDir:          "./data",
		VaultProgramID:   types.DefaultVaultProgramAddr,
		FaucetLamports:   500_000_000 * 1_000_000_000,
		SlotInterval:     ledgerConfig.SlotInterval,
		MaxAirdrop:       ledgerConfig.MaxAirdrop,
		PruneEnabled:     true,
		PruneRetainSlots: blockstore.DefaultRetainSlots,
		RPCEnabled:       true,
		RPCAddr:          ":8899",
		GeyserEnabled:    true,
		GeyserAddr:       ":10000",
		DashboardAddr:    dashboard.DefaultConfig().Addr,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.VaultProgramID.IsZero() || types.IsNativeProgram(c.VaultProgramID) {
		return fmt.Errorf("%w: vault program id %s is reserved", ErrConfigInvalid, c.VaultProgramID)
	}
	if c.SlotInterval <= 0 {
		return fmt.Errorf("%w: slot interval must be positive", ErrConfigInvalid)
	}
	if c.RPCEnabled && c.RPCAddr == "" {
		return fmt.Errorf("%w: rpc address is required", ErrConfigInvalid)
	}
	if c.GeyserEnabled && c.GeyserAddr == "" {
		return fmt.Errorf("%w: geyser address is required", ErrConfigInvalid)
	}
	if c.DashboardEnabled && c.DashboardAddr == "" {
		return fmt.Errorf("%w: dashboard address is required", ErrConfigInvalid)
	}
	return nil
}

// Node is a running vault ledger with its servers.
type Node struct {
	config Config
	log    *logrus.Entry

	// Core components
	accounts     *accounts.BadgerDB
	blocks       *blockstore.BoltStore
	ledger       *ledger.Ledger
	rpcServer    *rpc.Server
	geyserServer *geyser.Server
	dashboard    *dashboard.Dashboard
	rpcLis       net.Listener
	geyserLis    net.Listener
	dashboardLis net.Listener
	genesisHash  types.Hash

	// State management
	running     atomic.Bool
	startTime   time.Time
	lastError   error
	lastErrorMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node with the given configuration. The node is not started
// until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}
	if config.FaucetKeypair == "" {
		config.FaucetKeypair = filepath.Join(config.DataDir, "faucet.json")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		config: *config,
		log:    logrus.StandardLogger().WithField("type", "node"),
	}, nil
}

// Start opens storage, creates the genesis state if needed and starts the
// ledger and servers. It returns once everything is running; the node
// runs until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}

	if err := n.initialize(); err != nil {
		n.closeListeners()
		n.closeStorage()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	n.goRun("ledger", func() error { return n.ledger.Run(ctx) })
	if n.rpcServer != nil {
		n.goRun("rpc server", func() error { return n.rpcServer.Serve(ctx, n.rpcLis) })
	}
	if n.geyserServer != nil {
		n.goRun("geyser server", func() error { return n.geyserServer.Serve(ctx, n.geyserLis) })
	}
	if n.dashboard != nil {
		n.goRun("dashboard", func() error { return n.dashboard.Serve(ctx, n.dashboardLis) })
	}

	n.wg.Add(1)
	go n.statusLoop(ctx)

	n.log.WithFields(logrus.Fields{
		"slot":      n.ledger.Slot(),
		"program":   n.config.VaultProgramID.String(),
		"rpc":       n.RPCAddr(),
		"geyser":    n.GeyserAddr(),
		"dashboard": n.DashboardAddr(),
		"data_dir":  n.config.DataDir,
	}).Info("node started")
	return nil
}

// initialize sets up storage, the ledger and listeners.
func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	blocksConfig := blockstore.DefaultConfig(filepath.Join(n.config.DataDir, "blockstore", "blockstore.db"))
	blocksConfig.PruneEnabled = n.config.PruneEnabled
	blocksConfig.RetainSlots = n.config.PruneRetainSlots
	if err := os.MkdirAll(filepath.Dir(blocksConfig.Path), 0o755); err != nil {
		return fmt.Errorf("create blockstore directory: %w", err)
	}
	blocks, err := blockstore.Open(blocksConfig)
	if err != nil {
		return fmt.Errorf("open blockstore: %w", err)
	}
	n.blocks = blocks

	accts, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts")))
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	n.accounts = accts

	faucet, err := n.loadFaucet()
	if err != nil {
		return err
	}

	registry := runtime.NewProgramRegistry(n.config.VaultProgramID)
	if err := n.genesis(faucet, registry); err != nil {
		return err
	}

	ledgerConfig := ledger.DefaultConfig()
	ledgerConfig.SlotInterval = n.config.SlotInterval
	ledgerConfig.MaxAirdrop = n.config.MaxAirdrop
	if n.config.DisableFaucet {
		faucet = nil
	}
	l, err := ledger.New(ledgerConfig, accts, blocks, registry, faucet)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	n.ledger = l

	if n.config.RPCEnabled {
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPCAddr
		rpcConfig.LogRequests = n.config.RPCLogRequests
		rpcConfig.VaultProgramID = n.config.VaultProgramID
		rpcConfig.GenesisHash = n.genesisHash

		lis, err := net.Listen("tcp", rpcConfig.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", rpcConfig.Addr, err)
		}
		n.rpcLis = lis
		n.rpcServer = rpc.New(rpcConfig, l)
	}

	if n.config.GeyserEnabled {
		geyserConfig := geyser.DefaultServerConfig()
		geyserConfig.Addr = n.config.GeyserAddr

		lis, err := net.Listen("tcp", geyserConfig.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", geyserConfig.Addr, err)
		}
		n.geyserLis = lis
		n.geyserServer = geyser.NewServer(geyserConfig, l)
	}

	if n.config.DashboardEnabled {
		dashboardConfig := dashboard.DefaultConfig()
		dashboardConfig.Addr = n.config.DashboardAddr
		dashboardConfig.VaultProgramID = n.config.VaultProgramID
		d, err := dashboard.New(dashboardConfig, blocks, accts, nodeStats{n})
		if err != nil {
			return fmt.Errorf("create dashboard: %w", err)
		}

		lis, err := net.Listen("tcp", dashboardConfig.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", dashboardConfig.Addr, err)
		}
		n.dashboardLis = lis
		n.dashboard = d
	}

	return nil
}

// loadFaucet reads the faucet keypair, generating it on first start.
func (n *Node) loadFaucet() (*types.Keypair, error) {
	faucet, err := types.LoadKeypair(n.config.FaucetKeypair)
	if err == nil {
		return faucet, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load faucet keypair: %w", err)
	}

	faucet, err = types.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate faucet keypair: %w", err)
	}
	if err := faucet.SaveKeypair(n.config.FaucetKeypair); err != nil {
		return nil, fmt.Errorf("save faucet keypair: %w", err)
	}
	n.log.WithField("faucet", faucet.Pubkey().String()).Info("generated faucet keypair")
	return faucet, nil
}

// genesis creates the initial ledger state unless the blockstore already
// holds a chain, and records the genesis hash.
func (n *Node) genesis(faucet *types.Keypair, registry *invoke.Registry) error {
	block, err := n.blocks.GetBlock(0)
	if err == nil {
		n.genesisHash = block.Blockhash
		return nil
	}
	if !errors.Is(err, blockstore.ErrBlockNotFound) {
		return fmt.Errorf("read genesis block: %w", err)
	}

	config := ledger.GenesisConfig{
		Faucet:         faucet.Pubkey(),
		FaucetLamports: n.config.FaucetLamports,
		CreationTime:   time.Now(),
	}
	if n.config.GenesisSnapshot != "" {
		seed, err := snapshotAccounts(n.config.GenesisSnapshot)
		if err != nil {
			return err
		}
		config.Accounts = seed
	}

	block, err = ledger.Genesis(config, n.accounts, n.blocks, registry)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}
	n.genesisHash = block.Blockhash
	n.log.WithFields(logrus.Fields{
		"genesis_hash": block.Blockhash.String(),
		"accounts":     len(config.Accounts),
	}).Info("created genesis")
	return nil
}

// snapshotAccounts reads every account of a snapshot file.
func snapshotAccounts(path string) ([]accounts.Update, error) {
	db := accounts.NewMemoryDB()
	if _, err := accounts.LoadSnapshot(db, path); err != nil {
		return nil, fmt.Errorf("load genesis snapshot: %w", err)
	}

	var updates []accounts.Update
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		updates = append(updates, accounts.Update{Pubkey: pubkey, Account: account.Clone()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read genesis snapshot: %w", err)
	}
	return updates, nil
}

// goRun runs a component until it returns, reporting failures.
func (n *Node) goRun(name string, fn func() error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			n.setLastError(err)
			n.log.WithError(err).Error("component stopped")
			if n.config.OnError != nil {
				n.config.OnError(err)
			}
		}
	}()
}

// statusLoop periodically logs the node status.
func (n *Node) statusLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := n.Status()
			n.log.WithFields(logrus.Fields{
				"slot":          status.Slot,
				"accounts":      status.AccountsCount,
				"subscriptions": status.GeyserSubscriptions,
			}).Info("status")
		}
	}
}

// WriteSnapshot writes the current accounts state to path.
func (n *Node) WriteSnapshot(path string) (*accounts.SnapshotHeader, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}
	return accounts.WriteSnapshot(n.accounts, path)
}

// Ledger returns the node's ledger.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// RPCAddr returns the address the RPC server listens on, empty if disabled.
func (n *Node) RPCAddr() string {
	if n.rpcLis == nil {
		return ""
	}
	return n.rpcLis.Addr().String()
}

// GeyserAddr returns the address the stream listens on, empty if disabled.
func (n *Node) GeyserAddr() string {
	if n.geyserLis == nil {
		return ""
	}
	return n.geyserLis.Addr().String()
}

// DashboardAddr returns the address the dashboard listens on, empty if
// disabled.
func (n *Node) DashboardAddr() string {
	if n.dashboardLis == nil {
		return ""
	}
	return n.dashboardLis.Addr().String()
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	if n.cancel != nil {
		n.cancel()
	}
	// Closing the ledger ends open subscriptions so streams drain.
	if err := n.ledger.Close(); err != nil {
		n.log.WithError(err).Warn("failed to close ledger")
	}
	n.wg.Wait()

	n.closeStorage()
	n.running.Store(false)
	n.log.Info("node stopped")
	return nil
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.accounts != nil {
		n.accounts.Close()
	}
	if n.blocks != nil {
		n.blocks.Close()
	}
}

// closeListeners closes listeners no server took over.
func (n *Node) closeListeners() {
	if n.rpcLis != nil {
		n.rpcLis.Close()
		n.rpcLis = nil
	}
	if n.geyserLis != nil {
		n.geyserLis.Close()
		n.geyserLis = nil
	}
	if n.dashboardLis != nil {
		n.dashboardLis.Close()
		n.dashboardLis = nil
	}
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning:     n.running.Load(),
		RPCAddr:       n.RPCAddr(),
		GeyserAddr:    n.GeyserAddr(),
		DashboardAddr: n.DashboardAddr(),
		LastError:     n.getLastError(),
	}
	if !status.IsRunning {
		return status
	}

	status.Uptime = time.Since(n.startTime)
	status.GenesisHash = n.genesisHash
	status.Slot = n.ledger.Slot()
	status.Blockhash, _ = n.ledger.LatestBlockhash()
	status.AccountsCount, _ = n.accounts.AccountsCount()
	status.BlockstoreStats, _ = n.blocks.GetStats()
	if n.geyserServer != nil {
		status.GeyserSubscriptions = n.geyserServer.ActiveSubscriptions()
	}
	return status
}

// Status contains the current node status.
type Status struct {
	// Slot is the slot the ledger is filling.
	Slot uint64

	// Blockhash is the latest blockhash.
	Blockhash types.Hash

	GenesisHash types.Hash

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	IsRunning bool
	Uptime    time.Duration

	BlockstoreStats *blockstore.Stats

	RPCAddr             string
	GeyserAddr          string
	DashboardAddr       string
	GeyserSubscriptions int

	LastError error
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

// nodeStats exposes node state to the dashboard.
type nodeStats struct {
	n *Node
}

func (s nodeStats) Slot() uint64 {
	if !s.n.running.Load() {
		return 0
	}
	return s.n.ledger.Slot()
}

func (s nodeStats) IsRunning() bool { return s.n.running.Load() }

func (s nodeStats) Uptime() time.Duration {
	if !s.n.running.Load() {
		return 0
	}
	return time.Since(s.n.startTime)
}

func (s nodeStats) GeyserSubscriptions() int {
	if s.n.geyserServer == nil {
		return 0
	}
	return s.n.geyserServer.ActiveSubscriptions()
}

func (s nodeStats) LastError() error { return s.n.getLastError() }
