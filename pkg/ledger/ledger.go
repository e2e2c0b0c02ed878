// Package ledger runs a single producer ledger for the vault program.
//
// The Ledger ties together:
//   - the accounts database holding current state
//   - the runtime executor that runs transactions
//   - the blockstore that keeps produced blocks and transaction statuses
//
// Transactions are processed one at a time under a single lock and their
// changes are committed as soon as they succeed. Every slot tick seals the
// transactions processed since the last tick into a block.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// Ledger errors.
var (
	ErrNoGenesis          = errors.New("ledger has no genesis block")
	ErrAlreadyInitialized = errors.New("ledger is already initialized")
	ErrFaucetDisabled     = errors.New("faucet is disabled")
	ErrAirdropTooLarge    = errors.New("airdrop exceeds faucet limit")
	ErrClosed             = errors.New("ledger closed")
)

// Config holds ledger configuration.
type Config struct {
	// SlotInterval is the time between produced blocks.
	SlotInterval time.Duration

	// BlockhashWindow is how many slots a blockhash stays usable.
	BlockhashWindow uint64

	// MaxAirdrop caps a single faucet payout in lamports.
	MaxAirdrop uint64

	// SubscriberBuffer is the channel size of account subscriptions.
	SubscriberBuffer int

	// Executor configures transaction execution.
	Executor runtime.Config
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		SlotInterval:     400 * time.Millisecond,
		BlockhashWindow:  150,
		MaxAirdrop:       10_000_000_000,
		SubscriberBuffer: 256,
		Executor:         runtime.DefaultConfig(),
	}
}

// Ledger serializes transactions against the accounts database and
// produces blocks.
type Ledger struct {
	mu sync.Mutex

	// Storage
	accounts accounts.DB
	blocks   blockstore.Store

	executor *runtime.Executor
	faucet   *types.Keypair
	config   Config
	log      *logrus.Entry

	// Chain state
	slot        uint64 // slot being built
	blockHeight uint64 // height of the last produced block
	blockhash   types.Hash
	bankHash    types.Hash
	recent      map[types.Hash]uint64 // blockhash -> slot it was produced in

	// Open slot
	pending    []blockstore.Transaction
	processed  map[types.Signature]*blockstore.TransactionStatus
	seen       map[types.Signature]uint64 // signature -> slot, within the window
	modified   map[types.Pubkey]*accounts.Account
	signatures uint64

	subs *subscribers

	closed bool
}

// New opens a ledger over storage that already holds a genesis block. The
// registry must hold every program the genesis block deployed. A nil
// faucet disables airdrops.
func New(config Config, db accounts.DB, blocks blockstore.Store, registry *invoke.Registry, faucet *types.Keypair) (*Ledger, error) {
	stats, err := blocks.GetStats()
	if err != nil {
		return nil, fmt.Errorf("read blockstore stats: %w", err)
	}
	if stats.BlockCount == 0 {
		return nil, ErrNoGenesis
	}

	l := &Ledger{
		accounts:  db,
		blocks:    blocks,
		executor:  runtime.NewExecutor(db, registry, config.Executor),
		faucet:    faucet,
		config:    config,
		log:       logrus.StandardLogger().WithField("type", "ledger"),
		recent:    make(map[types.Hash]uint64),
		processed: make(map[types.Signature]*blockstore.TransactionStatus),
		seen:      make(map[types.Signature]uint64),
		modified:  make(map[types.Pubkey]*accounts.Account),
		subs:      newSubscribers(),
	}
	if err := l.restore(stats.LatestSlot); err != nil {
		return nil, err
	}
	return l, nil
}

// restore rebuilds the chain state and the blockhash window from the
// blocks stored up to latest.
func (l *Ledger) restore(latest uint64) error {
	meta, err := l.blocks.GetSlotMeta(latest)
	if err != nil {
		return fmt.Errorf("read slot %d: %w", latest, err)
	}
	l.slot = latest + 1
	l.blockHeight = meta.BlockHeight
	l.blockhash = meta.Blockhash
	l.bankHash = meta.BankHash

	first := uint64(0)
	if latest > l.config.BlockhashWindow {
		first = latest - l.config.BlockhashWindow
	}
	for slot := first; slot <= latest; slot++ {
		block, err := l.blocks.GetBlock(slot)
		if errors.Is(err, blockstore.ErrBlockNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read block %d: %w", slot, err)
		}
		l.recent[block.Blockhash] = slot
		for _, txn := range block.Transactions {
			l.seen[txn.Signature] = slot
		}
	}

	l.log.WithFields(logrus.Fields{
		"slot":      latest,
		"blockhash": l.blockhash.String(),
	}).Info("ledger restored")
	return nil
}

// Slot returns the slot currently being built.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// LatestBlockhash returns the newest blockhash and the last block height
// at which transactions using it are accepted.
func (l *Ledger) LatestBlockhash() (types.Hash, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhash, l.blockHeight + l.config.BlockhashWindow
}

// IsBlockhashValid reports whether transactions may still use hash.
func (l *Ledger) IsBlockhashValid(hash types.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhashValid(hash)
}

func (l *Ledger) blockhashValid(hash types.Hash) bool {
	slot, ok := l.recent[hash]
	return ok && slot+l.config.BlockhashWindow >= l.slot
}

// GetAccount returns the current state of an account.
func (l *Ledger) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return l.accounts.GetAccount(pubkey)
}

// GetBalance returns the lamports held by pubkey, zero if it does not exist.
func (l *Ledger) GetBalance(pubkey types.Pubkey) (uint64, error) {
	account, err := l.accounts.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Lamports, nil
}

// MinimumBalanceForRentExemption returns the rent exempt minimum for an
// account holding dataLen bytes.
func (l *Ledger) MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return l.config.Executor.Rent.MinimumBalance(dataLen)
}

// GetSignatureStatus returns the status of a processed transaction. It
// returns blockstore.ErrTransactionNotFound for unknown signatures.
func (l *Ledger) GetSignatureStatus(sig types.Signature) (*blockstore.TransactionStatus, error) {
	l.mu.Lock()
	status, ok := l.processed[sig]
	l.mu.Unlock()
	if ok {
		s := *status
		return &s, nil
	}
	return l.blocks.GetTransactionStatus(sig)
}

// Blocks returns the underlying blockstore.
func (l *Ledger) Blocks() blockstore.Store {
	return l.blocks
}

// ProcessTransaction executes tx and commits its changes if it succeeds.
//
// Transactions that fail before execution (bad structure or signatures,
// unknown blockhash, already processed) are rejected: the returned error
// is the *runtime.TransactionError and nothing is recorded. Executed
// transactions are recorded whether or not they failed and the result
// carries their error.
func (l *Ledger) ProcessTransaction(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if err := l.precheck(tx, true); err != nil {
		return nil, err
	}

	result, err := l.executor.Execute(ctx, tx)
	if err != nil {
		return nil, err
	}
	if rejected(result.Err) {
		return nil, result.Err
	}

	if !result.Failed() {
		if err := l.accounts.Apply(l.slot, result.Updates); err != nil {
			return nil, fmt.Errorf("commit transaction %s: %w", result.Signature, err)
		}
		for _, u := range result.Updates {
			l.modified[u.Pubkey] = u.Account
		}
	}
	if err := l.record(tx, result); err != nil {
		return nil, err
	}

	l.subs.publish(l.slot, result)
	l.log.WithFields(logrus.Fields{
		"signature": result.Signature.String(),
		"slot":      l.slot,
		"failed":    result.Failed(),
	}).Debug("transaction processed")
	return result, nil
}

// SimulateTransaction executes tx without committing anything.
func (l *Ledger) SimulateTransaction(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if err := l.precheck(tx, false); err != nil {
		return nil, err
	}
	result, err := l.executor.Execute(ctx, tx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// precheck enforces the blockhash window and, if checkDuplicate is set,
// rejects signatures already processed.
func (l *Ledger) precheck(tx *runtime.Transaction, checkDuplicate bool) *runtime.TransactionError {
	if !l.blockhashValid(tx.Message.RecentBlockhash) {
		return runtime.ErrBlockhashNotFound
	}
	if !checkDuplicate {
		return nil
	}
	sig := tx.ID()
	if _, ok := l.seen[sig]; ok {
		return runtime.ErrDuplicateSignature
	}
	if _, ok := l.processed[sig]; ok {
		return runtime.ErrDuplicateSignature
	}
	return nil
}

// rejected reports whether err keeps a transaction out of the ledger.
func rejected(err *runtime.TransactionError) bool {
	if err == nil {
		return false
	}
	switch err.Key {
	case runtime.TransactionErrorSanitizeFailure,
		runtime.TransactionErrorSignatureFailure,
		runtime.TransactionErrorAccountLoadedTwice:
		return true
	}
	return false
}

// record adds an executed transaction to the open slot.
func (l *Ledger) record(tx *runtime.Transaction, result *runtime.Result) error {
	var errJSON []byte
	if result.Err != nil {
		b, err := result.Err.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode transaction error: %w", err)
		}
		errJSON = b
	}

	l.pending = append(l.pending, blockstore.Transaction{
		Signature:   result.Signature,
		Raw:         tx.Marshal(),
		AccountKeys: result.Keys,
		Meta: blockstore.TransactionMeta{
			Err:                  errJSON,
			PreBalances:          result.PreBalances,
			PostBalances:         result.PostBalances,
			LogMessages:          result.Logs,
			ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		},
		Slot: l.slot,
	})
	l.processed[result.Signature] = &blockstore.TransactionStatus{
		Slot:               l.slot,
		Signature:          result.Signature,
		Err:                errJSON,
		ConfirmationStatus: blockstore.CommitmentProcessed,
	}
	l.signatures += uint64(len(tx.Signatures))
	return nil
}

// Close seals the open slot and stops accepting transactions. It does not
// close the underlying storage.
func (l *Ledger) Close() error {
	if _, err := l.ProduceBlock(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.subs.closeAll()
	return nil
}

// Rent returns the rent schedule transactions execute under.
func (l *Ledger) Rent() svm.Rent {
	return l.config.Executor.Rent
}
