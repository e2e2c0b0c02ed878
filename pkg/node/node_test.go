package node

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
	"github.com/fortiblox/X1-Vault/pkg/dashboard"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, types.DefaultVaultProgramAddr, cfg.VaultProgramID)
	assert.True(t, cfg.PruneEnabled)
	assert.True(t, cfg.RPCEnabled)
	assert.True(t, cfg.GeyserEnabled)
	assert.Equal(t, ":8899", cfg.RPCAddr)
	assert.Equal(t, ":10000", cfg.GeyserAddr)
	assert.False(t, cfg.DashboardEnabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.DashboardAddr)
	assert.Positive(t, cfg.SlotInterval)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "empty data dir", modify: func(c *Config) { c.DataDir = "" }, wantErr: true},
		{name: "zero program id", modify: func(c *Config) { c.VaultProgramID = types.Pubkey{} }, wantErr: true},
		{name: "native program id", modify: func(c *Config) { c.VaultProgramID = types.NativeLoaderAddr }, wantErr: true},
		{name: "zero slot interval", modify: func(c *Config) { c.SlotInterval = 0 }, wantErr: true},
		{name: "rpc without address", modify: func(c *Config) { c.RPCAddr = "" }, wantErr: true},
		{name: "rpc disabled without address", modify: func(c *Config) { c.RPCEnabled = false; c.RPCAddr = "" }},
		{name: "geyser without address", modify: func(c *Config) { c.GeyserAddr = "" }, wantErr: true},
		{name: "geyser disabled without address", modify: func(c *Config) { c.GeyserEnabled = false; c.GeyserAddr = "" }},
		{name: "dashboard without address", modify: func(c *Config) { c.DashboardEnabled = true; c.DashboardAddr = "" }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	n, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("./data", "faucet.json"), n.config.FaucetKeypair)
	assert.False(t, n.Status().IsRunning)

	_, err = New(&Config{})
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.SlotInterval = 20 * time.Millisecond
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.GeyserAddr = "127.0.0.1:0"
	cfg.DashboardEnabled = true
	cfg.DashboardAddr = "127.0.0.1:0"
	return &cfg
}

func startNode(t *testing.T, cfg *Config) *Node {
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	return n
}

func TestNode_StartStop(t *testing.T) {
	dir := t.TempDir()
	n := startNode(t, testConfig(dir))

	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyRunning)
	assert.FileExists(t, filepath.Join(dir, "faucet.json"))
	assert.DirExists(t, filepath.Join(dir, "accounts"))
	assert.FileExists(t, filepath.Join(dir, "blockstore", "blockstore.db"))

	status := n.Status()
	assert.True(t, status.IsRunning)
	assert.False(t, status.GenesisHash.IsZero())
	assert.NotEmpty(t, status.RPCAddr)
	assert.NotEmpty(t, status.GeyserAddr)
	assert.NotEmpty(t, status.DashboardAddr)
	assert.Positive(t, status.AccountsCount)
	genesisHash := status.GenesisHash

	ctx := context.Background()
	clientConfig := client.DefaultConfig()
	clientConfig.Endpoint = "http://" + n.RPCAddr()
	c := client.New(clientConfig)

	require.Eventually(t, func() bool {
		slot, err := c.GetSlot(ctx)
		return err == nil && slot > 0
	}, 5*time.Second, 20*time.Millisecond)

	user, err := types.NewKeypair()
	require.NoError(t, err)
	_, err = n.Ledger().RequestAirdrop(ctx, user.Pubkey(), 5_000_000)
	require.NoError(t, err)
	balance, err := c.GetBalance(ctx, user.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), balance)

	resp, err := http.Get("http://" + n.DashboardAddr() + "/api/status")
	require.NoError(t, err)
	var dashboardStatus dashboard.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dashboardStatus))
	resp.Body.Close()
	assert.True(t, dashboardStatus.IsRunning)
	assert.Positive(t, dashboardStatus.Slot)
	assert.Positive(t, dashboardStatus.BlockCount)

	require.NoError(t, n.Stop())
	assert.ErrorIs(t, n.Stop(), ErrNotRunning)
	assert.False(t, n.Status().IsRunning)

	// A restart resumes the stored chain.
	n = startNode(t, testConfig(dir))
	defer n.Stop()
	assert.Equal(t, genesisHash, n.Status().GenesisHash)
	balance, err = n.Ledger().GetBalance(user.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), balance)
}

func TestNode_DisabledServers(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.RPCEnabled = false
	cfg.GeyserEnabled = false
	cfg.DisableFaucet = true

	n := startNode(t, cfg)
	defer n.Stop()

	assert.Empty(t, n.RPCAddr())
	assert.Empty(t, n.GeyserAddr())
	assert.NotEmpty(t, n.DashboardAddr())
	_, ok := n.Ledger().FaucetPubkey()
	assert.False(t, ok)
}

func TestNode_StartFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faucet.json"), []byte("not a keypair"), 0o600))

	n, err := New(testConfig(dir))
	require.NoError(t, err)
	assert.ErrorIs(t, n.Start(context.Background()), ErrInitFailed)
	assert.False(t, n.Status().IsRunning)
	assert.Empty(t, n.RPCAddr())
	assert.Empty(t, n.DashboardAddr())
}

func TestNode_GenesisSnapshot(t *testing.T) {
	ctx := context.Background()
	n := startNode(t, testConfig(t.TempDir()))

	user, err := types.NewKeypair()
	require.NoError(t, err)
	_, err = n.Ledger().RequestAirdrop(ctx, user.Pubkey(), 7_000_000)
	require.NoError(t, err)

	snapshot := filepath.Join(t.TempDir(), "accounts.snapshot")
	header, err := n.WriteSnapshot(snapshot)
	require.NoError(t, err)
	assert.Positive(t, header.AccountsCount)
	require.NoError(t, n.Stop())

	_, err = n.WriteSnapshot(snapshot)
	assert.ErrorIs(t, err, ErrNotRunning)

	cfg := testConfig(t.TempDir())
	cfg.GenesisSnapshot = snapshot
	seeded := startNode(t, cfg)
	defer seeded.Stop()

	balance, err := seeded.Ledger().GetBalance(user.Pubkey())
	require.NoError(t, err)
	assert.Equal(t, uint64(7_000_000), balance)
}
