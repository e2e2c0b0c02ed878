package geyser

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/ledger"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	faucet, err := types.NewKeypair()
	require.NoError(t, err)

	blocksConfig := blockstore.DefaultConfig(filepath.Join(t.TempDir(), "blocks.db"))
	blocksConfig.PruneEnabled = false
	blocks, err := blockstore.Open(blocksConfig)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })

	db := accounts.NewMemoryDB()
	registry := runtime.NewProgramRegistry(types.DefaultVaultProgramAddr)
	_, err = ledger.Genesis(ledger.GenesisConfig{
		Faucet:         faucet.Pubkey(),
		FaucetLamports: 1_000_000_000_000,
		CreationTime:   time.Unix(1_700_000_000, 0),
	}, db, blocks, registry)
	require.NoError(t, err)

	l, err := ledger.New(ledger.DefaultConfig(), db, blocks, registry, faucet)
	require.NoError(t, err)
	return l
}

func testServerConfig() ServerConfig {
	config := DefaultServerConfig()
	config.PingInterval = 50 * time.Millisecond
	config.ShutdownTimeout = time.Second
	return config
}

// startServer serves source on lis and stops the server on cleanup.
func startServer(t *testing.T, source Source, lis net.Listener) *Server {
	server := NewServer(testServerConfig(), source)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return server
}

func newTestClient(t *testing.T, endpoint string) *Client {
	config := DefaultConfig()
	config.Endpoint = endpoint
	config.ReconnectMinDelay = 20 * time.Millisecond
	config.ReconnectMaxDelay = 100 * time.Millisecond
	config.HealthCheckInterval = 100 * time.Millisecond
	config.StaleTimeout = time.Second

	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForSubscriptions(t *testing.T, server *Server, n int) {
	require.Eventually(t, func() bool {
		return server.ActiveSubscriptions() == n
	}, 5*time.Second, 10*time.Millisecond)
}

func receive(t *testing.T, updates <-chan AccountUpdate) AccountUpdate {
	select {
	case update, ok := <-updates:
		require.True(t, ok, "subscription channel closed")
		return update
	case <-time.After(5 * time.Second):
		t.Fatal("no account update received")
		return AccountUpdate{}
	}
}

func listen(t *testing.T) net.Listener {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

func TestSubscribe_AccountFilter(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	server := startServer(t, l, lis)
	client := newTestClient(t, lis.Addr().String())

	user, err := types.NewKeypair()
	require.NoError(t, err)

	updates, err := client.Subscribe(context.Background(), Filter{Accounts: []types.Pubkey{user.Pubkey()}})
	require.NoError(t, err)
	waitForSubscriptions(t, server, 1)

	sig, err := l.RequestAirdrop(context.Background(), user.Pubkey(), 5_000_000)
	require.NoError(t, err)

	update := receive(t, updates)
	assert.Equal(t, user.Pubkey(), update.Pubkey)
	assert.EqualValues(t, 5_000_000, update.Lamports)
	assert.Equal(t, types.SystemProgramAddr, update.Owner)
	assert.Equal(t, sig, update.Signature)
	assert.Equal(t, l.Slot(), update.Slot)

	health := client.Health()
	assert.True(t, health.Connected)
	assert.Equal(t, update.Slot, health.LastSlot)
}

func TestSubscribe_SlowConsumerKeepsNewest(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	server := startServer(t, l, lis)

	config := DefaultConfig()
	config.Endpoint = lis.Addr().String()
	config.ChannelSize = 1
	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	user, err := types.NewKeypair()
	require.NoError(t, err)
	updates, err := client.Subscribe(context.Background(), Filter{Accounts: []types.Pubkey{user.Pubkey()}})
	require.NoError(t, err)
	waitForSubscriptions(t, server, 1)

	for i := 0; i < 3; i++ {
		_, err := l.RequestAirdrop(context.Background(), user.Pubkey(), 1_000_000)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return client.Health().DroppedUpdates == 2
	}, 5*time.Second, 10*time.Millisecond)

	update := receive(t, updates)
	assert.EqualValues(t, 3_000_000, update.Lamports)
}

func TestSubscribe_OwnerFilter(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	server := startServer(t, l, lis)
	client := newTestClient(t, lis.Addr().String())

	programID := types.DefaultVaultProgramAddr
	updates, err := client.Subscribe(context.Background(), Filter{Owners: []types.Pubkey{programID}})
	require.NoError(t, err)
	waitForSubscriptions(t, server, 1)

	user, err := types.NewKeypair()
	require.NoError(t, err)
	_, err = l.RequestAirdrop(context.Background(), user.Pubkey(), 5_000_000)
	require.NoError(t, err)

	accts, err := vault.DeriveInstructionAccounts(programID, user.Pubkey())
	require.NoError(t, err)
	blockhash, _ := l.LatestBlockhash()
	tx := runtime.NewTransaction(user.Pubkey(),
		vault.NewInitializeInstruction(programID, accts),
		vault.NewDepositInstruction(programID, accts, 1_000_000),
	)
	tx.SetBlockhash(blockhash)
	require.NoError(t, tx.Sign(user))
	result, err := l.ProcessTransaction(context.Background(), &tx)
	require.NoError(t, err)
	require.False(t, result.Failed())

	// Only the record is owned by the program.
	update := receive(t, updates)
	assert.Equal(t, accts.Record, update.Pubkey)
	assert.Equal(t, programID, update.Owner)

	var record vault.BalanceRecord
	require.NoError(t, record.Unmarshal(update.Data))
	assert.Equal(t, user.Pubkey(), record.Owner)
	assert.EqualValues(t, 1_000_000, record.Balance)

	select {
	case extra := <-updates:
		t.Fatalf("unexpected update for %s", extra.Pubkey)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_ContextCancel(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	server := startServer(t, l, lis)
	client := newTestClient(t, lis.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := client.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	waitForSubscriptions(t, server, 1)

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription channel not closed")
	}
	waitForSubscriptions(t, server, 0)
}

func TestSubscribe_Reconnect(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	addr := lis.Addr().String()
	first := NewServer(testServerConfig(), l)
	go first.Serve(context.Background(), lis)

	config := DefaultConfig()
	config.Endpoint = addr
	config.ReconnectMinDelay = 20 * time.Millisecond
	config.ReconnectMaxDelay = 100 * time.Millisecond
	var reconnects atomic.Int32
	config.OnReconnect = func(int) { reconnects.Add(1) }
	client, err := NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	user, err := types.NewKeypair()
	require.NoError(t, err)
	updates, err := client.Subscribe(context.Background(), Filter{Accounts: []types.Pubkey{user.Pubkey()}})
	require.NoError(t, err)
	waitForSubscriptions(t, first, 1)

	first.Stop()

	second := startServer(t, l, listenOn(t, addr))
	waitForSubscriptions(t, second, 1)
	require.Eventually(t, func() bool { return reconnects.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, client.Health().ReconnectCount, 1)

	_, err = l.RequestAirdrop(context.Background(), user.Pubkey(), 1_000_000)
	require.NoError(t, err)
	update := receive(t, updates)
	assert.EqualValues(t, 1_000_000, update.Lamports)
}

func listenOn(t *testing.T, addr string) net.Listener {
	var lis net.Listener
	require.Eventually(t, func() bool {
		var err error
		lis, err = net.Listen("tcp", addr)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	return lis
}

func TestSubscribe_LedgerClosed(t *testing.T) {
	l := newTestLedger(t)
	lis := listen(t)
	server := startServer(t, l, lis)

	config := DefaultConfig()
	config.Endpoint = lis.Addr().String()
	config.ReconnectMinDelay = 10 * time.Millisecond
	config.ReconnectMaxDelay = 10 * time.Millisecond
	config.MaxReconnects = 2
	client, err := NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	updates, err := client.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)
	waitForSubscriptions(t, server, 1)

	require.NoError(t, l.Close())

	// Resubscribing to a closed ledger yields closed streams until the
	// client gives up.
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription channel not closed")
	}
	assert.ErrorIs(t, client.Health().LastError, ErrMaxReconnects)
}

func TestClient_Closed(t *testing.T) {
	client := newTestClient(t, "127.0.0.1:1")
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), ErrClosed)

	_, err := client.Subscribe(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeRequest_AccountFilter(t *testing.T) {
	key, err := types.NewKeypair()
	require.NoError(t, err)

	req := newSubscribeRequest(Filter{
		Accounts: []types.Pubkey{key.Pubkey()},
		Owners:   []types.Pubkey{types.DefaultVaultProgramAddr},
	})
	filter, err := req.accountFilter()
	require.NoError(t, err)
	assert.Equal(t, []types.Pubkey{key.Pubkey()}, filter.Accounts)
	assert.Equal(t, []types.Pubkey{types.DefaultVaultProgramAddr}, filter.Owners)

	_, err = (&SubscribeRequest{Owners: []string{"not base58!"}}).accountFilter()
	assert.Error(t, err)
}

func TestAccountMessage(t *testing.T) {
	key, err := types.NewKeypair()
	require.NoError(t, err)
	var sig types.Signature
	sig[0] = 7

	msg := newAccountMessage(ledger.AccountUpdate{
		Pubkey: key.Pubkey(),
		Account: &accounts.Account{
			Lamports: 42,
			Data:     []byte{1, 2, 3},
			Owner:    types.DefaultVaultProgramAddr,
		},
		Slot:      9,
		Signature: sig,
	})
	b, err := jsonCodec{}.Marshal(&SubscribeUpdate{Account: msg})
	require.NoError(t, err)

	var decoded SubscribeUpdate
	require.NoError(t, jsonCodec{}.Unmarshal(b, &decoded))
	require.NotNil(t, decoded.Account)
	update, err := decoded.Account.update()
	require.NoError(t, err)
	assert.Equal(t, key.Pubkey(), update.Pubkey)
	assert.EqualValues(t, 42, update.Lamports)
	assert.Equal(t, []byte{1, 2, 3}, update.Data)
	assert.Equal(t, types.DefaultVaultProgramAddr, update.Owner)
	assert.EqualValues(t, 9, update.Slot)
	assert.Equal(t, sig, update.Signature)

	// Deleted accounts read as empty system accounts.
	deleted := newAccountMessage(ledger.AccountUpdate{Pubkey: key.Pubkey(), Signature: sig})
	assert.Zero(t, deleted.Lamports)
	assert.Equal(t, types.SystemProgramAddr.String(), deleted.Owner)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"default", func(c *Config) {}, nil},
		{"no endpoint", func(c *Config) { c.Endpoint = "" }, ErrNoEndpoint},
		{"channel size", func(c *Config) { c.ChannelSize = -1 }, ErrInvalidConfig},
		{"message size", func(c *Config) { c.MaxMessageSize = 0 }, ErrInvalidConfig},
		{"reconnect delays", func(c *Config) { c.ReconnectMaxDelay = c.ReconnectMinDelay / 2 }, ErrInvalidConfig},
		{"stale timeout", func(c *Config) { c.StaleTimeout = 0 }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	config := Config{Endpoint: "node:10000"}.WithDefaults()
	assert.NoError(t, config.Validate())
	assert.Equal(t, DefaultChannelSize, config.ChannelSize)
	assert.Equal(t, DefaultReconnectMinDelay, config.ReconnectMinDelay)
	assert.NotNil(t, config.Headers)
}

func TestConfig_ExpandedToken(t *testing.T) {
	t.Setenv("GEYSER_TEST_TOKEN", "secret")
	config := Config{Token: "Bearer ${GEYSER_TEST_TOKEN}"}
	assert.Equal(t, "Bearer secret", config.ExpandedToken())
}
