package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/ledger"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

type testServer struct {
	server *Server
	ledger *ledger.Ledger
	http   *httptest.Server
	faucet *types.Keypair
}

func newTestServer(t *testing.T) *testServer {
	faucet, err := types.NewKeypair()
	require.NoError(t, err)

	blocksConfig := blockstore.DefaultConfig(filepath.Join(t.TempDir(), "blocks.db"))
	blocksConfig.PruneEnabled = false
	blocks, err := blockstore.Open(blocksConfig)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })

	db := accounts.NewMemoryDB()
	registry := runtime.NewProgramRegistry(types.DefaultVaultProgramAddr)
	genesis, err := ledger.Genesis(ledger.GenesisConfig{
		Faucet:         faucet.Pubkey(),
		FaucetLamports: 1_000_000_000_000,
		CreationTime:   time.Unix(1_700_000_000, 0),
	}, db, blocks, registry)
	require.NoError(t, err)

	l, err := ledger.New(ledger.DefaultConfig(), db, blocks, registry, faucet)
	require.NoError(t, err)

	config := DefaultConfig()
	config.GenesisHash = genesis.Blockhash
	s := New(config, l)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testServer{server: s, ledger: l, http: ts, faucet: faucet}
}

// call performs a request and decodes the result into out. It returns the
// RPC error, if any.
func (ts *testServer) call(t *testing.T, method string, params interface{}, out interface{}) *RPCError {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.http.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	if decoded.Error != nil {
		return decoded.Error
	}
	if out != nil {
		require.NoError(t, json.Unmarshal(decoded.Result, out))
	}
	return nil
}

func (ts *testServer) signedTx(t *testing.T, payer *types.Keypair, ixs ...invoke.Instruction) *runtime.Transaction {
	blockhash, _ := ts.ledger.LatestBlockhash()
	tx := runtime.NewTransaction(payer.Pubkey(), ixs...)
	tx.SetBlockhash(blockhash)
	require.NoError(t, tx.Sign(payer))
	return &tx
}

func (ts *testServer) fundedUser(t *testing.T, lamports uint64) *types.Keypair {
	user, err := types.NewKeypair()
	require.NoError(t, err)
	var sig string
	require.Nil(t, ts.call(t, "requestAirdrop", []interface{}{user.Pubkey().String(), lamports}, &sig))
	return user
}

type contextResult struct {
	Context Context         `json:"context"`
	Value   json.RawMessage `json:"value"`
}

func TestServer_ClusterMethods(t *testing.T) {
	ts := newTestServer(t)

	var health string
	require.Nil(t, ts.call(t, "getHealth", nil, &health))
	assert.Equal(t, "ok", health)

	ts.server.SetHealthy(false)
	rpcErr := ts.call(t, "getHealth", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, NodeUnhealthy, rpcErr.Code)
	ts.server.SetHealthy(true)

	var version VersionInfo
	require.Nil(t, ts.call(t, "getVersion", nil, &version))
	assert.Equal(t, SolanaCore, version.SolanaCore)

	var slot uint64
	require.Nil(t, ts.call(t, "getSlot", nil, &slot))
	assert.Zero(t, slot)
	require.Nil(t, ts.call(t, "getSlot", []interface{}{map[string]string{"commitment": "processed"}}, &slot))
	assert.EqualValues(t, 1, slot)

	var genesis string
	require.Nil(t, ts.call(t, "getGenesisHash", nil, &genesis))
	assert.Equal(t, ts.server.config.GenesisHash.String(), genesis)

	var rent uint64
	require.Nil(t, ts.call(t, "getMinimumBalanceForRentExemption", []interface{}{vault.BalanceRecordSize}, &rent))
	assert.EqualValues(t, (128+40)*3480*2, rent)

	rpcErr = ts.call(t, "noSuchMethod", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, MethodNotFound, rpcErr.Code)

	rpcErr = ts.call(t, "getBalance", []interface{}{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestServer_Blockhash(t *testing.T) {
	ts := newTestServer(t)

	var res contextResult
	require.Nil(t, ts.call(t, "getLatestBlockhash", nil, &res))
	var latest LatestBlockhash
	require.NoError(t, json.Unmarshal(res.Value, &latest))

	require.Nil(t, ts.call(t, "isBlockhashValid", []interface{}{latest.Blockhash}, &res))
	assert.Equal(t, "true", string(res.Value))

	unknown := types.ComputeHash([]byte("unknown")).String()
	require.Nil(t, ts.call(t, "isBlockhashValid", []interface{}{unknown}, &res))
	assert.Equal(t, "false", string(res.Value))
}

func TestServer_AccountInfo(t *testing.T) {
	ts := newTestServer(t)
	user := ts.fundedUser(t, 2_000_000)

	var res contextResult
	require.Nil(t, ts.call(t, "getBalance", []interface{}{user.Pubkey().String()}, &res))
	assert.Equal(t, "2000000", string(res.Value))

	require.Nil(t, ts.call(t, "getAccountInfo", []interface{}{types.DefaultVaultProgramAddr.String()}, &res))
	var info AccountInfo
	require.NoError(t, json.Unmarshal(res.Value, &info))
	assert.True(t, info.Executable)
	assert.Equal(t, types.NativeLoaderAddr.String(), info.Owner)

	missing, err := types.NewKeypair()
	require.NoError(t, err)
	require.Nil(t, ts.call(t, "getAccountInfo", []interface{}{missing.Pubkey().String()}, &res))
	assert.Equal(t, "null", string(res.Value))

	rpcErr := ts.call(t, "getAccountInfo", []interface{}{user.Pubkey().String(), map[string]uint64{"minContextSlot": 1000}}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, MinContextSlotNotReached, rpcErr.Code)
}

func TestServer_VaultFlow(t *testing.T) {
	ts := newTestServer(t)
	programID := types.DefaultVaultProgramAddr

	user := ts.fundedUser(t, 5_000_000)
	accts, err := vault.DeriveInstructionAccounts(programID, user.Pubkey())
	require.NoError(t, err)

	var res contextResult
	require.Nil(t, ts.call(t, "getVaultBalance", []interface{}{user.Pubkey().String()}, &res))
	assert.Equal(t, "null", string(res.Value))

	tx := ts.signedTx(t, user,
		vault.NewInitializeInstruction(programID, accts),
		vault.NewDepositInstruction(programID, accts, 1_000_000),
	)
	var sig string
	require.Nil(t, ts.call(t, "sendTransaction", []interface{}{base58.Encode(tx.Marshal())}, &sig))
	assert.Equal(t, tx.ID().String(), sig)

	require.Nil(t, ts.call(t, "getVaultBalance", []interface{}{user.Pubkey().String()}, &res))
	var balance VaultBalance
	require.NoError(t, json.Unmarshal(res.Value, &balance))
	assert.Equal(t, accts.Record.String(), balance.Record)
	assert.Equal(t, user.Pubkey().String(), balance.Owner)
	assert.EqualValues(t, 1_000_000, balance.Balance)

	require.Nil(t, ts.call(t, "getAccountInfo", []interface{}{
		accts.Record.String(),
		map[string]string{"encoding": "base64+zstd"},
	}, &res))
	var info AccountInfo
	require.NoError(t, json.Unmarshal(res.Value, &info))
	data := info.Data.([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "base64+zstd", data[1])
	raw, err := DecodeAccountData(data[0].(string), EncodingBase64Zstd)
	require.NoError(t, err)
	var record vault.BalanceRecord
	require.NoError(t, record.Unmarshal(raw))
	assert.EqualValues(t, 1_000_000, record.Balance)

	// Overdraw fails preflight with the custom error in the data.
	over := ts.signedTx(t, user, vault.NewWithdrawInstruction(programID, accts, 2_000_000))
	rpcErr := ts.call(t, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(over.Marshal()),
		map[string]string{"encoding": "base64"},
	}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, SendTransactionPreflightFailure, rpcErr.Code)
	errData, err := json.Marshal(rpcErr.Data)
	require.NoError(t, err)
	var sim SimulationResult
	require.NoError(t, json.Unmarshal(errData, &sim))
	assert.JSONEq(t, `{"InstructionError":[0,{"Custom":4}]}`, string(sim.Err))

	// Not recorded.
	require.Nil(t, ts.call(t, "getSignatureStatuses", []interface{}{[]string{over.ID().String()}}, &res))
	assert.Equal(t, "[null]", string(res.Value))

	// With preflight skipped the failure is recorded.
	require.Nil(t, ts.call(t, "sendTransaction", []interface{}{
		base58.Encode(over.Marshal()),
		map[string]bool{"skipPreflight": true},
	}, &sig))

	require.Nil(t, ts.call(t, "getSignatureStatuses", []interface{}{[]string{tx.ID().String(), over.ID().String()}}, &res))
	var statuses []*SignatureStatus
	require.NoError(t, json.Unmarshal(res.Value, &statuses))
	require.Len(t, statuses, 2)
	assert.JSONEq(t, `null`, string(statuses[0].Err))
	assert.JSONEq(t, `{"Ok":null}`, string(statuses[0].Status))
	assert.Equal(t, "processed", statuses[0].ConfirmationStatus)
	assert.JSONEq(t, `{"InstructionError":[0,{"Custom":4}]}`, string(statuses[1].Err))
	assert.JSONEq(t, `{"Err":{"InstructionError":[0,{"Custom":4}]}}`, string(statuses[1].Status))

	_, err = ts.ledger.ProduceBlock()
	require.NoError(t, err)

	require.Nil(t, ts.call(t, "getSignatureStatuses", []interface{}{[]string{tx.ID().String()}}, &res))
	require.NoError(t, json.Unmarshal(res.Value, &statuses))
	assert.Equal(t, "finalized", statuses[0].ConfirmationStatus)
	assert.Nil(t, statuses[0].Confirmations)

	var txResp TransactionResponse
	require.Nil(t, ts.call(t, "getTransaction", []interface{}{tx.ID().String()}, &txResp))
	assert.Equal(t, "legacy", txResp.Version)
	require.NotNil(t, txResp.Meta)
	assert.JSONEq(t, `null`, string(txResp.Meta.Err))
	require.Len(t, txResp.Transaction, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString(tx.Marshal()), txResp.Transaction[0])

	var sigs []SignatureInfo
	require.Nil(t, ts.call(t, "getSignaturesForAddress", []interface{}{accts.Vault.String()}, &sigs))
	require.Len(t, sigs, 2)
	assert.ElementsMatch(t,
		[]string{tx.ID().String(), over.ID().String()},
		[]string{sigs[0].Signature, sigs[1].Signature})
}

func TestServer_SendTransactionRejections(t *testing.T) {
	ts := newTestServer(t)
	user := ts.fundedUser(t, 1_000_000)
	other, err := types.NewKeypair()
	require.NoError(t, err)

	tx := ts.signedTx(t, user, system.Transfer(user.Pubkey(), other.Pubkey(), 10))
	tx.Signatures[0][0] ^= 0xFF
	rpcErr := ts.call(t, "sendTransaction", []interface{}{base58.Encode(tx.Marshal())}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, TransactionSignatureVerificationFailure, rpcErr.Code)

	stale := runtime.NewTransaction(user.Pubkey(), system.Transfer(user.Pubkey(), other.Pubkey(), 10))
	stale.SetBlockhash(types.ComputeHash([]byte("stale")))
	require.NoError(t, stale.Sign(user))
	rpcErr = ts.call(t, "sendTransaction", []interface{}{base58.Encode(stale.Marshal()), map[string]bool{"skipPreflight": true}}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, SendTransactionPreflightFailure, rpcErr.Code)

	rpcErr = ts.call(t, "sendTransaction", []interface{}{"not-base58!"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)

	var res contextResult
	require.Nil(t, ts.call(t, "simulateTransaction", []interface{}{base58.Encode(stale.Marshal())}, &res))
	var sim SimulationResult
	require.NoError(t, json.Unmarshal(res.Value, &sim))
	assert.JSONEq(t, `"BlockhashNotFound"`, string(sim.Err))
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t)

	body := `[{"jsonrpc":"2.0","id":1,"method":"getHealth"},{"jsonrpc":"1.0","id":2,"method":"getHealth"}]`
	resp, err := http.Post(ts.http.URL, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var responses []struct {
		ID     int       `json:"id"`
		Result string    `json:"result"`
		Error  *RPCError `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&responses))
	require.Len(t, responses, 2)
	assert.Equal(t, "ok", responses[0].Result)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, InvalidRequest, responses[1].Error.Code)
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"getHealth"}`

	resp, err := http.Post(ts.http.URL, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	generated := resp.Header.Get(RequestIDHeader)
	_, err = uuid.Parse(generated)
	assert.NoError(t, err)

	id := uuid.New().String()
	req, err := http.NewRequest(http.MethodPost, ts.http.URL, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))

	req, err = http.NewRequest(http.MethodPost, ts.http.URL, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, "not-a-uuid", resp.Header.Get(RequestIDHeader))
}

func TestServer_Serve(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ts.server.Serve(ctx, lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Post("http://"+lis.Addr().String(), "application/json",
			bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestApplyDataSlice(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	assert.Equal(t, data, ApplyDataSlice(data, nil))
	assert.Equal(t, []byte{2, 3}, ApplyDataSlice(data, &DataSlice{Offset: 1, Length: 2}))
	assert.Equal(t, []byte{4, 5}, ApplyDataSlice(data, &DataSlice{Offset: 3, Length: 10}))
	assert.Equal(t, []byte{}, ApplyDataSlice(data, &DataSlice{Offset: 9, Length: 1}))
}
