// Package client talks to a vault node over JSON-RPC and submits vault
// transactions.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/retry"
	"github.com/fortiblox/X1-Vault/pkg/retry/backoff"
	"github.com/fortiblox/X1-Vault/pkg/rpc"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrSignatureNotFound = errors.New("signature not found")
	ErrNotInitialized    = errors.New("vault balance record not initialized")
	ErrBlockhashExpired  = errors.New("blockhash expired before the transaction was processed")
	ErrSubmitFailed      = errors.New("transaction was not processed")

	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
	errTransport    = errors.New("rpc transport failure")
)

// Config configures a Client.
type Config struct {
	// Endpoint is the node's JSON-RPC URL.
	Endpoint string

	// ProgramID is the vault program the client builds instructions for.
	ProgramID types.Pubkey

	// Commitment a submitted transaction must reach before it counts as
	// done.
	Commitment rpc.Commitment

	RequestTimeout time.Duration
	MaxRetries     uint
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration

	// PollInterval is the delay between signature status checks.
	PollInterval time.Duration

	// ConfirmTimeout bounds how long one submission waits for its status.
	ConfirmTimeout time.Duration

	// MaxSubmits caps how many differently signed copies of a transaction
	// are sent. A copy is only sent once the previous one can no longer
	// land.
	MaxSubmits int

	Headers map[string]string
}

// DefaultConfig returns the configuration for a local node.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "http://localhost:8899",
		ProgramID:      types.DefaultVaultProgramAddr,
		Commitment:     rpc.CommitmentConfirmed,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     5,
		RetryDelay:     250 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
		PollInterval:   400 * time.Millisecond,
		ConfirmTimeout: 90 * time.Second,
		MaxSubmits:     3,
	}
}

// Client is a vault node JSON-RPC client.
type Client struct {
	config  Config
	log     *logrus.Entry
	rpc     jsonrpc.RPCClient
	retrier retry.Retrier
}

// New returns a client for config.Endpoint. Requests that fail because the
// node is rate limiting, unhealthy or unreachable are retried with backoff.
func New(config Config) *Client {
	return &Client{
		config: config,
		log:    logrus.StandardLogger().WithField("type", "client"),
		rpc: jsonrpc.NewClientWithOpts(config.Endpoint, &jsonrpc.RPCClientOpts{
			HTTPClient:    &http.Client{Timeout: config.RequestTimeout},
			CustomHeaders: config.Headers,
		}),
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errRateLimited, errServiceError, errTransport),
			retry.Limit(config.MaxRetries+1),
			retry.BackoffWithJitter(backoff.BinaryExponential(config.RetryDelay), config.MaxRetryDelay, 0.1),
		),
	}
}

// ProgramID returns the vault program the client targets.
func (c *Client) ProgramID() types.Pubkey {
	return c.config.ProgramID
}

func (c *Client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	_, err := c.callAttempts(ctx, out, method, params...)
	return err
}

// callAttempts is call that also reports how many requests were made.
func (c *Client) callAttempts(ctx context.Context, out interface{}, method string, params ...interface{}) (uint, error) {
	return c.retrier.Retry(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.rpc.Call(method, params...)
		if err != nil {
			c.log.WithError(err).WithField("method", method).Debug("rpc call failed")
			return errors.WithMessage(errTransport, err.Error())
		}
		if resp.Error != nil {
			return c.handleRpcError(method, resp.Error)
		}
		if out == nil {
			return nil
		}
		return errors.Wrapf(resp.GetObject(out), "decode %s result", method)
	})
}

func (c *Client) handleRpcError(method string, err *jsonrpc.RPCError) error {
	if err.Code == http.StatusTooManyRequests {
		c.log.WithField("method", method).Warn("rate limited")
		return errRateLimited
	}
	if err.Code >= 500 || err.Code == rpc.NodeUnhealthy {
		return errServiceError
	}
	return err
}

// GetSlot returns the slot at the configured commitment.
func (c *Client) GetSlot(ctx context.Context) (slot uint64, err error) {
	// A lone struct argument would be sent as the params object, not as a
	// one element params array.
	params := []interface{}{rpc.CommitmentConfig{Commitment: c.config.Commitment}}
	if err := c.call(ctx, &slot, "getSlot", params); err != nil {
		return 0, errors.Wrap(err, "getSlot() failed")
	}
	return slot, nil
}

// GetBalance returns the lamports held by account. Missing accounts hold
// nothing.
func (c *Client) GetBalance(ctx context.Context, account types.Pubkey) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, &resp, "getBalance", account.String()); err != nil {
		return 0, errors.Wrapf(err, "getBalance(%s) failed", account)
	}
	return resp.Value, nil
}

// AccountInfo is an account as reported by the node.
type AccountInfo struct {
	Lamports   uint64
	Owner      types.Pubkey
	Executable bool
	Data       []byte
}

// GetAccountInfo returns account, or ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, account types.Pubkey) (*AccountInfo, error) {
	var resp struct {
		Value *struct {
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
		} `json:"value"`
	}
	config := rpc.AccountInfoConfig{
		Encoding:   rpc.EncodingBase64,
		Commitment: c.config.Commitment,
	}
	if err := c.call(ctx, &resp, "getAccountInfo", account.String(), config); err != nil {
		return nil, errors.Wrapf(err, "getAccountInfo(%s) failed", account)
	}
	if resp.Value == nil {
		return nil, ErrAccountNotFound
	}

	info := &AccountInfo{
		Lamports:   resp.Value.Lamports,
		Executable: resp.Value.Executable,
	}
	owner, err := types.PubkeyFromBase58(resp.Value.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "invalid account owner")
	}
	info.Owner = owner
	if len(resp.Value.Data) != 2 {
		return nil, errors.Errorf("unexpected account data format: %v", resp.Value.Data)
	}
	data, err := rpc.DecodeAccountData(resp.Value.Data[0], rpc.Encoding(resp.Value.Data[1]))
	if err != nil {
		return nil, errors.Wrap(err, "invalid account data")
	}
	info.Data = data
	return info, nil
}

// GetMinimumBalanceForRentExemption returns the balance an account holding
// dataLen bytes needs to be rent exempt.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (lamports uint64, err error) {
	if err := c.call(ctx, &lamports, "getMinimumBalanceForRentExemption", dataLen); err != nil {
		return 0, errors.Wrap(err, "getMinimumBalanceForRentExemption() failed")
	}
	return lamports, nil
}

// GetLatestBlockhash returns the newest blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp struct {
		Value rpc.LatestBlockhash `json:"value"`
	}
	if err := c.call(ctx, &resp, "getLatestBlockhash"); err != nil {
		return types.Hash{}, errors.Wrap(err, "getLatestBlockhash() failed")
	}
	hash, err := types.HashFromBase58(resp.Value.Blockhash)
	if err != nil {
		return types.Hash{}, errors.Wrap(err, "invalid blockhash")
	}
	return hash, nil
}

// IsBlockhashValid reports whether transactions may still use hash.
func (c *Client) IsBlockhashValid(ctx context.Context, hash types.Hash) (bool, error) {
	var resp struct {
		Value bool `json:"value"`
	}
	if err := c.call(ctx, &resp, "isBlockhashValid", hash.String()); err != nil {
		return false, errors.Wrap(err, "isBlockhashValid() failed")
	}
	return resp.Value, nil
}

// SendTransaction submits tx with preflight checks. A transaction the node
// rejects returns an error wrapping its *runtime.TransactionError.
func (c *Client) SendTransaction(ctx context.Context, tx *runtime.Transaction) (types.Signature, error) {
	sig, _, err := c.sendTransaction(ctx, tx)
	return sig, err
}

// sendTransaction also reports how many requests were made. With more
// than one, an earlier request may have reached the node.
func (c *Client) sendTransaction(ctx context.Context, tx *runtime.Transaction) (types.Signature, uint, error) {
	config := rpc.SendTransactionConfig{
		Encoding:            rpc.EncodingBase64,
		PreflightCommitment: c.config.Commitment,
	}

	var sig string
	attempts, err := c.callAttempts(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(tx.Marshal()), config)
	if err != nil {
		if txErr, ok := transactionError(err); ok {
			return types.Signature{}, attempts, errors.Wrap(txErr, "sendTransaction() rejected")
		}
		return types.Signature{}, attempts, errors.Wrap(err, "sendTransaction() failed")
	}

	parsed, err := types.SignatureFromBase58(sig)
	if err != nil {
		return types.Signature{}, attempts, errors.Wrap(err, "invalid signature returned")
	}
	return parsed, attempts, nil
}

// SimulationResult is the outcome of executing a transaction without
// committing it.
type SimulationResult struct {
	Err           *runtime.TransactionError
	Logs          []string
	UnitsConsumed uint64
}

// SimulateTransaction executes tx on the node without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *runtime.Transaction) (*SimulationResult, error) {
	var resp struct {
		Value rpc.SimulationResult `json:"value"`
	}
	config := rpc.SimulateTransactionConfig{
		Encoding:   rpc.EncodingBase64,
		Commitment: c.config.Commitment,
	}
	if err := c.call(ctx, &resp, "simulateTransaction", base64.StdEncoding.EncodeToString(tx.Marshal()), config); err != nil {
		return nil, errors.Wrap(err, "simulateTransaction() failed")
	}

	result := &SimulationResult{Logs: resp.Value.Logs}
	if resp.Value.UnitsConsumed != nil {
		result.UnitsConsumed = *resp.Value.UnitsConsumed
	}
	txErr, err := decodeTransactionError(resp.Value.Err)
	if err != nil {
		return nil, err
	}
	result.Err = txErr
	return result, nil
}

// SignatureStatus is the recorded outcome of a transaction.
type SignatureStatus struct {
	Slot               uint64
	Err                *runtime.TransactionError
	ConfirmationStatus rpc.Commitment
}

// Reached reports whether the status satisfies commitment.
func (s SignatureStatus) Reached(commitment rpc.Commitment) bool {
	switch commitment {
	case rpc.CommitmentFinalized:
		return s.ConfirmationStatus == rpc.CommitmentFinalized
	case rpc.CommitmentConfirmed:
		return s.ConfirmationStatus == rpc.CommitmentConfirmed || s.ConfirmationStatus == rpc.CommitmentFinalized
	default:
		return true
	}
}

// GetSignatureStatus returns the status of sig, or ErrSignatureNotFound if
// the node has no record of it.
func (c *Client) GetSignatureStatus(ctx context.Context, sig types.Signature) (*SignatureStatus, error) {
	var resp struct {
		Value []*rpc.SignatureStatus `json:"value"`
	}
	params := []interface{}{[]string{sig.String()}, rpc.SignatureStatusConfig{SearchTransactionHistory: true}}
	if err := c.call(ctx, &resp, "getSignatureStatuses", params...); err != nil {
		return nil, errors.Wrapf(err, "getSignatureStatuses(%s) failed", sig)
	}
	if len(resp.Value) != 1 {
		return nil, errors.Errorf("expected 1 signature status, got %d", len(resp.Value))
	}
	if resp.Value[0] == nil {
		return nil, ErrSignatureNotFound
	}

	status := &SignatureStatus{
		Slot:               resp.Value[0].Slot,
		ConfirmationStatus: rpc.Commitment(resp.Value[0].ConfirmationStatus),
	}
	txErr, err := decodeTransactionError(resp.Value[0].Err)
	if err != nil {
		return nil, err
	}
	status.Err = txErr
	return status, nil
}

// RequestAirdrop asks the node's faucet for lamports.
func (c *Client) RequestAirdrop(ctx context.Context, account types.Pubkey, lamports uint64) (types.Signature, error) {
	var sig string
	if err := c.call(ctx, &sig, "requestAirdrop", account.String(), lamports); err != nil {
		return types.Signature{}, errors.Wrapf(err, "requestAirdrop(%s) failed", account)
	}
	parsed, err := types.SignatureFromBase58(sig)
	if err != nil {
		return types.Signature{}, errors.Wrap(err, "invalid signature returned")
	}
	return parsed, nil
}

// VaultBalance is a user's decoded balance record.
type VaultBalance struct {
	Record  types.Pubkey
	Owner   types.Pubkey
	Balance uint64
}

// GetVaultBalance returns the balance record of user, or ErrNotInitialized.
func (c *Client) GetVaultBalance(ctx context.Context, user types.Pubkey) (*VaultBalance, error) {
	var resp struct {
		Value *rpc.VaultBalance `json:"value"`
	}
	config := rpc.VaultBalanceConfig{ProgramID: c.config.ProgramID.String()}
	if err := c.call(ctx, &resp, "getVaultBalance", user.String(), config); err != nil {
		return nil, errors.Wrapf(err, "getVaultBalance(%s) failed", user)
	}
	if resp.Value == nil {
		return nil, ErrNotInitialized
	}

	record, err := types.PubkeyFromBase58(resp.Value.Record)
	if err != nil {
		return nil, errors.Wrap(err, "invalid record address")
	}
	owner, err := types.PubkeyFromBase58(resp.Value.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "invalid record owner")
	}
	return &VaultBalance{
		Record:  record,
		Owner:   owner,
		Balance: resp.Value.Balance,
	}, nil
}

// transactionError extracts the transaction error carried by a preflight
// or signature verification failure.
func transactionError(err error) (*runtime.TransactionError, bool) {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil, false
	}

	switch rpcErr.Code {
	case rpc.TransactionSignatureVerificationFailure:
		return runtime.ErrSignatureFailure, true
	case rpc.SendTransactionPreflightFailure:
	default:
		return nil, false
	}

	raw, marshalErr := json.Marshal(rpcErr.Data)
	if marshalErr != nil {
		return nil, false
	}
	var simulated rpc.SimulationResult
	if json.Unmarshal(raw, &simulated) != nil {
		return nil, false
	}
	txErr, decodeErr := decodeTransactionError(simulated.Err)
	if decodeErr != nil || txErr == nil {
		return nil, false
	}
	return txErr, true
}

// decodeTransactionError decodes a status "err" field, nil for success.
func decodeTransactionError(raw json.RawMessage) (*runtime.TransactionError, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var txErr runtime.TransactionError
	if err := txErr.UnmarshalJSON(raw); err != nil {
		return nil, errors.Wrap(err, "invalid transaction error")
	}
	return &txErr, nil
}
