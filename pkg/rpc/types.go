package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Commitment levels for RPC requests.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	Commitment     Commitment `json:"commitment,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// CommitmentConfig configures requests that only take a commitment.
type CommitmentConfig struct {
	Commitment     Commitment `json:"commitment,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// TransactionConfig configures getTransaction requests.
type TransactionConfig struct {
	Encoding                       Encoding   `json:"encoding,omitempty"`
	Commitment                     Commitment `json:"commitment,omitempty"`
	MaxSupportedTransactionVersion *uint64    `json:"maxSupportedTransactionVersion,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit          int        `json:"limit,omitempty"`
	Before         string     `json:"before,omitempty"`
	Until          string     `json:"until,omitempty"`
	Commitment     Commitment `json:"commitment,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// SignatureStatusConfig configures getSignatureStatuses requests.
type SignatureStatusConfig struct {
	SearchTransactionHistory bool `json:"searchTransactionHistory,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding            Encoding   `json:"encoding,omitempty"`
	SkipPreflight       bool       `json:"skipPreflight,omitempty"`
	PreflightCommitment Commitment `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint64    `json:"maxRetries,omitempty"`
	MinContextSlot      *uint64    `json:"minContextSlot,omitempty"`
}

// SimulateTransactionConfig configures transaction simulation.
type SimulateTransactionConfig struct {
	Commitment     Commitment `json:"commitment,omitempty"`
	Encoding       Encoding   `json:"encoding,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// VaultBalanceConfig configures getVaultBalance requests.
type VaultBalanceConfig struct {
	// ProgramID overrides the server's vault program.
	ProgramID string `json:"programId,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding]
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  json.RawMessage `json:"err"`
	Fee                  uint64          `json:"fee"`
	PreBalances          []uint64        `json:"preBalances"`
	PostBalances         []uint64        `json:"postBalances"`
	LogMessages          []string        `json:"logMessages"`
	ComputeUnitsConsumed *uint64         `json:"computeUnitsConsumed,omitempty"`
}

// TransactionResponse represents a transaction returned by RPC.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	Transaction []string         `json:"transaction"` // [encoded, encoding]
	Meta        *TransactionMeta `json:"meta"`
	BlockTime   *int64           `json:"blockTime"`
	Version     string           `json:"version"`
}

// BlockResponse represents a block returned by RPC. Only signatures are
// listed; use getTransaction for details.
type BlockResponse struct {
	Blockhash         string   `json:"blockhash"`
	PreviousBlockhash string   `json:"previousBlockhash"`
	ParentSlot        uint64   `json:"parentSlot"`
	Signatures        []string `json:"signatures"`
	BlockTime         *int64   `json:"blockTime"`
	BlockHeight       *uint64  `json:"blockHeight"`
}

// SignatureInfo represents signature information for getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus,omitempty"`
}

// SignatureStatus represents the status of a transaction signature.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	Status             json.RawMessage `json:"status"`
	ConfirmationStatus string          `json:"confirmationStatus,omitempty"`
}

// SimulationResult represents transaction simulation results.
type SimulationResult struct {
	Err           json.RawMessage `json:"err"`
	Logs          []string        `json:"logs"`
	Accounts      []*AccountInfo  `json:"accounts"`
	UnitsConsumed *uint64         `json:"unitsConsumed,omitempty"`
}

// LatestBlockhash represents the latest blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint64 `json:"feature-set"`
}

// VaultBalance is a decoded vault balance record.
type VaultBalance struct {
	Record  string `json:"record"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}
