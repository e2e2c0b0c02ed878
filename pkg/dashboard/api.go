package dashboard

import (
	"encoding/hex"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	rt "github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Slot                uint64  `json:"slot"`
	IsRunning           bool    `json:"isRunning"`
	Uptime              string  `json:"uptime"`
	UptimeSeconds       float64 `json:"uptimeSeconds"`
	LatestBlock         uint64  `json:"latestBlock"`
	OldestBlock         uint64  `json:"oldestBlock"`
	BlockCount          uint64  `json:"blockCount"`
	TransactionCount    uint64  `json:"transactionCount"`
	DatabaseSize        int64   `json:"databaseSize"`
	AccountsCount       uint64  `json:"accountsCount"`
	VaultHoldings       uint64  `json:"vaultHoldings"`
	GeyserSubscriptions int     `json:"geyserSubscriptions"`
	LastError           string  `json:"lastError,omitempty"`
}

// BlocksListResponse is the response for GET /api/blocks.
type BlocksListResponse struct {
	Blocks      []BlockBrief `json:"blocks"`
	CurrentPage int          `json:"currentPage"`
	TotalPages  int          `json:"totalPages"`
	HasPrev     bool         `json:"hasPrev"`
	HasNext     bool         `json:"hasNext"`
}

// BlockBrief is a brief block summary.
type BlockBrief struct {
	Slot             uint64 `json:"slot"`
	Blockhash        string `json:"blockhash"`
	TransactionCount int    `json:"transactionCount"`
	BlockTime        int64  `json:"blockTime"`
}

// BlockResponse is the response for GET /api/blocks/:slot.
type BlockResponse struct {
	Slot              uint64             `json:"slot"`
	ParentSlot        uint64             `json:"parentSlot"`
	Blockhash         string             `json:"blockhash"`
	PreviousBlockhash string             `json:"previousBlockhash"`
	BankHash          string             `json:"bankHash"`
	BlockTime         int64              `json:"blockTime"`
	BlockHeight       uint64             `json:"blockHeight"`
	TransactionCount  int                `json:"transactionCount"`
	Transactions      []TransactionBrief `json:"transactions,omitempty"`
}

// TransactionBrief is a brief transaction summary.
type TransactionBrief struct {
	Signature string `json:"signature"`
	Success   bool   `json:"success"`
	Accounts  int    `json:"accounts"`
}

// AccountResponse is the response for GET /api/accounts/:pubkey.
type AccountResponse struct {
	Pubkey     string `json:"pubkey"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	DataLen    int    `json:"dataLen"`
	DataHex    string `json:"dataHex,omitempty"` // First 256 bytes as hex

	// Record is set for balance records of the vault program.
	Record *RecordResponse `json:"record,omitempty"`
}

// RecordResponse is a decoded vault balance record.
type RecordResponse struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// VaultResponse is the response for GET /api/vault/:user.
type VaultResponse struct {
	User        string `json:"user"`
	Record      string `json:"record"`
	Vault       string `json:"vault"`
	Initialized bool   `json:"initialized"`
	Balance     uint64 `json:"balance"`
}

// TransactionResponse is the response for GET /api/transactions/:sig.
type TransactionResponse struct {
	Signature            string                `json:"signature"`
	Slot                 uint64                `json:"slot"`
	Success              bool                  `json:"success"`
	Error                string                `json:"error,omitempty"`
	ComputeUnitsConsumed uint64                `json:"computeUnitsConsumed"`
	Accounts             []string              `json:"accounts"`
	Instructions         []InstructionResponse `json:"instructions"`
	LogMessages          []string              `json:"logMessages,omitempty"`
	PreBalances          []uint64              `json:"preBalances,omitempty"`
	PostBalances         []uint64              `json:"postBalances,omitempty"`
}

// InstructionResponse is an instruction in a transaction.
type InstructionResponse struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	DataHex        string `json:"dataHex"`

	// Operation names decoded vault instructions.
	Operation string `json:"operation,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	NumGC         uint32 `json:"numGC"`
	NumGoroutine  int    `json:"numGoroutine"`
	NumCPU        int    `json:"numCPU"`
	GoVersion     string `json:"goVersion"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.status())
}

// handleAPIBlocks handles GET /api/blocks.
func (d *Dashboard) handleAPIBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	perPage := 25
	if pp := r.URL.Query().Get("limit"); pp != "" {
		if parsed, err := strconv.Atoi(pp); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}

	blocks, totalPages := d.recentBlocks(page, perPage)

	briefs := make([]BlockBrief, 0, len(blocks))
	for _, b := range blocks {
		briefs = append(briefs, BlockBrief{
			Slot:             b.Slot,
			Blockhash:        b.Blockhash.String(),
			TransactionCount: len(b.Transactions),
			BlockTime:        b.BlockTime,
		})
	}

	writeJSON(w, BlocksListResponse{
		Blocks:      briefs,
		CurrentPage: page,
		TotalPages:  totalPages,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
	})
}

// handleAPIBlock handles GET /api/blocks/:slot.
func (d *Dashboard) handleAPIBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slotStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/blocks/"), "/")
	if slotStr == "" {
		writeError(w, "Slot number required", http.StatusBadRequest)
		return
	}
	slot, err := strconv.ParseUint(slotStr, 10, 64)
	if err != nil {
		writeError(w, "Invalid slot number", http.StatusBadRequest)
		return
	}

	block, err := d.blocks.GetBlock(slot)
	if err != nil {
		writeError(w, "Block not found", http.StatusNotFound)
		return
	}

	resp := BlockResponse{
		Slot:              block.Slot,
		ParentSlot:        block.ParentSlot,
		Blockhash:         block.Blockhash.String(),
		PreviousBlockhash: block.PreviousBlockhash.String(),
		BankHash:          block.BankHash.String(),
		BlockTime:         block.BlockTime,
		BlockHeight:       block.BlockHeight,
		TransactionCount:  len(block.Transactions),
	}
	if r.URL.Query().Get("transactions") != "false" {
		for _, tx := range block.Transactions {
			resp.Transactions = append(resp.Transactions, TransactionBrief{
				Signature: tx.Signature.String(),
				Success:   len(tx.Meta.Err) == 0,
				Accounts:  len(tx.AccountKeys),
			})
		}
	}

	writeJSON(w, resp)
}

// handleAPIAccount handles GET /api/accounts/:pubkey.
func (d *Dashboard) handleAPIAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pubkey, ok := pubkeyParam(w, r, "/api/accounts/")
	if !ok {
		return
	}

	account, err := d.accounts.GetAccount(pubkey)
	if err != nil {
		writeError(w, "Account not found", http.StatusNotFound)
		return
	}

	resp := AccountResponse{
		Pubkey:     pubkey.String(),
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		Executable: account.Executable,
		DataLen:    len(account.Data),
	}
	if len(account.Data) > 0 {
		maxLen := 256
		if len(account.Data) < maxLen {
			maxLen = len(account.Data)
		}
		resp.DataHex = hex.EncodeToString(account.Data[:maxLen])
	}
	if account.Owner == d.config.VaultProgramID {
		var record vault.BalanceRecord
		if err := record.Unmarshal(account.Data); err == nil {
			resp.Record = &RecordResponse{Owner: record.Owner.String(), Balance: record.Balance}
		}
	}

	writeJSON(w, resp)
}

// handleAPIVault handles GET /api/vault/:user.
func (d *Dashboard) handleAPIVault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := pubkeyParam(w, r, "/api/vault/")
	if !ok {
		return
	}

	addrs, err := vault.DeriveInstructionAccounts(d.config.VaultProgramID, user)
	if err != nil {
		writeError(w, "Failed to derive vault addresses", http.StatusInternalServerError)
		return
	}
	resp := VaultResponse{
		User:   user.String(),
		Record: addrs.Record.String(),
		Vault:  addrs.Vault.String(),
	}

	account, err := d.accounts.GetAccount(addrs.Record)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
	case err != nil:
		writeError(w, "Failed to read balance record", http.StatusInternalServerError)
		return
	case account.Owner == d.config.VaultProgramID:
		var record vault.BalanceRecord
		if err := record.Unmarshal(account.Data); err == nil {
			resp.Initialized = true
			resp.Balance = record.Balance
		}
	}

	writeJSON(w, resp)
}

// handleAPITransaction handles GET /api/transactions/:sig.
func (d *Dashboard) handleAPITransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sigStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/transactions/"), "/")
	if sigStr == "" {
		writeError(w, "Signature required", http.StatusBadRequest)
		return
	}
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		writeError(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	tx, err := d.blocks.GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		writeError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to read transaction", http.StatusInternalServerError)
		return
	}

	resp := TransactionResponse{
		Signature:            tx.Signature.String(),
		Slot:                 tx.Slot,
		Success:              len(tx.Meta.Err) == 0,
		ComputeUnitsConsumed: tx.Meta.ComputeUnitsConsumed,
		LogMessages:          tx.Meta.LogMessages,
		PreBalances:          tx.Meta.PreBalances,
		PostBalances:         tx.Meta.PostBalances,
	}
	if !resp.Success {
		resp.Error = string(tx.Meta.Err)
	}
	for _, key := range tx.AccountKeys {
		resp.Accounts = append(resp.Accounts, key.String())
	}

	var decoded rt.Transaction
	if err := decoded.Unmarshal(tx.Raw); err == nil {
		keys := decoded.Message.AccountKeys
		for _, ix := range decoded.Message.Instructions {
			resp.Instructions = append(resp.Instructions, d.describeInstruction(keys, ix))
		}
	}

	writeJSON(w, resp)
}

// describeInstruction converts ix, decoding vault operations.
func (d *Dashboard) describeInstruction(keys []types.Pubkey, ix rt.CompiledInstruction) InstructionResponse {
	resp := InstructionResponse{
		ProgramIDIndex: int(ix.ProgramIDIndex),
		Accounts:       make([]int, 0, len(ix.AccountIndexes)),
		DataHex:        hex.EncodeToString(ix.Data),
	}
	for _, idx := range ix.AccountIndexes {
		resp.Accounts = append(resp.Accounts, int(idx))
	}

	if int(ix.ProgramIDIndex) >= len(keys) || keys[ix.ProgramIDIndex] != d.config.VaultProgramID {
		return resp
	}
	op, err := vault.DecodeOperation(ix.Data)
	if err != nil {
		return resp
	}
	switch op := op.(type) {
	case vault.Initialize:
		resp.Operation = "initialize"
	case vault.Deposit:
		resp.Operation = "deposit"
		resp.Amount = op.Amount
	case vault.Withdraw:
		resp.Operation = "withdraw"
		resp.Amount = op.Amount
	}
	return resp
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := getMemStats()
	writeJSON(w, MetricsResponse{
		MemAlloc:      mem.Alloc,
		MemTotalAlloc: mem.TotalAlloc,
		MemSys:        mem.Sys,
		MemHeapInuse:  mem.HeapInuse,
		NumGC:         mem.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
	})
}

// pubkeyParam parses the pubkey following prefix in the request path,
// writing an error response if it is missing or invalid.
func pubkeyParam(w http.ResponseWriter, r *http.Request, prefix string) (types.Pubkey, bool) {
	s := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if s == "" {
		writeError(w, "Public key required", http.StatusBadRequest)
		return types.Pubkey{}, false
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		writeError(w, "Invalid public key", http.StatusBadRequest)
		return types.Pubkey{}, false
	}
	return pubkey, true
}

func (d *Dashboard) vaultAddress() (types.Pubkey, error) {
	address, _, err := vault.VaultAddress(d.config.VaultProgramID)
	return address, err
}
