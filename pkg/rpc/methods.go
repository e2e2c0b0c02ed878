package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/ledger"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

// Version information.
const (
	SolanaCore = "x1-vault-1.0.0"
	FeatureSet = 0
)

// maxSignatureStatuses caps getSignatureStatuses and getMultipleAccounts.
const maxSignatureStatuses = 256

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.contextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.accountInfo(pubkey, config)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   info,
	}, nil
}

// getMultipleAccounts retrieves multiple accounts.
func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkeys array")
	}
	if len(keys) > maxSignatureStatuses {
		return nil, InvalidParamsErrorf("too many pubkeys (max %d)", maxSignatureStatuses)
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.contextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	infos := make([]*AccountInfo, len(keys))
	for i, key := range keys {
		pubkey, err := types.PubkeyFromBase58(key)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey %q", key)
		}
		info, rpcErr := s.accountInfo(pubkey, config)
		if rpcErr != nil {
			return nil, rpcErr
		}
		infos[i] = info
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   infos,
	}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config CommitmentConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.contextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var balance uint64
	account, err := s.ledger.GetAccount(pubkey)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
	case err != nil:
		return nil, InternalServerErrorf("failed to get account: %v", err)
	default:
		balance = account.Lamports
	}

	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   balance,
	}, nil
}

// getMinimumBalanceForRentExemption returns the minimum balance for rent exemption.
func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	return s.ledger.MinimumBalanceForRentExemption(dataLen), nil
}

// Transaction Methods

// sendTransaction submits a signed transaction. Unless skipPreflight is set
// the transaction is simulated first and rejected if the simulation fails.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := parseTransaction(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if !config.SkipPreflight {
		result, err := s.ledger.SimulateTransaction(ctx, tx)
		if rpcErr := s.preflightError(result, err); rpcErr != nil {
			return nil, rpcErr
		}
	}

	result, err := s.ledger.ProcessTransaction(ctx, tx)
	if err != nil {
		return nil, s.preflightError(nil, err)
	}
	return result.Signature.String(), nil
}

// preflightError maps a failed simulation or a rejected transaction to
// the RPC error sendTransaction returns, nil if the transaction is fine.
func (s *Server) preflightError(result *runtime.Result, err error) *RPCError {
	var (
		txErr     *runtime.TransactionError
		simulated *SimulationResult
	)
	switch {
	case err != nil:
		if !errors.As(err, &txErr) {
			return InternalServerErrorf("failed to process transaction: %v", err)
		}
	case result.Failed():
		txErr = result.Err
		simulated = simulationResult(result)
	default:
		return nil
	}

	if errors.Is(txErr, runtime.ErrSignatureFailure) {
		return ErrSignatureVerify
	}
	return PreflightFailureError(txErr, simulated)
}

// simulateTransaction executes a transaction without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SimulateTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := parseTransaction(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.contextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := s.ledger.SimulateTransaction(ctx, tx)
	if err != nil {
		var txErr *runtime.TransactionError
		if !errors.As(err, &txErr) {
			return nil, InternalServerErrorf("failed to simulate transaction: %v", err)
		}
		return ResponseWithContext{
			Context: Context{Slot: slot},
			Value:   SimulationResult{Err: transactionErrorJSON(txErr), Logs: []string{}},
		}, nil
	}

	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   simulationResult(result),
	}, nil
}

func simulationResult(result *runtime.Result) *SimulationResult {
	logs := result.Logs
	if logs == nil {
		logs = []string{}
	}
	units := result.ComputeUnitsConsumed
	return &SimulationResult{
		Err:           transactionErrorJSON(result.Err),
		Logs:          logs,
		UnitsConsumed: &units,
	}
}

// getSignatureStatuses retrieves the status of signatures.
func (s *Server) getSignatureStatuses(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStrs []string
	if err := json.Unmarshal(args[0], &sigStrs); err != nil {
		return nil, InvalidParamsError("invalid signatures array")
	}
	if len(sigStrs) > maxSignatureStatuses {
		return nil, InvalidParamsErrorf("too many signatures (max %d)", maxSignatureStatuses)
	}
	var config SignatureStatusConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	statuses := make([]*SignatureStatus, len(sigStrs))
	for i, sigStr := range sigStrs {
		sig, err := types.SignatureFromBase58(sigStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid signature %q", sigStr)
		}

		status, err := s.ledger.GetSignatureStatus(sig)
		if errors.Is(err, blockstore.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, InternalServerErrorf("failed to get signature status: %v", err)
		}
		statuses[i] = signatureStatus(status)
	}

	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value:   statuses,
	}, nil
}

func signatureStatus(status *blockstore.TransactionStatus) *SignatureStatus {
	result := &SignatureStatus{
		Slot:               status.Slot,
		Err:                status.Err,
		Status:             json.RawMessage(`{"Ok":null}`),
		ConfirmationStatus: status.ConfirmationStatus.String(),
	}
	if status.Err != nil {
		result.Status = append(append(json.RawMessage(`{"Err":`), status.Err...), '}')
	}
	if status.ConfirmationStatus != blockstore.CommitmentFinalized {
		var zero uint64
		result.Confirmations = &zero
	}
	return result
}

// getTransaction retrieves a stored transaction by signature.
func (s *Server) getTransaction(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config TransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Encoding == "" {
		config.Encoding = EncodingBase64
	}

	blocks := s.ledger.Blocks()
	tx, err := blocks.GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}

	var blockTime *int64
	if meta, err := blocks.GetSlotMeta(tx.Slot); err == nil {
		blockTime = &meta.BlockTime
	}

	encoded, err := EncodeAccountData(tx.Raw, config.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode transaction: %v", err)
	}
	units := tx.Meta.ComputeUnitsConsumed
	return &TransactionResponse{
		Slot:        tx.Slot,
		Transaction: encoded,
		Meta: &TransactionMeta{
			Err:                  tx.Meta.Err,
			PreBalances:          tx.Meta.PreBalances,
			PostBalances:         tx.Meta.PostBalances,
			LogMessages:          tx.Meta.LogMessages,
			ComputeUnitsConsumed: &units,
		},
		BlockTime: blockTime,
		Version:   "legacy",
	}, nil
}

// getSignaturesForAddress retrieves signatures for transactions involving an address.
func (s *Server) getSignaturesForAddress(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args[0], "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	if config.Limit <= 0 || config.Limit > 1000 {
		config.Limit = 1000
	}
	opts := &blockstore.SignatureQueryOptions{Limit: config.Limit}
	if config.Before != "" {
		sig, err := types.SignatureFromBase58(config.Before)
		if err != nil {
			return nil, InvalidParamsError("invalid before signature")
		}
		opts.Before = &sig
	}
	if config.Until != "" {
		sig, err := types.SignatureFromBase58(config.Until)
		if err != nil {
			return nil, InvalidParamsError("invalid until signature")
		}
		opts.Until = &sig
	}

	signatures, err := s.ledger.Blocks().GetSignaturesForAddress(addr, opts)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	results := make([]SignatureInfo, len(signatures))
	for i, sig := range signatures {
		blockTime := sig.BlockTime
		results[i] = SignatureInfo{
			Signature:          sig.Signature.String(),
			Slot:               sig.Slot,
			Err:                sig.Err,
			BlockTime:          &blockTime,
			ConfirmationStatus: blockstore.CommitmentFinalized.String(),
		}
	}
	return results, nil
}

// Block Methods

// getBlock returns a stored block with its transaction signatures.
func (s *Server) getBlock(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var slot uint64
	if err := json.Unmarshal(args[0], &slot); err != nil {
		return nil, InvalidParamsError("invalid slot")
	}

	block, err := s.ledger.Blocks().GetBlock(slot)
	if errors.Is(err, blockstore.ErrBlockNotFound) {
		return nil, BlockNotFoundError(slot)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get block: %v", err)
	}

	sigs := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		sigs[i] = tx.Signature.String()
	}
	return &BlockResponse{
		Blockhash:         block.Blockhash.String(),
		PreviousBlockhash: block.PreviousBlockhash.String(),
		ParentSlot:        block.ParentSlot,
		Signatures:        sigs,
		BlockTime:         &block.BlockTime,
		BlockHeight:       &block.BlockHeight,
	}, nil
}

// getBlockHeight returns the height of the latest block.
func (s *Server) getBlockHeight(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	blocks := s.ledger.Blocks()
	meta, err := blocks.GetSlotMeta(blocks.GetLatestSlot())
	if err != nil {
		return nil, InternalServerErrorf("failed to get latest block: %v", err)
	}
	return meta.BlockHeight, nil
}

// getLatestBlockhash returns the latest blockhash.
func (s *Server) getLatestBlockhash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	blockhash, lastValid := s.ledger.LatestBlockhash()
	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value: LatestBlockhash{
			Blockhash:            blockhash.String(),
			LastValidBlockHeight: lastValid,
		},
	}, nil
}

// isBlockhashValid checks if a blockhash is valid and recent.
func (s *Server) isBlockhashValid(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var blockhashStr string
	if err := json.Unmarshal(args[0], &blockhashStr); err != nil {
		return nil, InvalidParamsError("invalid blockhash")
	}
	blockhash, err := types.HashFromBase58(blockhashStr)
	if err != nil {
		return nil, InvalidParamsError("invalid blockhash format")
	}

	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value:   s.ledger.IsBlockhashValid(blockhash),
	}, nil
}

// getFirstAvailableBlock returns the slot of the oldest stored block.
func (s *Server) getFirstAvailableBlock(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.ledger.Blocks().GetOldestSlot(), nil
}

// Cluster Methods

// getSlot returns the slot being processed.
func (s *Server) getSlot(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var config CommitmentConfig
	if len(params) > 0 {
		args, rpcErr := parseArgs(params, 0)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if rpcErr := parseConfig(args, 0, &config); rpcErr != nil {
			return nil, rpcErr
		}
	}

	slot, rpcErr := s.contextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if config.Commitment == CommitmentProcessed {
		return slot, nil
	}
	return s.ledger.Blocks().GetLatestSlot(), nil
}

// getHealth returns the node health status.
func (s *Server) getHealth(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		SolanaCore: SolanaCore,
		FeatureSet: FeatureSet,
	}, nil
}

// getGenesisHash returns the genesis hash.
func (s *Server) getGenesisHash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.config.GenesisHash.String(), nil
}

// requestAirdrop sends lamports from the faucet.
func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil {
		return nil, InvalidParamsError("invalid lamports")
	}

	sig, err := s.ledger.RequestAirdrop(ctx, pubkey, lamports)
	switch {
	case errors.Is(err, ledger.ErrFaucetDisabled), errors.Is(err, ledger.ErrAirdropTooLarge):
		return nil, NewRPCError(InvalidRequest, err.Error())
	case err != nil:
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}
	return sig.String(), nil
}

// Vault Methods

// getVaultBalance returns the decoded balance record of a user, or null
// if the user has none.
func (s *Server) getVaultBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parsePubkey(args[0], "user")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config VaultBalanceConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	programID := s.config.VaultProgramID
	if config.ProgramID != "" {
		id, err := types.PubkeyFromBase58(config.ProgramID)
		if err != nil {
			return nil, InvalidParamsError("invalid programId")
		}
		programID = id
	}

	record, _, err := vault.UserRecordAddress(programID, user)
	if err != nil {
		return nil, InternalServerErrorf("failed to derive record address: %v", err)
	}

	result := ResponseWithContext{Context: Context{Slot: s.ledger.Slot()}}
	account, err := s.ledger.GetAccount(record)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	var balance vault.BalanceRecord
	if account.Owner != programID || balance.Unmarshal(account.Data) != nil {
		return result, nil
	}
	result.Value = VaultBalance{
		Record:  record.String(),
		Owner:   balance.Owner.String(),
		Balance: balance.Balance,
	}
	return result, nil
}

// Helper methods

// contextSlot returns the slot responses are evaluated at, failing if it
// is below minContextSlot.
func (s *Server) contextSlot(minContextSlot *uint64) (uint64, *RPCError) {
	slot := s.ledger.Slot()
	if minContextSlot != nil && *minContextSlot > slot {
		return 0, MinContextSlotError(*minContextSlot, slot)
	}
	return slot, nil
}

// accountInfo loads and encodes one account, nil if it does not exist.
func (s *Server) accountInfo(pubkey types.Pubkey, config AccountInfoConfig) (*AccountInfo, *RPCError) {
	account, err := s.ledger.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	data, err := EncodeAccountData(ApplyDataSlice(account.Data, config.DataSlice), config.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}
	return &AccountInfo{
		Data:       data,
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

// parseArgs decodes positional params, requiring at least required of them.
func parseArgs(params json.RawMessage, required int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsErrorf("expected at least %d params, got %d", required, len(args))
	}
	return args, nil
}

// parseConfig decodes the optional config object at args[i].
func parseConfig(args []json.RawMessage, i int, config interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], config); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func parsePubkey(arg json.RawMessage, name string) (types.Pubkey, *RPCError) {
	var str string
	if err := json.Unmarshal(arg, &str); err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s", name)
	}
	pubkey, err := types.PubkeyFromBase58(str)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s format", name)
	}
	return pubkey, nil
}

func parseSignature(arg json.RawMessage) (types.Signature, *RPCError) {
	var str string
	if err := json.Unmarshal(arg, &str); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(str)
	if err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature format")
	}
	return sig, nil
}

func parseTransaction(arg json.RawMessage, encoding Encoding) (*runtime.Transaction, *RPCError) {
	var encoded string
	if err := json.Unmarshal(arg, &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	raw, err := DecodeTransaction(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction encoding: %v", err)
	}
	var tx runtime.Transaction
	if err := tx.Unmarshal(raw); err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	return &tx, nil
}
