package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

var vaultProgramID = types.DefaultVaultProgramAddr

type fixture struct {
	db       *accounts.MemoryDB
	executor *Executor
	payer    *types.Keypair
}

func newFixture(t *testing.T) *fixture {
	reg := NewProgramRegistry(vaultProgramID)
	db := accounts.NewMemoryDB()
	require.NoError(t, db.Apply(0, ProgramAccounts(reg)))

	payer, err := types.NewKeypair()
	require.NoError(t, err)
	require.NoError(t, db.Apply(0, []accounts.Update{
		{Pubkey: payer.Pubkey(), Account: &accounts.Account{Lamports: 1_000_000_000}},
	}))

	return &fixture{
		db:       db,
		executor: NewExecutor(db, reg, DefaultConfig()),
		payer:    payer,
	}
}

func (f *fixture) signed(t *testing.T, ixs ...invoke.Instruction) *Transaction {
	tx := NewTransaction(f.payer.Pubkey(), ixs...)
	tx.SetBlockhash(types.Hash{0x01})
	require.NoError(t, tx.Sign(f.payer))
	return &tx
}

func (f *fixture) execute(t *testing.T, tx *Transaction) *Result {
	res, err := f.executor.Execute(context.Background(), tx)
	require.NoError(t, err)
	if !res.Failed() {
		require.NoError(t, f.db.Apply(1, res.Updates))
	}
	return res
}

func (f *fixture) lamports(t *testing.T, key types.Pubkey) uint64 {
	acct, err := f.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acct.Lamports
}

func TestNewMessageOrdering(t *testing.T) {
	payer := types.Pubkey{0x50}
	signer := types.Pubkey{0x40}
	readonlySigner := types.Pubkey{0x41}
	writable := types.Pubkey{0x30}
	readonly := types.Pubkey{0x20}
	program := types.Pubkey{0x10}

	ix := invoke.NewInstruction(program, []byte{1},
		invoke.NewReadonlyAccountMeta(readonly, false),
		invoke.NewAccountMeta(writable, false),
		invoke.NewReadonlyAccountMeta(readonlySigner, true),
		invoke.NewAccountMeta(signer, true),
		invoke.NewReadonlyAccountMeta(payer, false),
	)
	m := NewMessage(payer, ix)

	assert.Equal(t, []types.Pubkey{payer, signer, readonlySigner, writable, readonly, program}, m.AccountKeys)
	assert.Equal(t, MessageHeader{
		NumRequiredSignatures:       3,
		NumReadonlySignedAccounts:   1,
		NumReadonlyUnsignedAccounts: 2,
	}, m.Header)
	require.Len(t, m.Instructions, 1)
	assert.EqualValues(t, 5, m.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{4, 3, 2, 1, 0}, m.Instructions[0].AccountIndexes)

	for i, want := range []struct{ signer, writable bool }{
		{true, true},
		{true, true},
		{true, false},
		{false, true},
		{false, false},
		{false, false},
	} {
		assert.Equal(t, want.signer, m.IsSigner(i), "signer %d", i)
		assert.Equal(t, want.writable, m.IsWritable(i), "writable %d", i)
	}

	// The compiled instruction expands back to the original metas, with
	// the payer promoted to a writable signer.
	expanded := m.instruction(m.Instructions[0])
	assert.Equal(t, program, expanded.ProgramID)
	assert.Equal(t, invoke.NewAccountMeta(payer, true), expanded.Accounts[4])
	assert.Equal(t, ix.Accounts[:4], expanded.Accounts[:4])
}

func TestTransactionWireRoundTrip(t *testing.T) {
	f := newFixture(t)
	accts, err := vault.DeriveInstructionAccounts(vaultProgramID, f.payer.Pubkey())
	require.NoError(t, err)

	tx := f.signed(t, vault.NewDepositInstruction(vaultProgramID, accts, 42))
	b := tx.Marshal()
	assert.LessOrEqual(t, len(b), MaxTransactionSize)

	var decoded Transaction
	require.NoError(t, decoded.Unmarshal(b))
	assert.Equal(t, *tx, decoded)
	assert.Equal(t, tx.ID(), decoded.ID())
	assert.NoError(t, decoded.VerifySignatures())

	assert.Error(t, decoded.Unmarshal(append(b, 0)))
	assert.Error(t, decoded.Unmarshal(b[:len(b)-1]))
	assert.Error(t, decoded.Unmarshal(make([]byte, MaxTransactionSize+1)))
}

func TestSignRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	stranger, err := types.NewKeypair()
	require.NoError(t, err)

	tx := NewTransaction(f.payer.Pubkey(), system.Transfer(f.payer.Pubkey(), types.Pubkey{9}, 1))
	assert.Error(t, tx.Sign(stranger))
}

func TestExecuteTransfer(t *testing.T) {
	f := newFixture(t)
	to := types.Pubkey{0x77}

	res := f.execute(t, f.signed(t, system.Transfer(f.payer.Pubkey(), to, 5000)))
	require.Nil(t, res.Err)
	assert.EqualValues(t, 5000, f.lamports(t, to))
	assert.EqualValues(t, 1_000_000_000-5000, f.lamports(t, f.payer.Pubkey()))
	assert.Len(t, res.Updates, 2)
	assert.Equal(t, []types.Pubkey{f.payer.Pubkey(), to, system.ProgramID}, res.Keys)
	assert.Equal(t, []uint64{1_000_000_000, 0, 1}, res.PreBalances)
	assert.Equal(t, []uint64{1_000_000_000 - 5000, 5000, 1}, res.PostBalances)
	assert.NotZero(t, res.ComputeUnitsConsumed)
	assert.Contains(t, res.Logs, "Program 11111111111111111111111111111111 success")
}

func TestExecuteVaultFlow(t *testing.T) {
	f := newFixture(t)
	user := f.payer.Pubkey()
	accts, err := vault.DeriveInstructionAccounts(vaultProgramID, user)
	require.NoError(t, err)

	res := f.execute(t, f.signed(t,
		vault.NewInitializeInstruction(vaultProgramID, accts),
		vault.NewDepositInstruction(vaultProgramID, accts, 1_000_000),
	))
	require.Nil(t, res.Err)
	assert.EqualValues(t, 1_000_000, f.lamports(t, accts.Vault))

	res = f.execute(t, f.signed(t, vault.NewWithdrawInstruction(vaultProgramID, accts, 1_500_000)))
	require.NotNil(t, res.Err)
	assert.Empty(t, res.Updates)
	assert.EqualValues(t, 1_000_000, f.lamports(t, accts.Vault))
	assert.ErrorIs(t, res.Err, vault.ErrInsufficientFunds)

	code, ok := res.Err.Instruction.CustomError()
	require.True(t, ok)
	assert.EqualValues(t, vault.ErrInsufficientFunds, code)

	b, err := json.Marshal(res.Err)
	require.NoError(t, err)
	assert.JSONEq(t, `{"InstructionError":[0,{"Custom":4}]}`, string(b))

	res = f.execute(t, f.signed(t, vault.NewWithdrawInstruction(vaultProgramID, accts, 400_000)))
	require.Nil(t, res.Err)
	assert.EqualValues(t, 600_000, f.lamports(t, accts.Vault))

	record, err := f.db.GetAccount(accts.Record)
	require.NoError(t, err)
	var balance vault.BalanceRecord
	require.NoError(t, balance.Unmarshal(record.Data))
	assert.EqualValues(t, 600_000, balance.Balance)
}

func TestExecuteIsAtomic(t *testing.T) {
	f := newFixture(t)
	to := types.Pubkey{0x77}

	// The second instruction fails, so the first one must not land.
	res := f.execute(t, f.signed(t,
		system.Transfer(f.payer.Pubkey(), to, 5000),
		system.Transfer(f.payer.Pubkey(), to, 10_000_000_000),
	))
	require.NotNil(t, res.Err)
	assert.Equal(t, 1, res.Err.Instruction.Index)
	assert.ErrorIs(t, res.Err, system.ErrResultWithNegativeLamports)
	assert.Equal(t, res.PreBalances, res.PostBalances)
	assert.Zero(t, f.lamports(t, to))
}

func TestExecuteRejectsBadTransactions(t *testing.T) {
	f := newFixture(t)
	to := types.Pubkey{0x77}

	t.Run("unsigned", func(t *testing.T) {
		tx := NewTransaction(f.payer.Pubkey(), system.Transfer(f.payer.Pubkey(), to, 1))
		res := f.execute(t, &tx)
		assert.ErrorIs(t, res.Err, ErrSignatureFailure)
	})

	t.Run("tampered", func(t *testing.T) {
		tx := f.signed(t, system.Transfer(f.payer.Pubkey(), to, 1))
		tx.Message.Instructions[0].Data[4] = 2
		res := f.execute(t, tx)
		assert.ErrorIs(t, res.Err, ErrSignatureFailure)
	})

	t.Run("duplicate key", func(t *testing.T) {
		tx := f.signed(t, system.Transfer(f.payer.Pubkey(), to, 1))
		tx.Message.AccountKeys[1] = tx.Message.AccountKeys[0]
		res := f.execute(t, tx)
		assert.ErrorIs(t, res.Err, ErrAccountLoadedTwice)
	})

	t.Run("unknown program", func(t *testing.T) {
		res := f.execute(t, f.signed(t, invoke.NewInstruction(types.Pubkey{0xee}, nil)))
		assert.ErrorIs(t, res.Err, ErrProgramNotFound)
	})

	t.Run("program not executable", func(t *testing.T) {
		other := NewProgramRegistry(types.Pubkey{0xef})
		executor := NewExecutor(f.db, other, DefaultConfig())
		tx := f.signed(t, invoke.NewInstruction(types.Pubkey{0xef}, []byte{0}))
		res, err := executor.Execute(context.Background(), tx)
		require.NoError(t, err)
		assert.ErrorIs(t, res.Err, ErrInvalidProgram)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := f.executor.Execute(ctx, f.signed(t, system.Transfer(f.payer.Pubkey(), to, 1)))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, res)
	})

	assert.Zero(t, f.lamports(t, to))
}

func TestComputeLimit(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.ComputeLimit = svm.CUSystemProgram - 1
	executor := NewExecutor(f.db, NewProgramRegistry(vaultProgramID), cfg)

	res, err := executor.Execute(context.Background(), f.signed(t, system.Transfer(f.payer.Pubkey(), types.Pubkey{1}, 1)))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, invoke.ErrComputationalBudgetExceeded)
}

func TestTransactionErrorJSON(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  *TransactionError
		json string
	}{
		{name: "plain", err: ErrBlockhashNotFound, json: `"BlockhashNotFound"`},
		{name: "custom", err: NewInstructionError(1, vault.ErrAddressMismatch), json: `{"InstructionError":[1,{"Custom":2}]}`},
		{name: "named", err: NewInstructionError(0, system.ErrMissingRequiredSignature), json: `{"InstructionError":[0,"MissingRequiredSignature"]}`},
		{name: "unnamed", err: NewInstructionError(0, errors.New("x")), json: `{"InstructionError":[0,"GenericError"]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.err)
			require.NoError(t, err)
			assert.JSONEq(t, tc.json, string(b))

			var decoded TransactionError
			require.NoError(t, json.Unmarshal(b, &decoded))
			assert.Equal(t, tc.err.Key, decoded.Key)
			b2, err := json.Marshal(&decoded)
			require.NoError(t, err)
			assert.JSONEq(t, tc.json, string(b2))
		})
	}

	var decoded TransactionError
	require.NoError(t, json.Unmarshal([]byte(`{"InstructionError":[0,{"Custom":4}]}`), &decoded))
	code, ok := decoded.Instruction.CustomError()
	require.True(t, ok)
	got, ok := vault.ErrorFromCode(uint32(code))
	require.True(t, ok)
	assert.Equal(t, vault.ErrInsufficientFunds, got)

	require.NoError(t, json.Unmarshal([]byte(`{"InstructionError":[2,"MissingRequiredSignature"]}`), &decoded))
	assert.ErrorIs(t, &decoded, system.ErrMissingRequiredSignature)

	assert.Error(t, json.Unmarshal([]byte(`{"InstructionError":[1]}`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1,"b":2}`), &decoded))
}
