package system

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

var (
	funderKey = types.Pubkey{0x01}
	targetKey = types.Pubkey{0x02}
	ownerKey  = types.Pubkey{0x03}
)

func newTx(handles ...*invoke.AccountHandle) *invoke.TransactionContext {
	reg := invoke.NewRegistry()
	reg.Register(ProgramID, NewProcessor())
	return invoke.NewTransactionContext(handles, reg, svm.NewComputeMeter(0), svm.DefaultRent())
}

func wallet(key types.Pubkey, lamports uint64, signer bool) *invoke.AccountHandle {
	return &invoke.AccountHandle{
		Key:        key,
		Account:    &accounts.Account{Lamports: lamports},
		IsSigner:   signer,
		IsWritable: true,
	}
}

func TestCreateAccountInstructionLayout(t *testing.T) {
	ix := CreateAccount(funderKey, targetKey, ownerKey, 12345, 67890)

	assert.Equal(t, ProgramID, ix.ProgramID)
	assert.Equal(t, make([]byte, 4), ix.Data[0:4])
	assert.EqualValues(t, 12345, binary.LittleEndian.Uint64(ix.Data[4:12]))
	assert.EqualValues(t, 67890, binary.LittleEndian.Uint64(ix.Data[12:20]))
	assert.Equal(t, ownerKey[:], ix.Data[20:52])
	assert.Equal(t, []invoke.AccountMeta{
		invoke.NewAccountMeta(funderKey, true),
		invoke.NewAccountMeta(targetKey, true),
	}, ix.Accounts)
}

func TestCreateAccount(t *testing.T) {
	minimum := svm.DefaultRent().MinimumBalance(40)
	funder := wallet(funderKey, 10_000_000, true)
	target := wallet(targetKey, 0, true)
	tx := newTx(funder, target)

	require.NoError(t, tx.ExecuteInstruction(CreateAccount(funderKey, targetKey, ownerKey, minimum, 40)))
	assert.EqualValues(t, 10_000_000-minimum, funder.Account.Lamports)
	assert.Equal(t, minimum, target.Account.Lamports)
	assert.Equal(t, make([]byte, 40), target.Account.Data)
	assert.Equal(t, ownerKey, target.Account.Owner)
}

func TestCreateAccountErrors(t *testing.T) {
	minimum := svm.DefaultRent().MinimumBalance(40)

	t.Run("in use", func(t *testing.T) {
		tx := newTx(wallet(funderKey, 10_000_000, true), wallet(targetKey, 1, true))
		err := tx.ExecuteInstruction(CreateAccount(funderKey, targetKey, ownerKey, minimum, 40))
		assert.ErrorIs(t, err, ErrAccountAlreadyInUse)

		var custom invoke.CustomError
		require.True(t, errors.As(err, &custom))
		assert.EqualValues(t, 0, custom.CustomCode())
	})

	t.Run("target not signer", func(t *testing.T) {
		tx := newTx(wallet(funderKey, 10_000_000, true), wallet(targetKey, 0, false))
		ix := CreateAccount(funderKey, targetKey, ownerKey, minimum, 40)
		ix.Accounts[1].IsSigner = false
		assert.ErrorIs(t, tx.ExecuteInstruction(ix), ErrMissingRequiredSignature)
	})

	t.Run("underfunded", func(t *testing.T) {
		tx := newTx(wallet(funderKey, 5, true), wallet(targetKey, 0, true))
		err := tx.ExecuteInstruction(CreateAccount(funderKey, targetKey, ownerKey, minimum, 40))
		assert.ErrorIs(t, err, ErrResultWithNegativeLamports)
	})

	t.Run("below rent minimum", func(t *testing.T) {
		tx := newTx(wallet(funderKey, 10_000_000, true), wallet(targetKey, 0, true))
		err := tx.ExecuteInstruction(CreateAccount(funderKey, targetKey, ownerKey, minimum-1, 40))
		assert.ErrorIs(t, err, invoke.ErrInsufficientFundsForRent)
	})

	t.Run("too large", func(t *testing.T) {
		tx := newTx(wallet(funderKey, 10_000_000, true), wallet(targetKey, 0, true))
		err := tx.ExecuteInstruction(CreateAccount(funderKey, targetKey, ownerKey, minimum, accounts.MaxDataSize+1))
		assert.ErrorIs(t, err, ErrInvalidAccountDataLength)
	})
}

func TestTransfer(t *testing.T) {
	for _, tc := range []struct {
		name     string
		balance  uint64
		amount   uint64
		signer   bool
		want     error
		wantFrom uint64
		wantTo   uint64
	}{
		{name: "moves lamports", balance: 100, amount: 60, signer: true, wantFrom: 40, wantTo: 60},
		{name: "exact balance", balance: 100, amount: 100, signer: true, wantFrom: 0, wantTo: 100},
		{name: "zero amount", balance: 100, amount: 0, signer: true, wantFrom: 100, wantTo: 0},
		{name: "insufficient", balance: 100, amount: 101, signer: true, want: ErrResultWithNegativeLamports},
		{name: "unsigned", balance: 100, amount: 1, signer: false, want: ErrMissingRequiredSignature},
	} {
		t.Run(tc.name, func(t *testing.T) {
			from := wallet(funderKey, tc.balance, tc.signer)
			to := wallet(targetKey, 0, false)
			tx := newTx(from, to)

			ix := Transfer(funderKey, targetKey, tc.amount)
			ix.Accounts[0].IsSigner = tc.signer
			err := tx.ExecuteInstruction(ix)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantFrom, from.Account.Lamports)
			assert.Equal(t, tc.wantTo, to.Account.Lamports)
		})
	}
}

func TestTransferToSelf(t *testing.T) {
	self := wallet(funderKey, 50, true)
	tx := newTx(self)

	require.NoError(t, tx.ExecuteInstruction(Transfer(funderKey, funderKey, 20)))
	assert.EqualValues(t, 50, self.Account.Lamports)
}

func TestAllocateThenAssign(t *testing.T) {
	minimum := svm.DefaultRent().MinimumBalance(40)
	target := wallet(targetKey, minimum, true)
	tx := newTx(target)

	require.NoError(t, tx.ExecuteInstruction(Allocate(targetKey, 40)))
	require.NoError(t, tx.ExecuteInstruction(Assign(targetKey, ownerKey)))
	assert.Len(t, target.Account.Data, 40)
	assert.Equal(t, ownerKey, target.Account.Owner)

	// The account now belongs to another program.
	assert.ErrorIs(t, tx.ExecuteInstruction(Allocate(targetKey, 80)), ErrAccountAlreadyInUse)
	assert.ErrorIs(t, tx.ExecuteInstruction(Assign(targetKey, types.Pubkey{0x09})), invoke.ErrModifiedProgramID)

	// Assigning to the current owner is a no-op.
	assert.NoError(t, tx.ExecuteInstruction(Assign(targetKey, ownerKey)))
}

func TestInvalidInstructionData(t *testing.T) {
	tx := newTx(wallet(funderKey, 10, true), wallet(targetKey, 0, false))

	for _, data := range [][]byte{
		nil,
		{2, 0, 0},
		{2, 0, 0, 0, 1, 2, 3},
		{99, 0, 0, 0},
	} {
		ix := Transfer(funderKey, targetKey, 1)
		ix.Data = data
		assert.ErrorIs(t, tx.ExecuteInstruction(ix), ErrInvalidInstructionData)
	}
}
