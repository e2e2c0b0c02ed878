package invoke

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/pda"
)

var (
	callerID = types.Pubkey{0xa1}
	moverID  = types.Pubkey{0xb2}
	aliceKey = types.Pubkey{0x01}
	bobKey   = types.Pubkey{0x02}
)

var errNotSigner = errors.New("source did not sign")

// mover moves data[0] lamports from account 0 to account 1.
var mover = ProgramFunc(func(ctx *Context, data []byte) error {
	from, err := ctx.Account(0)
	if err != nil {
		return err
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return errNotSigner
	}
	from.Account.Lamports -= uint64(data[0])
	to.Account.Lamports += uint64(data[0])
	ctx.Log("moved %d", data[0])
	return nil
})

func programHandle(id types.Pubkey) *AccountHandle {
	return &AccountHandle{
		Key:     id,
		Account: &accounts.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true},
	}
}

func walletHandle(key, owner types.Pubkey, lamports uint64, signer, writable bool) *AccountHandle {
	return &AccountHandle{
		Key:        key,
		Account:    &accounts.Account{Lamports: lamports, Owner: owner},
		IsSigner:   signer,
		IsWritable: writable,
	}
}

func newTx(registry *Registry, handles ...*AccountHandle) *TransactionContext {
	return NewTransactionContext(handles, registry, svm.NewComputeMeter(0), svm.DefaultRent())
}

func TestExecuteInstructionMovesOwnedLamports(t *testing.T) {
	reg := NewRegistry()
	reg.Register(moverID, mover)

	alice := walletHandle(aliceKey, moverID, 100, true, true)
	bob := walletHandle(bobKey, moverID, 0, false, true)
	tx := newTx(reg, alice, bob, programHandle(moverID))

	err := tx.ExecuteInstruction(NewInstruction(moverID, []byte{40},
		NewAccountMeta(aliceKey, true),
		NewAccountMeta(bobKey, false),
	))
	require.NoError(t, err)
	assert.EqualValues(t, 60, alice.Account.Lamports)
	assert.EqualValues(t, 40, bob.Account.Lamports)
	assert.Equal(t, []string{
		"Program " + moverID.String() + " invoke [1]",
		"Program log: moved 40",
		"Program " + moverID.String() + " success",
	}, tx.Logs())
}

func TestVerifyRejectsIllegalChanges(t *testing.T) {
	other := types.Pubkey{0xee}

	for _, tc := range []struct {
		name    string
		handles []*AccountHandle
		metas   []AccountMeta
		program ProgramFunc
		want    error
	}{
		{
			name: "external lamport spend",
			handles: []*AccountHandle{
				walletHandle(aliceKey, other, 100, true, true),
				walletHandle(bobKey, other, 0, false, true),
			},
			metas:   []AccountMeta{NewAccountMeta(aliceKey, true), NewAccountMeta(bobKey, false)},
			program: mover,
			want:    ErrExternalAccountLamportSpend,
		},
		{
			name: "readonly credit",
			handles: []*AccountHandle{
				walletHandle(aliceKey, moverID, 100, true, true),
				walletHandle(bobKey, moverID, 0, false, false),
			},
			metas:   []AccountMeta{NewAccountMeta(aliceKey, true), NewReadonlyAccountMeta(bobKey, false)},
			program: mover,
			want:    ErrReadonlyLamportChange,
		},
		{
			name: "unbalanced",
			handles: []*AccountHandle{
				walletHandle(aliceKey, moverID, 100, true, true),
			},
			metas: []AccountMeta{NewAccountMeta(aliceKey, true)},
			program: func(ctx *Context, _ []byte) error {
				ctx.Accounts()[0].Account.Lamports++
				return nil
			},
			want: ErrUnbalancedInstruction,
		},
		{
			name: "external data",
			handles: []*AccountHandle{
				walletHandle(aliceKey, other, 100, true, true),
			},
			metas: []AccountMeta{NewAccountMeta(aliceKey, true)},
			program: func(ctx *Context, _ []byte) error {
				ctx.Accounts()[0].Account.Data = []byte{1}
				return nil
			},
			want: ErrExternalAccountDataModified,
		},
		{
			name: "not rent exempt",
			handles: []*AccountHandle{
				walletHandle(aliceKey, moverID, 100, true, true),
			},
			metas: []AccountMeta{NewAccountMeta(aliceKey, true)},
			program: func(ctx *Context, _ []byte) error {
				ctx.Accounts()[0].Account.Data = make([]byte, 8)
				return nil
			},
			want: ErrInsufficientFundsForRent,
		},
		{
			name: "reassign with data",
			handles: []*AccountHandle{
				walletHandle(aliceKey, moverID, 10_000_000, true, true),
			},
			metas: []AccountMeta{NewAccountMeta(aliceKey, true)},
			program: func(ctx *Context, _ []byte) error {
				a := ctx.Accounts()[0].Account
				a.Data = []byte{7}
				a.Owner = other
				return nil
			},
			want: ErrModifiedProgramID,
		},
		{
			name: "signer escalation",
			handles: []*AccountHandle{
				walletHandle(aliceKey, moverID, 100, false, true),
			},
			metas:   []AccountMeta{NewAccountMeta(aliceKey, true)},
			program: func(*Context, []byte) error { return nil },
			want:    ErrPrivilegeEscalation,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register(moverID, tc.program)
			tx := newTx(reg, append(tc.handles, programHandle(moverID))...)

			err := tx.ExecuteInstruction(NewInstruction(moverID, []byte{1}, tc.metas...))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExecuteInstructionUnknownProgram(t *testing.T) {
	tx := newTx(NewRegistry(), walletHandle(aliceKey, moverID, 1, true, true))
	err := tx.ExecuteInstruction(NewInstruction(moverID, nil))
	assert.ErrorIs(t, err, ErrUnsupportedProgramID)
}

func TestAccountOutOfRange(t *testing.T) {
	reg := NewRegistry()
	reg.Register(moverID, mover)
	tx := newTx(reg, walletHandle(aliceKey, moverID, 1, true, true))

	err := tx.ExecuteInstruction(NewInstruction(moverID, []byte{1}, NewAccountMeta(aliceKey, true)))
	assert.ErrorIs(t, err, ErrNotEnoughAccountKeys)
}

func TestInvokeSignedWithProgramAuthority(t *testing.T) {
	escrow, bump, err := pda.FindProgramAddress([][]byte{[]byte("escrow")}, callerID)
	require.NoError(t, err)
	_, otherBump, err := pda.FindProgramAddress([][]byte{[]byte("other")}, callerID)
	require.NoError(t, err)

	cpi := NewInstruction(moverID, []byte{25},
		NewAccountMeta(escrow, true),
		NewAccountMeta(bobKey, false),
	)

	for _, tc := range []struct {
		name      string
		authority func() *ProgramAuthority
		want      error
	}{
		{
			name:      "derived seeds sign",
			authority: func() *ProgramAuthority { return NewProgramAuthority(callerID, []byte("escrow"), []byte{bump}) },
		},
		{
			name:      "no authority",
			authority: func() *ProgramAuthority { return nil },
			want:      ErrPrivilegeEscalation,
		},
		{
			name:      "wrong seeds",
			authority: func() *ProgramAuthority { return NewProgramAuthority(callerID, []byte("other"), []byte{otherBump}) },
			want:      ErrPrivilegeEscalation,
		},
		{
			name:      "another program's authority",
			authority: func() *ProgramAuthority { return NewProgramAuthority(moverID, []byte("escrow"), []byte{bump}) },
			want:      ErrAuthorityProgramMismatch,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register(moverID, mover)
			reg.Register(callerID, ProgramFunc(func(ctx *Context, _ []byte) error {
				return ctx.InvokeSigned(cpi, tc.authority())
			}))

			escrowHandle := walletHandle(escrow, moverID, 100, false, true)
			bob := walletHandle(bobKey, moverID, 0, false, true)
			tx := newTx(reg, escrowHandle, bob, programHandle(callerID), programHandle(moverID))

			err := tx.ExecuteInstruction(NewInstruction(callerID, nil,
				NewAccountMeta(escrow, false),
				NewAccountMeta(bobKey, false),
				NewReadonlyAccountMeta(moverID, false),
			))
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, 75, escrowHandle.Account.Lamports)
			assert.EqualValues(t, 25, bob.Account.Lamports)
		})
	}
}

func TestProgramAuthorityConsumedOnce(t *testing.T) {
	escrow, bump, err := pda.FindProgramAddress([][]byte{[]byte("escrow")}, callerID)
	require.NoError(t, err)

	cpi := NewInstruction(moverID, []byte{1},
		NewAccountMeta(escrow, true),
		NewAccountMeta(bobKey, false),
	)

	var second error
	reg := NewRegistry()
	reg.Register(moverID, mover)
	reg.Register(callerID, ProgramFunc(func(ctx *Context, _ []byte) error {
		authority := NewProgramAuthority(callerID, []byte("escrow"), []byte{bump})
		if err := ctx.InvokeSigned(cpi, authority); err != nil {
			return err
		}
		assert.True(t, authority.Consumed())
		second = ctx.InvokeSigned(cpi, authority)
		return nil
	}))

	tx := newTx(reg,
		walletHandle(escrow, moverID, 10, false, true),
		walletHandle(bobKey, moverID, 0, false, true),
		programHandle(callerID),
		programHandle(moverID),
	)
	err = tx.ExecuteInstruction(NewInstruction(callerID, nil,
		NewAccountMeta(escrow, false),
		NewAccountMeta(bobKey, false),
		NewReadonlyAccountMeta(moverID, false),
	))
	require.NoError(t, err)
	assert.ErrorIs(t, second, ErrAuthorityConsumed)
}

func TestInvokeRequiresCallerAccounts(t *testing.T) {
	reg := NewRegistry()
	reg.Register(moverID, mover)
	reg.Register(callerID, ProgramFunc(func(ctx *Context, _ []byte) error {
		return ctx.Invoke(NewInstruction(moverID, []byte{1},
			NewAccountMeta(aliceKey, true),
			NewAccountMeta(bobKey, false),
		))
	}))

	tx := newTx(reg,
		walletHandle(aliceKey, moverID, 10, true, true),
		walletHandle(bobKey, moverID, 0, false, true),
		programHandle(callerID),
		programHandle(moverID),
	)

	// bob is not passed to the caller.
	err := tx.ExecuteInstruction(NewInstruction(callerID, nil,
		NewAccountMeta(aliceKey, true),
		NewReadonlyAccountMeta(moverID, false),
	))
	assert.ErrorIs(t, err, ErrMissingAccount)

	// The callee program must be passed too.
	err = tx.ExecuteInstruction(NewInstruction(callerID, nil,
		NewAccountMeta(aliceKey, true),
		NewAccountMeta(bobKey, false),
	))
	assert.ErrorIs(t, err, ErrMissingAccount)
}

func TestInvokeDepthLimit(t *testing.T) {
	deepest := 0
	reg := NewRegistry()
	reg.Register(callerID, ProgramFunc(func(ctx *Context, _ []byte) error {
		if ctx.Depth() > deepest {
			deepest = ctx.Depth()
		}
		return ctx.Invoke(NewInstruction(callerID, nil, NewReadonlyAccountMeta(callerID, false)))
	}))

	tx := newTx(reg, programHandle(callerID))
	err := tx.ExecuteInstruction(NewInstruction(callerID, nil, NewReadonlyAccountMeta(callerID, false)))
	assert.ErrorIs(t, err, ErrCallDepth)
	assert.Equal(t, svm.CPIDepthMax+1, deepest)
}

func TestInvokeReentrancy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(callerID, ProgramFunc(func(ctx *Context, data []byte) error {
		if len(data) > 0 {
			return nil
		}
		return ctx.Invoke(NewInstruction(moverID, nil,
			NewReadonlyAccountMeta(callerID, false),
			NewReadonlyAccountMeta(moverID, false),
		))
	}))
	reg.Register(moverID, ProgramFunc(func(ctx *Context, _ []byte) error {
		return ctx.Invoke(NewInstruction(callerID, []byte{1}, NewReadonlyAccountMeta(callerID, false)))
	}))

	tx := newTx(reg, programHandle(callerID), programHandle(moverID))
	err := tx.ExecuteInstruction(NewInstruction(callerID, nil,
		NewReadonlyAccountMeta(callerID, false),
		NewReadonlyAccountMeta(moverID, false),
	))
	assert.ErrorIs(t, err, ErrReentrancyNotAllowed)
}

func TestCallerChangesVerifiedBeforeInvoke(t *testing.T) {
	reg := NewRegistry()
	reg.Register(moverID, ProgramFunc(func(*Context, []byte) error { return nil }))
	reg.Register(callerID, ProgramFunc(func(ctx *Context, _ []byte) error {
		// Minting lamports is caught at the invocation boundary.
		ctx.Accounts()[0].Account.Lamports += 5
		return ctx.Invoke(NewInstruction(moverID, nil, NewReadonlyAccountMeta(moverID, false)))
	}))

	tx := newTx(reg,
		walletHandle(aliceKey, callerID, 10, true, true),
		programHandle(callerID),
		programHandle(moverID),
	)
	err := tx.ExecuteInstruction(NewInstruction(callerID, nil,
		NewAccountMeta(aliceKey, true),
		NewReadonlyAccountMeta(moverID, false),
	))
	assert.ErrorIs(t, err, ErrUnbalancedInstruction)
}

func TestComputeBudgetExhausted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(moverID, ProgramFunc(func(ctx *Context, _ []byte) error {
		return ctx.Consume(svm.CUMax + 1)
	}))

	tx := NewTransactionContext([]*AccountHandle{programHandle(moverID)}, reg, svm.NewComputeMeter(1000), svm.DefaultRent())
	err := tx.ExecuteInstruction(NewInstruction(moverID, nil))
	assert.ErrorIs(t, err, ErrComputationalBudgetExceeded)
	assert.Zero(t, tx.Meter().Remaining())
}

func TestProgramAuthorityNotSerializable(t *testing.T) {
	authority := NewProgramAuthority(callerID, []byte("vault"), []byte{255})

	_, err := json.Marshal(authority)
	assert.Error(t, err)
	_, err = json.Marshal(struct{ A *ProgramAuthority }{authority})
	assert.Error(t, err)
	assert.NotContains(t, authority.String(), "vault")
}

func TestInstructionEqual(t *testing.T) {
	a := NewInstruction(moverID, []byte{1}, NewAccountMeta(aliceKey, true))
	b := NewInstruction(moverID, []byte{1}, NewAccountMeta(aliceKey, true))
	assert.True(t, a.Equal(b))

	b.Accounts[0].IsWritable = false
	assert.False(t, a.Equal(b))
}
