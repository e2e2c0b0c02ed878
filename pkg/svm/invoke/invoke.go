// Package invoke runs native programs against a transaction's accounts.
//
// A TransactionContext owns the live account state of one transaction.
// Every instruction, top level or nested through Invoke, gets a Context: an
// ordered list of AccountHandles carrying that instruction's signer and
// writable privileges. After each program returns, the runtime compares the
// accounts against a snapshot taken before the call and rejects changes the
// program was not entitled to make.
package invoke

import (
	"bytes"
	"sync"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta returns a writable account meta.
func NewAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a readonly account meta.
func NewReadonlyAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner}
}

// Instruction is a program call before it is compiled into a message.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// NewInstruction creates a new instruction.
func NewInstruction(programID types.Pubkey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		ProgramID: programID,
		Accounts:  accounts,
		Data:      data,
	}
}

// Equal reports whether two instructions are identical.
func (ix Instruction) Equal(other Instruction) bool {
	if ix.ProgramID != other.ProgramID || !bytes.Equal(ix.Data, other.Data) {
		return false
	}
	if len(ix.Accounts) != len(other.Accounts) {
		return false
	}
	for i := range ix.Accounts {
		if ix.Accounts[i] != other.Accounts[i] {
			return false
		}
	}
	return true
}

// AccountHandle is one account as seen by an executing instruction.
// Handles that name the same key share one Account, so a change through
// one is visible through the others.
type AccountHandle struct {
	Key        types.Pubkey
	Account    *accounts.Account
	IsSigner   bool
	IsWritable bool
}

// Program is a native program.
type Program interface {
	// Process executes one instruction. Returning an error aborts the
	// whole transaction.
	Process(ctx *Context, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx *Context, data []byte) error

// Process calls f(ctx, data).
func (f ProgramFunc) Process(ctx *Context, data []byte) error {
	return f(ctx, data)
}

// Registry maps program IDs to native programs.
type Registry struct {
	mu       sync.RWMutex
	programs map[types.Pubkey]Program
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		programs: make(map[types.Pubkey]Program),
	}
}

// Register installs p under id, replacing any previous program.
func (r *Registry) Register(id types.Pubkey, p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = p
}

// Lookup returns the program registered under id.
func (r *Registry) Lookup(id types.Pubkey) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// IDs returns every registered program ID.
func (r *Registry) IDs() []types.Pubkey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.Pubkey, 0, len(r.programs))
	for id := range r.programs {
		ids = append(ids, id)
	}
	return ids
}
