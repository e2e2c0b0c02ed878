package invoke

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/pda"
)

// maxLogMessages caps the log lines kept for one transaction.
const maxLogMessages = 100

// TransactionContext holds the accounts and budget of one transaction.
// It is used from a single goroutine.
type TransactionContext struct {
	handles  []*AccountHandle
	registry *Registry
	meter    *svm.ComputeMeter
	rent     svm.Rent

	// stack holds the program IDs of the instructions currently executing.
	stack []types.Pubkey

	logs      []string
	truncated bool
	log       *logrus.Entry
}

// NewTransactionContext creates a context over the transaction's accounts.
// handles must hold unique keys and non-nil accounts; their flags are the
// privileges granted by the transaction message.
func NewTransactionContext(handles []*AccountHandle, registry *Registry, meter *svm.ComputeMeter, rent svm.Rent) *TransactionContext {
	return &TransactionContext{
		handles:  handles,
		registry: registry,
		meter:    meter,
		rent:     rent,
	}
}

// SetLogger mirrors program logs to log at debug level.
func (tc *TransactionContext) SetLogger(log *logrus.Entry) {
	tc.log = log
}

// Accounts returns the transaction level handles.
func (tc *TransactionContext) Accounts() []*AccountHandle {
	return tc.handles
}

// Logs returns the collected log lines.
func (tc *TransactionContext) Logs() []string {
	return tc.logs
}

// Meter returns the compute meter.
func (tc *TransactionContext) Meter() *svm.ComputeMeter {
	return tc.meter
}

// ExecuteInstruction runs one top level instruction. The instruction's
// privileges may not exceed those granted by the transaction.
func (tc *TransactionContext) ExecuteInstruction(ix Instruction) error {
	return tc.execute(ix, tc.handles, nil, 1)
}

func (tc *TransactionContext) appendLog(msg string) {
	if tc.log != nil {
		tc.log.Debug(msg)
	}
	if len(tc.logs) >= maxLogMessages {
		if !tc.truncated {
			tc.logs = append(tc.logs, "Log truncated")
			tc.truncated = true
		}
		return
	}
	tc.logs = append(tc.logs, msg)
}

// execute runs ix with accounts borrowed from caller. signers holds the
// derived addresses a ProgramAuthority signed for.
func (tc *TransactionContext) execute(ix Instruction, caller []*AccountHandle, signers map[types.Pubkey]bool, depth int) error {
	program, ok := tc.registry.Lookup(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProgramID, ix.ProgramID)
	}
	// A program may call itself directly but not through another one.
	if n := len(tc.stack); n > 0 && tc.stack[n-1] != ix.ProgramID {
		for _, id := range tc.stack {
			if id == ix.ProgramID {
				return ErrReentrancyNotAllowed
			}
		}
	}

	handles := make([]*AccountHandle, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		account, isSigner, isWritable, found := lookup(caller, meta.Pubkey)
		if !found {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsWritable && !isWritable {
			return fmt.Errorf("%w: %s writable", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner && !isSigner && !signers[meta.Pubkey] {
			return fmt.Errorf("%w: %s signer", ErrPrivilegeEscalation, meta.Pubkey)
		}
		handles[i] = &AccountHandle{
			Key:        meta.Pubkey,
			Account:    account,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
	}

	ctx := newContext(tc, ix.ProgramID, handles, depth)

	tc.appendLog(fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, depth))
	tc.stack = append(tc.stack, ix.ProgramID)
	err := program.Process(ctx, ix.Data)
	tc.stack = tc.stack[:len(tc.stack)-1]
	if err == nil {
		err = ctx.verify()
	}
	if err != nil {
		tc.appendLog(fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	tc.appendLog(fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}

// lookup finds key among handles. Privileges are merged across duplicate
// handles for the same key.
func lookup(handles []*AccountHandle, key types.Pubkey) (account *accounts.Account, isSigner, isWritable, found bool) {
	for _, h := range handles {
		if h.Key != key {
			continue
		}
		account = h.Account
		isSigner = isSigner || h.IsSigner
		isWritable = isWritable || h.IsWritable
		found = true
	}
	return account, isSigner, isWritable, found
}

// Context is the view one executing instruction has of the transaction.
type Context struct {
	tx        *TransactionContext
	programID types.Pubkey
	accounts  []*AccountHandle
	depth     int

	// keys lists the distinct accounts of the instruction in order.
	keys     []types.Pubkey
	live     map[types.Pubkey]*accounts.Account
	writable map[types.Pubkey]bool
	pre      map[types.Pubkey]*accounts.Account
}

func newContext(tc *TransactionContext, programID types.Pubkey, handles []*AccountHandle, depth int) *Context {
	c := &Context{
		tx:        tc,
		programID: programID,
		accounts:  handles,
		depth:     depth,
		live:      make(map[types.Pubkey]*accounts.Account, len(handles)),
		writable:  make(map[types.Pubkey]bool, len(handles)),
	}
	for _, h := range handles {
		if _, seen := c.live[h.Key]; !seen {
			c.keys = append(c.keys, h.Key)
			c.live[h.Key] = h.Account
		}
		if h.IsWritable {
			c.writable[h.Key] = true
		}
	}
	c.snapshot()
	return c
}

// snapshot records the current state as the baseline for verify.
func (c *Context) snapshot() {
	c.pre = make(map[types.Pubkey]*accounts.Account, len(c.keys))
	for _, k := range c.keys {
		c.pre[k] = c.live[k].Clone()
	}
}

// ProgramID returns the ID of the executing program.
func (c *Context) ProgramID() types.Pubkey {
	return c.programID
}

// Depth returns the invocation stack height, 1 for a top level instruction.
func (c *Context) Depth() int {
	return c.depth
}

// NumAccounts returns the number of accounts passed to the instruction.
func (c *Context) NumAccounts() int {
	return len(c.accounts)
}

// Account returns the i-th account passed to the instruction.
func (c *Context) Account(i int) (*AccountHandle, error) {
	if i < 0 || i >= len(c.accounts) {
		return nil, ErrNotEnoughAccountKeys
	}
	return c.accounts[i], nil
}

// Accounts returns every account passed to the instruction, in order.
func (c *Context) Accounts() []*AccountHandle {
	return c.accounts
}

// Rent returns the rent parameters in effect.
func (c *Context) Rent() svm.Rent {
	return c.tx.rent
}

// Consume charges compute units to the transaction.
func (c *Context) Consume(cost uint64) error {
	if err := c.tx.meter.Consume(cost); err != nil {
		return ErrComputationalBudgetExceeded
	}
	return nil
}

// Log appends a program log line.
func (c *Context) Log(format string, args ...interface{}) {
	if err := c.tx.meter.Consume(svm.CULog); err != nil {
		return
	}
	c.tx.appendLog("Program log: " + fmt.Sprintf(format, args...))
}

// CreateProgramAddress derives an address of the executing program.
func (c *Context) CreateProgramAddress(seeds ...[]byte) (types.Pubkey, error) {
	if err := c.Consume(svm.CUCreateProgramAddress); err != nil {
		return types.Pubkey{}, err
	}
	return pda.CreateProgramAddress(seeds, c.programID)
}

// FindProgramAddress searches the bump for an address of the executing
// program. Every bump tried is charged.
func (c *Context) FindProgramAddress(seeds ...[]byte) (types.Pubkey, uint8, error) {
	addr, bump, err := pda.FindProgramAddress(seeds, c.programID)
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	tries := uint64(256 - int(bump))
	if err := c.Consume(tries * svm.CUFindProgramAddress); err != nil {
		return types.Pubkey{}, 0, err
	}
	return addr, bump, nil
}

// Invoke calls another program with a subset of this instruction's
// accounts. Privileges carry over from this instruction and cannot grow.
func (c *Context) Invoke(ix Instruction) error {
	return c.InvokeSigned(ix)
}

// InvokeSigned is Invoke where each authority additionally signs for the
// address it derives. An authority is consumed by the call whether or not
// the callee succeeds.
func (c *Context) InvokeSigned(ix Instruction, authorities ...*ProgramAuthority) error {
	if c.depth > svm.CPIDepthMax {
		return ErrCallDepth
	}
	if err := c.Consume(svm.CUInvokeBase); err != nil {
		return err
	}
	if _, _, _, found := lookup(c.accounts, ix.ProgramID); !found {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, ix.ProgramID)
	}

	var signers map[types.Pubkey]bool
	for _, a := range authorities {
		if a == nil {
			continue
		}
		if a.consumed {
			return ErrAuthorityConsumed
		}
		if a.programID != c.programID {
			return ErrAuthorityProgramMismatch
		}
		addr, err := c.CreateProgramAddress(a.seeds...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		a.consumed = true
		if signers == nil {
			signers = make(map[types.Pubkey]bool, len(authorities))
		}
		signers[addr] = true
	}

	// Changes made so far must be legal before the callee sees them.
	if err := c.verify(); err != nil {
		return err
	}
	err := c.tx.execute(ix, c.accounts, signers, c.depth+1)
	c.snapshot()
	return err
}
