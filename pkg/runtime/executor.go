package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// Config controls transaction execution.
type Config struct {
	// ComputeLimit caps the compute units one transaction may use.
	ComputeLimit uint64

	// Rent sets the rent exemption schedule.
	Rent svm.Rent
}

// DefaultConfig returns the default execution settings.
func DefaultConfig() Config {
	return Config{
		ComputeLimit: svm.CUMax,
		Rent:         svm.DefaultRent(),
	}
}

// Executor executes transactions against an accounts database. It only
// reads from the database; committing a Result is the caller's job.
type Executor struct {
	accounts accounts.DB
	registry *invoke.Registry
	cfg      Config
	log      *logrus.Entry
}

// NewExecutor creates an executor running programs from registry.
func NewExecutor(db accounts.DB, registry *invoke.Registry, cfg Config) *Executor {
	return &Executor{
		accounts: db,
		registry: registry,
		cfg:      cfg,
		log:      logrus.StandardLogger().WithField("type", "runtime/executor"),
	}
}

// Result is the outcome of one transaction.
type Result struct {
	Signature types.Signature

	// Err is nil when every instruction succeeded.
	Err *TransactionError

	Logs                 []string
	ComputeUnitsConsumed uint64

	// Keys lists the message accounts; the balance slices follow its order.
	Keys         []types.Pubkey
	PreBalances  []uint64
	PostBalances []uint64

	// Updates holds the changed writable accounts of a successful
	// transaction. It is empty when Err is set.
	Updates []accounts.Update
}

// Failed reports whether the transaction failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// Execute runs tx and returns its result. Transaction failures are
// reported in Result.Err; the returned error is reserved for storage
// failures and cancellation, in which case there is no result.
func (e *Executor) Execute(ctx context.Context, tx *Transaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Signature: tx.ID(),
		Keys:      tx.Message.AccountKeys,
	}
	msg := &tx.Message

	if err := msg.Sanitize(); err != nil {
		result.Err = asTransactionError(err)
		return result, nil
	}
	if err := tx.VerifySignatures(); err != nil {
		result.Err = asTransactionError(err)
		return result, nil
	}

	handles, pre, err := e.loadAccounts(msg)
	if err != nil {
		return nil, err
	}
	result.PreBalances = balances(pre)

	if err := e.checkPrograms(msg, handles); err != nil {
		result.Err = err
		result.PostBalances = result.PreBalances
		return result, nil
	}

	tc := invoke.NewTransactionContext(handles, e.registry, svm.NewComputeMeter(e.cfg.ComputeLimit), e.cfg.Rent)
	tc.SetLogger(e.log.WithField("signature", result.Signature.String()))

	for i, cix := range msg.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tc.ExecuteInstruction(msg.instruction(cix)); err != nil {
			result.Err = NewInstructionError(i, err)
			break
		}
	}

	result.Logs = tc.Logs()
	result.ComputeUnitsConsumed = tc.Meter().Consumed()

	if result.Err != nil {
		result.PostBalances = result.PreBalances
		e.log.WithFields(logrus.Fields{
			"signature": result.Signature.String(),
			"error":     result.Err.Error(),
		}).Debug("transaction failed")
		return result, nil
	}

	result.PostBalances = make([]uint64, len(handles))
	for i, h := range handles {
		result.PostBalances[i] = h.Account.Lamports
		if !msg.IsWritable(i) || h.Account.Equal(pre[i]) {
			continue
		}
		result.Updates = append(result.Updates, accounts.Update{
			Pubkey:  h.Key,
			Account: h.Account.Clone(),
		})
	}
	return result, nil
}

// loadAccounts reads every message account. Unknown addresses load as
// empty system owned accounts. It returns the live handles and an
// untouched copy of each account.
func (e *Executor) loadAccounts(msg *Message) ([]*invoke.AccountHandle, []*accounts.Account, error) {
	handles := make([]*invoke.AccountHandle, len(msg.AccountKeys))
	pre := make([]*accounts.Account, len(msg.AccountKeys))

	for i, key := range msg.AccountKeys {
		account, err := e.accounts.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			account = &accounts.Account{}
		} else if err != nil {
			return nil, nil, fmt.Errorf("failed to load account %s: %w", key, err)
		}

		pre[i] = account.Clone()
		handles[i] = &invoke.AccountHandle{
			Key:        key,
			Account:    account,
			IsSigner:   msg.IsSigner(i),
			IsWritable: msg.IsWritable(i),
		}
	}
	return handles, pre, nil
}

// checkPrograms requires every invoked program to be a registered,
// executable account.
func (e *Executor) checkPrograms(msg *Message, handles []*invoke.AccountHandle) *TransactionError {
	for _, ix := range msg.Instructions {
		h := handles[ix.ProgramIDIndex]
		if _, ok := e.registry.Lookup(h.Key); !ok {
			return ErrProgramNotFound
		}
		if !h.Account.Executable {
			return ErrInvalidProgram
		}
	}
	return nil
}

func balances(accts []*accounts.Account) []uint64 {
	out := make([]uint64, len(accts))
	for i, a := range accts {
		out[i] = a.Lamports
	}
	return out
}

func asTransactionError(err error) *TransactionError {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr
	}
	return &TransactionError{Key: TransactionErrorSanitizeFailure}
}
