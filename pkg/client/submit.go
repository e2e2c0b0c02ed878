package client

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/retry"
	"github.com/fortiblox/X1-Vault/pkg/retry/backoff"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

var errStatusPending = errors.New("signature status pending")

// Submit signs instructions with signer as the fee payer, sends them and
// waits until the transaction reaches the configured commitment.
//
// A copy signed with a newer blockhash is only sent after the previous
// copy's blockhash expired and the node still has no status for it, so the
// instructions are never executed twice. Signing is deterministic: an
// identical call under the same blockhash yields the same signature. When
// the node already holds a signature this call never sent, the
// instructions are signed again under a newer blockhash. A duplicate
// reported after a retried request counts as this call's own. A transaction
// that was recorded as failed returns its signature together with an error
// wrapping the *runtime.TransactionError.
func (c *Client) Submit(ctx context.Context, signer *types.Keypair, instructions ...invoke.Instruction) (types.Signature, error) {
	log := c.log.WithField("payer", signer.Pubkey().String())

	var (
		pending  []types.Signature
		occupied types.Hash
	)
	for attempt := 1; attempt <= c.config.MaxSubmits; attempt++ {
		// The previous copies may have landed between their last status
		// check and their blockhash expiring.
		for _, sig := range pending {
			status, err := c.GetSignatureStatus(ctx, sig)
			if errors.Is(err, ErrSignatureNotFound) {
				continue
			}
			if err != nil {
				return sig, err
			}
			return c.confirm(ctx, sig, status)
		}

		blockhash, err := c.newerBlockhash(ctx, occupied)
		if err != nil {
			return types.Signature{}, err
		}
		tx := runtime.NewTransaction(signer.Pubkey(), instructions...)
		tx.SetBlockhash(blockhash)
		if err := tx.Sign(signer); err != nil {
			return types.Signature{}, errors.Wrap(err, "failed to sign transaction")
		}
		sig := tx.ID()

		log := log.WithFields(logrus.Fields{
			"signature": sig.String(),
			"attempt":   attempt,
		})

		_, requests, err := c.sendTransaction(ctx, &tx)
		switch {
		case errors.Is(err, runtime.ErrDuplicateSignature) && requests == 1 && !containsSignature(pending, sig):
			// An identical transaction from another caller; it does not
			// count as an attempt.
			log.Debug("identical transaction already processed, signing again")
			occupied = blockhash
			attempt--
			continue
		case errors.Is(err, runtime.ErrDuplicateSignature):
			log.Debug("transaction already processed")
		case errors.Is(err, runtime.ErrBlockhashNotFound):
			log.Debug("blockhash expired before submission")
			continue
		case err != nil:
			return types.Signature{}, err
		}
		if !containsSignature(pending, sig) {
			pending = append(pending, sig)
		}

		status, err := c.awaitStatus(ctx, sig, blockhash)
		if errors.Is(err, ErrBlockhashExpired) {
			log.Warn("blockhash expired before the transaction was processed")
			continue
		}
		if err != nil {
			return sig, err
		}
		return c.confirm(ctx, sig, status)
	}

	for _, sig := range pending {
		status, err := c.GetSignatureStatus(ctx, sig)
		if err == nil {
			return c.confirm(ctx, sig, status)
		}
	}
	return types.Signature{}, ErrSubmitFailed
}

// newerBlockhash returns the latest blockhash, waiting for the next one
// while it equals occupied. A zero occupied hash never waits.
func (c *Client) newerBlockhash(ctx context.Context, occupied types.Hash) (types.Hash, error) {
	var blockhash types.Hash
	_, err := retry.Retry(
		ctx,
		func() error {
			h, err := c.GetLatestBlockhash(ctx)
			if err != nil {
				return err
			}
			if !occupied.IsZero() && h == occupied {
				return errStatusPending
			}
			blockhash = h
			return nil
		},
		retry.RetriableErrors(errStatusPending),
		retry.Backoff(backoff.Constant(c.config.PollInterval), c.config.PollInterval),
	)
	if errors.Is(err, errStatusPending) {
		return types.Hash{}, errors.Wrap(ctx.Err(), "no newer blockhash")
	}
	return blockhash, err
}

func containsSignature(sigs []types.Signature, sig types.Signature) bool {
	for _, s := range sigs {
		if s == sig {
			return true
		}
	}
	return false
}

// awaitStatus polls until sig has a status or blockhash expires.
func (c *Client) awaitStatus(ctx context.Context, sig types.Signature, blockhash types.Hash) (*SignatureStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	defer cancel()

	var status *SignatureStatus
	_, err := retry.Retry(
		ctx,
		func() error {
			s, err := c.GetSignatureStatus(ctx, sig)
			if err == nil {
				status = s
				return nil
			}
			if !errors.Is(err, ErrSignatureNotFound) {
				return err
			}

			valid, err := c.IsBlockhashValid(ctx, blockhash)
			if err != nil {
				return err
			}
			if !valid {
				return ErrBlockhashExpired
			}
			return errStatusPending
		},
		retry.RetriableErrors(errStatusPending),
		retry.Backoff(backoff.Constant(c.config.PollInterval), c.config.PollInterval),
	)
	if errors.Is(err, errStatusPending) {
		return nil, errors.Wrapf(ctx.Err(), "no status for %s", sig)
	}
	return status, err
}

// confirm waits for a recorded transaction to reach the configured
// commitment and reports its outcome.
func (c *Client) confirm(ctx context.Context, sig types.Signature, status *SignatureStatus) (types.Signature, error) {
	if status.Err != nil {
		return sig, errors.Wrapf(status.Err, "transaction %s failed", sig)
	}
	if status.Reached(c.config.Commitment) {
		return sig, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	defer cancel()

	_, err := retry.Retry(
		ctx,
		func() error {
			s, err := c.GetSignatureStatus(ctx, sig)
			if err != nil {
				return err
			}
			if !s.Reached(c.config.Commitment) {
				return errStatusPending
			}
			return nil
		},
		retry.RetriableErrors(errStatusPending),
		retry.Backoff(backoff.Constant(c.config.PollInterval), c.config.PollInterval),
	)
	if errors.Is(err, errStatusPending) {
		return sig, errors.Wrapf(ctx.Err(), "%s did not reach %s", sig, c.config.Commitment)
	}
	return sig, err
}
