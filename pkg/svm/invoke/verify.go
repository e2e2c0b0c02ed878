package invoke

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/fortiblox/X1-Vault/pkg/accounts"
)

// verify checks every change made to the instruction's accounts since the
// last snapshot:
//   - only the owner may debit lamports, change data or reassign an account
//   - readonly accounts do not change
//   - executable accounts and rent epochs do not change
//   - an account may only be reassigned while its data is zeroed
//   - lamports are conserved across the instruction
//   - writable accounts that hold data stay rent exempt
func (c *Context) verify() error {
	var preHi, preLo, postHi, postLo uint64
	for _, key := range c.keys {
		pre := c.pre[key]
		post := c.live[key]

		var carry uint64
		preLo, carry = bits.Add64(preLo, pre.Lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, post.Lamports, 0)
		postHi += carry

		if err := c.verifyAccount(pre, post, c.writable[key]); err != nil {
			return fmt.Errorf("%w: account %s", err, key)
		}
	}
	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}
	return nil
}

func (c *Context) verifyAccount(pre, post *accounts.Account, writable bool) error {
	owned := pre.Owner == c.programID
	dataChanged := !bytes.Equal(pre.Data, post.Data)

	if pre.Owner != post.Owner {
		if !writable || !owned || pre.Executable || !isZeroed(post.Data) {
			return ErrModifiedProgramID
		}
	}

	if pre.Lamports != post.Lamports {
		if !writable {
			return ErrReadonlyLamportChange
		}
		if pre.Executable {
			return ErrExecutableModified
		}
		if post.Lamports < pre.Lamports && !owned {
			return ErrExternalAccountLamportSpend
		}
	}

	if dataChanged {
		if !writable {
			return ErrReadonlyDataModified
		}
		if pre.Executable {
			return ErrExecutableModified
		}
		if !owned {
			return ErrExternalAccountDataModified
		}
		if len(post.Data) > accounts.MaxDataSize {
			return ErrInvalidRealloc
		}
	}

	if pre.Executable != post.Executable {
		return ErrExecutableModified
	}
	if pre.RentEpoch != post.RentEpoch {
		return ErrRentEpochModified
	}

	changed := dataChanged || pre.Lamports != post.Lamports || pre.Owner != post.Owner
	if changed && !c.tx.rent.IsExempt(post.Lamports, uint64(len(post.Data))) {
		return ErrInsufficientFundsForRent
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
