package client

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// LamportsPerXNT is the number of lamports in one whole XNT.
const LamportsPerXNT = 1_000_000_000

const lamportDecimals = 9

var (
	ErrNegativeAmount  = errors.New("amount is negative")
	ErrAmountPrecision = errors.New("amount has more than 9 decimal places")
	ErrAmountOverflow  = errors.New("amount does not fit in 64 bits of lamports")
)

// ParseAmount converts a decimal XNT amount such as "1.5" to lamports.
// Amounts are never rounded: a value with a non-zero tenth decimal place
// is an error.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid amount %q", s)
	}
	if d.IsNegative() {
		return 0, errors.Wrap(ErrNegativeAmount, s)
	}

	lamports := d.Shift(lamportDecimals)
	if !lamports.IsInteger() {
		return 0, errors.Wrap(ErrAmountPrecision, s)
	}
	n := lamports.BigInt()
	if !n.IsUint64() {
		return 0, errors.Wrap(ErrAmountOverflow, s)
	}
	return n.Uint64(), nil
}

// FormatLamports renders lamports as a decimal XNT amount without
// trailing zeros.
func FormatLamports(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportDecimals).String()
}
