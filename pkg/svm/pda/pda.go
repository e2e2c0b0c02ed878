// Package pda derives program addresses: deterministic account keys that
// lie off the ed25519 curve, so no private key can sign for them. Only the
// program whose ID went into the derivation can authorize actions on them,
// by presenting the seeds again during a cross-program invocation.
package pda

import (
	"crypto/sha256"
	"errors"
	"math"

	"github.com/jdgcs/ed25519/edwards25519"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// Marker appended after the program ID in every derivation.
var marker = []byte("ProgramDerivedAddress")

var (
	// ErrMaxSeedsExceeded is returned when more than MaxSeeds seeds are given.
	ErrMaxSeedsExceeded = errors.New("max seeds exceeded")

	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLen.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrInvalidSeeds is returned when the seeds hash to a point on the curve.
	ErrInvalidSeeds = errors.New("invalid seeds: address is on curve")

	// ErrNoViableBump is returned when no bump produces an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress computes sha256(seeds || programID || marker) and
// rejects the result if it is a valid ed25519 public key.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(marker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down to 1 and returns the
// first address that lies off the curve along with its bump. The bump is
// appended to seeds as a final one-byte seed. Bump 0 is never tried, the
// same 255 candidates the on-chain find_program_address walks, so both
// derive the same address for the same seeds.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := uint8(math.MaxUint8); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}

		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, bump, nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether key decodes to a point on the ed25519 curve.
func IsOnCurve(key types.Pubkey) bool {
	var point edwards25519.ExtendedGroupElement
	b := [32]byte(key)
	return point.FromBytes(&b)
}
