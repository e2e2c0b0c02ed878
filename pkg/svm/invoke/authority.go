package invoke

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// ProgramAuthority lets a program sign for one of its derived addresses
// during a cross-program invocation. It holds the seeds that derive the
// address from the program's ID. The runtime re-derives the address from
// the ID of the program presenting it, so an authority built for another
// program never signs. Each authority signs at most one invocation.
//
// Authorities exist only in memory. They have no wire form and marshal to
// an error.
type ProgramAuthority struct {
	programID types.Pubkey
	seeds     [][]byte
	consumed  bool
}

// NewProgramAuthority creates an authority for the address derived from
// programID and seeds. The seeds must include the bump.
func NewProgramAuthority(programID types.Pubkey, seeds ...[]byte) *ProgramAuthority {
	copied := make([][]byte, len(seeds))
	for i, s := range seeds {
		copied[i] = append([]byte(nil), s...)
	}
	return &ProgramAuthority{
		programID: programID,
		seeds:     copied,
	}
}

// ProgramID returns the program the authority was created for.
func (a *ProgramAuthority) ProgramID() types.Pubkey {
	return a.programID
}

// Consumed reports whether the authority already signed an invocation.
func (a *ProgramAuthority) Consumed() bool {
	return a.consumed
}

// String describes the authority without its seeds.
func (a *ProgramAuthority) String() string {
	return fmt.Sprintf("ProgramAuthority(%s)", a.programID)
}

var errAuthorityNotSerializable = errors.New("program authority cannot be serialized")

// MarshalJSON always fails.
func (a *ProgramAuthority) MarshalJSON() ([]byte, error) {
	return nil, errAuthorityNotSerializable
}

// MarshalText always fails.
func (a *ProgramAuthority) MarshalText() ([]byte, error) {
	return nil, errAuthorityNotSerializable
}
