package pda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
)

func TestCreateProgramAddress(t *testing.T) {
	programID := types.MustPubkeyFromBase58("BPFLoader1111111111111111111111111111111111")
	seedKey := types.MustPubkeyFromBase58("SeedPubey1111111111111111111111111111111111")

	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, programID)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress([][]byte{[]byte("short seed"), make([]byte, MaxSeedLen+1)}, programID)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress([][]byte{make([]byte, MaxSeedLen)}, programID)
	assert.NoError(t, err)

	_, err = CreateProgramAddress(make([][]byte, MaxSeeds+1), programID)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)

	cases := []struct {
		expected string
		seeds    [][]byte
	}{
		{"3gF2KMe9KiC6FNVBmfg9i267aMPvK37FewCip4eGBFcT", [][]byte{{}, {1}}},
		{"7ytmC1nT1xY4RfxCV2ZgyA7UakC93do5ZdyhdF3EtPj7", [][]byte{[]byte("☉")}},
		{"HwRVBufQ4haG5XSgpspwKtNd3PC9GM9m1196uJW36vds", [][]byte{[]byte("Talking"), []byte("Squirrels")}},
		{"GUs5qLUfsEHkcMB9T38vjr18ypEhRuNWiePW2LoK4E3K", [][]byte{seedKey[:]}},
	}
	for _, tc := range cases {
		addr, err := CreateProgramAddress(tc.seeds, programID)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, addr.String())
		assert.False(t, IsOnCurve(addr))
	}
}

func TestFindProgramAddressReference(t *testing.T) {
	references := []struct {
		programID string
		expected  string
	}{
		{"4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", "Bn9pAWUXWc5Kd849xTkQcHqiCbHUEizLFn4r5Cf8XYnd"},
		{"8opHzTAnfzRpPEx21XtnrVTX28YQuCpAjcn1PczScKh", "oDvUHiiGdMo31xYzjefAzUekWH8EbCKrxgs2FkyTs1S"},
		{"CiDwVBFgWV9E5MvXWoLgnEgn2hK7rJikbvfWavzAQz3", "B2vBn2bmF9GuaGkebrm8oUqDC34pE6m4bagjNcVE6msv"},
		{"GcdayuLaLyrdmUu324nahyv33G5poQdLUEZ1nEytDeP", "2mN5Nfq9v1EwTV9FPTHPESZ3XiZce9wi5PQoULFuxvev"},
		{"21Z7hRtGQYRi8NocdZzhRuBRt9UZbFXbm1dKYvevp4vB", "9PPbRbNP3rqwzk16r7NDBzk1YDfo9EpWDWSqCYLn5eaF"},
		{"2M59vuWgsiuHAqQVB6KvuXuaBCJR8138gMAm4uCuR6Du", "E5dLtHAM353EPnHyuZ32sKREn26VW4Y8bzb2KQJTBHQh"},
	}

	for _, r := range references {
		programID := types.MustPubkeyFromBase58(r.programID)

		addr, bump, err := FindProgramAddress([][]byte{[]byte("Lil'"), []byte("Bits")}, programID)
		require.NoError(t, err)
		assert.Equal(t, r.expected, addr.String())

		again, err := CreateProgramAddress([][]byte{[]byte("Lil'"), []byte("Bits"), {bump}}, programID)
		require.NoError(t, err)
		assert.Equal(t, addr, again)
	}
}

func TestFindProgramAddressRandomPrograms(t *testing.T) {
	for i := 0; i < 200; i++ {
		kp, err := types.NewKeypair()
		require.NoError(t, err)

		addr, _, err := FindProgramAddress([][]byte{[]byte("vault")}, kp.Pubkey())
		require.NoError(t, err)
		assert.False(t, IsOnCurve(addr))
	}
}

func TestFindProgramAddressSeedLimit(t *testing.T) {
	_, _, err := FindProgramAddress(make([][]byte, MaxSeeds), types.DefaultVaultProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestIsOnCurve(t *testing.T) {
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	assert.True(t, IsOnCurve(kp.Pubkey()))
}
