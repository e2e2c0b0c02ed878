package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidKeypair is returned when keypair bytes are malformed.
var ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")

// Keypair is an ed25519 signing key together with its public address.
type Keypair struct {
	private ed25519.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte ed25519 seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length %d", len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeypairFromBytes parses the 64-byte secret||public encoding.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if string(priv[ed25519.SeedSize:]) != string(b[ed25519.SeedSize:]) {
		return nil, errors.New("invalid keypair: public half does not match secret")
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromMnemonic derives a keypair the way `solana-keygen recover`
// does without a derivation path: the BIP39 seed is
// PBKDF2-SHA512(mnemonic, "mnemonic"+passphrase, 2048) and its first
// 32 bytes are the ed25519 seed.
func KeypairFromMnemonic(mnemonic, passphrase string) (*Keypair, error) {
	words := strings.Fields(mnemonic)
	if len(words) < 12 {
		return nil, fmt.Errorf("mnemonic has %d words, want at least 12", len(words))
	}
	normalized := strings.Join(words, " ")
	seed := pbkdf2.Key([]byte(normalized), []byte("mnemonic"+passphrase), 2048, 64, sha512.New)
	return KeypairFromSeed(seed[:ed25519.SeedSize])
}

// LoadKeypair reads a solana-keygen JSON keypair file (an array of 64 numbers).
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	b := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, i)
		}
		b[i] = byte(v)
	}
	return KeypairFromBytes(b)
}

// SaveKeypair writes the keypair in solana-keygen JSON format with 0600 permissions.
func (k *Keypair) SaveKeypair(path string) error {
	ints := make([]int, len(k.private))
	for i, v := range k.private {
		ints[i] = int(v)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, raw, 0600)
}

// Pubkey returns the public address.
func (k *Keypair) Pubkey() Pubkey {
	var p Pubkey
	copy(p[:], k.private[ed25519.SeedSize:])
	return p
}

// PrivateKey returns the underlying ed25519 key.
func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return k.private
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}
