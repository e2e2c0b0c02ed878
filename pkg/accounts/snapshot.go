package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// snapshotMagic identifies vault ledger snapshot files.
var snapshotMagic = []byte{'X', 'V', 'S', 'N'}

// ErrSnapshotMismatch is returned when restored state does not hash to the
// value recorded in the snapshot header.
var ErrSnapshotMismatch = errors.New("snapshot state hash mismatch")

// SnapshotHeader describes a snapshot file.
//
// File layout:
//   - magic (4) "XVSN"
//   - version (4, little-endian)
//   - slot (8, little-endian)
//   - accounts count (8, little-endian)
//   - state hash (32)
//   - zstd stream of entries: pubkey (32) | size (4) | serialized account
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	StateHash     types.Hash
}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + types.HashSize

func (h *SnapshotHeader) marshal() []byte {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.StateHash[:])
	return buf
}

func readSnapshotHeader(r io.Reader) (*SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(buf[:4], snapshotMagic) {
		return nil, fmt.Errorf("not a snapshot file")
	}
	h := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		Slot:          binary.LittleEndian.Uint64(buf[8:]),
		AccountsCount: binary.LittleEndian.Uint64(buf[16:]),
	}
	copy(h.StateHash[:], buf[24:])
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	return h, nil
}

// WriteSnapshot dumps every account of db into path. The file is written
// to a temporary name and renamed into place once complete.
func WriteSnapshot(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	stateHash, err := StateHash(db)
	if err != nil {
		return nil, fmt.Errorf("hash state: %w", err)
	}

	// Entries are written first so the header can carry the exact count.
	var body bytes.Buffer
	enc, err := zstd.NewWriter(&body)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	w := bufio.NewWriter(enc)

	header := &SnapshotHeader{
		Version:   snapshotVersion,
		Slot:      db.GetSlot(),
		StateHash: stateHash,
	}
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		w.Write(pubkey[:])
		w.Write(size[:])
		if _, err := w.Write(data); err != nil {
			return err
		}
		header.AccountsCount++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := f.Write(header.marshal()); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if _, err := body.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("rename snapshot: %w", err)
	}
	return header, nil
}

// LoadSnapshot restores every account from path into an empty db with a
// single Apply, then checks the resulting state hash against the header.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("snapshot restore requires an empty database")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	header, err := readSnapshotHeader(f)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()
	r := bufio.NewReader(dec)

	updates := make([]Update, 0, min(header.AccountsCount, 1<<16))
	for i := uint64(0); i < header.AccountsCount; i++ {
		var entry [types.PubkeySize + 4]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		size := binary.LittleEndian.Uint32(entry[types.PubkeySize:])
		if size > serializedOverhead+MaxDataSize {
			return nil, fmt.Errorf("entry %d: %w", i, ErrInvalidData)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		var pubkey types.Pubkey
		copy(pubkey[:], entry[:types.PubkeySize])
		updates = append(updates, Update{Pubkey: pubkey, Account: account})
	}

	if err := db.Apply(header.Slot, updates); err != nil {
		return nil, err
	}

	got, err := StateHash(db)
	if err != nil {
		return nil, err
	}
	if got != header.StateHash {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrSnapshotMismatch, got, header.StateHash)
	}
	return header, nil
}
