package blockstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Vault/internal/types"
)

var (
	// ErrBlockNotFound is returned when a block doesn't exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSlotNotFound is returned when a slot doesn't exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")

	// ErrInvalidSlot is returned when a block does not extend the latest slot.
	ErrInvalidSlot = errors.New("invalid slot number")
)

// Bucket names for BoltDB.
var (
	// bucketBlocks stores complete block data keyed by slot.
	bucketBlocks = []byte("blocks")

	// bucketSlotMeta stores slot metadata keyed by slot.
	bucketSlotMeta = []byte("slot_meta")

	// bucketTxBySignature indexes transactions by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressSignatures indexes signatures by address+slot+signature.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyOldestSlot       = []byte("oldest_slot")
	keyBlockCount       = []byte("block_count")
	keyTransactionCount = []byte("transaction_count")
)

// Config holds blockstore configuration options.
type Config struct {
	// Path is the blockstore database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old blocks.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		NoSync:        false,
		PruneEnabled:  true,
		PruneInterval: 1 * time.Hour,
		RetainSlots:   DefaultRetainSlots,
	}
}

// Store is the blockstore interface.
type Store interface {
	// Block operations
	GetBlock(slot uint64) (*Block, error)
	PutBlock(block *Block) error
	HasBlock(slot uint64) bool

	// Slot metadata
	GetSlotMeta(slot uint64) (*SlotMeta, error)

	// Transaction operations
	GetTransaction(signature types.Signature) (*Transaction, error)
	GetTransactionStatus(signature types.Signature) (*TransactionStatus, error)
	GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error)

	// Slot progression
	GetLatestSlot() uint64
	GetOldestSlot() uint64

	// Maintenance
	Prune(keepSlots uint64) (uint64, error)
	GetStats() (*Stats, error)
	Close() error
}

// Stats contains blockstore statistics.
type Stats struct {
	// LatestSlot is the most recent slot stored.
	LatestSlot uint64

	// OldestSlot is the oldest slot still retained.
	OldestSlot uint64

	// BlockCount is the total number of blocks stored.
	BlockCount uint64

	// TransactionCount is the total number of transactions indexed.
	TransactionCount uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return.
	Limit int

	// Before returns signatures older than this one.
	Before *types.Signature

	// Until stops at this signature (not included).
	Until *types.Signature
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config
	log    *logrus.Entry

	// Cached slot values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	oldestSlot       uint64
	blockCount       uint64
	transactionCount uint64

	// Pruning control.
	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

// Open creates or opens a blockstore at the given path.
func Open(config Config) (*BoltStore, error) {
	// Ensure directory exists.
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:        db,
		config:    config,
		log:       logrus.StandardLogger().WithField("type", "blockstore"),
		pruneStop: make(chan struct{}),
	}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.PruneEnabled {
		store.startPruning()
	}
	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBlocks,
			bucketSlotMeta,
			bucketTxBySignature,
			bucketAddressSignatures,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyOldestSlot); v != nil {
			s.oldestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyBlockCount); v != nil {
			s.blockCount = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

// startPruning starts the background pruning goroutine.
func (s *BoltStore) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pruned, err := s.Prune(s.config.RetainSlots)
				if err != nil {
					s.log.WithError(err).Warn("failure pruning blocks")
					continue
				}
				if pruned > 0 {
					s.log.WithField("pruned", pruned).Debug("pruned old blocks")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// GetBlock retrieves a block by slot number.
func (s *BoltStore) GetBlock(slot uint64) (*Block, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var block Block
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(EncodeSlotKey(slot))
		if data == nil {
			return ErrBlockNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&block)
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// PutBlock stores a block and indexes its transactions. Blocks must be
// stored in increasing slot order.
func (s *BoltStore) PutBlock(block *Block) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.RLock()
	latest, count, txTotal := s.latestSlot, s.blockCount, s.transactionCount
	s.mu.RUnlock()
	if count > 0 && block.Slot <= latest {
		return fmt.Errorf("%w: %d is not after %d", ErrInvalidSlot, block.Slot, latest)
	}

	for i := range block.Transactions {
		block.Transactions[i].Slot = block.Slot
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(block); err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	blockData := buf.Bytes()

	meta := &SlotMeta{
		Slot:              block.Slot,
		ParentSlot:        block.ParentSlot,
		BlockTime:         block.BlockTime,
		BlockHeight:       block.BlockHeight,
		TransactionCount:  uint64(len(block.Transactions)),
		Blockhash:         block.Blockhash,
		PreviousBlockhash: block.PreviousBlockhash,
		BankHash:          block.BankHash,
	}
	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return fmt.Errorf("encode slot meta: %w", err)
	}

	txCount := uint64(len(block.Transactions))

	err := s.db.Update(func(tx *bolt.Tx) error {
		slotKey := EncodeSlotKey(block.Slot)
		if err := tx.Bucket(bucketBlocks).Put(slotKey, blockData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSlotMeta).Put(slotKey, metaBuf.Bytes()); err != nil {
			return err
		}

		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)

		for i := range block.Transactions {
			txn := &block.Transactions[i]

			var txBuf bytes.Buffer
			if err := gob.NewEncoder(&txBuf).Encode(txn); err != nil {
				return fmt.Errorf("encode transaction: %w", err)
			}
			if err := txBySig.Put(EncodeSignatureKey(txn.Signature), txBuf.Bytes()); err != nil {
				return err
			}

			sigInfo := SignatureInfo{
				Signature: txn.Signature,
				Slot:      block.Slot,
				Err:       txn.Meta.Err,
				BlockTime: block.BlockTime,
			}
			var sigInfoBuf bytes.Buffer
			if err := gob.NewEncoder(&sigInfoBuf).Encode(&sigInfo); err != nil {
				return fmt.Errorf("encode sig info: %w", err)
			}
			for _, addr := range txn.AccountKeys {
				if err := addrSigs.Put(EncodeAddressSlotKey(addr, block.Slot, txn.Signature), sigInfoBuf.Bytes()); err != nil {
					return err
				}
			}
		}

		metadata := tx.Bucket(bucketMetadata)
		if err := metadata.Put(keyLatestSlot, slotKey); err != nil {
			return err
		}
		if err := metadata.Put(keyBlockCount, EncodeSlotKey(count+1)); err != nil {
			return err
		}
		if err := metadata.Put(keyTransactionCount, EncodeSlotKey(txTotal+txCount)); err != nil {
			return err
		}
		if count == 0 {
			if err := metadata.Put(keyOldestSlot, slotKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.latestSlot = block.Slot
	if s.blockCount == 0 {
		s.oldestSlot = block.Slot
	}
	s.blockCount++
	s.transactionCount += txCount
	s.mu.Unlock()

	return nil
}

// HasBlock checks if a block exists for the given slot.
func (s *BoltStore) HasBlock(slot uint64) bool {
	if s.checkOpen() != nil {
		return false
	}

	exists := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlocks).Get(EncodeSlotKey(slot)) != nil
		return nil
	})
	return exists
}

// deleteBlock removes a block and its indexes.
func (s *BoltStore) deleteBlock(slot uint64) error {
	block, err := s.GetBlock(slot)
	if errors.Is(err, ErrBlockNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		slotKey := EncodeSlotKey(slot)
		if err := tx.Bucket(bucketBlocks).Delete(slotKey); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSlotMeta).Delete(slotKey); err != nil {
			return err
		}

		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, txn := range block.Transactions {
			if err := txBySig.Delete(EncodeSignatureKey(txn.Signature)); err != nil {
				return err
			}
			for _, addr := range txn.AccountKeys {
				if err := addrSigs.Delete(EncodeAddressSlotKey(addr, slot, txn.Signature)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetSlotMeta retrieves metadata for a slot.
func (s *BoltStore) GetSlotMeta(slot uint64) (*SlotMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var meta SlotMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSlotMeta).Get(EncodeSlotKey(slot))
		if data == nil {
			return ErrSlotNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetTransaction retrieves a transaction by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var txn Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(EncodeSignatureKey(signature))
		if data == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransactionStatus returns the status of a stored transaction.
func (s *BoltStore) GetTransactionStatus(signature types.Signature) (*TransactionStatus, error) {
	txn, err := s.GetTransaction(signature)
	if err != nil {
		return nil, err
	}
	return &TransactionStatus{
		Slot:               txn.Slot,
		Signature:          txn.Signature,
		Err:                txn.Meta.Err,
		ConfirmationStatus: CommitmentFinalized,
	}, nil
}

// GetSignaturesForAddress returns signatures of transactions involving an
// address, newest first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	limit := 1000
	if opts != nil && opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		prefix := address[:]

		// Position after the last key with our prefix, then walk back.
		end := make([]byte, 32+8+64)
		copy(end, prefix)
		for i := 32; i < len(end); i++ {
			end[i] = 0xFF
		}
		k, v := c.Seek(end)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			k, v = c.Prev()
		}

		skipping := opts != nil && opts.Before != nil
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			_, _, sig := DecodeAddressSlotKey(k)
			if skipping {
				if sig == *opts.Before {
					skipping = false
				}
				continue
			}
			if opts != nil && opts.Until != nil && sig == *opts.Until {
				break
			}

			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				return fmt.Errorf("decode signature info: %w", err)
			}
			results = append(results, info)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetLatestSlot returns the most recent slot.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// GetOldestSlot returns the oldest slot still stored.
func (s *BoltStore) GetOldestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldestSlot
}

// Prune removes blocks older than the retention window.
// Returns the number of blocks pruned.
func (s *BoltStore) Prune(keepSlots uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	latestSlot := s.GetLatestSlot()
	if latestSlot <= keepSlots {
		return 0, nil
	}
	pruneBeforeSlot := latestSlot - keepSlots

	var slotsToPrune []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		maxKey := EncodeSlotKey(pruneBeforeSlot)
		for k, _ := c.First(); k != nil && bytes.Compare(k, maxKey) < 0; k, _ = c.Next() {
			slotsToPrune = append(slotsToPrune, DecodeSlotKey(k))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var pruned uint64
	for _, slot := range slotsToPrune {
		if err := s.deleteBlock(slot); err != nil {
			return pruned, fmt.Errorf("delete slot %d: %w", slot, err)
		}
		pruned++
	}
	if pruned == 0 {
		return 0, nil
	}

	s.mu.Lock()
	s.oldestSlot = pruneBeforeSlot
	s.blockCount -= pruned
	oldest, count := s.oldestSlot, s.blockCount
	s.mu.Unlock()

	err = s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyOldestSlot, EncodeSlotKey(oldest)); err != nil {
			return err
		}
		return meta.Put(keyBlockCount, EncodeSlotKey(count))
	})
	return pruned, err
}

// GetStats returns blockstore statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		LatestSlot:       s.latestSlot,
		OldestSlot:       s.oldestSlot,
		BlockCount:       s.blockCount,
		TransactionCount: s.transactionCount,
	}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close shuts down the blockstore.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	return s.db.Close()
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)
