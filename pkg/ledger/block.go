package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
)

// ProduceBlock seals the open slot into a block, stores it and opens the
// next slot. Empty slots still produce a block so blockhashes keep aging.
func (l *Ledger) ProduceBlock() (*blockstore.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	updates := make([]accounts.Update, 0, len(l.modified))
	for pubkey, account := range l.modified {
		updates = append(updates, accounts.Update{Pubkey: pubkey, Account: account})
	}

	blockhash := nextBlockhash(l.blockhash, l.slot, l.pending)
	bankHash := accounts.BankHash(accounts.BankHashInput{
		ParentBankHash: l.bankHash,
		DeltaHash:      accounts.DeltaHash(updates),
		NumSignatures:  l.signatures,
		Blockhash:      blockhash,
	})

	block := &blockstore.Block{
		Slot:              l.slot,
		ParentSlot:        l.slot - 1,
		Blockhash:         blockhash,
		PreviousBlockhash: l.blockhash,
		BankHash:          bankHash,
		BlockTime:         time.Now().Unix(),
		BlockHeight:       l.blockHeight + 1,
		Transactions:      l.pending,
	}
	if err := l.blocks.PutBlock(block); err != nil {
		return nil, fmt.Errorf("store block %d: %w", l.slot, err)
	}

	for _, txn := range l.pending {
		l.seen[txn.Signature] = l.slot
	}
	l.recent[blockhash] = l.slot
	l.expire()

	l.log.WithFields(logrus.Fields{
		"slot":         block.Slot,
		"blockhash":    blockhash.String(),
		"transactions": len(block.Transactions),
	}).Trace("block produced")

	l.blockhash = blockhash
	l.bankHash = bankHash
	l.blockHeight = block.BlockHeight
	l.slot++
	l.pending = nil
	l.processed = make(map[types.Signature]*blockstore.TransactionStatus)
	l.modified = make(map[types.Pubkey]*accounts.Account)
	l.signatures = 0

	return block, nil
}

// expire drops blockhashes and signatures that left the window.
func (l *Ledger) expire() {
	if l.slot < l.config.BlockhashWindow {
		return
	}
	oldest := l.slot - l.config.BlockhashWindow
	for hash, slot := range l.recent {
		if slot < oldest {
			delete(l.recent, hash)
		}
	}
	for sig, slot := range l.seen {
		if slot < oldest {
			delete(l.seen, sig)
		}
	}
}

// nextBlockhash chains the previous blockhash with the slot number and the
// signatures of the block.
func nextBlockhash(prev types.Hash, slot uint64, txs []blockstore.Transaction) types.Hash {
	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], slot)

	parts := make([][]byte, 0, 2+len(txs))
	parts = append(parts, prev[:], slotBytes[:])
	for i := range txs {
		parts = append(parts, txs[i].Signature[:])
	}
	return types.ComputeHash(parts...)
}

// Run produces a block every SlotInterval until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.SlotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.ProduceBlock(); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				l.log.WithError(err).Warn("failure producing block")
			}
		}
	}
}
