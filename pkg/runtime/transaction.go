package runtime

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// Transaction is a message together with the signatures it requires.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction builds an unsigned transaction paid for by payer.
func NewTransaction(payer types.Pubkey, instructions ...invoke.Instruction) Transaction {
	m := NewMessage(payer, instructions...)
	return Transaction{
		Signatures: make([]types.Signature, m.Header.NumRequiredSignatures),
		Message:    m,
	}
}

// ID returns the first signature, which identifies the transaction.
func (t *Transaction) ID() types.Signature {
	if len(t.Signatures) == 0 {
		return types.Signature{}
	}
	return t.Signatures[0]
}

// SetBlockhash sets the recent blockhash. Signatures made before the call
// become invalid.
func (t *Transaction) SetBlockhash(bh types.Hash) {
	t.Message.RecentBlockhash = bh
}

// Sign signs the message with every keypair. Each keypair must belong to
// one of the required signers.
func (t *Transaction) Sign(signers ...*types.Keypair) error {
	messageBytes := t.Message.Marshal()

	for _, s := range signers {
		pub := s.Pubkey()
		index := indexOf(t.Message.AccountKeys, pub)
		if index < 0 {
			return errors.Errorf("signing account %s is not in the account list", pub)
		}
		if index >= len(t.Signatures) {
			return errors.Errorf("signing account %s is not in the list of signers", pub)
		}
		t.Signatures[index] = s.Sign(messageBytes)
	}
	return nil
}

// VerifySignatures checks every required signature against the message.
func (t *Transaction) VerifySignatures() error {
	if len(t.Signatures) != int(t.Message.Header.NumRequiredSignatures) {
		return ErrSignatureFailure
	}
	messageBytes := t.Message.Marshal()
	for i, sig := range t.Signatures {
		if !sig.Verify(t.Message.AccountKeys[i], messageBytes) {
			return ErrSignatureFailure
		}
	}
	return nil
}

func (t *Transaction) String() string {
	var sb strings.Builder
	sb.WriteString("Signatures:\n")
	for i, s := range t.Signatures {
		sb.WriteString(fmt.Sprintf("  %d: %s\n", i, s))
	}
	sb.WriteString("Message:\n")
	sb.WriteString("  Header:\n")
	sb.WriteString(fmt.Sprintf("    NumRequiredSignatures: %d\n", t.Message.Header.NumRequiredSignatures))
	sb.WriteString(fmt.Sprintf("    NumReadonlySignedAccounts: %d\n", t.Message.Header.NumReadonlySignedAccounts))
	sb.WriteString(fmt.Sprintf("    NumReadonlyUnsignedAccounts: %d\n", t.Message.Header.NumReadonlyUnsignedAccounts))
	sb.WriteString("  Accounts:\n")
	for i, a := range t.Message.AccountKeys {
		sb.WriteString(fmt.Sprintf("    %d: %s\n", i, a))
	}
	sb.WriteString(fmt.Sprintf("  RecentBlockhash: %s\n", t.Message.RecentBlockhash))
	sb.WriteString("  Instructions:\n")
	for i, ix := range t.Message.Instructions {
		sb.WriteString(fmt.Sprintf("    %d:\n", i))
		sb.WriteString(fmt.Sprintf("      ProgramIDIndex: %d\n", ix.ProgramIDIndex))
		sb.WriteString(fmt.Sprintf("      AccountIndexes: %v\n", ix.AccountIndexes))
		sb.WriteString(fmt.Sprintf("      Data: %v\n", ix.Data))
	}
	return sb.String()
}

func indexOf(keys []types.Pubkey, key types.Pubkey) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}
