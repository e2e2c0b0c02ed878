// Package geyser streams committed account changes of the vault ledger
// over gRPC.
//
// The service has a single server-streaming method,
// vault.Geyser/SubscribeAccounts. Messages are JSON encoded by a codec
// forced on both ends, so no generated protobuf code is involved.
//
// The client supports:
//   - Filters by account keys or by owning program
//   - Automatic resubscription with exponential backoff
//   - Stale stream detection driven by server pings
package geyser

import (
	"time"

	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/ledger"
)

// Filter selects the account updates a subscription receives. An update
// matches if its key is in Accounts or its owner is in Owners. An empty
// filter matches every update.
type Filter struct {
	Accounts []types.Pubkey
	Owners   []types.Pubkey
}

// AccountUpdate is a committed account change received from the stream.
type AccountUpdate struct {
	// Pubkey is the changed account.
	Pubkey types.Pubkey

	// Account state after the change.
	Lamports   uint64
	Owner      types.Pubkey
	Executable bool
	RentEpoch  uint64
	Data       []byte

	// Slot is the slot the change was committed in.
	Slot uint64

	// Signature is the transaction that made the change.
	Signature types.Signature

	// ReceivedAt is when the client received the update.
	ReceivedAt time.Time
}

// ClientHealth represents the health status of the client.
type ClientHealth struct {
	// Connected indicates if a subscription stream is open.
	Connected bool

	// LastSlot is the slot of the last account update received.
	LastSlot uint64

	// LastUpdate is when the last message was received.
	LastUpdate time.Time

	// Endpoint is the server address.
	Endpoint string

	// ReconnectCount is the number of reconnection attempts since start.
	ReconnectCount int

	// DroppedUpdates counts updates discarded because the consumer fell
	// behind.
	DroppedUpdates uint64

	// LastError is the last error encountered, if any.
	LastError error
}

// SubscribeRequest is the wire request of SubscribeAccounts. Keys are
// base58 encoded.
type SubscribeRequest struct {
	Accounts []string `json:"accounts,omitempty"`
	Owners   []string `json:"owners,omitempty"`
}

// SubscribeUpdate is one message of the SubscribeAccounts stream. Exactly
// one field is set.
type SubscribeUpdate struct {
	Account *AccountMessage `json:"account,omitempty"`
	Ping    *PingMessage    `json:"ping,omitempty"`
}

// AccountMessage is the wire form of an account update.
type AccountMessage struct {
	Pubkey     string `json:"pubkey"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
	Data       []byte `json:"data"`
	Slot       uint64 `json:"slot"`
	Signature  string `json:"signature"`
}

// PingMessage keeps an idle stream alive.
type PingMessage struct {
	Time int64 `json:"time"`
}

func newSubscribeRequest(filter Filter) *SubscribeRequest {
	req := &SubscribeRequest{}
	for _, key := range filter.Accounts {
		req.Accounts = append(req.Accounts, key.String())
	}
	for _, owner := range filter.Owners {
		req.Owners = append(req.Owners, owner.String())
	}
	return req
}

// accountFilter decodes the request into a ledger filter.
func (r *SubscribeRequest) accountFilter() (ledger.AccountFilter, error) {
	var filter ledger.AccountFilter
	for _, s := range r.Accounts {
		key, err := types.PubkeyFromBase58(s)
		if err != nil {
			return ledger.AccountFilter{}, errors.Wrapf(err, "invalid account %q", s)
		}
		filter.Accounts = append(filter.Accounts, key)
	}
	for _, s := range r.Owners {
		owner, err := types.PubkeyFromBase58(s)
		if err != nil {
			return ledger.AccountFilter{}, errors.Wrapf(err, "invalid owner %q", s)
		}
		filter.Owners = append(filter.Owners, owner)
	}
	return filter, nil
}

// newAccountMessage encodes a ledger update. A deleted account is sent
// with zero lamports, no data and the system program as owner.
func newAccountMessage(u ledger.AccountUpdate) *AccountMessage {
	msg := &AccountMessage{
		Pubkey:    u.Pubkey.String(),
		Owner:     types.SystemProgramAddr.String(),
		Slot:      u.Slot,
		Signature: u.Signature.String(),
	}
	if u.Account != nil {
		msg.Lamports = u.Account.Lamports
		msg.Owner = u.Account.Owner.String()
		msg.Executable = u.Account.Executable
		msg.RentEpoch = u.Account.RentEpoch
		msg.Data = u.Account.Data
	}
	return msg
}

// update decodes the message.
func (m *AccountMessage) update() (AccountUpdate, error) {
	pubkey, err := types.PubkeyFromBase58(m.Pubkey)
	if err != nil {
		return AccountUpdate{}, errors.Wrap(err, "invalid pubkey")
	}
	owner, err := types.PubkeyFromBase58(m.Owner)
	if err != nil {
		return AccountUpdate{}, errors.Wrap(err, "invalid owner")
	}
	sig, err := types.SignatureFromBase58(m.Signature)
	if err != nil {
		return AccountUpdate{}, errors.Wrap(err, "invalid signature")
	}
	return AccountUpdate{
		Pubkey:     pubkey,
		Lamports:   m.Lamports,
		Owner:      owner,
		Executable: m.Executable,
		RentEpoch:  m.RentEpoch,
		Data:       m.Data,
		Slot:       m.Slot,
		Signature:  sig,
		ReceivedAt: time.Now(),
	}, nil
}
