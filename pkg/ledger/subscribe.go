package ledger

import (
	"sync"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
)

// AccountUpdate is a committed account change.
type AccountUpdate struct {
	Pubkey    types.Pubkey
	Account   *accounts.Account
	Slot      uint64
	Signature types.Signature
}

// AccountFilter selects account updates. An update matches if its key is
// listed in Accounts or its owner in Owners. An empty filter matches all.
type AccountFilter struct {
	Accounts []types.Pubkey
	Owners   []types.Pubkey
}

// Matches reports whether the filter selects the update.
func (f AccountFilter) Matches(pubkey types.Pubkey, account *accounts.Account) bool {
	if len(f.Accounts) == 0 && len(f.Owners) == 0 {
		return true
	}
	for _, key := range f.Accounts {
		if key == pubkey {
			return true
		}
	}
	if account == nil {
		return false
	}
	for _, owner := range f.Owners {
		if owner == account.Owner {
			return true
		}
	}
	return false
}

// Subscription receives account updates until closed.
type Subscription struct {
	C <-chan AccountUpdate

	id     uint64
	ch     chan AccountUpdate
	filter AccountFilter
	subs   *subscribers
}

// Close stops the subscription and closes C.
func (s *Subscription) Close() {
	s.subs.remove(s.id)
}

type subscribers struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[uint64]*Subscription)}
}

// SubscribeAccounts delivers every committed change matching filter. A
// subscriber that falls behind loses its oldest undelivered updates. Once
// the ledger is closed the returned subscription is already closed.
func (l *Ledger) SubscribeAccounts(filter AccountFilter) *Subscription {
	return l.subs.add(filter, l.config.SubscriberBuffer)
}

func (s *subscribers) add(filter AccountFilter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ch := make(chan AccountUpdate, buffer)
	sub := &Subscription{
		C:      ch,
		id:     s.nextID,
		ch:     ch,
		filter: filter,
		subs:   s,
	}
	if s.closed {
		close(ch)
		return sub
	}
	s.subs[sub.id] = sub
	return sub
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// publish sends the updates of a successful transaction to every
// matching subscriber.
func (s *subscribers) publish(slot uint64, result *runtime.Result) {
	if result.Failed() || len(result.Updates) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range result.Updates {
		for _, sub := range s.subs {
			if !sub.filter.Matches(u.Pubkey, u.Account) {
				continue
			}
			update := AccountUpdate{
				Pubkey:    u.Pubkey,
				Account:   u.Account.Clone(),
				Slot:      slot,
				Signature: result.Signature,
			}

			// Non-blocking send, dropping the oldest update when full.
			select {
			case sub.ch <- update:
			default:
				select {
				case <-sub.ch:
				default:
				}
				sub.ch <- update
			}
		}
	}
}
