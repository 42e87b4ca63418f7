// Package registry owns the subscription index: who is waiting for which
// product. It is the single shared mutable structure of the bot; all
// mutation goes through its methods and is linearized by one mutex.
package registry

import (
	"errors"
	"sync"
	"time"

	"restockbot/internal/product"
)

var ErrAlreadyRegistered = errors.New("already registered")

// ChangeFunc is invoked (outside of the registry lock) after every
// successful mutation. The app uses it to persist the current export.
type ChangeFunc func()

// Registry maps product identities to the ordered set of subscribers
// waiting for a restock.
//
// Contract:
//   - Register is idempotent per (chat, identity); duplicates report
//     ErrAlreadyRegistered and change nothing.
//   - Subscribers returns insertion order, so notification fan-out is
//     deterministic.
//   - Targets reflects exactly the identities with >= 1 subscription;
//     removing the last subscriber removes the target.
type Registry struct {
	mu       sync.Mutex
	subs     map[product.Identity][]product.Subscription
	order    []product.Identity // target insertion order, for stable export
	onChange ChangeFunc
}

func New() *Registry {
	return &Registry{subs: map[product.Identity][]product.Subscription{}}
}

// SetOnChange installs the persistence hook. Not safe to swap while
// concurrent mutations are running; wire it during startup.
func (r *Registry) SetOnChange(fn ChangeFunc) { r.onChange = fn }

func (r *Registry) notifyChange() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Register adds a subscription. A second registration for the same
// (chat, identity) pair is a reported no-op.
func (r *Registry) Register(sub product.Subscription) error {
	if sub.Identity.IsZero() {
		return errors.New("empty product identity")
	}
	if sub.AddedAt.IsZero() {
		sub.AddedAt = time.Now()
	}

	r.mu.Lock()
	list := r.subs[sub.Identity]
	for _, s := range list {
		if s.SameKey(sub) {
			r.mu.Unlock()
			return ErrAlreadyRegistered
		}
	}
	if len(list) == 0 {
		r.order = append(r.order, sub.Identity)
	}
	r.subs[sub.Identity] = append(list, sub)
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

// Unregister removes one subscriber's watch on one identity.
// Returns the number of removed subscriptions (0 or 1).
func (r *Registry) Unregister(chatID int64, id product.Identity) int {
	r.mu.Lock()
	list := r.subs[id]
	removed := 0
	kept := list[:0]
	for _, s := range list {
		if s.ChatID == chatID {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	if removed > 0 {
		if len(kept) == 0 {
			delete(r.subs, id)
			r.dropOrderLocked(id)
		} else {
			r.subs[id] = kept
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.notifyChange()
	}
	return removed
}

// UnregisterAll drops every subscription for an identity, regardless of
// chat. Administrative bulk removal; the dispatcher retires delivered
// subscriptions one by one so a concurrent registration is never lost.
func (r *Registry) UnregisterAll(id product.Identity) int {
	r.mu.Lock()
	n := len(r.subs[id])
	if n > 0 {
		delete(r.subs, id)
		r.dropOrderLocked(id)
	}
	r.mu.Unlock()

	if n > 0 {
		r.notifyChange()
	}
	return n
}

// UnregisterByChat removes every subscription a chat holds, returning the
// identities that lost their last subscriber. Backs the /del command when
// given a bare product id.
func (r *Registry) UnregisterByChat(chatID int64, match func(product.Subscription) bool) int {
	r.mu.Lock()
	removed := 0
	for id, list := range r.subs {
		kept := list[:0]
		for _, s := range list {
			if s.ChatID == chatID && (match == nil || match(s)) {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.subs, id)
			r.dropOrderLocked(id)
		} else {
			r.subs[id] = kept
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.notifyChange()
	}
	return removed
}

func (r *Registry) dropOrderLocked(id product.Identity) {
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Subscribers returns the subscriptions for one identity in registration
// order. The returned slice is a copy.
func (r *Registry) Subscribers(id product.Identity) []product.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[id]
	if len(list) == 0 {
		return nil
	}
	return append([]product.Subscription(nil), list...)
}

// ByChat returns all subscriptions held by one chat, grouped by target
// insertion order. Backs the /list command.
func (r *Registry) ByChat(chatID int64) []product.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []product.Subscription
	for _, id := range r.order {
		for _, s := range r.subs[id] {
			if s.ChatID == chatID {
				out = append(out, s)
			}
		}
	}
	return out
}

// Targets returns the distinct identities currently monitored, in target
// insertion order.
func (r *Registry) Targets() []product.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]product.Identity(nil), r.order...)
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, list := range r.subs {
		n += len(list)
	}
	return n
}

// Export returns every subscription in deterministic order (targets by
// insertion, subscribers by registration). The result round-trips through
// Import losslessly.
func (r *Registry) Export() []product.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]product.Subscription, 0, 16)
	for _, id := range r.order {
		out = append(out, r.subs[id]...)
	}
	return out
}

// Import replaces the registry content with the given subscriptions,
// preserving their order and dropping duplicates. Used at startup to
// restore persisted state; does not fire the change hook.
func (r *Registry) Import(subs []product.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = map[product.Identity][]product.Subscription{}
	r.order = nil
	for _, sub := range subs {
		if sub.Identity.IsZero() {
			continue
		}
		list := r.subs[sub.Identity]
		dup := false
		for _, s := range list {
			if s.SameKey(sub) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if len(list) == 0 {
			r.order = append(r.order, sub.Identity)
		}
		r.subs[sub.Identity] = append(list, sub)
	}
}
