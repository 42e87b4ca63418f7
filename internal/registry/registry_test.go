package registry

import (
	"errors"
	"testing"
	"time"

	"restockbot/internal/product"
)

func ident(p, v string) product.Identity {
	return product.Identity{ProductID: p, VendorItemID: v}
}

func sub(chat int64, id product.Identity) product.Subscription {
	return product.Subscription{ChatID: chat, Identity: id, AddedAt: time.Now()}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	id := ident("123", "456")

	if err := r.Register(sub(1, id)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(sub(1, id))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second register: got %v, want ErrAlreadyRegistered", err)
	}
	if got := len(r.Subscribers(id)); got != 1 {
		t.Fatalf("expected exactly 1 subscription, got %d", got)
	}
}

func TestVendorItemDistinguishesTargets(t *testing.T) {
	r := New()
	if err := r.Register(sub(1, ident("123", "456"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Same product page, no vendor item id: a different target.
	if err := r.Register(sub(1, ident("123", ""))); err != nil {
		t.Fatalf("register without vendor item id: %v", err)
	}
	if got := len(r.Targets()); got != 2 {
		t.Fatalf("expected 2 targets, got %d", got)
	}
}

func TestTargetLifecycle(t *testing.T) {
	r := New()
	a := ident("1", "10")
	b := ident("2", "20")

	_ = r.Register(sub(1, a))
	_ = r.Register(sub(2, a))
	_ = r.Register(sub(1, b))

	if got := len(r.Targets()); got != 2 {
		t.Fatalf("expected 2 targets, got %d", got)
	}

	if n := r.Unregister(1, a); n != 1 {
		t.Fatalf("unregister: got %d, want 1", n)
	}
	// a still has chat 2 watching.
	if got := len(r.Targets()); got != 2 {
		t.Fatalf("expected 2 targets after partial unregister, got %d", got)
	}

	if n := r.Unregister(2, a); n != 1 {
		t.Fatalf("unregister: got %d, want 1", n)
	}
	targets := r.Targets()
	if len(targets) != 1 || targets[0] != b {
		t.Fatalf("expected only %v monitored, got %v", b, targets)
	}

	if n := r.Unregister(99, b); n != 0 {
		t.Fatalf("unregister for unknown chat: got %d, want 0", n)
	}
	if n := r.UnregisterAll(b); n != 1 {
		t.Fatalf("unregister all: got %d, want 1", n)
	}
	if got := len(r.Targets()); got != 0 {
		t.Fatalf("expected empty target set, got %d", got)
	}
}

func TestSubscriberOrder(t *testing.T) {
	r := New()
	id := ident("123", "456")
	for chat := int64(1); chat <= 5; chat++ {
		if err := r.Register(sub(chat, id)); err != nil {
			t.Fatalf("register chat %d: %v", chat, err)
		}
	}
	list := r.Subscribers(id)
	if len(list) != 5 {
		t.Fatalf("expected 5 subscribers, got %d", len(list))
	}
	for i, s := range list {
		if s.ChatID != int64(i+1) {
			t.Fatalf("expected registration order, got chat %d at index %d", s.ChatID, i)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	r := New()
	_ = r.Register(product.Subscription{ChatID: 1, Identity: ident("1", "10"), ItemName: "keyboard", AddedAt: time.Unix(100, 0).UTC()})
	_ = r.Register(product.Subscription{ChatID: 2, Identity: ident("1", "10"), AddedAt: time.Unix(200, 0).UTC()})
	_ = r.Register(product.Subscription{ChatID: 1, Identity: ident("2", ""), AddedAt: time.Unix(300, 0).UTC()})

	exported := r.Export()
	if len(exported) != 3 {
		t.Fatalf("expected 3 exported subscriptions, got %d", len(exported))
	}

	restored := New()
	restored.Import(exported)
	again := restored.Export()
	if len(again) != len(exported) {
		t.Fatalf("round trip changed count: %d != %d", len(again), len(exported))
	}
	for i := range again {
		if again[i] != exported[i] {
			t.Fatalf("round trip changed entry %d: %+v != %+v", i, again[i], exported[i])
		}
	}
}

func TestImportDropsDuplicates(t *testing.T) {
	r := New()
	id := ident("1", "10")
	s := sub(1, id)
	r.Import([]product.Subscription{s, s})
	if got := len(r.Subscribers(id)); got != 1 {
		t.Fatalf("expected duplicate dropped on import, got %d", got)
	}
}

func TestChangeHookFiresOnMutation(t *testing.T) {
	r := New()
	calls := 0
	r.SetOnChange(func() { calls++ })

	id := ident("1", "10")
	_ = r.Register(sub(1, id))
	_ = r.Register(sub(1, id)) // duplicate: no change
	r.Unregister(2, id)        // nothing removed: no change
	r.Unregister(1, id)

	if calls != 2 {
		t.Fatalf("expected 2 change callbacks, got %d", calls)
	}
}

func TestByChat(t *testing.T) {
	r := New()
	_ = r.Register(sub(1, ident("1", "10")))
	_ = r.Register(sub(2, ident("1", "10")))
	_ = r.Register(sub(1, ident("2", "20")))

	mine := r.ByChat(1)
	if len(mine) != 2 {
		t.Fatalf("expected 2 subscriptions for chat 1, got %d", len(mine))
	}
	if mine[0].Identity.ProductID != "1" || mine[1].Identity.ProductID != "2" {
		t.Fatalf("expected target insertion order, got %v", mine)
	}
}
