package product

import "testing"

func TestIdentityKey(t *testing.T) {
	a := Identity{ProductID: "123", VendorItemID: "456"}
	b := Identity{ProductID: "123"}
	if a.Key() != "123:456" {
		t.Fatalf("unexpected key: %q", a.Key())
	}
	if b.Key() != "123" {
		t.Fatalf("unexpected key: %q", b.Key())
	}
	if a == b {
		t.Fatalf("identities with and without vendor item id must differ")
	}
	if a != (Identity{ProductID: "123", VendorItemID: "456"}) {
		t.Fatalf("equal identities must compare equal")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(Info{Invalid: true, SoldOut: true}); got != StateInvalid {
		t.Fatalf("invalid flag must win, got %v", got)
	}
	if got := Classify(Info{SoldOut: true}); got != StateOutOfStock {
		t.Fatalf("sold out: got %v", got)
	}
	if got := Classify(Info{}); got != StateInStock {
		t.Fatalf("in stock: got %v", got)
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		prev, next StockState
		want       EventKind
	}{
		{StateUnknown, StateOutOfStock, EventNone},
		{StateUnknown, StateInStock, EventRestocked},
		{StateUnknown, StateInvalid, EventDiscontinued},
		{StateOutOfStock, StateOutOfStock, EventNone},
		{StateOutOfStock, StateInStock, EventRestocked},
		{StateOutOfStock, StateInvalid, EventDiscontinued},
		{StateInStock, StateInStock, EventNone},
		{StateInStock, StateOutOfStock, EventNone},
		{StateInStock, StateInvalid, EventDiscontinued},
		// Invalid is terminal: no edges fire out of it.
		{StateInvalid, StateInStock, EventNone},
		{StateInvalid, StateOutOfStock, EventNone},
		{StateInvalid, StateInvalid, EventNone},
	}
	for _, c := range cases {
		if got := Transition(c.prev, c.next); got != c.want {
			t.Fatalf("%v -> %v: got %v, want %v", c.prev, c.next, got, c.want)
		}
	}
}
