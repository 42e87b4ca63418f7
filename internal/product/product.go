// Package product holds the shared value types of the restock pipeline:
// product identities, scraped product info, subscriptions and the
// per-product stock state machine.
package product

import (
	"strconv"
	"time"
)

// Identity is the canonical key for a monitored product.
//
// VendorItemID is optional (a product URL without an offer id). Two
// identities are equal iff both fields match; an absent VendorItemID only
// matches an absent one.
type Identity struct {
	ProductID    string `json:"product_id"`
	VendorItemID string `json:"vendor_item_id,omitempty"`
}

func (id Identity) IsZero() bool { return id.ProductID == "" }

// Key returns a stable string form usable as a map key.
func (id Identity) Key() string {
	if id.VendorItemID == "" {
		return id.ProductID
	}
	return id.ProductID + ":" + id.VendorItemID
}

func (id Identity) String() string { return id.Key() }

// Info is the provider's view of a product page.
//
// The scraped page exposes more than we need; only the fields the bot
// renders or decides on are carried.
type Info struct {
	ItemName        string `json:"item_name"`
	ItemID          int64  `json:"item_id,omitempty"`
	SoldOut         bool   `json:"sold_out"`
	Invalid         bool   `json:"invalid"`
	AlmostSoldOut   bool   `json:"almost_sold_out"`
	Inventory       int    `json:"inventory,omitempty"`
	IsPreOrder      bool   `json:"is_pre_order,omitempty"`
	BuyableQuantity int    `json:"buyable_quantity,omitempty"`
}

// Subscription is one subscriber's standing request to be told when a
// product comes back in stock. Immutable after creation; the registry
// only ever removes it.
type Subscription struct {
	ChatID   int64     `json:"chat_id"`
	Identity Identity  `json:"identity"`
	ItemName string    `json:"item_name,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// SameKey reports whether two subscriptions would collide in the registry
// (same subscriber, same product).
func (s Subscription) SameKey(o Subscription) bool {
	return s.ChatID == o.ChatID && s.Identity == o.Identity
}

// ---- Stock state machine ----

// StockState is the last observed availability of a monitored product.
type StockState int

const (
	StateUnknown StockState = iota
	StateOutOfStock
	StateInStock
	StateInvalid // terminal: product discontinued/removed
)

func (s StockState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateOutOfStock:
		return "out_of_stock"
	case StateInStock:
		return "in_stock"
	case StateInvalid:
		return "invalid"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether polling should stop for this state.
func (s StockState) Terminal() bool { return s == StateInvalid }

// Classify maps a fetched Info to an observed state.
func Classify(info Info) StockState {
	switch {
	case info.Invalid:
		return StateInvalid
	case info.SoldOut:
		return StateOutOfStock
	default:
		return StateInStock
	}
}

// EventKind is a detected state transition worth acting on.
type EventKind int

const (
	EventNone EventKind = iota
	// EventRestocked fires on Unknown|OutOfStock -> InStock.
	EventRestocked
	// EventDiscontinued fires on any -> Invalid.
	EventDiscontinued
)

func (k EventKind) String() string {
	switch k {
	case EventRestocked:
		return "restocked"
	case EventDiscontinued:
		return "discontinued"
	default:
		return "none"
	}
}

// Transition classifies the prev -> next edge.
//
// Invalid is terminal: once there, nothing fires again. InStock -> InStock
// and OutOfStock -> OutOfStock are silent, as is the initial settling into
// OutOfStock (subscriptions only exist for sold-out products, so there is
// nothing to announce).
func Transition(prev, next StockState) EventKind {
	if prev.Terminal() {
		return EventNone
	}
	switch next {
	case StateInvalid:
		return EventDiscontinued
	case StateInStock:
		if prev == StateUnknown || prev == StateOutOfStock {
			return EventRestocked
		}
	}
	return EventNone
}

// Event is a detected transition for one product, handed from the watcher
// to the dispatcher.
type Event struct {
	Kind     EventKind
	Identity Identity
	Info     Info
	At       time.Time
}
