package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"restockbot/internal/product"
	logx "restockbot/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	// Empty store loads as empty, not as an error.
	subs, err := st.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no subscriptions, got %d", len(subs))
	}

	want := []product.Subscription{
		{ChatID: 1, Identity: product.Identity{ProductID: "123", VendorItemID: "456"}, ItemName: "keyboard", AddedAt: time.Unix(100, 0).UTC()},
		{ChatID: 2, Identity: product.Identity{ProductID: "123", VendorItemID: "456"}, AddedAt: time.Unix(200, 0).UTC()},
		{ChatID: 1, Identity: product.Identity{ProductID: "789"}, AddedAt: time.Unix(300, 0).UTC()},
	}
	if err := st.SaveSubscriptions(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d subscriptions, got %d", len(want), len(got))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("entry %d changed in round trip: %+v != %+v", i, got[i], want[i])
		}
	}

	// A later save replaces the snapshot wholesale.
	if err := st.SaveSubscriptions(ctx, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	got, err = st.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected cleared snapshot, got %d entries", len(got))
	}
}

func TestFileStoreAudit(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	e := AuditEntry{ID: "a1", ChatID: 7, Action: "add", Target: "123:456"}
	if err := st.AppendAudit(context.Background(), e); err != nil {
		t.Fatalf("append audit: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil store when disabled")
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("expected disabled store, got %v / %v", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
