package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"restockbot/internal/product"
	"restockbot/internal/registry"
	logx "restockbot/pkg/logx"
)

func testService(t *testing.T, reg *registry.Registry, p Provider) *Service {
	t.Helper()
	return New(Config{Enabled: true, FetchTimeout: time.Second, MaxConcurrent: 4}, p, reg, logx.Nop(), nil)
}

func register(t *testing.T, reg *registry.Registry, chat int64, id product.Identity) {
	t.Helper()
	if err := reg.Register(product.Subscription{ChatID: chat, Identity: id, AddedAt: time.Now()}); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func drainEvent(t *testing.T, s *Service) product.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("expected an event")
		return product.Event{}
	}
}

func expectNoEvent(t *testing.T, s *Service) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

// Scenario A: register while sold out, one quiet tick, then restock.
func TestRestockTransition(t *testing.T) {
	id := product.Identity{ProductID: "123", VendorItemID: "456"}
	reg := registry.New()
	register(t, reg, 1, id)

	soldOut := true
	p := ProviderFunc(func(ctx context.Context, got product.Identity) (product.Info, error) {
		if got != id {
			t.Errorf("fetched unexpected identity %v", got)
		}
		return product.Info{ItemName: "keyboard", SoldOut: soldOut}, nil
	})
	s := testService(t, reg, p)
	ctx := context.Background()

	if !s.TickNow(ctx) {
		t.Fatalf("tick did not run")
	}
	expectNoEvent(t, s)
	if got := s.State(id); got != product.StateOutOfStock {
		t.Fatalf("state after first tick: %v", got)
	}

	s.TickNow(ctx)
	expectNoEvent(t, s) // OutOfStock -> OutOfStock is silent

	soldOut = false
	s.TickNow(ctx)
	ev := drainEvent(t, s)
	if ev.Kind != product.EventRestocked || ev.Identity != id {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Info.ItemName != "keyboard" {
		t.Fatalf("event info not carried: %+v", ev.Info)
	}
	if got := s.State(id); got != product.StateInStock {
		t.Fatalf("state after restock: %v", got)
	}

	// Staying in stock raises nothing further.
	s.TickNow(ctx)
	expectNoEvent(t, s)
}

func TestUnknownDirectlyInStock(t *testing.T) {
	id := product.Identity{ProductID: "9"}
	reg := registry.New()
	register(t, reg, 1, id)

	s := testService(t, reg, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{}, nil // in stock
	}))
	s.TickNow(context.Background())
	if ev := drainEvent(t, s); ev.Kind != product.EventRestocked {
		t.Fatalf("expected restock from unknown, got %+v", ev)
	}
}

// Scenario C: invalid product is terminal until re-registered.
func TestDiscontinuedTerminal(t *testing.T) {
	id := product.Identity{ProductID: "55", VendorItemID: "66"}
	reg := registry.New()
	register(t, reg, 1, id)

	invalid := true
	s := testService(t, reg, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{Invalid: invalid}, nil
	}))
	ctx := context.Background()

	s.TickNow(ctx)
	if ev := drainEvent(t, s); ev.Kind != product.EventDiscontinued {
		t.Fatalf("expected discontinued, got %+v", ev)
	}
	if got := s.State(id); got != product.StateInvalid {
		t.Fatalf("state: %v", got)
	}

	// Even if the page starts looking healthy again, Invalid is terminal.
	invalid = false
	s.TickNow(ctx)
	expectNoEvent(t, s)
	if got := s.State(id); got != product.StateInvalid {
		t.Fatalf("terminal state must stick, got %v", got)
	}

	// Dispatcher dropped the subscriptions; state is pruned and a fresh
	// registration starts over from Unknown.
	reg.UnregisterAll(id)
	s.TickNow(ctx)
	if got := s.State(id); got != product.StateUnknown {
		t.Fatalf("expected pruned state, got %v", got)
	}
	register(t, reg, 2, id)
	s.TickNow(ctx)
	if ev := drainEvent(t, s); ev.Kind != product.EventRestocked {
		t.Fatalf("expected restock after re-registration, got %+v", ev)
	}
}

// Scenario D: transient failures change nothing, forever.
func TestTransientFailuresLeaveStateAlone(t *testing.T) {
	id := product.Identity{ProductID: "7"}
	reg := registry.New()
	register(t, reg, 1, id)

	var calls int32
	s := testService(t, reg, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		atomic.AddInt32(&calls, 1)
		return product.Info{}, errors.New("timeout")
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.TickNow(ctx)
	}
	expectNoEvent(t, s)
	if got := s.State(id); got != product.StateUnknown {
		t.Fatalf("state must stay unknown, got %v", got)
	}
	if got := len(reg.Subscribers(id)); got != 1 {
		t.Fatalf("subscribers must stay registered, got %d", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected a retry per tick, got %d calls", calls)
	}

	// Failure after a recorded state keeps the recorded state.
	okNow := ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{SoldOut: true}, nil
	})
	s.provider = okNow
	s.TickNow(ctx)
	s.provider = ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{}, errors.New("timeout")
	})
	s.TickNow(ctx)
	if got := s.State(id); got != product.StateOutOfStock {
		t.Fatalf("recorded state lost on transient failure: %v", got)
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	id := product.Identity{ProductID: "1"}
	reg := registry.New()
	register(t, reg, 1, id)

	block := make(chan struct{})
	entered := make(chan struct{})
	s := testService(t, reg, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		close(entered)
		<-block
		return product.Info{SoldOut: true}, nil
	}))

	done := make(chan bool, 1)
	go func() { done <- s.TickNow(context.Background()) }()
	<-entered

	if s.TickNow(context.Background()) {
		t.Fatalf("overlapping tick must be skipped")
	}
	close(block)
	if !<-done {
		t.Fatalf("first tick should have run")
	}
}

func TestBoundedConcurrency(t *testing.T) {
	reg := registry.New()
	for i := 0; i < 16; i++ {
		register(t, reg, 1, product.Identity{ProductID: string(rune('a' + i))})
	}

	var cur, peak int32
	var mu sync.Mutex
	p := ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		n := atomic.AddInt32(&cur, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return product.Info{SoldOut: true}, nil
	})

	s := New(Config{Enabled: true, FetchTimeout: time.Second, MaxConcurrent: 3}, p, reg, logx.Nop(), nil)
	s.TickNow(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Fatalf("concurrency bound exceeded: peak %d", peak)
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	id := product.Identity{ProductID: "slow"}
	reg := registry.New()
	register(t, reg, 1, id)

	p := ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		<-ctx.Done()
		return product.Info{}, ctx.Err()
	})
	s := New(Config{Enabled: true, FetchTimeout: 10 * time.Millisecond, MaxConcurrent: 1}, p, reg, logx.Nop(), nil)
	s.TickNow(context.Background())
	expectNoEvent(t, s)
	if got := s.State(id); got != product.StateUnknown {
		t.Fatalf("timeout must not change state, got %v", got)
	}
}

func TestStartStop(t *testing.T) {
	reg := registry.New()
	s := New(Config{Enabled: true, Interval: time.Hour}, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{}, nil
	}), reg, logx.Nop(), nil)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
}

func TestStartRejectsBadCron(t *testing.T) {
	reg := registry.New()
	s := New(Config{Enabled: true, CronSpec: "not a cron"}, ProviderFunc(func(ctx context.Context, _ product.Identity) (product.Info, error) {
		return product.Info{}, nil
	}), reg, logx.Nop(), nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron spec to fail start")
	}
}
