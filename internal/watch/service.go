// Package watch polls every monitored product on a fixed cadence and
// turns availability changes into typed events for the dispatcher.
//
// One tick never overlaps another; per-product fetches inside a tick run
// concurrently up to a bounded limit, each with its own deadline, so one
// stuck product cannot stall the rest.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"restockbot/internal/eventbus"
	"restockbot/internal/product"
	logx "restockbot/pkg/logx"
)

// Provider answers "what does the product page say right now".
type Provider interface {
	ProductInfo(ctx context.Context, id product.Identity) (product.Info, error)
}

type ProviderFunc func(ctx context.Context, id product.Identity) (product.Info, error)

func (f ProviderFunc) ProductInfo(ctx context.Context, id product.Identity) (product.Info, error) {
	return f(ctx, id)
}

// TargetSource yields the distinct identities to poll. The registry
// implements it.
type TargetSource interface {
	Targets() []product.Identity
}

// Config controls the polling loop.
//
// If CronSpec is set it wins over Interval. All zero values fall back to
// defaults (300s interval, 1s fetch timeout, 4 concurrent fetches,
// 256-event buffer).
type Config struct {
	Enabled       bool
	Interval      time.Duration
	CronSpec      string
	FetchTimeout  time.Duration
	MaxConcurrent int
	// EventBuffer sizes the transition stream between the watcher and
	// its consumer. Fixed at construction; Apply cannot resize it.
	EventBuffer int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Service is the polling scheduler.
type Service struct {
	mu  sync.Mutex
	cfg Config

	provider Provider
	targets  TargetSource
	log      logx.Logger
	bus      eventbus.Bus

	// state is the last recorded StockState per identity. Only the tick
	// goroutine writes it; the mutex covers reads from introspection.
	stateMu sync.Mutex
	state   map[product.Identity]product.StockState

	events chan product.Event

	// tickMu serializes ticks: a trigger that fires while a tick is in
	// flight is skipped, never queued.
	tickMu   sync.Mutex
	inTick   bool
	lastTick time.Time

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// cronParser accepts 5-field specs, 6-field (seconds) specs and the
// @every/@hourly descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, provider Provider, targets TargetSource, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		targets:  targets,
		log:      log,
		bus:      bus,
		state:    map[product.Identity]product.StockState{},
		events:   make(chan product.Event, cfg.EventBuffer),
	}
}

// Events returns the transition stream. The dispatcher must keep draining
// it while the watcher runs.
func (s *Service) Events() <-chan product.Event { return s.events }

// Apply swaps the polling knobs. The cadence is re-read before every
// trigger, so the new settings take effect for the next tick; an
// in-flight tick finishes under the old fetch settings.
func (s *Service) Apply(cfg Config) {
	cfg.defaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// ValidateSpec reports whether a cron spec parses.
func ValidateSpec(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// Start launches the trigger loop. It is a no-op when already running or
// disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runDone != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("watch disabled; not starting")
		return nil
	}
	if s.cfg.CronSpec != "" {
		if err := ValidateSpec(s.cfg.CronSpec); err != nil {
			return err
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	done := make(chan struct{})
	s.runDone = done

	go func() {
		defer close(done)
		s.loop(rctx)
	}()
	return nil
}

// Stop halts the trigger loop and waits for an in-flight tick, bounded by
// ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	done := s.runDone
	s.runCancel = nil
	s.runDone = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) loop(ctx context.Context) {
	for {
		s.mu.Lock()
		interval := s.cfg.Interval
		spec := s.cfg.CronSpec
		s.mu.Unlock()

		wait := interval
		if spec != "" {
			if sched, err := cronParser.Parse(spec); err == nil {
				wait = time.Until(sched.Next(time.Now()))
				if wait < 0 {
					wait = 0
				}
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		s.TickNow(ctx)
	}
}

// TickNow runs one poll cycle synchronously. If a tick is already in
// flight the call returns false immediately (ticks never overlap).
func (s *Service) TickNow(ctx context.Context) bool {
	s.tickMu.Lock()
	if s.inTick {
		s.tickMu.Unlock()
		s.log.Debug("tick skipped; previous still running")
		return false
	}
	s.inTick = true
	s.tickMu.Unlock()

	defer func() {
		s.tickMu.Lock()
		s.inTick = false
		s.lastTick = time.Now()
		s.tickMu.Unlock()
	}()

	s.runTick(ctx)
	return true
}

func (s *Service) runTick(ctx context.Context) {
	targets := s.targets.Targets()
	if len(targets) == 0 {
		s.pruneState(targets)
		return
	}

	s.mu.Lock()
	fetchTimeout := s.cfg.FetchTimeout
	maxConc := s.cfg.MaxConcurrent
	s.mu.Unlock()

	start := time.Now()
	s.log.Debug("tick start", logx.Int("targets", len(targets)))

	sem := make(chan struct{}, maxConc)
	results := make([]tickResult, len(targets))
	var wg sync.WaitGroup
	for i, id := range targets {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id product.Identity) {
			defer wg.Done()
			defer func() { <-sem }()
			fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			info, err := s.provider.ProductInfo(fctx, id)
			cancel()
			results[i] = tickResult{id: id, info: info, err: err}
		}(i, id)
	}
	wg.Wait()

	// Transitions are detected and recorded sequentially so state writes
	// stay ordered even though fetches ran concurrently.
	for _, r := range results {
		if r.id.IsZero() {
			continue // slot never fetched (cancelled)
		}
		s.observe(ctx, r)
	}

	s.pruneState(targets)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickDone, Data: map[string]any{
			"targets": len(targets),
			"took_ms": time.Since(start).Milliseconds(),
		}})
	}
}

type tickResult struct {
	id   product.Identity
	info product.Info
	err  error
}

func (s *Service) observe(ctx context.Context, r tickResult) {
	if r.err != nil {
		// Transient by definition: state untouched, retried next tick.
		s.log.Warn("fetch failed; will retry next tick",
			logx.String("product", r.id.Key()), logx.Err(r.err))
		return
	}

	next := product.Classify(r.info)

	s.stateMu.Lock()
	prev := s.state[r.id] // zero value is StateUnknown
	kind := product.Transition(prev, next)
	if !prev.Terminal() {
		// Record before emitting so a crash mid-dispatch cannot re-raise
		// the same transition after restart.
		s.state[r.id] = next
	}
	s.stateMu.Unlock()

	if prev != next {
		s.log.Info("stock state changed",
			logx.String("product", r.id.Key()),
			logx.String("from", prev.String()),
			logx.String("to", next.String()))
	}

	if kind == product.EventNone {
		return
	}

	ev := product.Event{Kind: kind, Identity: r.id, Info: r.info, At: time.Now()}
	if s.bus != nil {
		typ := eventbus.TypeRestocked
		if kind == product.EventDiscontinued {
			typ = eventbus.TypeDiscontinued
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}

	// Blocking hand-off: the dispatcher owns delivery, we own detection.
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// pruneState forgets identities that are no longer monitored, so a
// product re-registered later starts over from Unknown.
func (s *Service) pruneState(targets []product.Identity) {
	keep := make(map[product.Identity]struct{}, len(targets))
	for _, id := range targets {
		keep[id] = struct{}{}
	}
	s.stateMu.Lock()
	for id := range s.state {
		if _, ok := keep[id]; !ok {
			delete(s.state, id)
		}
	}
	s.stateMu.Unlock()
}

// State returns the recorded state for one identity (StateUnknown if the
// identity was never observed).
func (s *Service) State(id product.Identity) product.StockState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state[id]
}

// LastTick returns when the previous tick finished (zero before the first).
func (s *Service) LastTick() time.Time {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.lastTick
}
