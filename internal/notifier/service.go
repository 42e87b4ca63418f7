// Package notifier fans restock/discontinued events out to the waiting
// subscribers, exactly once per transition, and retires the fulfilled
// subscriptions.
package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"restockbot/internal/eventbus"
	"restockbot/internal/product"
	"restockbot/internal/transport"
	logx "restockbot/pkg/logx"
)

// CheckoutResolver turns an in-stock product into a direct-checkout link.
type CheckoutResolver interface {
	CheckoutURL(ctx context.Context, id product.Identity, info product.Info) (string, error)
	ProductPageURL(id product.Identity) string
}

// SubscriberSource is the slice of the registry the dispatcher needs:
// an atomic snapshot of subscribers and the post-delivery removal.
type SubscriberSource interface {
	Subscribers(id product.Identity) []product.Subscription
	Unregister(chatID int64, id product.Identity) int
}

type Config struct {
	Enabled     bool
	RatePerSec  int
	SendTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

type HistoryItem struct {
	At   time.Time
	Kind product.EventKind
	Text string
}

// Service is the dispatcher. Run consumes the watcher's event stream;
// everything else is bookkeeping.
type Service struct {
	mu  sync.Mutex
	cfg Config

	subs     SubscriberSource
	resolver CheckoutResolver
	sink     transport.Adapter
	log      logx.Logger
	bus      eventbus.Bus

	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, subs SubscriberSource, resolver CheckoutResolver, sink transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		subs:     subs,
		resolver: resolver,
		sink:     sink,
		log:      log,
		bus:      bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	cfg.defaults()
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't stall.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Run drains the event stream until ctx is done or the stream closes.
// Intended to run under the app supervisor.
func (s *Service) Run(ctx context.Context, events <-chan product.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Dispatch(ctx, ev)
		}
	}
}

// Dispatch handles one transition event: snapshot subscribers, resolve a
// checkout link, send one message per subscriber in registration order,
// then drop the fulfilled subscriptions.
//
// Delivery failures are logged per subscriber and never abort the loop;
// the subscription is still retired (this generation of the event is
// spent either way).
func (s *Service) Dispatch(ctx context.Context, ev product.Event) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if !cfg.Enabled {
		return
	}

	// The snapshot is the linearization point: a register landing after
	// this call stays registered and is covered by a future transition.
	list := s.subs.Subscribers(ev.Identity)
	if len(list) == 0 {
		// Everyone unsubscribed between the poll snapshot and now.
		return
	}

	var checkoutURL string
	if ev.Kind == product.EventRestocked {
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		u, err := s.resolver.CheckoutURL(cctx, ev.Identity, ev.Info)
		cancel()
		if err != nil {
			// Degrade to a linkless alert; the restock itself still counts.
			s.log.Warn("checkout resolution failed",
				logx.String("product", ev.Identity.Key()), logx.Err(err))
		} else {
			checkoutURL = u
		}
	}
	pageURL := s.resolver.ProductPageURL(ev.Identity)

	sent, failed := 0, 0
	for _, sub := range list {
		var text string
		switch ev.Kind {
		case product.EventRestocked:
			text = renderRestock(displayName(ev.Info, sub), pageURL, checkoutURL, ev.Info)
		case product.EventDiscontinued:
			text = renderDiscontinued(displayName(ev.Info, sub), pageURL)
		default:
			continue
		}

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}

		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.sink.SendText(sctx, transport.ChatTarget{ChatID: sub.ChatID}, text, &transport.SendOptions{ParseMode: "Markdown"})
		cancel()
		if err != nil {
			failed++
			s.log.Warn("notification delivery failed",
				logx.Int64("chat", sub.ChatID),
				logx.String("product", ev.Identity.Key()),
				logx.Err(err))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: map[string]any{
					"chat": sub.ChatID, "product": ev.Identity.Key(), "err": err.Error(),
				}})
			}
			continue
		}
		sent++
		s.appendHistory(HistoryItem{At: time.Now(), Kind: ev.Kind, Text: text})
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: map[string]any{
				"chat": sub.ChatID, "product": ev.Identity.Key(),
			}})
		}
	}

	// Retire only the snapshotted subscriptions: anyone who registered
	// during the fan-out keeps their watch for a future transition.
	removed := 0
	for _, sub := range list {
		removed += s.subs.Unregister(sub.ChatID, ev.Identity)
	}
	s.log.Info("transition dispatched",
		logx.String("product", ev.Identity.Key()),
		logx.String("kind", ev.Kind.String()),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Int("unregistered", removed))
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}

// History returns a copy of the recent delivery log (for /status).
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
