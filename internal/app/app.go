// Package app wires the bot together: config, logging, storage, the
// Telegram transport, the polling watcher and the notification
// dispatcher, plus the user-facing command surface.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"restockbot/internal/config"
	"restockbot/internal/coupang"
	"restockbot/internal/eventbus"
	"restockbot/internal/notifier"
	"restockbot/internal/product"
	"restockbot/internal/registry"
	"restockbot/internal/runtime/supervisor"
	"restockbot/internal/storage"
	"restockbot/internal/transport"
	"restockbot/internal/transport/telegram"
	"restockbot/internal/watch"
	logx "restockbot/pkg/logx"
)

// productClient is the slice of the Coupang client the command surface
// uses. Tests substitute a fake.
type productClient interface {
	ProductInfo(ctx context.Context, chatID int64, id product.Identity) (product.Info, error)
	CheckoutURL(ctx context.Context, chatID int64, id product.Identity, info product.Info) (string, error)
	ProductPageURL(id product.Identity) string
}

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	reg     *registry.Registry
	client  productClient
	adapter transport.Adapter

	watcher    *watch.Service
	dispatcher *notifier.Service

	sup     *supervisor.Supervisor
	updates chan transport.Message

	// fetchTimeout bounds command-path product lookups (same knob the
	// watcher uses for poll fetches). Atomic: reloads touch it while
	// the command loop reads it.
	fetchTimeout atomic.Int64
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	reg := registry.New()

	client := coupang.New(coupang.Config{
		BaseURL:     cfg.Coupang.BaseURL,
		UserAgent:   cfg.Coupang.UserAgent,
		AffiliateID: cfg.Coupang.AffiliateID,
	}, log.With(logx.String("comp", "coupang")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	watchCfg, err := watchConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	watcher := watch.New(watchCfg,
		watch.ProviderFunc(func(ctx context.Context, id product.Identity) (product.Info, error) {
			// Chat 0 is the watcher's shared scraping session.
			return client.ProductInfo(ctx, 0, id)
		}),
		reg,
		log.With(logx.String("comp", "watch")),
		bus,
	)

	notifCfg, err := notifierConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := notifier.New(notifCfg, reg, sharedSessionResolver{client}, adapter,
		log.With(logx.String("comp", "notifier")), bus)

	a := &App{
		cfgMgr:     mgr,
		logSvc:     logSvc,
		log:        log,
		bus:        bus,
		store:      store,
		reg:        reg,
		client:     client,
		adapter:    adapter,
		watcher:    watcher,
		dispatcher: dispatcher,
		updates:    make(chan transport.Message, 128),
	}
	a.fetchTimeout.Store(int64(watchCfg.FetchTimeout))
	return a, nil
}

// sharedSessionResolver binds the dispatcher to the watcher's scraping
// session (chat 0): checkout sessions for notifications aren't tied to
// any one subscriber.
type sharedSessionResolver struct{ c productClient }

func (r sharedSessionResolver) CheckoutURL(ctx context.Context, id product.Identity, info product.Info) (string, error) {
	return r.c.CheckoutURL(ctx, 0, id, info)
}

func (r sharedSessionResolver) ProductPageURL(id product.Identity) string {
	return r.c.ProductPageURL(id)
}

func watchConfigFrom(cfg *config.Config) (watch.Config, error) {
	interval, err := config.ParseDurationOrDefault("watch.interval", cfg.Watch.Interval, 300*time.Second)
	if err != nil {
		return watch.Config{}, err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("watch.fetch_timeout", cfg.Watch.FetchTimeout, time.Second)
	if err != nil {
		return watch.Config{}, err
	}
	if cfg.Watch.Cron != "" {
		if err := watch.ValidateSpec(cfg.Watch.Cron); err != nil {
			return watch.Config{}, fmt.Errorf("watch.cron: %w", err)
		}
	}
	return watch.Config{
		Enabled:       cfg.Watch.Enabled,
		Interval:      interval,
		CronSpec:      cfg.Watch.Cron,
		FetchTimeout:  fetchTimeout,
		MaxConcurrent: cfg.Watch.MaxConcurrent,
		EventBuffer:   cfg.Notifier.QueueSize,
	}, nil
}

func notifierConfigFrom(cfg *config.Config) (notifier.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	enabled := true
	if cfg.Notifier.Enabled != nil {
		enabled = *cfg.Notifier.Enabled
	}
	return notifier.Config{
		Enabled:     enabled,
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: sendTimeout,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	// Restore persisted subscriptions before anything can mutate them.
	if a.store != nil {
		subs, err := a.store.LoadSubscriptions(ctx)
		if err != nil {
			return fmt.Errorf("restore subscriptions: %w", err)
		}
		a.reg.Import(subs)
		a.log.Info("subscriptions restored", logx.Int("count", len(subs)))

		a.reg.SetOnChange(a.persistRegistry)
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	_ = a.adapter.UpdateMenuCommands(ctx, menuCommands())

	if err := a.watcher.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	a.sup.GoRestart("dispatcher", func(c context.Context) error {
		return a.dispatcher.Run(c, a.watcher.Events())
	})
	a.sup.GoRestart("commands", func(c context.Context) error {
		return a.commandLoop(c)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgMgr.Watch(c)
	})
	a.sup.Go("config.apply", func(c context.Context) error {
		return a.configApplyLoop(c)
	})

	a.log.Info("started", logx.Int("subscriptions", a.reg.Len()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.watcher.Stop(ctx)
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

// persistRegistry snapshots the registry to storage. Called from the
// registry's change hook, outside its lock.
func (a *App) persistRegistry() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.SaveSubscriptions(ctx, a.reg.Export()); err != nil {
		a.log.Error("persisting subscriptions failed", logx.Err(err))
	}
}

// configApplyLoop re-applies reloaded config to the running services.
// Token changes need a restart; everything else applies live.
func (a *App) configApplyLoop(ctx context.Context) error {
	ch := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if wc, err := watchConfigFrom(cfg); err == nil {
				a.watcher.Apply(wc)
				a.fetchTimeout.Store(int64(wc.FetchTimeout))
			} else {
				a.log.Warn("watch config not applied", logx.Err(err))
			}
			if nc, err := notifierConfigFrom(cfg); err == nil {
				a.dispatcher.Apply(nc)
			} else {
				a.log.Warn("notifier config not applied", logx.Err(err))
			}
			a.log.Info("config applied")
		}
	}
}
