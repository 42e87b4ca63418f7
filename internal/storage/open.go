package storage

import (
	"context"
	"errors"
	"strings"

	"restockbot/internal/product"
	logx "restockbot/pkg/logx"
)

// Store is the persistence API used by the app.
//
// SaveSubscriptions always receives the full registry export; drivers
// replace their previous snapshot wholesale, so a restart restores
// exactly the last committed state.
type Store interface {
	SaveSubscriptions(ctx context.Context, subs []product.Subscription) error
	LoadSubscriptions(ctx context.Context) ([]product.Subscription, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
