package storage

import (
	"context"
	"errors"
	"strings"

	logx "referbot/pkg/logx"
)

// Store is the persistence API used by the referral service and the broadcast source.
type Store interface {
	// UpsertUser registers id. An existing user only gets its username refreshed;
	// balance and referrer are kept. created reports whether a new row was inserted.
	UpsertUser(ctx context.Context, id int64, username string, referredBy int64) (created bool, err error)
	GetUser(ctx context.Context, id int64) (User, error)
	// AddBalance credits amount to id. It returns ErrNotFound for unknown users.
	AddBalance(ctx context.Context, id int64, amount float64) error
	// ListUserIDs returns every user id ordered by id.
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
