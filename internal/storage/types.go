package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("user not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// User is one registered bot user.
type User struct {
	ID         int64
	Username   string
	Balance    float64
	ReferredBy int64 // 0 when the user joined without a referrer
	CreatedAt  time.Time
}
