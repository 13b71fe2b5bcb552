// Package storage persists bot users (id, username, referral balance, referrer).
//
// The only backend is SQLite (modernc.org/sqlite, pure Go). Callers hold an
// explicit Store handle; there is no package-level connection.
package storage
