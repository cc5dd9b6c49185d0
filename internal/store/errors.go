package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrQuotaExceeded reports a write rejected for lack of capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrClosed reports use of a closed backend.
	ErrClosed = errors.New("store closed")
)

// isFull reports whether err is SQLite's "database or disk is full".
func isFull(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrFull
	}
	return false
}
