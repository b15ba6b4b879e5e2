package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open bootstraps a SQLite database using the provided filesystem path.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return db, nil
}

// WithTimeout returns a session bounded by a deadline. Every store call in
// the engine goes through this so a hung store surfaces as a storage error
// instead of stalling the request. Callers must invoke cancel once the query
// has run.
func WithTimeout(db *gorm.DB, timeout time.Duration) (*gorm.DB, context.CancelFunc) {
	if timeout <= 0 {
		return db, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return db.WithContext(ctx), cancel
}
