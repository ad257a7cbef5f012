// Package store persists the two pieces of state the core keeps locally:
// the seen-nonce set used to reject replayed provider messages, and the
// local fallback provider's per-card usage counters. It is grounded on the
// GORM-plus-glebarez/sqlite pattern used for the reference control-plane's
// embedded store: open a pure-Go SQLite dialector under WAL, AutoMigrate
// the models, done -- no migration-file framework needed for two tables.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NonceRecord is a single accepted provider-message nonce (§6).
type NonceRecord struct {
	Nonce     string `gorm:"primaryKey"`
	Timestamp int64  `gorm:"index"`
}

// LocalCredit is the local fallback provider's per-card usage counter,
// recovered from the original Python implementation's local credits table
// (§6: "Users-to-card mapping (local provider fallback): rfid -> {usage_counter}").
type LocalCredit struct {
	RFID          string `gorm:"primaryKey"`
	UsageCounter  uint32
}

// Config describes where the SQLite database file lives.
type Config struct {
	Path string
}

// DefaultConfig returns a sensible default path under the user's config dir.
func DefaultConfig() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return Config{Path: filepath.Join(dir, "vcs-automat", "state.db")}
}

// Store wraps the GORM handle and serialises the nonce verify-then-insert
// operation behind a mutex, the narrowest critical section that keeps the
// check-and-insert atomic (§5).
type Store struct {
	db    *gorm.DB
	mu    sync.Mutex
}

// Open configures and opens the SQLite-backed store, creating its parent
// directory and running AutoMigrate.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if err := db.AutoMigrate(&NonceRecord{}, &LocalCredit{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckAndInsertNonce atomically verifies a nonce is unseen and records it.
// It returns ok=false if the nonce has already been accepted (§6, §8: replay
// rejection). The mutex covers exactly this read-then-write, matching the
// "serialised by a mutex held only for the verify-then-insert operation"
// requirement of §5.
func (s *Store) CheckAndInsertNonce(ctx context.Context, nonce string, timestamp int64) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.WithContext(ctx).Model(&NonceRecord{}).Where("nonce = ?", nonce).Count(&count).Error; err != nil {
		return false, fmt.Errorf("store: check nonce: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Create(&NonceRecord{Nonce: nonce, Timestamp: timestamp}).Error; err != nil {
		return false, fmt.Errorf("store: insert nonce: %w", err)
	}
	return true, nil
}

// PruneNonces deletes nonces older than olderThan, intended to run on a
// daily background pass per §9's pruning recommendation: nonces only need
// to survive 2x the timestamp verification window, not forever.
func (s *Store) PruneNonces(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&NonceRecord{})
	return res.RowsAffected, res.Error
}

// RunNoncePruner runs PruneNonces on interval until ctx is cancelled.
func (s *Store) RunNoncePruner(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PruneNonces(ctx, olderThan); err != nil {
				// Best-effort background maintenance; a failed prune pass
				// does not affect nonce verification correctness.
				continue
			}
		}
	}
}

// LocalCreditFor returns the stored usage counter for rfid, creating a
// zero-usage row on first sight.
func (s *Store) LocalCreditFor(ctx context.Context, rfid string) (*LocalCredit, error) {
	var lc LocalCredit
	err := s.db.WithContext(ctx).FirstOrCreate(&lc, LocalCredit{RFID: rfid}).Error
	if err != nil {
		return nil, fmt.Errorf("store: local credit lookup: %w", err)
	}
	return &lc, nil
}

// IncrementLocalUsage bumps rfid's usage counter by one.
func (s *Store) IncrementLocalUsage(ctx context.Context, rfid string) error {
	return s.db.WithContext(ctx).
		Model(&LocalCredit{}).
		Where("rfid = ?", rfid).
		UpdateColumn("usage_counter", gorm.Expr("usage_counter + 1")).
		Error
}

// SetLocalUsage overwrites rfid's usage counter, creating the row if it
// does not exist yet. Used by the admin API's refill endpoint to correct
// bookkeeping drift after a physical restock (§9).
func (s *Store) SetLocalUsage(ctx context.Context, rfid string, usage uint32) error {
	return s.db.WithContext(ctx).
		Where(LocalCredit{RFID: rfid}).
		Assign(LocalCredit{UsageCounter: usage}).
		FirstOrCreate(&LocalCredit{}).
		Error
}
