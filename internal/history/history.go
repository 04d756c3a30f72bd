// Package history persists the session's command history in SQLite via
// GORM. Uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite driver.
//
// The store is append-only: entries record intent (what was typed and
// what it resolved to), never outcome, and are never updated or deleted
// by the shell.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one accepted input line.
type Entry struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"index"`
	Input     string    `gorm:"not null"`
	Kind      string    // "direct" or "natural"
	Command   string    // resolved command (same as Input for direct commands)
	Mode      string    // execution mode the request was accepted under
	CreatedAt time.Time `gorm:"index"`
}

// TableName keeps the table name singular-free and explicit.
func (Entry) TableName() string { return "history" }

// Store is the SQLite-backed history store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates (or opens) the history database at path and migrates the
// schema.
func Open(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating history directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	slogger.Debug("history store opened", slog.String("path", path))
	return &Store{db: db, logger: slogger, path: path}, nil
}

// Append records one accepted input. The entry ID is assigned here.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return entries, nil
}

// PrefixSearch returns distinct inputs starting with prefix, newest
// first, for autocomplete.
func (s *Store) PrefixSearch(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	var inputs []string
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Distinct("input").
		Where("input LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("input").
		Limit(limit).
		Pluck("input", &inputs).Error
	if err != nil {
		return nil, fmt.Errorf("searching history: %w", err)
	}
	return inputs, nil
}

// Search returns entries whose input contains term, newest first.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("input LIKE ? ESCAPE '\\'", "%"+escapeLike(term)+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("searching history: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// escapeLike neutralizes LIKE metacharacters in user input.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
