// Package store implements the chat collaborator ports on top of GORM and
// SQLite: users, refresh sessions, rooms, groups, memberships and messages.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Store satisfies chat.Directory, chat.MessageStore and chat.SessionStore.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ chat.Directory    = (*Store)(nil)
	_ chat.MessageStore = (*Store)(nil)
	_ chat.SessionStore = (*Store)(nil)
)

// Open opens the SQLite database at dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access database handle: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	s := New(db, log)
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing GORM handle.
func New(db *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		now:    time.Now,
		logger: log.With(slog.String("component", "store")),
	}
}

// Migrate creates or updates every table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Session{}, &Chat{}, &ChatUser{}, &Group{}, &GroupUser{}, &Message{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps driver-level connectivity failures to chat.ErrUnavailable and
// missing rows to chat.ErrNotFound.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
	case errors.Is(err, sql.ErrConnDone),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		strings.Contains(err.Error(), "database is closed"):
		return fmt.Errorf("%s: %w: %w", op, chat.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
