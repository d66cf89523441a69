// Package store persists OAuth credentials and the ledger of handled threads
// in a local SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no credential is stored for an account.
var ErrNotFound = errors.New("not found")

// Outcome records why a thread was taken off the work list.
type Outcome string

const (
	OutcomeReplied        Outcome = "replied"
	OutcomeAlreadyReplied Outcome = "already-replied"
	OutcomeAutomated      Outcome = "automated"
)

// Credential is the durable form of an oauth2.Token, keyed by account.
type Credential struct {
	Account      string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// HandledThread marks a thread this process will not reply to again.
type HandledThread struct {
	Account   string `gorm:"primaryKey"`
	ThreadID  string `gorm:"primaryKey"`
	MessageID string
	Outcome   Outcome
	HandledAt time.Time
}

// Store wraps a gorm handle. Reads and writes are serialised so the poll
// loop and the HTTP callback never interleave writes to the same row.
type Store struct {
	mu sync.RWMutex
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Credential{}, &HandledThread{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) LoadToken(ctx context.Context, account string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Credential
	err := s.db.WithContext(ctx).Where("account = ?", account).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", account, err)
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}, nil
}

func (s *Store) SaveToken(ctx context.Context, account string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("save token: nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Credential{
		Account:      account,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("save token for %s: %w", account, err)
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Where("account = ?", account).Delete(&Credential{}).Error
}

func (s *Store) IsHandled(ctx context.Context, account, threadID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.WithContext(ctx).Model(&HandledThread{}).
		Where("account = ? AND thread_id = ?", account, threadID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("lookup thread %s: %w", threadID, err)
	}
	return n > 0, nil
}

// MarkHandled records h. Recording the same thread twice keeps the first row.
func (s *Store) MarkHandled(ctx context.Context, h HandledThread) error {
	if h.HandledAt.IsZero() {
		h.HandledAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&h).Error
	if err != nil {
		return fmt.Errorf("mark thread %s: %w", h.ThreadID, err)
	}
	return nil
}

func (s *Store) CountHandled(ctx context.Context, account string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.WithContext(ctx).Model(&HandledThread{}).Where("account = ?", account).Count(&n).Error
	return n, err
}
