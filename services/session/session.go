package session

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the single live conversion request of an account, created on
// upload and consumed by format selection.
type Session struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	SourceRef   string    `json:"source_ref"`
	MediaKind   string    `json:"media_kind"`
	DisplayName string    `json:"display_name"`
	ByteSize    int64     `json:"byte_size"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store keeps at most one session per account. TakeAndClear is the only way
// to consume a session and hands it to exactly one caller.
type Store interface {
	// Open replaces any live session of s.AccountID and stamps its expiry.
	Open(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, accountID int64) (*Session, error)
	TakeAndClear(ctx context.Context, accountID int64) (*Session, error)
	// Restore puts a taken session back only if the account has no live
	// session, keeping its original expiry. It reports whether it did.
	Restore(ctx context.Context, s *Session) (bool, error)
	Cancel(ctx context.Context, accountID int64) error
}

func stamp(s *Session, now time.Time, ttl time.Duration) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.ExpiresAt = now.Add(ttl)
}
