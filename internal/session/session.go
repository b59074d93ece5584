// Package session resolves credentials to principals and owns the
// single-active-session invariant: one session id per principal, cleared
// wholesale at logout.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/RipMyLoven/ani/internal/store"
)

// ErrSessionMismatch is returned when a presented session id does not match
// the one on record. An empty stored session id is a mismatch as well: a
// principal with no active session holds no valid credentials.
var ErrSessionMismatch = errors.New("session mismatch")

// PrincipalStore is the slice of the record store the session layer needs.
type PrincipalStore interface {
	PrincipalByUsername(ctx context.Context, username string) (*store.Principal, error)
	SetSessionID(ctx context.Context, username, sessionID string) error
	ClearSessionID(ctx context.Context, username, sessionID string) (bool, error)
}

type Store struct {
	principals PrincipalStore
}

func NewStore(principals PrincipalStore) *Store {
	return &Store{principals: principals}
}

// Resolve looks up a principal by username.
func (s *Store) Resolve(ctx context.Context, username string) (*store.Principal, error) {
	return s.principals.PrincipalByUsername(ctx, username)
}

// Validate succeeds only if the presented session id equals the stored one.
func (s *Store) Validate(ctx context.Context, username, sessionID string) (*store.Principal, error) {
	principal, err := s.principals.PrincipalByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if principal.SessionID == "" || principal.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return principal, nil
}

// Issue generates a fresh session id and persists it as the principal's
// current one, invalidating every outstanding credential.
func (s *Store) Issue(ctx context.Context, username string) (string, error) {
	sessionID := uuid.NewString()
	if err := s.principals.SetSessionID(ctx, username, sessionID); err != nil {
		return "", fmt.Errorf("failed to persist session id: %w", err)
	}
	return sessionID, nil
}

// Clear ends a session. The store clears the id only if it still matches,
// so a stale logout cannot invalidate a newer login. It reports whether the
// presented session was the current one.
func (s *Store) Clear(ctx context.Context, username, sessionID string) (bool, error) {
	return s.principals.ClearSessionID(ctx, username, sessionID)
}
