// Package presence tracks online/offline status per principal. State lives
// for the server process only; every principal is offline again after a
// restart until they re-handshake.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Record is one principal's connectivity state. ConnID is nil while offline.
type Record struct {
	PrincipalID string
	Status      string
	LastSeen    time.Time
	ConnID      *uuid.UUID
}

type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time

	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "presence")),
	}
}

// MarkOnline upserts the principal's record. Idempotent; a repeated call
// just refreshes last_seen and the connection handle.
func (t *Tracker) MarkOnline(principalID string, connID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[principalID]
	if !ok {
		rec = &Record{PrincipalID: principalID}
		t.records[principalID] = rec
	}
	rec.Status = StatusOnline
	rec.LastSeen = t.now()
	id := connID
	rec.ConnID = &id

	t.logger.Debug("Principal online", slog.String("principalID", principalID), slog.String("connID", connID.String()))
}

// MarkOffline clears the connection handle. Safe to call for a principal
// that was never marked online. A stale connID, one that has already been
// replaced by a newer handshake, is ignored so a cycled-out socket's late
// teardown cannot knock the live session offline.
func (t *Tracker) MarkOffline(principalID string, connID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[principalID]
	if !ok {
		rec = &Record{PrincipalID: principalID}
		t.records[principalID] = rec
	}
	if rec.ConnID != nil && *rec.ConnID != connID {
		t.logger.Debug("Ignoring offline for stale connection",
			slog.String("principalID", principalID), slog.String("connID", connID.String()))
		return
	}
	rec.Status = StatusOffline
	rec.LastSeen = t.now()
	rec.ConnID = nil

	t.logger.Debug("Principal offline", slog.String("principalID", principalID))
}

// Status returns the principal's record, defaulting to offline for
// principals that never connected.
func (t *Tracker) Status(principalID string) Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rec, ok := t.records[principalID]; ok {
		return *rec
	}
	return Record{PrincipalID: principalID, Status: StatusOffline}
}
