// Package rooms maintains, per conversation, the set of live connections
// subscribed to its events. Membership here is subscription bookkeeping
// only; whether a principal may subscribe at all is decided against the
// conversation's participant list by the caller.
package rooms

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type Index struct {
	mu     sync.RWMutex
	byRoom map[string]map[uuid.UUID]struct{}
	byConn map[uuid.UUID]map[string]struct{}

	logger *slog.Logger
}

func NewIndex(logger *slog.Logger) *Index {
	return &Index{
		byRoom: make(map[string]map[uuid.UUID]struct{}),
		byConn: make(map[uuid.UUID]map[string]struct{}),
		logger: logger.With(slog.String("component", "rooms")),
	}
}

// Join registers the connection as a subscriber of the room. Idempotent.
func (i *Index) Join(connID uuid.UUID, roomID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	subs, ok := i.byRoom[roomID]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		i.byRoom[roomID] = subs
	}
	subs[connID] = struct{}{}

	joined, ok := i.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		i.byConn[connID] = joined
	}
	joined[roomID] = struct{}{}

	i.logger.Debug("Connection subscribed", slog.String("connID", connID.String()), slog.String("roomID", roomID))
}

// Leave removes the subscription. No-op if absent.
func (i *Index) Leave(connID uuid.UUID, roomID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.drop(connID, roomID)
}

// LeaveAll removes every subscription for a connection and returns the room
// ids it was subscribed to. Called on disconnect.
func (i *Index) LeaveAll(connID uuid.UUID) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	joined, ok := i.byConn[connID]
	if !ok {
		return nil
	}
	roomIDs := make([]string, 0, len(joined))
	for roomID := range joined {
		roomIDs = append(roomIDs, roomID)
	}
	for _, roomID := range roomIDs {
		i.drop(connID, roomID)
	}
	return roomIDs
}

// drop removes one subscription link. Caller holds the lock.
func (i *Index) drop(connID uuid.UUID, roomID string) {
	if subs, ok := i.byRoom[roomID]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(i.byRoom, roomID)
		}
	}
	if joined, ok := i.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(i.byConn, connID)
		}
	}
}

// Subscribers returns a snapshot of the room's subscriber set. The snapshot
// is taken under the read lock so fan-out can iterate it without holding
// any lock.
func (i *Index) Subscribers(roomID string) []uuid.UUID {
	i.mu.RLock()
	defer i.mu.RUnlock()

	subs, ok := i.byRoom[roomID]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(subs))
	for connID := range subs {
		out = append(out, connID)
	}
	return out
}

// Contains reports whether the connection is subscribed to the room.
func (i *Index) Contains(roomID string, connID uuid.UUID) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	subs, ok := i.byRoom[roomID]
	if !ok {
		return false
	}
	_, ok = subs[connID]
	return ok
}
