// Package sqlite implements the record store on an embedded sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/RipMyLoven/ani/internal/store"
)

type Store struct {
	conn *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			chat_type TEXT NOT NULL,
			canonical_key TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			last_message_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_canonical
			ON chats(canonical_key) WHERE canonical_key IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			UNIQUE(chat_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			created_at TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			is_edited INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// --- Principals ---

func (s *Store) PrincipalByUsername(ctx context.Context, username string) (*store.Principal, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password, session_id FROM users WHERE username = ?`, username)
	return scanPrincipal(row)
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (*store.Principal, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password, session_id FROM users WHERE id = ?`, id)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*store.Principal, error) {
	var p store.Principal
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.SessionID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SetSessionID(ctx context.Context, username, sessionID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET session_id = ? WHERE username = ?`, sessionID, username)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *Store) ClearSessionID(ctx context.Context, username, sessionID string) (bool, error) {
	// Compare-and-clear: a stale logout must not clobber a newer session.
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET session_id = '' WHERE username = ? AND session_id = ?`,
		username, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreatePrincipal inserts a new user row. Account management proper lives in
// the excluded subsystem; this exists for bootstrap and tests.
func (s *Store) CreatePrincipal(ctx context.Context, username, email, passwordHash string) (*store.Principal, error) {
	p := &store.Principal{
		ID:           "user:" + uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password) VALUES (?, ?, ?, ?)`,
		p.ID, p.Username, p.Email, p.PasswordHash)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- Conversations ---

// canonicalKey builds the order-independent identity of a private chat.
func canonicalKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (s *Store) Conversation(ctx context.Context, chatID string) (*store.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, chat_type, is_active, created_at, last_message_at FROM chats WHERE id = ?`, chatID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if conv.Participants, err = s.participants(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) ConversationsFor(ctx context.Context, principalID string) ([]*store.Conversation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT c.id, c.chat_type, c.is_active, c.created_at, c.last_message_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ? AND c.is_active = 1
		ORDER BY c.last_message_at DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if conv.Participants, err = s.participants(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *Store) EnsurePrivateConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	if a == b {
		return nil, fmt.Errorf("private conversation requires two distinct participants")
	}
	key := canonicalKey(a, b)

	conv, err := s.privateConversationByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:            "chat:" + uuid.NewString(),
		Type:          store.ChatTypePrivate,
		Participants:  []string{a, b},
		Active:        true,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, chat_type, canonical_key, is_active, created_at, last_message_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		conv.ID, conv.Type, key, formatTime(now), formatTime(now))
	if err != nil {
		// A concurrent create for the same pair won the unique index; hand
		// back the winner's row.
		if isUniqueViolation(err) {
			tx.Rollback()
			return s.privateConversationByKey(ctx, key)
		}
		return nil, err
	}
	for _, userID := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)`,
			conv.ID, userID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) privateConversationByKey(ctx context.Context, key string) (*store.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, chat_type, is_active, created_at, last_message_at FROM chats WHERE canonical_key = ?`, key)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	conv.Participants, err = s.participants(ctx, conv.ID)
	return conv, err
}

func (s *Store) TouchConversation(ctx context.Context, chatID string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE chats SET last_message_at = ? WHERE id = ?`, formatTime(at), chatID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *Store) participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	created := *msg
	created.ID = "message:" + uuid.NewString()
	if created.Type == "" {
		created.Type = store.MessageTypeText
	}
	created.CreatedAt = time.Now().UTC()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		created.ID, created.ChatID, created.SenderID, created.Content, created.Type,
		formatTime(created.CreatedAt))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		conv      store.Conversation
		active    int
		createdAt string
		lastAt    string
	)
	err := row.Scan(&conv.ID, &conv.Type, &active, &createdAt, &lastAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.Active = active != 0
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.LastMessageAt, err = parseTime(lastAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
