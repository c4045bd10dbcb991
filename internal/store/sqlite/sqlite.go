package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/chatrelay/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.MessageStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers, which totally orders appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the message schema.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append persists a message with status sent.
func (s *SQLiteStore) Append(ctx context.Context, msg *store.Message) (int64, time.Time, error) {
	query := `
		INSERT INTO messages (conversation_key, client_id, sender_id, sender_name, recipient_id, body, status, client_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	createdAt := time.Now().UTC()
	var clientTS int64
	if !msg.ClientTimestamp.IsZero() {
		clientTS = msg.ClientTimestamp.UnixMilli()
	}

	result, err := s.db.ExecContext(ctx, query,
		msg.ConversationKey,
		msg.ClientID,
		msg.SenderID,
		msg.SenderName,
		msg.RecipientID,
		msg.Body,
		int(store.StatusSent),
		clientTS,
		createdAt.UnixNano(),
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("get last insert id: %w", err)
	}

	return id, createdAt, nil
}

const selectColumns = `id, conversation_key, client_id, sender_id, sender_name, recipient_id, body, status, client_ts, created_at`

// ListMessages returns messages with id > afterID in ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationKey string, afterID int64, limit int) ([]*store.Message, error) {
	query := `SELECT ` + selectColumns + `
		FROM messages
		WHERE conversation_key = ? AND id > ?
		ORDER BY id ASC
	`
	args := []interface{}{conversationKey, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessage retrieves a single message.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationKey string, id int64) (*store.Message, error) {
	query := `SELECT ` + selectColumns + `
		FROM messages
		WHERE conversation_key = ? AND id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, conversationKey, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// AdvanceStatus moves a message forward. The WHERE clause rejects backward moves.
func (s *SQLiteStore) AdvanceStatus(ctx context.Context, conversationKey string, id int64, to store.MessageStatus) (store.MessageStatus, bool, error) {
	if !to.Valid() {
		return 0, false, fmt.Errorf("advance status: invalid status %d", int(to))
	}

	query := `
		UPDATE messages
		SET status = ?
		WHERE conversation_key = ? AND id = ? AND status < ?
	`
	result, err := s.db.ExecContext(ctx, query, int(to), conversationKey, id, int(to))
	if err != nil {
		return 0, false, fmt.Errorf("update status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return to, true, nil
	}

	current, err := s.GetMessage(ctx, conversationKey, id)
	if err != nil {
		return 0, false, err
	}
	return current.Status, false, nil
}

// PendingFor lists messages addressed to recipientID that are still at status sent.
func (s *SQLiteStore) PendingFor(ctx context.Context, conversationKey, recipientID string) ([]*store.Message, error) {
	query := `SELECT ` + selectColumns + `
		FROM messages
		WHERE conversation_key = ? AND recipient_id = ? AND status = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationKey, recipientID, int(store.StatusSent))
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		status    int
		clientTS  int64
		createdAt int64
	)
	err := row.Scan(
		&msg.ID,
		&msg.ConversationKey,
		&msg.ClientID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.RecipientID,
		&msg.Body,
		&status,
		&clientTS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = store.MessageStatus(status)
	if clientTS != 0 {
		msg.ClientTimestamp = time.UnixMilli(clientTS).UTC()
	}
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
