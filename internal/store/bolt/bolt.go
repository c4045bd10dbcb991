// Package bolt is a store.MessageStore on top of an embedded bbolt file.
//
// Each conversation is a nested bucket under "conversations"; message ids come
// from the bucket sequence and are stored big-endian so cursor order is id order.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vovakirdan/chatrelay/internal/store"
)

var conversationsBucket = []byte("conversations")

// BoltStore implements store.MessageStore for bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// record is the on-disk shape of a message.
type record struct {
	ID              int64  `json:"id"`
	ClientID        string `json:"client_id,omitempty"`
	ConversationKey string `json:"conversation_key"`
	SenderID        string `json:"sender_id"`
	SenderName      string `json:"sender_name,omitempty"`
	RecipientID     string `json:"recipient_id"`
	Body            string `json:"body"`
	Status          int    `json:"status"`
	ClientTS        int64  `json:"client_ts,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

// New opens (or creates) the bolt file at path.
func New(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create root bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Append persists a message with status sent.
func (s *BoltStore) Append(ctx context.Context, msg *store.Message) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}

	var (
		id        int64
		createdAt = time.Now().UTC()
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(conversationsBucket).CreateBucketIfNotExists([]byte(msg.ConversationKey))
		if err != nil {
			return fmt.Errorf("create conversation bucket: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		id = int64(seq)

		rec := toRecord(msg)
		rec.ID = id
		rec.Status = int(store.StatusSent)
		rec.CreatedAt = createdAt.UnixNano()
		return putRecord(b, rec)
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("append message: %w", err)
	}

	return id, createdAt, nil
}

// ListMessages returns messages with id > afterID in ascending order.
func (s *BoltStore) ListMessages(ctx context.Context, conversationKey string, afterID int64, limit int) ([]*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if afterID < 0 {
		afterID = 0
	}

	var messages []*store.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(conversationsBucket).Bucket([]byte(conversationKey))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(idKey(afterID + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			msg, err := decode(v)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// GetMessage retrieves a single message.
func (s *BoltStore) GetMessage(ctx context.Context, conversationKey string, id int64) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msg *store.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		msg, err = get(tx, conversationKey, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// AdvanceStatus moves a message forward inside a single write transaction.
func (s *BoltStore) AdvanceStatus(ctx context.Context, conversationKey string, id int64, to store.MessageStatus) (store.MessageStatus, bool, error) {
	if !to.Valid() {
		return 0, false, fmt.Errorf("advance status: invalid status %d", int(to))
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var (
		current store.MessageStatus
		changed bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(conversationsBucket).Bucket([]byte(conversationKey))
		if b == nil {
			return store.ErrNotFound
		}
		v := b.Get(idKey(id))
		if v == nil {
			return store.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}

		current = store.MessageStatus(rec.Status)
		if !current.CanAdvanceTo(to) {
			return nil
		}
		rec.Status = int(to)
		current, changed = to, true
		return putRecord(b, rec)
	})
	if err != nil {
		return 0, false, err
	}
	return current, changed, nil
}

// PendingFor lists messages addressed to recipientID that are still at status sent.
func (s *BoltStore) PendingFor(ctx context.Context, conversationKey, recipientID string) ([]*store.Message, error) {
	all, err := s.ListMessages(ctx, conversationKey, 0, 0)
	if err != nil {
		return nil, err
	}

	var pending []*store.Message
	for _, msg := range all {
		if msg.RecipientID == recipientID && msg.Status == store.StatusSent {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

func get(tx *bbolt.Tx, conversationKey string, id int64) (*store.Message, error) {
	b := tx.Bucket(conversationsBucket).Bucket([]byte(conversationKey))
	if b == nil {
		return nil, store.ErrNotFound
	}
	v := b.Get(idKey(id))
	if v == nil {
		return nil, store.ErrNotFound
	}
	return decode(v)
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func putRecord(b *bbolt.Bucket, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return b.Put(idKey(rec.ID), data)
}

func decode(v []byte) (*store.Message, error) {
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	msg := &store.Message{
		ID:              rec.ID,
		ClientID:        rec.ClientID,
		ConversationKey: rec.ConversationKey,
		SenderID:        rec.SenderID,
		SenderName:      rec.SenderName,
		RecipientID:     rec.RecipientID,
		Body:            rec.Body,
		Status:          store.MessageStatus(rec.Status),
		CreatedAt:       time.Unix(0, rec.CreatedAt).UTC(),
	}
	if rec.ClientTS != 0 {
		msg.ClientTimestamp = time.UnixMilli(rec.ClientTS).UTC()
	}
	return msg, nil
}

func toRecord(msg *store.Message) record {
	rec := record{
		ClientID:        msg.ClientID,
		ConversationKey: msg.ConversationKey,
		SenderID:        msg.SenderID,
		SenderName:      msg.SenderName,
		RecipientID:     msg.RecipientID,
		Body:            msg.Body,
	}
	if !msg.ClientTimestamp.IsZero() {
		rec.ClientTS = msg.ClientTimestamp.UnixMilli()
	}
	return rec
}
