// Package store is the client's persistent keyed store: one bucket per
// logical table (chats, messages, pending messages), msgpack values, and
// ordered composite keys supporting bounded range scans in either
// direction. It stands in for the browser-local database of the original
// clients.
package store

import (
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/vmelnikau/echolink/internal/wire"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketChats    = []byte("chats")
	bucketMessages = []byte("messages")
	bucketPending  = []byte("pending")
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrPendingNotFound = errors.New("store: pending message not found")
)

// PendingMessage is a locally created, not-yet-confirmed message. The
// sequence inside Message is speculative until promotion.
type PendingMessage struct {
	TempID  string             `msgpack:"temp_id"`
	Message wire.StoredMessage `msgpack:"message"`
}

type Store struct {
	db *bolt.DB
}

// Open creates or opens the store file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketChats, bucketMessages, bucketPending} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// chatKey is the primary key of a chat row.
func chatKey(chatID uint) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(chatID))
	return k
}

// messageKey orders messages by chat then sequence, so a cursor walk over
// one chat's prefix is a sequence-ordered scan.
func messageKey(chatID uint, sequence uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(chatID))
	binary.BigEndian.PutUint64(k[8:], sequence)
	return k
}

func pendingKey(chatID uint, tempID string) []byte {
	k := make([]byte, 8, 8+len(tempID))
	binary.BigEndian.PutUint64(k, uint64(chatID))
	return append(k, tempID...)
}

// PutChat upserts a chat summary row.
func (s *Store) PutChat(chat wire.ChatSummary) error {
	value, err := msgpack.Marshal(chat)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChats).Put(chatKey(chat.ChatID), value)
	})
}

func (s *Store) GetChat(chatID uint) (*wire.ChatSummary, error) {
	var chat wire.ChatSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChats).Get(chatKey(chatID))
		if raw == nil {
			return ErrNotFound
		}
		return msgpack.Unmarshal(raw, &chat)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats returns all chats, most recently modified first.
func (s *Store) ListChats() ([]wire.ChatSummary, error) {
	var chats []wire.ChatSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(_, raw []byte) error {
			var chat wire.ChatSummary
			if err := msgpack.Unmarshal(raw, &chat); err != nil {
				return err
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastModified.After(chats[j].LastModified)
	})
	return chats, nil
}

// PutMessage upserts a confirmed message row; keyed by chat and sequence,
// so re-applying a duplicate delivery is a no-op rewrite.
func (s *Store) PutMessage(message wire.StoredMessage) error {
	value, err := msgpack.Marshal(message)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).Put(messageKey(message.ChatID, message.Sequence), value)
	})
}

// MessagesAsc scans a chat's messages with sequence >= fromSequence,
// ascending, capped at limit.
func (s *Store) MessagesAsc(chatID uint, fromSequence uint64, limit int) ([]wire.StoredMessage, error) {
	var messages []wire.StoredMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		prefix := chatKey(chatID)
		for k, v := c.Seek(messageKey(chatID, fromSequence)); k != nil && len(k) == 16 && string(k[:8]) == string(prefix); k, v = c.Next() {
			if limit > 0 && len(messages) >= limit {
				break
			}
			var m wire.StoredMessage
			if err := msgpack.Unmarshal(v, &m); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	return messages, err
}

// MessagesDesc scans a chat's messages with sequence < beforeSequence,
// descending, capped at limit. Used by the pager to grow the window
// toward older history.
func (s *Store) MessagesDesc(chatID uint, beforeSequence uint64, limit int) ([]wire.StoredMessage, error) {
	var messages []wire.StoredMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		prefix := chatKey(chatID)

		k, v := c.Seek(messageKey(chatID, beforeSequence))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && len(k) == 16 && string(k[:8]) == string(prefix); k, v = c.Prev() {
			sequence := binary.BigEndian.Uint64(k[8:])
			if sequence >= beforeSequence {
				continue
			}
			if limit > 0 && len(messages) >= limit {
				break
			}
			var m wire.StoredMessage
			if err := msgpack.Unmarshal(v, &m); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	return messages, err
}

// CountMessages returns the number of stored messages for a chat.
func (s *Store) CountMessages(chatID uint) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		prefix := chatKey(chatID)
		for k, _ := c.Seek(prefix); k != nil && len(k) == 16 && string(k[:8]) == string(prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// LastMessage returns the chat's highest-sequence stored message.
func (s *Store) LastMessage(chatID uint) (*wire.StoredMessage, error) {
	messages, err := s.MessagesDesc(chatID, ^uint64(0), 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return &messages[0], nil
}

// PutPending stores an optimistic local message.
func (s *Store) PutPending(pending PendingMessage) error {
	value, err := msgpack.Marshal(pending)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Put(pendingKey(pending.Message.ChatID, pending.TempID), value)
	})
}

// ListPending returns a chat's pending messages in temp-id order.
func (s *Store) ListPending(chatID uint) ([]PendingMessage, error) {
	var pending []PendingMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPending).Cursor()
		prefix := chatKey(chatID)
		for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && string(k[:8]) == string(prefix); k, v = c.Next() {
			var p PendingMessage
			if err := msgpack.Unmarshal(v, &p); err != nil {
				return err
			}
			pending = append(pending, p)
		}
		return nil
	})
	return pending, err
}

// Promote replaces a pending message with its server-confirmed form in a
// single read-write transaction spanning both tables, so a crash can never
// leave the message in neither.
func (s *Store) Promote(chatID uint, tempID string, confirmed wire.StoredMessage) error {
	value, err := msgpack.Marshal(confirmed)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		pendingBucket := tx.Bucket(bucketPending)
		key := pendingKey(chatID, tempID)
		if pendingBucket.Get(key) == nil {
			return ErrPendingNotFound
		}
		if err := pendingBucket.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Put(messageKey(confirmed.ChatID, confirmed.Sequence), value)
	})
}
