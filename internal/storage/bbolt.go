// Package storage keeps a local bbolt cache of conversation snapshots for
// the degraded history path, and the outbox of optimistic messages whose
// durable send failed and is awaiting a manual retry.
package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"talanta/internal/models"
)

var (
	bucketConversations = []byte("conversations")
	bucketOutbox        = []byte("outbox")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketOutbox); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveConversation stores the latest snapshot for a participant pair,
// replacing any previous one.
func (s *BboltStorage) SaveConversation(userA, userB, conversationID int64, msgs []models.Message) error {
	dbConv := &DBConversation{
		PairKey:        PairKey(userA, userB),
		ConversationID: conversationID,
		SavedAt:        time.Now().UnixMilli(),
		Messages:       make([]DBMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		dbConv.Messages = append(dbConv.Messages, toDBMessage(m))
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConversations).Put(dbConv.Key(), data)
	})
}

// LoadConversation returns the cached snapshot for the pair, or
// models.ErrNotFound when none has been saved.
func (s *BboltStorage) LoadConversation(userA, userB int64) (int64, []models.Message, error) {
	var dbConv DBConversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(PairKey(userA, userB)))
		if data == nil {
			return models.ErrNotFound
		}
		return dbConv.UnmarshalBinary(data)
	})
	if err != nil {
		return 0, nil, err
	}

	msgs := make([]models.Message, 0, len(dbConv.Messages))
	for _, m := range dbConv.Messages {
		msgs = append(msgs, fromDBMessage(m))
	}
	sortByTimestamp(msgs)

	return dbConv.ConversationID, msgs, nil
}

// QueueUnsent records a failed optimistic message for later manual retry.
func (s *BboltStorage) QueueUnsent(msg models.Message) error {
	dbMsg := toDBMessage(msg)
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOutbox).Put(dbMsg.Key(), data)
	})
}

// ListUnsent returns all queued messages in temp-id (chronological) order.
func (s *BboltStorage) ListUnsent() ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msgs = append(msgs, fromDBMessage(dbMsg))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteUnsent removes a queued message once its retry has succeeded.
func (s *BboltStorage) DeleteUnsent(tempID int64) error {
	dbMsg := DBMessage{ID: tempID}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete(dbMsg.Key())
	})
}
