package storage

import (
	"encoding"
	"encoding/binary"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"talanta/internal/models"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBConversation is the cached snapshot of one conversation, keyed by the
// unordered participant pair so a reload can find it without knowing the
// server-assigned conversation id.
type DBConversation struct {
	PairKey        string      `msgpack:"pairKey"`
	ConversationID int64       `msgpack:"conversationId"`
	Messages       []DBMessage `msgpack:"messages"`
	SavedAt        int64       `msgpack:"savedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.PairKey)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID         int64  `msgpack:"id"`
	SenderID   int64  `msgpack:"senderId"`
	ReceiverID int64  `msgpack:"receiverId"`
	Text       string `msgpack:"text"`
	Timestamp  int64  `msgpack:"timestamp"` // Unix milliseconds
	Status     string `msgpack:"status"`
	ProjectID  int64  `msgpack:"projectId"`
	Pending    bool   `msgpack:"pending"`
}

// Key orders outbox entries by temporary id, which is time-based and
// therefore chronological.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.ID))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func toDBMessage(m models.Message) DBMessage {
	return DBMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  m.Timestamp.UnixMilli(),
		Status:     string(m.Status),
		ProjectID:  m.ProjectID,
		Pending:    m.Pending,
	}
}

func fromDBMessage(m DBMessage) models.Message {
	return models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  time.UnixMilli(m.Timestamp),
		Status:     models.MessageStatus(m.Status),
		ProjectID:  m.ProjectID,
		Pending:    m.Pending,
	}
}

// PairKey is the canonical bucket key for an unordered participant pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(a))
	binary.BigEndian.PutUint64(key[8:], uint64(b))
	return string(key)
}

func sortByTimestamp(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
