// Package channel owns the ordered message list for the one currently open
// conversation. It applies optimistic sends, server reconciliation, inbound
// delivery, and bulk read transitions, and it is the seam between the
// real-time transport and the durable REST path.
package channel

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"talanta/internal/content"
	"talanta/internal/models"
)

// HistoryAPI is the slice of the REST client the channel needs.
type HistoryAPI interface {
	GetConversation(ctx context.Context, userA, userB int64) (models.Conversation, error)
	SendMessage(ctx context.Context, senderID, receiverID int64, text string) (models.Message, error)
}

// Cache is the local snapshot store backing the degraded history path and
// the unsent outbox. It is optional; a nil cache disables both.
type Cache interface {
	SaveConversation(userA, userB, conversationID int64, msgs []models.Message) error
	LoadConversation(userA, userB int64) (int64, []models.Message, error)
	QueueUnsent(msg models.Message) error
	ListUnsent() ([]models.Message, error)
	DeleteUnsent(tempID int64) error
}

type Config struct {
	API    HistoryAPI
	Cache  Cache
	SelfID int64
	PeerID int64
	// OnUpdate is invoked after every visible mutation of the list. May be
	// nil. It runs outside the channel lock, so reading the channel from it
	// is fine; mutating it from the callback is not.
	OnUpdate func()
	// OnConversationKnown fires when a send response reveals the
	// conversation id before any history load has. May be nil.
	OnConversationKnown func(conversationID int64)
}

type Channel struct {
	api       HistoryAPI
	cache     Cache
	selfID    int64
	peerID    int64
	onUpdate  func()
	convKnown func(int64)

	mu             sync.Mutex
	conversationID int64
	msgs           []models.Message
	gen            uint64
	lastTempID     int64
}

func New(cfg Config) *Channel {
	ch := &Channel{
		api:       cfg.API,
		cache:     cfg.Cache,
		selfID:    cfg.SelfID,
		peerID:    cfg.PeerID,
		onUpdate:  cfg.OnUpdate,
		convKnown: cfg.OnConversationKnown,
	}
	if ch.onUpdate == nil {
		ch.onUpdate = func() {}
	}
	if ch.convKnown == nil {
		ch.convKnown = func(int64) {}
	}
	return ch
}

// LoadHistory replaces the local list with the server's view of the
// conversation. On REST failure it degrades to the cached snapshot for the
// pair, or an empty list, and reports success either way: history load
// failures are a degraded mode, not an error the UI has to handle.
//
// A generation token taken before the request is compared on completion;
// a result that lost the race to a newer load is discarded unapplied.
func (c *Channel) LoadHistory(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conv, err := c.api.GetConversation(ctx, c.selfID, c.peerID)
	if err != nil {
		log.Printf("history load for pair (%d,%d) failed, degrading to cache: %v", c.selfID, c.peerID, err)
		conv = c.cachedConversation()
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.Printf("discarding stale history result for pair (%d,%d)", c.selfID, c.peerID)
		return
	}
	if conv.ID != 0 {
		c.conversationID = conv.ID
	}
	c.msgs = append([]models.Message(nil), conv.Messages...)
	sort.SliceStable(c.msgs, func(i, j int) bool {
		return c.msgs[i].Timestamp.Before(c.msgs[j].Timestamp)
	})
	c.mu.Unlock()

	if err == nil {
		c.saveSnapshot()
	}
	c.onUpdate()
}

func (c *Channel) cachedConversation() models.Conversation {
	if c.cache == nil {
		return models.Conversation{}
	}
	convID, msgs, err := c.cache.LoadConversation(c.selfID, c.peerID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("conversation cache read failed: %v", err)
		}
		return models.Conversation{}
	}
	return models.Conversation{ID: convID, Messages: msgs}
}

// Send appends an optimistic entry and pushes it through the durable REST
// path. On success the entry is reconciled in place with the server copy.
// On failure it stays in the list marked FAILED and is queued in the
// outbox; there is no automatic retry, RetryUnsent is the explicit path.
func (c *Channel) Send(ctx context.Context, text string) models.Message {
	text = content.SanitizeText(text)

	local := c.appendOptimistic(text)
	c.onUpdate()

	server, err := c.api.SendMessage(ctx, c.selfID, c.peerID, text)
	if err != nil {
		log.Printf("durable send of %d failed, keeping unsent entry: %v", local.ID, err)
		failed := c.markFailed(local.ID)
		if c.cache != nil {
			if qErr := c.cache.QueueUnsent(failed); qErr != nil {
				log.Printf("outbox queue failed: %v", qErr)
			}
		}
		c.onUpdate()
		return failed
	}

	c.Reconcile(local.ID, server)

	if server.ConversationID != 0 {
		c.mu.Lock()
		revealed := c.conversationID == 0
		if revealed {
			c.conversationID = server.ConversationID
		}
		c.mu.Unlock()
		if revealed {
			c.convKnown(server.ConversationID)
		}
	}

	c.saveSnapshot()
	return server
}

func (c *Channel) appendOptimistic(text string) models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	tempID := time.Now().UnixMilli()
	if tempID <= c.lastTempID {
		tempID = c.lastTempID + 1
	}
	c.lastTempID = tempID

	msg := models.Message{
		ID:         tempID,
		SenderID:   c.selfID,
		ReceiverID: c.peerID,
		Text:       text,
		Timestamp:  time.Now(),
		Status:     models.StatusSent,
		Pending:    true,
	}
	c.msgs = append(c.msgs, msg)
	return msg
}

func (c *Channel) markFailed(tempID int64) models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.msgs {
		if c.msgs[i].ID == tempID {
			c.msgs[i].Status = models.StatusFailed
			return c.msgs[i]
		}
	}
	return models.Message{ID: tempID, Status: models.StatusFailed}
}

// Reconcile replaces the optimistic entry with the server-confirmed copy,
// preserving its position. If the server copy is already present (the
// transport echo won the race) the temp entry is dropped instead of
// inserting a duplicate; if the temp entry is gone the server copy is
// appended. Running it twice with the same arguments leaves exactly one
// copy.
func (c *Channel) Reconcile(tempID int64, server models.Message) {
	server.Pending = false

	c.mu.Lock()
	tempIdx, serverIdx := -1, -1
	for i := range c.msgs {
		switch c.msgs[i].ID {
		case tempID:
			tempIdx = i
		case server.ID:
			serverIdx = i
		}
	}

	switch {
	case serverIdx >= 0:
		if tempIdx >= 0 && tempIdx != serverIdx {
			c.msgs = append(c.msgs[:tempIdx], c.msgs[tempIdx+1:]...)
		}
	case tempIdx >= 0:
		// Carry UI-only metadata the server does not round-trip.
		if server.Metadata == nil {
			server.Metadata = c.msgs[tempIdx].Metadata
		}
		c.msgs[tempIdx] = server
	default:
		c.insertOrdered(server)
	}
	c.mu.Unlock()

	c.onUpdate()
}

// Ingest applies a message delivered on the live transport. Only the two
// directions of the active pair pass the filter; everything else on the
// shared callback is cross-talk and is dropped. Duplicate ids are dropped
// too, which makes redelivery harmless.
func (c *Channel) Ingest(msg models.Message) {
	if !c.matchesPair(msg.SenderID, msg.ReceiverID) {
		return
	}

	msg.Text = content.SanitizeText(msg.Text)
	msg.Pending = false

	c.mu.Lock()
	for i := range c.msgs {
		if c.msgs[i].ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}
	c.insertOrdered(msg)
	c.mu.Unlock()

	c.onUpdate()
}

func (c *Channel) matchesPair(senderID, receiverID int64) bool {
	return (senderID == c.peerID && receiverID == c.selfID) ||
		(senderID == c.selfID && receiverID == c.peerID)
}

// insertOrdered keeps the list sorted by timestamp ascending. Called with
// the lock held.
func (c *Channel) insertOrdered(msg models.Message) {
	i := sort.Search(len(c.msgs), func(i int) bool {
		return c.msgs[i].Timestamp.After(msg.Timestamp)
	})
	c.msgs = append(c.msgs, models.Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = msg
}

// MarkReadLocally applies an inbound read receipt: every message we sent to
// the counterpart flips to READ in bulk. Messages in the other direction
// are untouched.
func (c *Channel) MarkReadLocally(counterpartID int64) {
	c.mu.Lock()
	changed := false
	for i := range c.msgs {
		if c.msgs[i].SenderID == c.selfID && c.msgs[i].ReceiverID == counterpartID &&
			c.msgs[i].Status != models.StatusRead && !c.msgs[i].Pending {
			c.msgs[i].Status = models.StatusRead
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.onUpdate()
	}
}

// RetryUnsent re-sends every outbox entry for the active pair. A success
// replaces the FAILED entry via the normal reconciliation path, so the
// retried message never duplicates.
func (c *Channel) RetryUnsent(ctx context.Context) {
	if c.cache == nil {
		return
	}

	queued, err := c.cache.ListUnsent()
	if err != nil {
		log.Printf("outbox list failed: %v", err)
		return
	}

	for _, msg := range queued {
		if !c.matchesPair(msg.SenderID, msg.ReceiverID) {
			continue
		}

		server, err := c.api.SendMessage(ctx, msg.SenderID, msg.ReceiverID, msg.Text)
		if err != nil {
			log.Printf("retry of unsent %d failed: %v", msg.ID, err)
			continue
		}

		c.Reconcile(msg.ID, server)
		if err := c.cache.DeleteUnsent(msg.ID); err != nil {
			log.Printf("outbox delete of %d failed: %v", msg.ID, err)
		}
	}

	c.saveSnapshot()
}

func (c *Channel) saveSnapshot() {
	if c.cache == nil {
		return
	}

	c.mu.Lock()
	convID := c.conversationID
	msgs := append([]models.Message(nil), c.msgs...)
	c.mu.Unlock()

	if err := c.cache.SaveConversation(c.selfID, c.peerID, convID, msgs); err != nil {
		log.Printf("conversation cache write failed: %v", err)
	}
}

// Messages returns a copy of the ordered list.
func (c *Channel) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.msgs...)
}

// ConversationID returns the server-assigned id, zero until the first
// successful history load reveals it.
func (c *Channel) ConversationID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}
