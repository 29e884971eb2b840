// Package receipt pushes read acknowledgements out on both paths: the
// durable REST endpoint that persists the transition, and the best-effort
// live frame that lets the counterpart flip their checkmarks immediately.
package receipt

import (
	"context"
	"fmt"
	"log"
)

// ReadAPI is the REST side of the acknowledgement.
type ReadAPI interface {
	MarkMessagesRead(ctx context.Context, conversationID, readerID int64) error
}

// Publisher is the live side. An implementation that is currently
// disconnected drops the frame; that is fine here.
type Publisher interface {
	PublishReadReceipt(senderID int64)
}

type Notifier struct {
	api      ReadAPI
	pub      Publisher
	readerID int64
}

func NewNotifier(api ReadAPI, pub Publisher, readerID int64) *Notifier {
	return &Notifier{api: api, pub: pub, readerID: readerID}
}

// NotifyRead reports that the reader has seen the conversation. The REST
// write is the source of truth and its failure is returned; the live frame
// is fired regardless and never fails the call.
func (n *Notifier) NotifyRead(ctx context.Context, conversationID, senderID int64) error {
	if n.pub != nil {
		n.pub.PublishReadReceipt(senderID)
	}

	if err := n.api.MarkMessagesRead(ctx, conversationID, n.readerID); err != nil {
		log.Printf("read receipt for conversation %d not persisted: %v", conversationID, err)
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}
