package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// FrameKind tags the four inbound frame variants the server can deliver.
type FrameKind string

const (
	FrameMessage     FrameKind = "message"
	FrameTyping      FrameKind = "typing"
	FrameUserStatus  FrameKind = "user-status"
	FrameReadReceipt FrameKind = "read-receipt"
)

// Frame is a parsed and validated inbound payload. Exactly one of the
// pointer fields matching Kind is set.
type Frame struct {
	Kind        FrameKind
	Message     *Message
	Typing      *TypingIndicator
	UserStatus  *PresenceStatus
	ReadReceipt *ReadReceipt
}

var validate = validator.New()

// ParseFrame decodes the JSON body of an inbound frame for the given kind
// and validates its shape. A malformed or incomplete body is an error: the
// caller drops the frame and keeps the fan-out loop alive.
func ParseFrame(kind FrameKind, body []byte) (Frame, error) {
	f := Frame{Kind: kind}

	var target any
	switch kind {
	case FrameMessage:
		f.Message = &Message{}
		target = f.Message
	case FrameTyping:
		f.Typing = &TypingIndicator{}
		target = f.Typing
	case FrameUserStatus:
		f.UserStatus = &PresenceStatus{}
		target = f.UserStatus
	case FrameReadReceipt:
		f.ReadReceipt = &ReadReceipt{}
		target = f.ReadReceipt
	default:
		return Frame{}, fmt.Errorf("unknown frame kind %q", kind)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return Frame{}, fmt.Errorf("decode %s frame: %w", kind, err)
	}
	if err := validate.Struct(target); err != nil {
		return Frame{}, fmt.Errorf("invalid %s frame: %w", kind, err)
	}

	return f, nil
}
