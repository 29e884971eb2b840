package session

import (
	"log"
	"sync"

	"talanta/internal/models"
)

// handlerList is an ordered set of callbacks with closure-based removal.
// Registration order is delivery order, and a panicking callback is logged
// and skipped so one bad subscriber cannot take down the read pump.
type handlerList[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs = append(l.subs, handlerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := range l.subs {
			if l.subs[i].id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *handlerList[T]) emit(v T) {
	l.mu.Lock()
	subs := append([]handlerEntry[T](nil), l.subs...)
	l.mu.Unlock()

	for _, s := range subs {
		invoke(s.fn, v)
	}
}

func invoke[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session handler panicked: %v", r)
		}
	}()
	fn(v)
}

// dispatcher fans inbound frames and lifecycle transitions out to typed
// subscriber lists.
type dispatcher struct {
	message     handlerList[models.Message]
	typing      handlerList[models.TypingIndicator]
	userStatus  handlerList[models.PresenceStatus]
	readReceipt handlerList[models.ReadReceipt]
	connect     handlerList[struct{}]
	disconnect  handlerList[error]
	errs        handlerList[error]
}

func (d *dispatcher) dispatch(f models.Frame) {
	switch f.Kind {
	case models.FrameMessage:
		d.message.emit(*f.Message)
	case models.FrameTyping:
		d.typing.emit(*f.Typing)
	case models.FrameUserStatus:
		d.userStatus.emit(*f.UserStatus)
	case models.FrameReadReceipt:
		d.readReceipt.emit(*f.ReadReceipt)
	}
}
