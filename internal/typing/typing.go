// Package typing turns raw keystrokes into debounced outbound typing
// indicators, and time-boxes inbound ones so a lost stop signal cannot
// leave the counterpart "typing" forever.
package typing

import (
	"sync"
	"time"
)

const (
	// DefaultIdle is how long after the last keystroke the stop indicator
	// fires.
	DefaultIdle = 1 * time.Second
	// DefaultExpiry is how long an inbound indicator stays visible without
	// an explicit stop.
	DefaultExpiry = 3 * time.Second
)

// Notifier debounces the outbound side: one rising-edge true per typing
// burst, one trailing false once the keyboard goes idle.
type Notifier struct {
	publish func(receiverID int64, isTyping bool)
	idle    time.Duration

	mu         sync.Mutex
	typing     bool
	receiverID int64
	timer      *time.Timer
}

func NewNotifier(idle time.Duration, publish func(receiverID int64, isTyping bool)) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Notifier{publish: publish, idle: idle}
}

// Keystroke records input directed at receiverID. The first keystroke of a
// burst publishes isTyping=true; every keystroke pushes the idle deadline
// out again. publish runs after the lock is released, so the callback may
// safely block or call back into the Notifier.
func (n *Notifier) Keystroke(receiverID int64) {
	n.mu.Lock()
	rising := !n.typing
	if rising {
		n.typing = true
		n.receiverID = receiverID
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, n.idleFired)
	n.mu.Unlock()

	if rising {
		n.publish(receiverID, true)
	}
}

func (n *Notifier) idleFired() {
	n.mu.Lock()
	fire := n.typing
	receiverID := n.receiverID
	n.typing = false
	n.mu.Unlock()

	if fire {
		n.publish(receiverID, false)
	}
}

// Stop flushes a pending stop indicator. It runs on every teardown path
// (conversation switch, logout, send) so the counterpart never sees a
// stuck indicator from our side.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	fire := n.typing
	receiverID := n.receiverID
	n.typing = false
	n.mu.Unlock()

	if fire {
		n.publish(receiverID, false)
	}
}

// Tracker is the inbound side: a per-counterpart flag that auto-clears
// after the expiry even when no explicit stop ever arrives.
type Tracker struct {
	expiry   time.Duration
	onChange func(isTyping bool)

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
}

// NewTracker creates a tracker for the active conversation. onChange is
// invoked on every flag transition; it may be nil.
func NewTracker(expiry time.Duration, onChange func(isTyping bool)) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &Tracker{expiry: expiry, onChange: onChange}
}

// Observe applies an inbound indicator. A true (re)arms the expiry clock; a
// false clears immediately. onChange runs after the lock is released.
func (t *Tracker) Observe(isTyping bool) {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	changed := t.typing != isTyping
	t.typing = isTyping
	if isTyping {
		t.timer = time.AfterFunc(t.expiry, t.expired)
	}
	t.mu.Unlock()

	if changed {
		t.onChange(isTyping)
	}
}

func (t *Tracker) expired() {
	t.mu.Lock()
	fire := t.typing
	t.typing = false
	t.mu.Unlock()

	if fire {
		t.onChange(false)
	}
}

func (t *Tracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Reset clears the flag and any pending expiry, for conversation teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.typing = false
}
