// Package mailbox implements the per-task bounded FIFO message queues of
// spec.md §4.3: non-blocking send, non-blocking receive, FIFO delivery per
// destination. It is the Go-channel-based equivalent of the Python
// original's queue.Queue per task name.
package mailbox

import (
	"errors"
	"sync"
)

// ErrMailboxFull is returned by Send when the destination mailbox is at
// capacity. Callers may treat this as application-level back-pressure;
// spec.md §4.3 leaves the response to a full mailbox to the application.
var ErrMailboxFull = errors.New("mailbox: send would block, mailbox full")

// DefaultCapacity is the bound used when NewMailbox (or a Bus created by
// NewBus) is given a capacity <= 0.
const DefaultCapacity = 256

// Mailbox is a single task's bounded FIFO message queue.
type Mailbox struct {
	ch chan interface{}
}

// NewMailbox creates a Mailbox with the given capacity. A capacity <= 0
// selects DefaultCapacity (256 messages). A Mailbox is always bounded:
// it is backed by a fixed-capacity channel, and Send returns
// ErrMailboxFull once capacity messages are queued.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{ch: make(chan interface{}, capacity)}
}

// Send enqueues msg without blocking. It returns ErrMailboxFull if the
// mailbox is at capacity.
func (m *Mailbox) Send(msg interface{}) error {
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// TryRecv returns the next message and true, or nil and false if the
// mailbox is empty. It never blocks.
func (m *Mailbox) TryRecv() (interface{}, bool) {
	select {
	case msg := <-m.ch:
		return msg, true
	default:
		return nil, false
	}
}

// Len returns the number of currently queued messages.
func (m *Mailbox) Len() int { return len(m.ch) }

// Bus is a registry of Mailboxes keyed by task name, the Scheduler's
// "Message Bus" component of spec.md §4.3.
type Bus struct {
	mu       sync.RWMutex
	boxes    map[string]*Mailbox
	capacity int
}

// NewBus creates a Bus. capacity is applied to every Mailbox it creates;
// 0 selects DefaultCapacity.
func NewBus(capacity int) *Bus {
	return &Bus{boxes: make(map[string]*Mailbox), capacity: capacity}
}

// Register creates (or replaces) the Mailbox for name. The Scheduler
// calls this from AddTask and, on Supervisor restart, when replacing a
// crashed task's Mailbox per spec.md §4.5 ("replace the Mailbox").
func (b *Bus) Register(name string) *Mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	box := NewMailbox(b.capacity)
	b.boxes[name] = box
	return box
}

// Unregister removes name's Mailbox, if any.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.boxes, name)
}

// Send enqueues msg to name's Mailbox. An unknown destination is a no-op
// per spec.md §7 ("Unknown task (trigger/remove/send) — no-op, logged");
// callers that want to detect this should check Has first.
func (b *Bus) Send(name string, msg interface{}) error {
	b.mu.RLock()
	box, ok := b.boxes[name]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return box.Send(msg)
}

// Recv returns the next message for name, or nil/false if empty or
// unknown.
func (b *Bus) Recv(name string) (interface{}, bool) {
	b.mu.RLock()
	box, ok := b.boxes[name]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return box.TryRecv()
}

// Has reports whether name has a registered Mailbox.
func (b *Bus) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.boxes[name]
	return ok
}
