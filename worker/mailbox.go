package worker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultMaxMessages = 100

var (
	// ErrTimeout signifies that one of the mailbox functions had a
	// timeout.
	ErrTimeout = errors.New("timeout expired")

	// ErrMailboxClosed indicates that a mailbox was closed while
	// reading or writing.
	ErrMailboxClosed = errors.New("mailbox is closed")
)

// onCapacityReachedHandler is a function that is to be called when a
// mailbox reaches capacity.
type onCapacityReachedHandler func()

// Mailbox is a bounded multi-producer queue of messages owned by a
// single consuming actor.
type Mailbox struct {
	channel chan Message

	// closed and closeLock are used to protect us from writing to a
	// closed channel; reads use the channel's built-in mechanism to
	// check if the channel is closed.
	closed    bool
	closeLock sync.Mutex

	onCapacityReachedHandler onCapacityReachedHandler
	onEnqueueHandler         func()
}

// NewMailbox creates a new Mailbox with the default capacity.
func NewMailbox() *Mailbox {
	return newMailboxWithCapacity(defaultMaxMessages)
}

func newMailboxWithCapacity(capacity int) *Mailbox {
	return &Mailbox{
		channel: make(chan Message, capacity),
	}
}

// Enqueue enqueues a message to the mailbox.
func (m *Mailbox) Enqueue(message Message) error {
	m.closeLock.Lock()
	defer m.closeLock.Unlock()

	if m.closed {
		return errors.WithStack(ErrMailboxClosed)
	}
	if len(m.channel) == cap(m.channel) && m.onCapacityReachedHandler != nil {
		m.onCapacityReachedHandler()
	}
	m.channel <- message
	if m.onEnqueueHandler != nil {
		m.onEnqueueHandler()
	}
	return nil
}

// Dequeue dequeues a message from the mailbox, blocking until one is
// available.
func (m *Mailbox) Dequeue() (Message, error) {
	message, isOpen := <-m.channel
	if !isOpen {
		return Message{}, errors.WithStack(ErrMailboxClosed)
	}
	return message, nil
}

// DequeueWithTimeout attempts to dequeue a message from the mailbox and
// returns an error if the given timeout expires first.
func (m *Mailbox) DequeueWithTimeout(timeout time.Duration) (Message, error) {
	select {
	case <-time.After(timeout):
		return Message{}, errors.Wrapf(ErrTimeout, "got timeout after %s",
			timeout)
	case message, isOpen := <-m.channel:
		if !isOpen {
			return Message{}, errors.WithStack(ErrMailboxClosed)
		}
		return message, nil
	}
}

// Poll dequeues a message without blocking. The second return value
// reports whether a message was available.
func (m *Mailbox) Poll() (Message, bool) {
	select {
	case message, isOpen := <-m.channel:
		if !isOpen {
			return Message{}, false
		}
		return message, true
	default:
		return Message{}, false
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.channel)
}

func (m *Mailbox) setOnCapacityReachedHandler(handler onCapacityReachedHandler) {
	m.onCapacityReachedHandler = handler
}

func (m *Mailbox) setOnEnqueueHandler(handler func()) {
	m.onEnqueueHandler = handler
}

// Close closes this mailbox.
func (m *Mailbox) Close() {
	m.closeLock.Lock()
	defer m.closeLock.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.channel)
}
