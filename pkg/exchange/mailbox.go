package exchange

import "sync"

// mailbox is an unbounded FIFO queue with a one-slot wakeup channel. Pushing never blocks, so a
// worker never waits on a peer that is itself busy sending. Messages pushed by a single sender are
// delivered in order.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func newMailbox(hint int) *mailbox {
	return &mailbox{
		queue:  make([]Message, 0, hint),
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox) push(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns all queued messages.
func (m *mailbox) drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	q := m.queue
	m.queue = make([]Message, 0, cap(q))
	return q
}
