package room

import "sync"

// mailbox - неограниченная очередь задач для цикла событий.
// post никогда не блокируется, поэтому его можно звать из колбэков pion
type mailbox struct {
	mu    sync.Mutex
	queue []func()

	wake chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queue
	m.queue = nil

	return queue
}
