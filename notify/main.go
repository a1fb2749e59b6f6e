// Package notify fans values out to any number of subscribers.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const multiplexerTimeout = 200 * time.Millisecond

type subscriber[E any] struct {
	ch      chan E
	comment string
}

// Multiplexer sends each value to every subscriber, in the order they were sent.
// Send never blocks: values are queued, and dropped if the queue is full.
type Multiplexer[E any] struct {
	comment string
	queue   chan E

	subscribersLock sync.Mutex
	subscribers     []subscriber[E]

	statsLock sync.Mutex
	dropped   int
	closed    bool
	done      chan struct{}
}

// NewMultiplexer makes a Multiplexer queueing up to buffer values.
func NewMultiplexer[E any](comment string, buffer int) *Multiplexer[E] {
	m := &Multiplexer[E]{
		comment: comment,
		queue:   make(chan E, buffer),
		done:    make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *Multiplexer[E]) Send(e E) {
	m.statsLock.Lock()
	defer m.statsLock.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- e:
	default:
		m.dropped++
	}
}

// Dropped is how many values were dropped as the queue was full.
func (m *Multiplexer[E]) Dropped() int {
	m.statsLock.Lock()
	defer m.statsLock.Unlock()
	return m.dropped
}

// Close stops m after everything queued has been delivered.
// Values sent afterwards are ignored.
func (m *Multiplexer[E]) Close() {
	m.statsLock.Lock()
	if m.closed {
		m.statsLock.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.statsLock.Unlock()
	<-m.done
}

func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	m.subscribers = append(m.subscribers, subscriber[E]{
		ch:      c,
		comment: comment,
	})
}

func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	i := slices.IndexFunc(m.subscribers, func(sub subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		panic("already unsubscribed")
	}
	m.subscribers = slices.Delete(m.subscribers, i, i+1)
}

func (m *Multiplexer[E]) pump() {
	defer close(m.done)
	for e := range m.queue {
		m.send(e)
	}
}

func (m *Multiplexer[E]) send(e E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	for _, sub := range m.subscribers {
		select {
		case sub.ch <- e:
		case <-time.After(multiplexerTimeout):
			zap.S().Warnf("multiplexer %s: subscriber %s timed out: %v", m.comment, sub.comment, e)
		}
	}
}
