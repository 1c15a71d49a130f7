package voicesession

import (
	"context"
	"sync"
)

// ChanCallMonitor is a CallMonitor fed by Publish. Hosts bridge their telephony
// notifications into it; tests drive it directly.
type ChanCallMonitor struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan CallState
	done <-chan struct{}
}

// NewChanCallMonitor returns a monitor with no subscribers.
func NewChanCallMonitor() *ChanCallMonitor {
	return &ChanCallMonitor{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber until ctx is done, then closes its channel.
func (m *ChanCallMonitor) Subscribe(ctx context.Context) (<-chan CallState, error) {
	sub := &subscriber{ch: make(chan CallState, 16), done: ctx.Done()}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, sub)
		close(sub.ch)
		m.mu.Unlock()
	}()
	return sub.ch, nil
}

// Publish delivers s to every live subscriber in order. It waits while a
// subscriber's buffer is full so that no edge is lost.
func (m *ChanCallMonitor) Publish(s CallState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.ch <- s:
		case <-sub.done:
		}
	}
}
