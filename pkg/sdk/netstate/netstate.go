// Package netstate provides the connectivity signal that gates flushing.
package netstate

import (
	"sync"
)

// Signal reports whether the collector is reachable and announces
// transitions. Subscribe returns a channel receiving the new state on
// every change and a func that ends the subscription.
type Signal interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Static returns a Signal that never changes
func Static(online bool) Signal {
	return static(online)
}

type static bool

func (s static) Online() bool { return bool(s) }

func (static) Subscribe() (<-chan bool, func()) {
	return nil, func() {}
}

// Manual is a Signal driven by the host, e.g. from its own network
// monitoring.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewManual returns a Manual in the given state
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]chan bool)}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the state and notifies subscribers on change.
// Slow subscribers see only the latest state.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

func (m *Manual) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
