// Package secrets provides the key/value capability used to persist
// credentials. Backends are responsible for protecting values at rest;
// callers treat them as opaque strings.
package secrets

import (
	"context"
	"sort"
	"sync"
)

// Store is an opaque key/value store for secret material.
//
// Get reports ok=false when the key is absent. OnDidChange registers a
// listener that is called with the key of every value that was set or
// deleted; the returned function removes the listener.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	OnDidChange(listener func(key string)) (cancel func())
}

// notifier fans change notifications out to registered listeners.
type notifier struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(key string)
}

func (n *notifier) OnDidChange(listener func(key string)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners == nil {
		n.listeners = make(map[int]func(string))
	}
	id := n.next
	n.next++
	n.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// notify calls listeners in registration order outside the lock, so a
// listener may read from the store that notified it.
func (n *notifier) notify(key string) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.listeners[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	notifier
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key and notifies listeners.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()

	m.notify(key)
	return nil
}

// Delete removes key. Deleting an absent key does not notify.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, ok := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()

	if ok {
		m.notify(key)
	}
	return nil
}
