package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"evaliq-attempt-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionStoreProvider.
// State is lost on restart; use the Redis store for durable sessions.
type SessionStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[app.Key]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		namespaces: make(map[string]map[app.Key]string),
	}
}

func (s *SessionStore) Session(namespace string) app.SessionStore {
	return &sessionNamespace{store: s, name: namespace}
}

// Len reports how many namespaces hold at least one key.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces)
}

type sessionNamespace struct {
	store *SessionStore
	name  string
}

func (n *sessionNamespace) Get(_ context.Context, key app.Key) (string, bool, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	v, ok := n.store.namespaces[n.name][key]
	return v, ok, nil
}

func (n *sessionNamespace) Set(_ context.Context, key app.Key, value string) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	n.values()[key] = value
	return nil
}

func (n *sessionNamespace) Incr(_ context.Context, key app.Key) (int64, error) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	values := n.values()
	var cur int64
	if raw, ok := values[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: %w", key, err)
		}
		cur = parsed
	}
	cur++
	values[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (n *sessionNamespace) Delete(_ context.Context, keys ...app.Key) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	values, ok := n.store.namespaces[n.name]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(values, key)
	}
	if len(values) == 0 {
		delete(n.store.namespaces, n.name)
	}
	return nil
}

// values must be called with the write lock held.
func (n *sessionNamespace) values() map[app.Key]string {
	values, ok := n.store.namespaces[n.name]
	if !ok {
		values = make(map[app.Key]string)
		n.store.namespaces[n.name] = values
	}
	return values
}
