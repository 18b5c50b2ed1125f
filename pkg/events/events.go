package events

import (
	"sort"
	"sync"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// Kind names a session lifecycle notification
type Kind string

const (
	Connect        Kind = "connect"
	Disconnect     Kind = "disconnect"
	AccountChanged Kind = "accountChanged"
)

// Notification is delivered to subscribers. PublicKey is set for connect,
// and for accountChanged when the wallet switched to another account.
type Notification struct {
	Kind      Kind
	PublicKey *types.PublicKey
}

type Handler func(n Notification)

// Registry fans lifecycle notifications out to subscribers. It is kept apart
// from request correlation so a leaked request cannot affect notifications.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind]map[uint64]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[Kind]map[uint64]Handler),
	}
}

// Subscribe registers h for kind and returns a func that removes it
func (r *Registry) Subscribe(kind Kind, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[uint64]Handler)
	}
	r.subs[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs[kind], id)
		})
	}
}

// Emit calls every handler subscribed to n.Kind in subscription order.
// Handlers run on the caller's goroutine and may subscribe or unsubscribe.
func (r *Registry) Emit(n Notification) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.subs[n.Kind]))
	for id := range r.subs[n.Kind] {
		ids = append(ids, id)
	}
	handlers := make(map[uint64]Handler, len(ids))
	for _, id := range ids {
		handlers[id] = r.subs[n.Kind][id]
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		handlers[id](n)
	}
}

// Count returns the number of handlers subscribed to kind
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[kind])
}
