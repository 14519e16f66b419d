package server

import "sync"

// Registry is the bidirectional subscription index. It holds session
// identifiers only, never session objects, so a stale entry can never keep
// a session alive; identifiers are resolved through the client table at
// broadcast time.
//
// Invariant: clientID is in subscribers[instrument] exactly when
// instrument is in subscriptions[clientID]. Both maps mutate under one lock so
// the invariant is never observable mid-update. Empty sets are removed
// entirely to bound memory under churn.
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]struct{} // clientID -> instruments
	subscribers   map[string]map[string]struct{} // instrument -> clientIDs
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[string]map[string]struct{}),
		subscribers:   make(map[string]map[string]struct{}),
	}
}

// Add registers clientID as a subscriber of instrument. Adding the same
// pair twice leaves exactly one membership.
func (r *Registry) Add(clientID, instrument string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscriptions[clientID] == nil {
		r.subscriptions[clientID] = make(map[string]struct{})
	}
	r.subscriptions[clientID][instrument] = struct{}{}

	if r.subscribers[instrument] == nil {
		r.subscribers[instrument] = make(map[string]struct{})
	}
	r.subscribers[instrument][clientID] = struct{}{}
}

// Remove deletes the pair from both maps. Removing a pair that was never
// added is a no-op.
func (r *Registry) Remove(clientID, instrument string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.subscriptions[clientID]; ok {
		delete(subs, instrument)
		if len(subs) == 0 {
			delete(r.subscriptions, clientID)
		}
	}

	if clients, ok := r.subscribers[instrument]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(r.subscribers, instrument)
		}
	}
}

// RemoveAll drops every subscription of clientID in one batched update and
// returns the instruments that were removed.
func (r *Registry) RemoveAll(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscriptions[clientID]
	if !ok {
		return nil
	}

	instruments := make([]string, 0, len(subs))
	for instrument := range subs {
		instruments = append(instruments, instrument)
		if clients, ok := r.subscribers[instrument]; ok {
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(r.subscribers, instrument)
			}
		}
	}
	delete(r.subscriptions, clientID)

	return instruments
}

// Subscribers returns a snapshot of the client identifiers subscribed to
// the instrument.
func (r *Registry) Subscribers(instrument string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients, ok := r.subscribers[instrument]
	if !ok {
		return nil
	}

	result := make([]string, 0, len(clients))
	for clientID := range clients {
		result = append(result, clientID)
	}
	return result
}

// Subscriptions returns a snapshot of the instruments clientID is
// subscribed to.
func (r *Registry) Subscriptions(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.subscriptions[clientID]
	if !ok {
		return nil
	}

	result := make([]string, 0, len(subs))
	for instrument := range subs {
		result = append(result, instrument)
	}
	return result
}
