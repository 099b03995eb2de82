// Package ws maintains live push connections: a registry of authenticated
// channels and a gorilla/websocket hub that bridges the signal bus onto them.
package ws

import (
	"log/slog"
	"sync"
)

// Channel is one live push connection. Send is non-blocking and reports
// whether the payload was accepted; a channel whose buffer is full drops the
// payload rather than stall the sender.
type Channel interface {
	Send(data []byte) bool
	Close()
}

// Registry tracks which channels belong to which principals. A user has at
// most one active channel: attaching a second one evicts and closes the
// first. Operators form a broadcast set with no such limit.
type Registry struct {
	mu        sync.RWMutex
	users     map[string]Channel
	owners    map[Channel]string
	operators map[Channel]struct{}
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		users:     make(map[string]Channel),
		owners:    make(map[Channel]string),
		operators: make(map[Channel]struct{}),
		logger:    logger.With(slog.String("component", "ws_registry")),
	}
}

// AttachUser binds ch as the user's single active channel. Any previously
// attached channel for the same user is detached and closed, so a login from
// a second tab or device supersedes the first.
func (r *Registry) AttachUser(userID string, ch Channel) {
	var evicted Channel

	r.mu.Lock()
	if prev, ok := r.users[userID]; ok && prev != ch {
		delete(r.owners, prev)
		evicted = prev
	}
	r.users[userID] = ch
	r.owners[ch] = userID
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
		r.logger.Info("user session superseded", slog.String("user_id", userID))
	}
}

// AttachOperator adds ch to the operator broadcast set.
func (r *Registry) AttachOperator(ch Channel) {
	r.mu.Lock()
	r.operators[ch] = struct{}{}
	r.mu.Unlock()
}

// Detach removes ch from the registry. It is a no-op for channels that are
// not attached, and for user channels it only removes ch if it is still the
// user's current channel (an evicted channel must not detach its successor).
func (r *Registry) Detach(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.owners[ch]; ok {
		delete(r.owners, ch)
		if r.users[userID] == ch {
			delete(r.users, userID)
		}
	}
	delete(r.operators, ch)
}

// RouteToUser delivers data to the user's active channel. It reports false
// when the user has no channel or the channel dropped the payload; delivery
// is best-effort either way.
func (r *Registry) RouteToUser(userID string, data []byte) bool {
	r.mu.RLock()
	ch, ok := r.users[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return ch.Send(data)
}

// BroadcastOperators delivers data to every operator channel and returns the
// number that accepted it.
func (r *Registry) BroadcastOperators(data []byte) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.operators))
	for ch := range r.operators {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	n := 0
	for _, ch := range targets {
		if ch.Send(data) {
			n++
		}
	}
	return n
}

// BroadcastAll delivers data to every attached channel, users and operators
// alike. Used for price updates.
func (r *Registry) BroadcastAll(data []byte) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.users)+len(r.operators))
	for _, ch := range r.users {
		targets = append(targets, ch)
	}
	for ch := range r.operators {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	n := 0
	for _, ch := range targets {
		if ch.Send(data) {
			n++
		}
	}
	return n
}

// Counts returns the number of attached user and operator channels.
func (r *Registry) Counts() (users, operators int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.operators)
}

// CloseAll detaches and closes every channel. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []Channel
	for _, ch := range r.users {
		all = append(all, ch)
	}
	for ch := range r.operators {
		all = append(all, ch)
	}
	r.users = make(map[string]Channel)
	r.owners = make(map[Channel]string)
	r.operators = make(map[Channel]struct{})
	r.mu.Unlock()

	for _, ch := range all {
		ch.Close()
	}
}
