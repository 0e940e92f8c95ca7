// Package subscription keeps the realtime connection's competition rooms in
// sync with the user's live competitions.
//
// The desired set is the deduplicated union of competition codes from the
// user's created and joined lists, filtered to UPCOMING and ONGOING. The
// Registry diffs the desired set against what it has subscribed: new codes are
// subscribed, codes that left the set are unsubscribed. Every transition to
// connected starts from an empty set, since rooms do not survive a new
// connection.
package subscription

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/rickgao/arena-sync/internal/connection"
	"github.com/rickgao/arena-sync/internal/model"
)

// Conn is the part of the connection manager the Registry uses.
type Conn interface {
	Emit(event string, payload any) bool
	State() connection.State
	AddStateListener(fn connection.StateListener) func()
}

// Desired returns the sorted, deduplicated codes of live competitions in
// mine and joined. Competitions without a code are ignored.
func Desired(mine, joined []model.Competition) []string {
	set := make(map[string]struct{}, len(mine)+len(joined))
	for _, list := range [][]model.Competition{mine, joined} {
		for _, c := range list {
			if c.Code == "" || !c.Status.IsLive() {
				continue
			}
			set[c.Code] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Registry owns the set of competition codes subscribed on the live
// connection.
type Registry struct {
	conn   Conn
	logger *slog.Logger

	mu         sync.Mutex
	mine       []model.Competition
	joined     []model.Competition
	desired    []string
	subscribed map[string]struct{}
	connected  bool
	detach     func()
	closed     bool
}

// NewRegistry creates a Registry. Call Attach to follow connection state.
func NewRegistry(conn Conn, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conn:       conn,
		logger:     logger,
		subscribed: make(map[string]struct{}),
	}
}

// Attach starts following connection state transitions and reconciles
// against the current state. Calling it again replaces the previous listener.
func (r *Registry) Attach() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.detach
	r.detach = nil
	r.mu.Unlock()

	if prev != nil {
		prev()
	}

	// Registered outside r.mu: the listener takes r.mu itself.
	detach := r.conn.AddStateListener(r.onState)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		detach()
		return
	}
	r.detach = detach
	r.mu.Unlock()

	r.onState(r.conn.State())
}

// Sync replaces both competition lists and reconciles subscriptions once.
func (r *Registry) Sync(mine, joined []model.Competition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncLocked(slices.Clone(mine), slices.Clone(joined))
}

// SyncMine replaces the created-competitions list.
func (r *Registry) SyncMine(mine []model.Competition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncLocked(slices.Clone(mine), r.joined)
}

// SyncJoined replaces the joined-competitions list.
func (r *Registry) SyncJoined(joined []model.Competition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncLocked(r.mine, slices.Clone(joined))
}

func (r *Registry) syncLocked(mine, joined []model.Competition) {
	if r.closed {
		return
	}
	r.mine = mine
	r.joined = joined
	r.desired = Desired(mine, joined)
	r.reconcileLocked()
}

// Desired returns the current desired codes.
func (r *Registry) Desired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.desired)
}

// Subscribed returns the codes believed subscribed on the live connection,
// sorted.
func (r *Registry) Subscribed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.subscribed))
}

// Close stops following the connection. Subscriptions are left to the
// connection teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	detach := r.detach
	r.detach = nil
	r.subscribed = make(map[string]struct{})
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (r *Registry) onState(st connection.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	wasConnected := r.connected
	r.connected = st.Connected()

	switch {
	case r.connected:
		// Fresh connection: server-side rooms are gone.
		clear(r.subscribed)
		r.logger.Debug("resubscribing after connect",
			"connection_id", st.ConnectionID,
			"codes", len(r.desired),
		)
		r.reconcileLocked()
	case wasConnected:
		clear(r.subscribed)
	}
}

// reconcileLocked emits the diff between desired and subscribed.
func (r *Registry) reconcileLocked() {
	if !r.connected {
		return
	}

	want := make(map[string]struct{}, len(r.desired))
	for _, code := range r.desired {
		want[code] = struct{}{}
		if _, ok := r.subscribed[code]; ok {
			continue
		}
		if !r.conn.Emit(connection.EventSubscribeCompetition, code) {
			r.logger.Warn("subscribe failed, will retry on next sync", "competition", code)
			continue
		}
		r.subscribed[code] = struct{}{}
		r.logger.Debug("subscribed to competition", "competition", code)
	}

	for _, code := range slices.Sorted(maps.Keys(r.subscribed)) {
		if _, ok := want[code]; ok {
			continue
		}
		delete(r.subscribed, code)
		if !r.conn.Emit(connection.EventUnsubscribeCompetition, code) {
			r.logger.Warn("unsubscribe failed", "competition", code)
			continue
		}
		r.logger.Debug("unsubscribed from competition", "competition", code)
	}
}
