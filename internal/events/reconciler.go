package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/rickgao/arena-sync/internal/connection"
	"github.com/rickgao/arena-sync/internal/notify"
)

// Refetcher reloads canonical state from the server. Errors are logged by
// the reconciler and never retried; the next event is the retry.
type Refetcher interface {
	RefetchPendingInvites(ctx context.Context) error
	RefetchSentInvites(ctx context.Context) error
	RefetchFriendRequests(ctx context.Context) error
	RefetchFriends(ctx context.Context) error
	ReloadAll(ctx context.Context) error
}

// Notifier receives user-facing notifications.
type Notifier interface {
	Push(message string, kind notify.Kind) notify.Record
}

// Subscriber registers event handlers on the live connection.
type Subscriber interface {
	Subscribe(event string, h connection.Handler) func()
}

// Config holds reconciler configuration.
type Config struct {
	SettleDelay    time.Duration // Wait before a delayed reload (default: 1s)
	ReloadDebounce time.Duration // Window in which reload requests coalesce (default: 250ms)
	RefetchTimeout time.Duration // Per-call timeout for refetch and reload (default: 15s)
	Currency       string        // Currency code used in refund messages (default: KES)
	Language       language.Tag  // Number formatting locale (default: English)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SettleDelay:    time.Second,
		ReloadDebounce: 250 * time.Millisecond,
		RefetchTimeout: 15 * time.Second,
		Currency:       "KES",
		Language:       language.English,
	}
}

// Reconciler reacts to inbound events according to the dispatch table.
type Reconciler struct {
	cfg      Config
	refetch  Refetcher
	notifier Notifier
	format   formatter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	unsubs      []func()
	reloadTimer *time.Timer
	reloadAt    time.Time
	lastConnID  string
	failed      bool // inside a failure episode; one notification each
	closed      bool // disposed; checked by timers and background calls
}

// NewReconciler creates a Reconciler. Call Attach to start receiving events.
func NewReconciler(cfg Config, refetch Refetcher, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Language == language.Und {
		cfg.Language = def.Language
	}
	if cfg.RefetchTimeout <= 0 {
		cfg.RefetchTimeout = def.RefetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:      cfg,
		refetch:  refetch,
		notifier: notifier,
		format:   newFormatter(cfg.Language, cfg.Currency),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Attach registers a handler for every catalog event on sub. Handlers
// registered by an earlier Attach are removed first.
func (r *Reconciler) Attach(sub Subscriber) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range prev {
		unsub()
	}

	unsubs := make([]func(), 0, len(Catalog))
	for _, kind := range Catalog {
		unsubs = append(unsubs, sub.Subscribe(string(kind), func(data json.RawMessage) {
			r.Handle(kind, data)
		}))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return
	}
	r.unsubs = unsubs
	r.mu.Unlock()
}

// OnState schedules a full reload whenever a new connection replaces an
// earlier one, since events missed in between are not replayed. Entering
// Failed pushes one generic error notification per failure episode.
func (r *Reconciler) OnState(st connection.State) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	enteredFailed := st.Status == connection.StatusFailed && !r.failed
	r.failed = st.Status == connection.StatusFailed

	var prev string
	if st.Connected() {
		prev = r.lastConnID
		r.lastConnID = st.ConnectionID
	}
	r.mu.Unlock()

	if enteredFailed {
		r.logger.Warn("connection failed", "error", st.LastError)
		if r.notifier != nil {
			r.notifier.Push(GenericErrorMessage, notify.KindError)
		}
		return
	}

	if st.Connected() && prev != "" && prev != st.ConnectionID {
		r.logger.Info("reconnected, scheduling reload", "connection_id", st.ConnectionID)
		r.scheduleReload(ReloadImmediate)
	}
}

// Handle applies the reaction for one event. It is safe to call from the
// connection's read goroutine: refetches run in the background.
func (r *Reconciler) Handle(kind Kind, data json.RawMessage) {
	if r.ctx.Err() != nil {
		return
	}

	reaction, ok := ReactionFor(kind)
	if !ok {
		r.logger.Debug("ignoring event outside catalog", "event", kind)
		return
	}

	ev, err := Decode(kind, data)
	if err != nil {
		// Reconciliation does not depend on the payload.
		r.logger.Warn("failed to decode event", "event", kind, "error", err)
		if kind == KindError {
			// The error notice is fixed text and needs no payload fields.
			ev = &ServerError{}
		}
	}

	switch e := ev.(type) {
	case *RoomAck:
		r.logger.Debug("room "+string(kind), "competition", e.Competition)
	case *ServerError:
		r.logger.Warn("server reported error", "message", e.Message)
	}

	if reaction.Notify && ev != nil && r.notifier != nil {
		if msg, nk := r.format.notification(ev); msg != "" {
			r.notifier.Push(msg, nk)
		}
	}

	if reaction.Refetch != TargetNone {
		r.runRefetch(reaction.Refetch)
	}
	if reaction.Reload != ReloadNone {
		r.scheduleReload(reaction.Reload)
	}
}

// Close removes every handler, stops the pending reload and cancels
// in-flight refetches. Safe to call more than once.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubs := r.unsubs
	r.unsubs = nil
	if r.reloadTimer != nil {
		r.reloadTimer.Stop()
		r.reloadTimer = nil
	}
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) runRefetch(target Target) {
	var fn func(context.Context) error
	switch target {
	case TargetPendingInvites:
		fn = r.refetch.RefetchPendingInvites
	case TargetSentInvites:
		fn = r.refetch.RefetchSentInvites
	case TargetFriendRequests:
		fn = r.refetch.RefetchFriendRequests
	case TargetFriends:
		fn = r.refetch.RefetchFriends
	default:
		return
	}
	r.goCall("refetch "+string(target), fn)
}

// scheduleReload coalesces reload requests into one timer. A request only
// pushes the deadline later, never earlier.
func (r *Reconciler) scheduleReload(mode ReloadMode) {
	delay := r.cfg.ReloadDebounce
	if mode == ReloadDelayed && r.cfg.SettleDelay > delay {
		delay = r.cfg.SettleDelay
	}
	due := time.Now().Add(delay)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.reloadTimer != nil {
		if !due.After(r.reloadAt) {
			return
		}
		r.reloadTimer.Stop()
	}
	r.reloadAt = due
	r.reloadTimer = time.AfterFunc(delay, r.fireReload)
}

func (r *Reconciler) fireReload() {
	r.mu.Lock()
	if r.closed || time.Now().Before(r.reloadAt) {
		// Superseded by a later deadline.
		r.mu.Unlock()
		return
	}
	r.reloadTimer = nil
	r.mu.Unlock()

	r.goCall("reload all", r.refetch.ReloadAll)
}

// goCall runs fn in the background, bounded by RefetchTimeout and cancelled
// by Close. Failures are logged and swallowed.
func (r *Reconciler) goCall(name string, fn func(context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RefetchTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.logger.Warn(name+" failed", "error", err)
			return
		}
		r.logger.Debug(name+" complete", "duration", time.Since(start))
	}()
}
