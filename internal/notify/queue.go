// Package notify holds the bounded, self-expiring list of user-facing
// notifications produced by realtime events.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Kind classifies a notification for display.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Record is a single notification.
type Record struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config holds queue configuration.
type Config struct {
	Capacity int           // Max records retained, newest first (default: 5)
	TTL      time.Duration // Lifetime of each record (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: 5,
		TTL:      5 * time.Second,
	}
}

// Listener is called with a snapshot of the queue after every change.
type Listener func([]Record)

// Queue is a bounded list of notifications. Each record removes itself after
// the configured TTL unless dismissed earlier.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	records   []Record // newest first
	timers    map[int64]*time.Timer
	nextID    int64
	listeners map[int]Listener
	nextLis   int
	closed    bool
}

// NewQueue creates a new notification queue.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}

	return &Queue{
		cfg:       cfg,
		logger:    logger,
		timers:    make(map[int64]*time.Timer),
		listeners: make(map[int]Listener),
	}
}

// Push prepends a notification and evicts the oldest records beyond capacity.
// After Close, Push is a no-op and returns the zero Record.
func (q *Queue) Push(message string, kind Kind) Record {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Record{}
	}

	q.nextID++
	rec := Record{
		ID:        q.nextID,
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now(),
	}

	q.records = append([]Record{rec}, q.records...)
	for len(q.records) > q.cfg.Capacity {
		evicted := q.records[len(q.records)-1]
		q.records = q.records[:len(q.records)-1]
		q.stopTimerLocked(evicted.ID)
	}

	id := rec.ID
	q.timers[id] = time.AfterFunc(q.cfg.TTL, func() {
		q.expire(id)
	})

	snapshot, listeners := q.snapshotLocked()
	q.mu.Unlock()

	q.logger.Debug("notification pushed", "id", rec.ID, "kind", kind)
	notifyListeners(listeners, snapshot)

	return rec
}

// Dismiss removes a record before its TTL. Returns false if it is already gone.
func (q *Queue) Dismiss(id int64) bool {
	return q.remove(id)
}

// List returns a snapshot of the current records, newest first.
func (q *Queue) List() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.records))
	copy(out, q.records)
	return out
}

// Len returns the number of records currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// AddListener registers fn for change notifications and returns its remover.
func (q *Queue) AddListener(fn Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextLis++
	id := q.nextLis
	q.listeners[id] = fn

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Close stops all expiry timers and drops every record. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.records = nil
	q.listeners = make(map[int]Listener)
}

func (q *Queue) expire(id int64) {
	if q.remove(id) {
		q.logger.Debug("notification expired", "id", id)
	}
}

func (q *Queue) remove(id int64) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	idx := -1
	for i, r := range q.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}

	q.records = append(q.records[:idx], q.records[idx+1:]...)
	q.stopTimerLocked(id)

	snapshot, listeners := q.snapshotLocked()
	q.mu.Unlock()

	notifyListeners(listeners, snapshot)
	return true
}

func (q *Queue) stopTimerLocked(id int64) {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) snapshotLocked() ([]Record, []Listener) {
	snapshot := make([]Record, len(q.records))
	copy(snapshot, q.records)

	listeners := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		listeners = append(listeners, l)
	}
	return snapshot, listeners
}

func notifyListeners(listeners []Listener, snapshot []Record) {
	for _, l := range listeners {
		l(snapshot)
	}
}
