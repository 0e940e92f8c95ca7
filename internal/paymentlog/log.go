package paymentlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/arena-sync/internal/config"
	"github.com/rickgao/arena-sync/internal/database"
	"github.com/rickgao/arena-sync/internal/payment"
)

// ErrDisabled is returned by Open when the driver is "none".
var ErrDisabled = errors.New("payment log disabled")

// Entry is one recorded payment attempt.
type Entry struct {
	AttemptID     string
	CheckoutID    string
	Purpose       string
	Amount        int64
	Phone         string // Masked
	CompetitionID string
	Status        payment.Status
	Attempts      int
	Message       string
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// Metrics counts log writes.
type Metrics struct {
	Starts   int64
	Outcomes int64
	Errors   int64
}

// backend is a storage engine for entries.
type backend interface {
	ensureSchema(ctx context.Context) error
	upsertStart(ctx context.Context, e Entry) error
	upsertOutcome(ctx context.Context, e Entry) error
	recent(ctx context.Context, limit int) ([]Entry, error)
	close()
}

// Log records payment attempts. It implements payment.Recorder.
type Log struct {
	b      backend
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

func newLog(ctx context.Context, b backend, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Log{b: b, logger: logger}, nil
}

// Open creates the Log selected by cfg.
func Open(ctx context.Context, cfg config.PaymentLogConfig, logger *slog.Logger) (*Log, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, ErrDisabled
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		l, err := NewSQLite(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		return l, nil
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		l, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown payment log driver %q", cfg.Driver)
	}
}

// RecordStart stores a new attempt or refreshes an existing one.
func (l *Log) RecordStart(ctx context.Context, c payment.Confirmation, req payment.Request) error {
	e := entryFrom(c)
	e.Purpose = string(req.Purpose)
	e.Amount = req.Amount
	e.Phone = MaskPhone(req.Phone)
	e.CompetitionID = req.CompetitionID

	err := l.b.upsertStart(ctx, e)
	l.count(func(m *Metrics) { m.Starts++ }, err)
	if err != nil {
		return fmt.Errorf("record payment start %s: %w", c.AttemptID, err)
	}
	return nil
}

// RecordOutcome stores the latest status of an attempt.
func (l *Log) RecordOutcome(ctx context.Context, c payment.Confirmation) error {
	err := l.b.upsertOutcome(ctx, entryFrom(c))
	l.count(func(m *Metrics) { m.Outcomes++ }, err)
	if err != nil {
		return fmt.Errorf("record payment outcome %s: %w", c.AttemptID, err)
	}

	l.logger.Debug("payment outcome recorded",
		"attempt_id", c.AttemptID,
		"status", c.Status,
	)
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := l.b.recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return entries, nil
}

// Stats returns current metrics.
func (l *Log) Stats() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// Close releases the underlying database.
func (l *Log) Close() {
	l.b.close()
}

func (l *Log) count(fn func(*Metrics), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.metrics.Errors++
		return
	}
	fn(&l.metrics)
}

func entryFrom(c payment.Confirmation) Entry {
	return Entry{
		AttemptID:  c.AttemptID,
		CheckoutID: c.CheckoutID,
		Status:     c.Status,
		Attempts:   c.Attempts,
		Message:    c.Message,
		StartedAt:  c.StartedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// MaskPhone keeps the last three digits of a phone number.
func MaskPhone(phone string) string {
	const visible = 3
	if len(phone) <= visible {
		return phone
	}
	return strings.Repeat("*", len(phone)-visible) + phone[len(phone)-visible:]
}
