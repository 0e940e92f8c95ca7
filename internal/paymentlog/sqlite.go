package paymentlog

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/rickgao/arena-sync/internal/payment"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS payment_attempts (
	attempt_id     TEXT PRIMARY KEY,
	checkout_id    TEXT NOT NULL DEFAULT '',
	purpose        TEXT NOT NULL DEFAULT '',
	amount         INTEGER NOT NULL DEFAULT 0,
	phone          TEXT NOT NULL DEFAULT '',
	competition_id TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	started_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_attempts_started_at_idx ON payment_attempts (started_at DESC);
`

type sqliteBackend struct {
	db *sql.DB
}

// NewSQLite creates a Log backed by SQLite. The table is created if missing.
func NewSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Log, error) {
	return newLog(ctx, &sqliteBackend{db: db}, logger)
}

func (b *sqliteBackend) ensureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (b *sqliteBackend) upsertStart(ctx context.Context, e Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (attempt_id, checkout_id, purpose, amount, phone, competition_id,
			status, attempts, message, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id) DO UPDATE SET
			checkout_id = excluded.checkout_id,
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at
	`, e.AttemptID, e.CheckoutID, e.Purpose, e.Amount, e.Phone, e.CompetitionID,
		string(e.Status), e.Attempts, e.Message, e.StartedAt.UnixMicro(), e.UpdatedAt.UnixMicro())
	return err
}

func (b *sqliteBackend) upsertOutcome(ctx context.Context, e Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (attempt_id, checkout_id, status, attempts, message, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id) DO UPDATE SET
			checkout_id = excluded.checkout_id,
			status = excluded.status,
			attempts = excluded.attempts,
			message = excluded.message,
			updated_at = excluded.updated_at
	`, e.AttemptID, e.CheckoutID, string(e.Status), e.Attempts, e.Message,
		e.StartedAt.UnixMicro(), e.UpdatedAt.UnixMicro())
	return err
}

func (b *sqliteBackend) recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT attempt_id, checkout_id, purpose, amount, phone, competition_id,
			status, attempts, message, started_at, updated_at
		FROM payment_attempts
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		var started, updated int64
		if err := rows.Scan(&e.AttemptID, &e.CheckoutID, &e.Purpose, &e.Amount, &e.Phone, &e.CompetitionID,
			&status, &e.Attempts, &e.Message, &started, &updated); err != nil {
			return nil, err
		}
		e.Status = payment.Status(status)
		e.StartedAt = time.UnixMicro(started)
		e.UpdatedAt = time.UnixMicro(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (b *sqliteBackend) close() {
	_ = b.db.Close()
}
