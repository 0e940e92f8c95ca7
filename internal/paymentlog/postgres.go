package paymentlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/arena-sync/internal/payment"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS payment_attempts (
	attempt_id     TEXT PRIMARY KEY,
	checkout_id    TEXT NOT NULL DEFAULT '',
	purpose        TEXT NOT NULL DEFAULT '',
	amount         BIGINT NOT NULL DEFAULT 0,
	phone          TEXT NOT NULL DEFAULT '',
	competition_id TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	started_at     BIGINT NOT NULL,
	updated_at     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_attempts_started_at_idx ON payment_attempts (started_at DESC);
`

type postgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Log backed by PostgreSQL. The table is created if
// missing.
func NewPostgres(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) (*Log, error) {
	return newLog(ctx, &postgresBackend{db: db}, logger)
}

func (b *postgresBackend) ensureSchema(ctx context.Context) error {
	_, err := b.db.Exec(ctx, pgSchema)
	return err
}

func (b *postgresBackend) upsertStart(ctx context.Context, e Entry) error {
	_, err := b.db.Exec(ctx, `
		INSERT INTO payment_attempts (attempt_id, checkout_id, purpose, amount, phone, competition_id,
			status, attempts, message, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (attempt_id) DO UPDATE SET
			checkout_id = EXCLUDED.checkout_id,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at
	`, e.AttemptID, e.CheckoutID, e.Purpose, e.Amount, e.Phone, e.CompetitionID,
		string(e.Status), e.Attempts, e.Message, e.StartedAt.UnixMicro(), e.UpdatedAt.UnixMicro())
	return err
}

func (b *postgresBackend) upsertOutcome(ctx context.Context, e Entry) error {
	_, err := b.db.Exec(ctx, `
		INSERT INTO payment_attempts (attempt_id, checkout_id, status, attempts, message, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id) DO UPDATE SET
			checkout_id = EXCLUDED.checkout_id,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at
	`, e.AttemptID, e.CheckoutID, string(e.Status), e.Attempts, e.Message,
		e.StartedAt.UnixMicro(), e.UpdatedAt.UnixMicro())
	return err
}

func (b *postgresBackend) recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := b.db.Query(ctx, `
		SELECT attempt_id, checkout_id, purpose, amount, phone, competition_id,
			status, attempts, message, started_at, updated_at
		FROM payment_attempts
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var status string
		var started, updated int64
		err := row.Scan(&e.AttemptID, &e.CheckoutID, &e.Purpose, &e.Amount, &e.Phone, &e.CompetitionID,
			&status, &e.Attempts, &e.Message, &started, &updated)
		e.Status = payment.Status(status)
		e.StartedAt = time.UnixMicro(started)
		e.UpdatedAt = time.UnixMicro(updated)
		return e, err
	})
}

func (b *postgresBackend) close() {
	b.db.Close()
}
