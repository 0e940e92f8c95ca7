package payment

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/arena-sync/internal/model"
)

// Errors
var (
	ErrInitiateFailed = errors.New("payment initiation failed")
	ErrNoCheckoutID   = errors.New("no checkout id returned")
	ErrDisposed       = errors.New("poller disposed")
)

// Status is the client-side state of one payment attempt.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusPushSent   Status = "push_sent"
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// IsTerminal reports whether the poller stops in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Purpose tells the gateway what the money is for.
type Purpose string

const (
	PurposeDeposit Purpose = "deposit"
	PurposeJoin    Purpose = "competition_join"
)

// Request describes a payment to initiate.
type Request struct {
	Amount         int64   `json:"amount"` // Minor units
	Phone          string  `json:"phoneNumber"`
	Purpose        Purpose `json:"purpose"`
	CompetitionID  string  `json:"competitionId,omitempty"`
	IdempotencyKey string  `json:"-"`
}

// StatusResult is the provider status for a checkout.
type StatusResult struct {
	Status        model.PaymentStatus `json:"status"`
	FailureReason string              `json:"failureReason,omitempty"`
	ResultDesc    string              `json:"resultDesc,omitempty"`
}

// Gateway initiates checkouts and reports their status.
type Gateway interface {
	Initiate(ctx context.Context, req Request) (checkoutID string, err error)
	Status(ctx context.Context, checkoutID string) (StatusResult, error)
}

// BalanceRefresher reloads the wallet balance after a completed payment.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context) error
}

// BalanceRefresherFunc is a function adapter for BalanceRefresher.
type BalanceRefresherFunc func(ctx context.Context) error

func (f BalanceRefresherFunc) RefreshBalance(ctx context.Context) error {
	return f(ctx)
}

// Recorder keeps an audit trail of payment attempts.
type Recorder interface {
	RecordStart(ctx context.Context, c Confirmation, req Request) error
	RecordOutcome(ctx context.Context, c Confirmation) error
}

// Confirmation is the observable state of one payment attempt.
type Confirmation struct {
	AttemptID  string    `json:"attemptId"` // Client-side id, assigned by Start
	CheckoutID string    `json:"checkoutId"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"` // Status queries issued
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Message    string    `json:"message,omitempty"` // User-facing text for the current status
}

// Config holds poller configuration.
type Config struct {
	Interval     time.Duration // Delay between status queries
	MaxAttempts  int           // Queries before TimedOut; 0 polls until a final status
	QueryTimeout time.Duration // Per-request timeout (default: 15s)
}

// DepositConfig polls every 3s with no attempt cap.
func DepositConfig() Config {
	return Config{
		Interval:     3 * time.Second,
		MaxAttempts:  0,
		QueryTimeout: 15 * time.Second,
	}
}

// JoinConfig polls every 10s and gives up after 30 queries (about five
// minutes).
func JoinConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		MaxAttempts:  30,
		QueryTimeout: 15 * time.Second,
	}
}

// User-facing messages.
const (
	msgPushSent  = "Check your phone and enter your PIN to complete the payment."
	msgPending   = "Waiting for payment confirmation..."
	msgCompleted = "Payment received. Your balance has been updated."
	msgFailed    = "Payment failed."
	msgCancelled = "Payment was cancelled."
	msgTimedOut  = "We could not confirm your payment in time. Check your balance and try again."
)
