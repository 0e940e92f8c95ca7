package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/arena-sync/internal/model"
)

// Option configures a Poller.
type Option func(*Poller)

// WithBalanceRefresher sets the collaborator called once on Completed.
func WithBalanceRefresher(b BalanceRefresher) Option {
	return func(p *Poller) {
		p.balance = b
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Poller) {
		p.recorder = r
	}
}

// WithOnTerminal sets a callback run once when a payment reaches a terminal
// status. It runs after Done is closed, so it may call Start again. It is not
// called when the attempt was disposed first.
func WithOnTerminal(fn func(Confirmation)) Option {
	return func(p *Poller) {
		p.onTerminal = fn
	}
}

// run is one Start call: its disposal context and completion signal.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller drives one payment attempt from initiation to a terminal status.
type Poller struct {
	cfg        Config
	gateway    Gateway
	balance    BalanceRefresher
	recorder   Recorder
	onTerminal func(Confirmation)
	logger     *slog.Logger

	mu          sync.Mutex
	cur         *run
	conf        Confirmation
	transitions []Status
}

// New creates a Poller.
func New(cfg Config, gateway Gateway, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DepositConfig().Interval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DepositConfig().QueryTimeout
	}

	p := &Poller{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start initiates req and, on success, starts polling its status. ctx is the
// owning scope: cancelling it disposes the poller like Stop. A running loop
// is stopped before the new attempt begins.
//
// Start returns an error only when initiation fails; the poller is then in
// Failed.
func (p *Poller) Start(ctx context.Context, req Request) error {
	if prev := p.dispose(); prev != nil {
		<-prev.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	handedOff := false
	defer func() {
		// Once handed off, the loop or the failure path closes done.
		if !handedOff {
			close(r.done)
		}
	}()

	now := time.Now()
	p.mu.Lock()
	p.cur = r
	p.conf = Confirmation{
		AttemptID: uuid.NewString(),
		Status:    StatusInitiating,
		StartedAt: now,
		UpdatedAt: now,
	}
	p.transitions = []Status{StatusInitiating}
	p.mu.Unlock()

	initCtx, initCancel := context.WithTimeout(runCtx, p.cfg.QueryTimeout)
	checkoutID, err := p.gateway.Initiate(initCtx, req)
	initCancel()

	if runCtx.Err() != nil {
		return ErrDisposed
	}

	if err == nil && checkoutID == "" {
		err = ErrNoCheckoutID
	}
	if err != nil {
		p.logger.Warn("payment initiation failed", "purpose", req.Purpose, "error", err)
		conf, ok := p.transition(r, func(c *Confirmation) bool {
			c.Status = StatusFailed
			c.Message = initiateMessage(err)
			return true
		})
		if ok {
			p.record(req, conf, false)
			p.record(req, conf, true)
		}
		cancel()
		handedOff = true
		close(r.done)
		if ok {
			p.notifyTerminal(conf)
		}
		return fmt.Errorf("%w: %w", ErrInitiateFailed, err)
	}

	conf, ok := p.transition(r, func(c *Confirmation) bool {
		c.CheckoutID = checkoutID
		c.Status = StatusPushSent
		c.Message = msgPushSent
		return true
	})
	if !ok {
		return ErrDisposed
	}
	p.record(req, conf, false)

	p.logger.Info("payment push sent",
		"checkout_id", checkoutID,
		"purpose", req.Purpose,
		"interval", p.cfg.Interval,
		"max_attempts", p.cfg.MaxAttempts,
	)

	handedOff = true
	go p.poll(r, checkoutID)
	return nil
}

// Stop disposes the poller and waits for the loop to exit. The abandoned
// confirmation is left as it was.
func (p *Poller) Stop(ctx context.Context) error {
	r := p.dispose()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current confirmation.
func (p *Poller) Snapshot() Confirmation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conf
}

// Transitions returns every status entered since the last Start, in order.
// Repeated Pending results are each recorded.
func (p *Poller) Transitions() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.transitions)
}

// Done is closed when the current attempt stops: terminal status, disposal
// or failed initiation. Before the first Start it is already closed.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.cur.done
}

// dispose cancels the current run. The cancel happens under mu, so no
// transition can land after it.
func (p *Poller) dispose() *run {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.cur
	if r != nil {
		r.cancel()
	}
	return r
}

// poll runs the query loop, then closes done and reports the terminal
// status.
func (p *Poller) poll(r *run, checkoutID string) {
	conf, terminal := p.pollUntilTerminal(r, checkoutID)
	r.cancel()
	close(r.done)

	if terminal {
		p.notifyTerminal(conf)
	}
}

// pollUntilTerminal issues one status query per interval. The next query is
// scheduled only after the previous one returns. It reports whether a
// terminal status was reached before disposal.
func (p *Poller) pollUntilTerminal(r *run, checkoutID string) (Confirmation, bool) {
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return Confirmation{}, false
		case <-timer.C:
		}

		if r.ctx.Err() != nil {
			return Confirmation{}, false
		}

		qctx, cancel := context.WithTimeout(r.ctx, p.cfg.QueryTimeout)
		res, err := p.gateway.Status(qctx, checkoutID)
		cancel()

		// Disposed while the query was in flight: drop the response.
		if r.ctx.Err() != nil {
			return Confirmation{}, false
		}

		conf, ok := p.apply(r, res, err)
		if !ok {
			return Confirmation{}, false
		}
		if conf.Status.IsTerminal() {
			p.complete(r, conf)
			return conf, r.ctx.Err() == nil
		}

		timer.Reset(p.cfg.Interval)
	}
}

// apply folds one query result into the confirmation.
func (p *Poller) apply(r *run, res StatusResult, err error) (Confirmation, bool) {
	return p.transition(r, func(c *Confirmation) bool {
		c.Attempts++

		entered := true
		switch {
		case err != nil:
			p.logger.Warn("payment status query failed",
				"checkout_id", c.CheckoutID,
				"attempt", c.Attempts,
				"error", err,
			)
			entered = false
		case res.Status == model.PaymentCompleted:
			c.Status = StatusCompleted
			c.Message = firstNonEmpty(res.ResultDesc, msgCompleted)
			return true
		case res.Status == model.PaymentFailed:
			c.Status = StatusFailed
			c.Message = firstNonEmpty(res.FailureReason, res.ResultDesc, msgFailed)
			return true
		case res.Status == model.PaymentCancelled:
			c.Status = StatusCancelled
			c.Message = firstNonEmpty(res.FailureReason, res.ResultDesc, msgCancelled)
			return true
		default:
			c.Status = StatusPending
			c.Message = msgPending
		}

		if p.cfg.MaxAttempts > 0 && c.Attempts >= p.cfg.MaxAttempts {
			c.Status = StatusTimedOut
			c.Message = msgTimedOut
			return true
		}
		return entered
	})
}

// transition mutates the confirmation unless r has been disposed or
// replaced. mutate reports whether it entered a status, which is then
// appended to the transition log.
func (p *Poller) transition(r *run, mutate func(*Confirmation) bool) (Confirmation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != r || r.ctx.Err() != nil {
		return Confirmation{}, false
	}

	entered := mutate(&p.conf)
	p.conf.UpdatedAt = time.Now()
	if entered {
		p.transitions = append(p.transitions, p.conf.Status)
	}
	return p.conf, true
}

// complete runs the terminal side effects that precede Done.
func (p *Poller) complete(r *run, conf Confirmation) {
	p.logger.Info("payment reached terminal status",
		"checkout_id", conf.CheckoutID,
		"status", conf.Status,
		"attempts", conf.Attempts,
		"duration", time.Since(conf.StartedAt),
	)

	if conf.Status == StatusCompleted && p.balance != nil {
		if err := p.balance.RefreshBalance(r.ctx); err != nil {
			p.logger.Warn("balance refresh failed", "error", err)
		}
	}

	p.record(Request{}, conf, true)
}

func (p *Poller) notifyTerminal(conf Confirmation) {
	if p.onTerminal != nil {
		p.onTerminal(conf)
	}
}

func (p *Poller) record(req Request, conf Confirmation, outcome bool) {
	if p.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.QueryTimeout)
	defer cancel()

	var err error
	if outcome {
		err = p.recorder.RecordOutcome(ctx, conf)
	} else {
		err = p.recorder.RecordStart(ctx, conf, req)
	}
	if err != nil {
		p.logger.Warn("failed to record payment", "checkout_id", conf.CheckoutID, "error", err)
	}
}

func initiateMessage(err error) string {
	if errors.Is(err, ErrNoCheckoutID) {
		return "Could not start the payment. Please try again."
	}
	return msgFailed + " Please try again."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
