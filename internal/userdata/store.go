package userdata

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/arena-sync/internal/model"
)

// Source reads user data from the server. *api.Client implements it.
type Source interface {
	GetPendingInvites(ctx context.Context) ([]model.Invite, error)
	GetSentInvites(ctx context.Context) ([]model.Invite, error)
	GetFriendRequests(ctx context.Context) ([]model.FriendRequest, error)
	GetFriends(ctx context.Context) ([]model.Friend, error)
	GetMyCompetitions(ctx context.Context) ([]model.Competition, error)
	GetJoinedCompetitions(ctx context.Context) ([]model.Competition, error)
	GetBalance(ctx context.Context) (model.Balance, error)
}

// CompetitionSink receives the competition lists after every reload.
// *subscription.Registry implements it.
type CompetitionSink interface {
	Sync(mine, joined []model.Competition)
}

// Config holds Store configuration.
type Config struct {
	ReconcileInterval time.Duration // Periodic full reload; 0 disables the loop
	LoadTimeout       time.Duration // Timeout for the initial load in Start
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Minute,
		LoadTimeout:       30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	PendingInvites []model.Invite
	SentInvites    []model.Invite
	FriendRequests []model.FriendRequest
	Friends        []model.Friend
	Mine           []model.Competition
	Joined         []model.Competition
	Balance        model.Balance
	LastSyncAt     time.Time
}

// Store holds the latest user data fetched from the server.
type Store struct {
	cfg    Config
	source Source
	sink   CompetitionSink
	logger *slog.Logger

	mu   sync.RWMutex
	data Snapshot

	commitMu sync.Mutex // serializes ReloadAll commits

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a Store. sink may be nil.
func NewStore(cfg Config, source Source, sink CompetitionSink, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
	}
}

// Start performs the initial load and starts the reconciliation loop.
func (s *Store) Start(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	err := s.ReloadAll(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	snap := s.Snapshot()
	s.logger.Info("user data store started",
		"mine", len(snap.Mine),
		"joined", len(snap.Joined),
		"reconcile_interval", s.cfg.ReconcileInterval,
	)

	if s.cfg.ReconcileInterval <= 0 {
		return nil
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	s.cancel = loopCancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconciliationLoop(loopCtx)
	}()
	return nil
}

// Stop gracefully shuts down.
func (s *Store) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("user data store stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current data.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.data
	snap.PendingInvites = slices.Clone(snap.PendingInvites)
	snap.SentInvites = slices.Clone(snap.SentInvites)
	snap.FriendRequests = slices.Clone(snap.FriendRequests)
	snap.Friends = slices.Clone(snap.Friends)
	snap.Mine = slices.Clone(snap.Mine)
	snap.Joined = slices.Clone(snap.Joined)
	return snap
}

// RefetchPendingInvites replaces the pending invite list.
func (s *Store) RefetchPendingInvites(ctx context.Context) error {
	invites, err := s.source.GetPendingInvites(ctx)
	if err != nil {
		return err
	}
	s.update(func(d *Snapshot) { d.PendingInvites = invites })
	return nil
}

// RefetchSentInvites replaces the sent invite list.
func (s *Store) RefetchSentInvites(ctx context.Context) error {
	invites, err := s.source.GetSentInvites(ctx)
	if err != nil {
		return err
	}
	s.update(func(d *Snapshot) { d.SentInvites = invites })
	return nil
}

// RefetchFriendRequests replaces the incoming friend request list.
func (s *Store) RefetchFriendRequests(ctx context.Context) error {
	requests, err := s.source.GetFriendRequests(ctx)
	if err != nil {
		return err
	}
	s.update(func(d *Snapshot) { d.FriendRequests = requests })
	return nil
}

// RefetchFriends replaces the friend list.
func (s *Store) RefetchFriends(ctx context.Context) error {
	friends, err := s.source.GetFriends(ctx)
	if err != nil {
		return err
	}
	s.update(func(d *Snapshot) { d.Friends = friends })
	return nil
}

// RefreshBalance replaces the wallet balance.
func (s *Store) RefreshBalance(ctx context.Context) error {
	balance, err := s.source.GetBalance(ctx)
	if err != nil {
		return err
	}
	s.update(func(d *Snapshot) { d.Balance = balance })
	return nil
}

// ReloadAll fetches everything concurrently. The store is only updated when
// every request succeeds; the competition lists are then pushed to the sink.
func (s *Store) ReloadAll(ctx context.Context) error {
	start := time.Now()

	var next Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		next.PendingInvites, err = s.source.GetPendingInvites(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.SentInvites, err = s.source.GetSentInvites(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.FriendRequests, err = s.source.GetFriendRequests(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.Friends, err = s.source.GetFriends(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.Mine, err = s.source.GetMyCompetitions(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.Joined, err = s.source.GetJoinedCompetitions(gctx)
		return err
	})
	g.Go(func() (err error) {
		next.Balance, err = s.source.GetBalance(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reload user data: %w", err)
	}

	next.LastSyncAt = time.Now()

	// Commit and push together so the sink sees reloads in commit order.
	s.commitMu.Lock()
	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Sync(next.Mine, next.Joined)
	}
	s.commitMu.Unlock()

	s.logger.Debug("user data reloaded",
		"pending_invites", len(next.PendingInvites),
		"friend_requests", len(next.FriendRequests),
		"mine", len(next.Mine),
		"joined", len(next.Joined),
		"duration", time.Since(start),
	)
	return nil
}

// reconciliationLoop periodically reloads everything.
func (s *Store) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ReloadAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reconciliation failed", "err", err)
			}
		}
	}
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.data)
	s.data.LastSyncAt = time.Now()
	s.mu.Unlock()
}
