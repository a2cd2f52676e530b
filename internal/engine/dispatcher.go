package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
	"github.com/oxenfxc/bilibili-autoreply/internal/metrics"
)

// GatewayFactory builds the API client for one account. Tests swap in
// fakes here.
type GatewayFactory func(acct *domain.Account) repo.MessageGateway

// Dispatcher owns one poller goroutine per active account. Starting and
// stopping accounts is safe from any goroutine.
type Dispatcher struct {
	gateways  GatewayFactory
	accounts  repo.AccountRepo
	cursors   repo.CursorRepo
	replyLogs repo.ReplyLogRepo
	rules     *usecase.RuleStore
	stats     *usecase.StatsCollector
	matchOpts domain.MatchOptions
	opts      Options
	log       zerolog.Logger

	// OnSessionExpired is called after an account is deactivated because
	// its cookies stopped working. Optional.
	OnSessionExpired func(uid string)

	mu      sync.Mutex
	runners map[string]*runner
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
	guard  *domain.ThrottleGuard
}

// NewDispatcher wires the dispatcher over shared stores
func NewDispatcher(
	gateways GatewayFactory,
	accounts repo.AccountRepo,
	cursors repo.CursorRepo,
	replyLogs repo.ReplyLogRepo,
	rules *usecase.RuleStore,
	stats *usecase.StatsCollector,
	matchOpts domain.MatchOptions,
	opts Options,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		gateways:  gateways,
		accounts:  accounts,
		cursors:   cursors,
		replyLogs: replyLogs,
		rules:     rules,
		stats:     stats,
		matchOpts: matchOpts,
		opts:      opts,
		log:       log,
		runners:   make(map[string]*runner),
	}
}

// StartAccount launches a poller for the account. Starting an already
// running account is an error.
func (d *Dispatcher) StartAccount(ctx context.Context, acct *domain.Account) error {
	if err := acct.Settings.Validate(); err != nil {
		return fmt.Errorf("account %s: %w", acct.UID, err)
	}

	log := d.log.With().Str("account", acct.UID).Logger()
	matcher := domain.NewMatcher(d.matchOpts, func(cerr *domain.RuleCompileError) {
		log.Error().Err(cerr.Err).Int64("rule", cerr.RuleID).Str("keyword", cerr.Keyword).
			Msg("rule pattern does not compile, rule skipped")
	})

	guard := domain.NewThrottleGuard(acct.Settings)
	d.seedGuard(ctx, acct.UID, guard)

	poller := NewPoller(acct, d.gateways(acct), d.rules, matcher, guard, d.stats,
		d.cursors, d.opts, d.log)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{cancel: cancel, done: make(chan struct{}), guard: guard}

	d.mu.Lock()
	if _, running := d.runners[acct.UID]; running {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("account %s is already running", acct.UID)
	}
	d.runners[acct.UID] = r
	d.mu.Unlock()

	go func() {
		defer close(r.done)
		metrics.ActivePollers.Inc()
		defer metrics.ActivePollers.Dec()

		err := poller.Run(runCtx)

		d.mu.Lock()
		delete(d.runners, acct.UID)
		d.mu.Unlock()

		if errors.Is(err, bilibili.ErrSessionExpired) {
			d.expireAccount(acct.UID)
		}
	}()

	log.Info().Msg("account started")
	return nil
}

// ThrottleSnapshot returns the per-talker throttle states of a running
// account. ok is false when the account is not running.
func (d *Dispatcher) ThrottleSnapshot(uid string) (states []domain.ThrottleState, ok bool) {
	d.mu.Lock()
	r, ok := d.runners[uid]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r.guard.Snapshot(), true
}

// StopAccount cancels the account's poller and waits for it to finish.
// Stopping an account that is not running is a no-op.
func (d *Dispatcher) StopAccount(uid string) {
	d.mu.Lock()
	r, ok := d.runners[uid]
	d.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	d.log.Info().Str("account", uid).Msg("account stopped")
}

// StopAll stops every running poller
func (d *Dispatcher) StopAll() {
	d.mu.Lock()
	runners := make([]*runner, 0, len(d.runners))
	for _, r := range d.runners {
		runners = append(runners, r)
	}
	d.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		<-r.done
	}
}

// Running reports whether the account has a live poller
func (d *Dispatcher) Running(uid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.runners[uid]
	return ok
}

// RunningAccounts lists UIDs with a live poller
func (d *Dispatcher) RunningAccounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.runners))
	for uid := range d.runners {
		out = append(out, uid)
	}
	return out
}

// seedGuard restores today's per-talker reply counts from the persisted
// log, so a restart does not reset daily limits.
func (d *Dispatcher) seedGuard(ctx context.Context, uid string, guard *domain.ThrottleGuard) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts, err := d.replyLogs.CountSentSince(ctx, uid, dayStart)
	if err != nil {
		d.log.Error().Err(err).Str("account", uid).Msg("failed to seed daily counters")
		return
	}
	for talkerID, n := range counts {
		guard.Seed(talkerID, n)
	}
}

func (d *Dispatcher) expireAccount(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.accounts.SetActive(ctx, uid, false); err != nil {
		d.log.Error().Err(err).Str("account", uid).Msg("failed to deactivate expired account")
	}
	if d.OnSessionExpired != nil {
		d.OnSessionExpired(uid)
	}
}
