package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
	"github.com/oxenfxc/bilibili-autoreply/internal/metrics"
	"github.com/oxenfxc/bilibili-autoreply/pkg/retry"
)

// Options are the engine parameters shared by all pollers
type Options struct {
	// SessionLimit caps how many recent conversations one cycle scans
	SessionLimit int
	// FetchSize is the number of messages requested per conversation
	FetchSize int
	// MaxMessageAge excludes stale messages from ever getting a reply
	MaxMessageAge time.Duration
	// Retry is the backoff schedule for transient API failures
	Retry retry.BackoffConfig
}

// Poller drives the scan-match-reply cycle for one account. It runs on
// a single goroutine, so its cursor cache needs no locking.
type Poller struct {
	account *domain.Account
	gateway repo.MessageGateway
	rules   *usecase.RuleStore
	matcher *domain.Matcher
	guard   *domain.ThrottleGuard
	stats   *usecase.StatsCollector
	cursors repo.CursorRepo
	opts    Options
	log     zerolog.Logger

	seen  map[int64]int64 // talker -> highest processed seqno
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller wires a poller for one account
func NewPoller(
	account *domain.Account,
	gateway repo.MessageGateway,
	rules *usecase.RuleStore,
	matcher *domain.Matcher,
	guard *domain.ThrottleGuard,
	stats *usecase.StatsCollector,
	cursors repo.CursorRepo,
	opts Options,
	log zerolog.Logger,
) *Poller {
	return &Poller{
		account: account,
		gateway: gateway,
		rules:   rules,
		matcher: matcher,
		guard:   guard,
		stats:   stats,
		cursors: cursors,
		opts:    opts,
		log:     log.With().Str("account", account.UID).Logger(),
		seen:    make(map[int64]int64),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Run loops poll cycles until the context is cancelled or the session
// expires. A session expiry is returned so the caller can deactivate
// the account; every other cycle error is logged and the loop goes on.
func (p *Poller) Run(ctx context.Context) error {
	interval := time.Duration(p.account.Settings.ScanInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", interval).Msg("poller started")

	for {
		if err := p.cycle(ctx); err != nil {
			if errors.Is(err, bilibili.ErrSessionExpired) {
				p.log.Warn().Msg("session expired, stopping poller")
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Msg("poll cycle failed")
		}

		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle scans the most recent conversations once
func (p *Poller) cycle(ctx context.Context) error {
	start := p.now()

	var talkers []domain.Talker
	err := retry.WithRetry(ctx, func() error {
		var ferr error
		talkers, ferr = p.gateway.FetchSessions(ctx, domain.SessionTypeAll, p.opts.SessionLimit)
		return ferr
	}, bilibili.IsTransient, p.opts.Retry)
	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(p.account.UID).Inc()
		return fmt.Errorf("fetch sessions: %w", err)
	}

	for i := range talkers {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.processTalker(ctx, &talkers[i]); err != nil {
			if errors.Is(err, bilibili.ErrSessionExpired) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Int64("talker", talkers[i].ID).Msg("conversation scan failed")
		}
	}

	metrics.PollCyclesTotal.WithLabelValues(p.account.UID).Inc()
	metrics.PollCycleDuration.WithLabelValues(p.account.UID).Observe(p.now().Sub(start).Seconds())
	return nil
}

func (p *Poller) processTalker(ctx context.Context, talker *domain.Talker) error {
	cursor, err := p.cursor(ctx, talker.ID)
	if err != nil {
		return err
	}

	var msgs []domain.DirectMessage
	err = retry.WithRetry(ctx, func() error {
		var ferr error
		msgs, ferr = p.gateway.FetchMessages(ctx, talker.ID, talker.SessionType, p.opts.FetchSize, cursor)
		return ferr
	}, bilibili.IsTransient, p.opts.Retry)
	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(p.account.UID).Inc()
		return fmt.Errorf("fetch messages: %w", err)
	}

	maxSeq := cursor
	for i := range msgs {
		msg := &msgs[i]
		if msg.SeqNo > maxSeq {
			maxSeq = msg.SeqNo
		}
		if msg.IsFrom(p.account.UID) || !msg.IsText() {
			continue
		}
		metrics.MessagesScannedTotal.WithLabelValues(p.account.UID).Inc()
		if msg.OlderThan(p.now(), p.opts.MaxMessageAge) {
			continue
		}

		if err := p.handleMessage(ctx, talker, msg); err != nil {
			// Messages before the failure stay behind the cursor so the
			// failed one is retried next cycle.
			p.advanceCursor(ctx, talker.ID, msg.SeqNo-1)
			return err
		}
	}

	p.advanceCursor(ctx, talker.ID, maxSeq)
	return nil
}

// handleMessage evaluates one inbound text message end to end
func (p *Poller) handleMessage(ctx context.Context, talker *domain.Talker, msg *domain.DirectMessage) error {
	rules, err := p.rules.Snapshot(ctx, p.account.UID)
	if err != nil {
		return fmt.Errorf("rule snapshot: %w", err)
	}

	ev := &domain.ReplyEvent{
		AccountUID: p.account.UID,
		TalkerID:   talker.ID,
		TalkerName: talker.Name,
		Message:    msg.Text,
		At:         p.now(),
	}

	rule := p.matcher.Match(msg.Text, rules)
	if rule == nil {
		ev.Outcome = domain.OutcomeNoMatch
		p.stats.Record(ctx, ev)
		return nil
	}
	ev.RuleID = rule.ID
	ev.Reply = rule.ReplyContent

	verdict := p.guard.Check(talker.ID)
	if !verdict.Allow {
		ev.Outcome = verdict.Outcome
		p.stats.Record(ctx, ev)
		return nil
	}

	if verdict.Delay > 0 {
		if err := p.sleep(ctx, verdict.Delay); err != nil {
			return err
		}
	}

	err = retry.WithRetry(ctx, func() error {
		return p.gateway.SendText(ctx, talker.ID, talker.SessionType, rule.ReplyContent)
	}, bilibili.IsTransient, p.opts.Retry)
	if err != nil {
		if errors.Is(err, bilibili.ErrSessionExpired) {
			return err
		}
		ev.Outcome = domain.OutcomeSendFailed
		ev.Error = err.Error()
		p.stats.Record(ctx, ev)
		return nil
	}

	p.guard.Commit(talker.ID)
	ev.Outcome = domain.OutcomeSent
	p.stats.Record(ctx, ev)
	return nil
}

// cursor returns the highest processed seqno for a talker, falling back
// to the persisted value on first contact this run.
func (p *Poller) cursor(ctx context.Context, talkerID int64) (int64, error) {
	if seq, ok := p.seen[talkerID]; ok {
		return seq, nil
	}
	seq, err := p.cursors.Get(ctx, p.account.UID, talkerID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	p.seen[talkerID] = seq
	return seq, nil
}

func (p *Poller) advanceCursor(ctx context.Context, talkerID, seqno int64) {
	if seqno <= p.seen[talkerID] {
		return
	}
	p.seen[talkerID] = seqno
	if err := p.cursors.Advance(ctx, p.account.UID, talkerID, seqno); err != nil {
		p.log.Error().Err(err).Int64("talker", talkerID).Msg("failed to persist cursor")
	}
}

// sleepContext pauses for d unless the context ends first
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
