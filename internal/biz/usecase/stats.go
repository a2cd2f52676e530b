package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/metrics"
)

// activityWindow is the trailing window for per-talker activity rates
const activityWindow = time.Hour

// AccountStats is the aggregated view for one account
type AccountStats struct {
	Outcomes    map[domain.Outcome]int64 `json:"outcomes"`
	RuleMatches map[int64]int64          `json:"rule_matches"`
}

// StatsCollector ingests reply events from all pollers. Appends are
// mutex-guarded; pollers on different accounts share this one instance.
type StatsCollector struct {
	logRepo repo.ReplyLogRepo
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	accounts map[string]*accountStats
}

type accountStats struct {
	outcomes    map[domain.Outcome]int64
	ruleMatches map[int64]int64
	activity    map[int64][]time.Time // talker -> recent event times
}

// NewStatsCollector creates a collector. logRepo may be nil in tests.
func NewStatsCollector(logRepo repo.ReplyLogRepo, log zerolog.Logger) *StatsCollector {
	return &StatsCollector{
		logRepo:  logRepo,
		log:      log,
		now:      time.Now,
		accounts: make(map[string]*accountStats),
	}
}

// Record ingests one event: updates in-memory aggregates, mirrors the
// outcome into prometheus and persists it to the reply log.
func (c *StatsCollector) Record(ctx context.Context, ev *domain.ReplyEvent) {
	c.mu.Lock()
	acct := c.account(ev.AccountUID)
	acct.outcomes[ev.Outcome]++
	if ev.RuleID != 0 {
		acct.ruleMatches[ev.RuleID]++
	}
	acct.activity[ev.TalkerID] = appendPruned(acct.activity[ev.TalkerID], ev.At, c.now())
	c.mu.Unlock()

	metrics.RepliesTotal.WithLabelValues(ev.AccountUID, string(ev.Outcome)).Inc()
	if ev.RuleID != 0 {
		metrics.RuleMatchesTotal.WithLabelValues(ev.AccountUID).Inc()
	}

	c.logEvent(ev)

	if c.logRepo != nil {
		if err := c.logRepo.Append(ctx, ev); err != nil {
			c.log.Error().Err(err).Str("account", ev.AccountUID).Msg("failed to persist reply event")
		}
	}
}

// ForAccount returns a copy of the aggregates for one account
func (c *StatsCollector) ForAccount(uid string) AccountStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.account(uid)
	out := AccountStats{
		Outcomes:    make(map[domain.Outcome]int64, len(acct.outcomes)),
		RuleMatches: make(map[int64]int64, len(acct.ruleMatches)),
	}
	for k, v := range acct.outcomes {
		out.Outcomes[k] = v
	}
	for k, v := range acct.ruleMatches {
		out.RuleMatches[k] = v
	}
	return out
}

// ActivityRate returns events per minute for one talker over the
// trailing window.
func (c *StatsCollector) ActivityRate(uid string, talkerID int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.account(uid)
	now := c.now()
	pruned := prune(acct.activity[talkerID], now)
	acct.activity[talkerID] = pruned
	return float64(len(pruned)) / activityWindow.Minutes()
}

func (c *StatsCollector) account(uid string) *accountStats {
	acct, ok := c.accounts[uid]
	if !ok {
		acct = &accountStats{
			outcomes:    make(map[domain.Outcome]int64),
			ruleMatches: make(map[int64]int64),
			activity:    make(map[int64][]time.Time),
		}
		c.accounts[uid] = acct
	}
	return acct
}

func (c *StatsCollector) logEvent(ev *domain.ReplyEvent) {
	e := c.log.Info()
	if ev.Outcome == domain.OutcomeSendFailed {
		e = c.log.Error()
	}
	e.Str("account", ev.AccountUID).
		Int64("talker", ev.TalkerID).
		Int64("rule", ev.RuleID).
		Str("outcome", string(ev.Outcome)).
		Msg("reply event")
}

func appendPruned(times []time.Time, at, now time.Time) []time.Time {
	return append(prune(times, now), at)
}

func prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-activityWindow)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
