package domain

import (
	"math/rand"
	"sync"
	"time"
)

// ThrottleState tracks reply pacing for one (account, talker) pair
type ThrottleState struct {
	TalkerID     int64
	LastReplyAt  time.Time
	RepliesToday int
	DayKey       string // local date the counter belongs to, YYYY-MM-DD
	InCooldown   bool
}

// Verdict is the result of asking the guard whether a reply may fire
type Verdict struct {
	Allow bool
	// Outcome is the suppression outcome when Allow is false
	Outcome Outcome
	// Delay is the humanized pause to sleep before sending when Allow is true
	Delay time.Duration
}

// ThrottleGuard gates replies for one account. Decisions come from the
// account's poller goroutine while snapshots may be read concurrently,
// so all state access goes through one mutex.
type ThrottleGuard struct {
	settings ReplySettings

	mu     sync.Mutex
	states map[int64]*ThrottleState

	now     func() time.Time
	randInt func(n int) int
}

// NewThrottleGuard creates a guard with the given per-account settings
func NewThrottleGuard(settings ReplySettings) *ThrottleGuard {
	return &ThrottleGuard{
		settings: settings,
		states:   make(map[int64]*ThrottleState),
		now:      time.Now,
		randInt:  rand.Intn,
	}
}

// SetClock overrides the wall clock, for tests
func (g *ThrottleGuard) SetClock(now func() time.Time) { g.now = now }

// Seed pre-loads today's reply count for a talker, typically from the
// persisted reply log when an account restarts mid-day.
func (g *ThrottleGuard) Seed(talkerID int64, repliesToday int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state(talkerID)
	s.RepliesToday = repliesToday
}

// Check decides whether a matched rule may fire for this talker now.
// It does not record the send; call Commit after the send succeeds.
func (g *ThrottleGuard) Check(talkerID int64) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state(talkerID)
	now := g.now()
	g.rollDay(s, now)

	if g.settings.DailyLimit > 0 && s.RepliesToday >= g.settings.DailyLimit {
		return Verdict{Outcome: OutcomeDailyLimit}
	}

	gap := time.Duration(g.settings.MinReplyGap) * time.Second
	if gap > 0 && !s.LastReplyAt.IsZero() && now.Sub(s.LastReplyAt) < gap {
		s.InCooldown = true
		return Verdict{Outcome: OutcomeThrottled}
	}

	s.InCooldown = false
	return Verdict{Allow: true, Delay: g.replyDelay()}
}

// Commit records a completed send: the counter increments and the
// last-reply timestamp advances.
func (g *ThrottleGuard) Commit(talkerID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state(talkerID)
	now := g.now()
	g.rollDay(s, now)
	s.RepliesToday++
	if now.After(s.LastReplyAt) {
		s.LastReplyAt = now
	}
	s.InCooldown = false
}

// Snapshot returns a copy of all per-talker states for display
func (g *ThrottleGuard) Snapshot() []ThrottleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ThrottleState, 0, len(g.states))
	for _, s := range g.states {
		out = append(out, *s)
	}
	return out
}

func (g *ThrottleGuard) state(talkerID int64) *ThrottleState {
	s, ok := g.states[talkerID]
	if !ok {
		s = &ThrottleState{TalkerID: talkerID, DayKey: g.now().Format("2006-01-02")}
		g.states[talkerID] = s
	}
	return s
}

// rollDay resets the daily counter exactly once when the local date
// advances past the stored day key. Evaluated lazily, no timer involved.
func (g *ThrottleGuard) rollDay(s *ThrottleState, now time.Time) {
	day := now.Format("2006-01-02")
	if s.DayKey != day {
		s.DayKey = day
		s.RepliesToday = 0
	}
}

// replyDelay draws a uniform delay from [ReplyDelayMin, ReplyDelayMax]
func (g *ThrottleGuard) replyDelay() time.Duration {
	min, max := g.settings.ReplyDelayMin, g.settings.ReplyDelayMax
	if max <= min {
		return time.Duration(min) * time.Second
	}
	return time.Duration(min+g.randInt(max-min+1)) * time.Second
}
