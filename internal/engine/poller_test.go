package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
	"github.com/oxenfxc/bilibili-autoreply/pkg/retry"
)

// Fakes

type sentReply struct {
	talkerID int64
	text     string
}

type fakeGateway struct {
	mu           sync.Mutex
	sessions     []domain.Talker
	messages     map[int64][]domain.DirectMessage
	sent         []sentReply
	sessionTypes []int

	// errors popped once per call, in order
	sessionErrs []error
	sendErrs    []error
}

func (g *fakeGateway) FetchSessions(ctx context.Context, sessionType, size int) ([]domain.Talker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionTypes = append(g.sessionTypes, sessionType)
	if len(g.sessionErrs) > 0 {
		err := g.sessionErrs[0]
		g.sessionErrs = g.sessionErrs[1:]
		return nil, err
	}
	if len(g.sessions) > size {
		return g.sessions[:size], nil
	}
	return g.sessions, nil
}

func (g *fakeGateway) FetchMessages(ctx context.Context, talkerID int64, sessionType, size int, beginSeqno int64) ([]domain.DirectMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.DirectMessage
	for _, m := range g.messages[talkerID] {
		if m.SeqNo > beginSeqno {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGateway) SendText(ctx context.Context, talkerID int64, receiverType int, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sendErrs) > 0 {
		err := g.sendErrs[0]
		g.sendErrs = g.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	g.sent = append(g.sent, sentReply{talkerID: talkerID, text: text})
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]int64)}
}

func cursorKey(uid string, talkerID int64) string {
	return fmt.Sprintf("%s/%d", uid, talkerID)
}

func (r *fakeCursorRepo) Get(ctx context.Context, uid string, talkerID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[cursorKey(uid, talkerID)], nil
}

func (r *fakeCursorRepo) Advance(ctx context.Context, uid string, talkerID int64, seqno int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cursorKey(uid, talkerID)
	if seqno > r.cursors[key] {
		r.cursors[key] = seqno
	}
	return nil
}

type staticRuleRepo struct {
	rules []domain.Rule
}

func (r *staticRuleRepo) ListByAccount(ctx context.Context, uid string, enabledOnly bool) ([]domain.Rule, error) {
	return append([]domain.Rule(nil), r.rules...), nil
}

func (r *staticRuleRepo) Get(ctx context.Context, uid string, ruleID int64) (*domain.Rule, error) {
	return nil, nil
}

func (r *staticRuleRepo) Save(ctx context.Context, rule *domain.Rule) (int64, error) {
	return 0, nil
}

func (r *staticRuleRepo) Delete(ctx context.Context, uid string, ruleID int64) error { return nil }

func (r *staticRuleRepo) SetEnabled(ctx context.Context, uid string, ruleID int64, enabled bool) error {
	return nil
}

func (r *staticRuleRepo) SetPriority(ctx context.Context, uid string, ruleID int64, priority int) error {
	return nil
}

// Helpers

func testSettings() domain.ReplySettings {
	return domain.ReplySettings{
		AutoReplyEnabled: true,
		ReplyDelayMin:    0,
		ReplyDelayMax:    0,
		MinReplyGap:      0,
		DailyLimit:       100,
		ScanInterval:     1,
	}
}

func testOptions() Options {
	return Options{
		SessionLimit:  20,
		FetchSize:     10,
		MaxMessageAge: 24 * time.Hour,
		Retry: retry.BackoffConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1.0,
			MaxRetries:      2,
		},
	}
}

func newTestPoller(t *testing.T, gw *fakeGateway, rules []domain.Rule, settings domain.ReplySettings) (*Poller, *usecase.StatsCollector, *fakeCursorRepo) {
	t.Helper()
	acct := &domain.Account{
		UID:      "100",
		Cookies:  map[string]string{"bili_jct": "x"},
		Active:   true,
		Settings: settings,
	}
	store := usecase.NewRuleStore(&staticRuleRepo{rules: rules})
	matcher := domain.NewMatcher(domain.MatchOptions{}, nil)
	guard := domain.NewThrottleGuard(settings)
	stats := usecase.NewStatsCollector(nil, zerolog.Nop())
	cursors := newFakeCursorRepo()

	p := NewPoller(acct, gw, store, matcher, guard, stats, cursors, testOptions(), zerolog.Nop())
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p, stats, cursors
}

func textMsg(seq, talkerID int64, sender, text string, at time.Time) domain.DirectMessage {
	return domain.DirectMessage{
		SeqNo:     seq,
		TalkerID:  talkerID,
		SenderUID: sender,
		MsgType:   domain.MsgTypeText,
		Text:      text,
		At:        at,
	}
}

// Tests

func TestPoller_RepliesToMatchedMessage(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser, Name: "alice"}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello there", now)},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, stats, cursors := newTestPoller(t, gw, rules, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if gw.sentCount() != 1 {
		t.Fatalf("expected 1 reply, got %d", gw.sentCount())
	}
	if gw.sent[0].text != "hi!" {
		t.Fatalf("wrong reply text %q", gw.sent[0].text)
	}

	agg := stats.ForAccount("100")
	if agg.Outcomes[domain.OutcomeSent] != 1 {
		t.Fatalf("expected 1 sent outcome, got %d", agg.Outcomes[domain.OutcomeSent])
	}
	if seq, _ := cursors.Get(context.Background(), "100", 7); seq != 1 {
		t.Fatalf("cursor not advanced, got %d", seq)
	}
}

func TestPoller_ScansAllSessionTypes(t *testing.T) {
	// Type 4 covers followed peers, the unfollowed fold and fan groups.
	gw := &fakeGateway{}
	p, _, _ := newTestPoller(t, gw, nil, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(gw.sessionTypes) != 1 || gw.sessionTypes[0] != domain.SessionTypeAll {
		t.Fatalf("session list fetched with types %v, want [%d]", gw.sessionTypes, domain.SessionTypeAll)
	}
}

func TestPoller_SecondCycleIsIdempotent(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello", now)},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, _, _ := newTestPoller(t, gw, rules, testSettings())

	for i := 0; i < 3; i++ {
		if err := p.cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if gw.sentCount() != 1 {
		t.Fatalf("message answered %d times, want exactly once", gw.sentCount())
	}
}

func TestPoller_SkipsOwnNonTextAndStaleMessages(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {
				textMsg(1, 7, "100", "hello from myself", now),
				{SeqNo: 2, TalkerID: 7, SenderUID: "200", MsgType: domain.MsgTypeImage, At: now},
				textMsg(3, 7, "200", "hello but stale", now.Add(-48*time.Hour)),
			},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, stats, cursors := newTestPoller(t, gw, rules, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if gw.sentCount() != 0 {
		t.Fatalf("expected no replies, got %d", gw.sentCount())
	}
	agg := stats.ForAccount("100")
	if len(agg.Outcomes) != 0 {
		t.Fatalf("skipped messages must not produce events, got %v", agg.Outcomes)
	}
	// Skipped messages still move the cursor so they are never re-fetched.
	if seq, _ := cursors.Get(context.Background(), "100", 7); seq != 3 {
		t.Fatalf("cursor not advanced past skipped messages, got %d", seq)
	}
}

func TestPoller_ThrottleSuppressesSecondReply(t *testing.T) {
	now := time.Now()
	settings := testSettings()
	settings.MinReplyGap = 60
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {
				textMsg(1, 7, "200", "hello", now),
				textMsg(2, 7, "200", "hello again", now),
			},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, stats, _ := newTestPoller(t, gw, rules, settings)

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if gw.sentCount() != 1 {
		t.Fatalf("expected exactly 1 reply, got %d", gw.sentCount())
	}
	agg := stats.ForAccount("100")
	if agg.Outcomes[domain.OutcomeThrottled] != 1 {
		t.Fatalf("expected 1 throttled outcome, got %v", agg.Outcomes)
	}
}

func TestPoller_RetriesTransientFetch(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello", now)},
		},
		sessionErrs: []error{
			&bilibili.TransientError{Op: "fetch_sessions", Err: errors.New("http 502")},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, _, _ := newTestPoller(t, gw, rules, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed after retry: %v", err)
	}
	if gw.sentCount() != 1 {
		t.Fatalf("expected 1 reply after retry, got %d", gw.sentCount())
	}
}

func TestPoller_SendFailureRecordedAndCycleContinues(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello", now)},
		},
		sendErrs: []error{&bilibili.SendError{Code: 21047, Message: "account muted"}},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}
	p, stats, _ := newTestPoller(t, gw, rules, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	agg := stats.ForAccount("100")
	if agg.Outcomes[domain.OutcomeSendFailed] != 1 {
		t.Fatalf("expected 1 send-failed outcome, got %v", agg.Outcomes)
	}
	// A definitive send failure does not consume the throttle budget.
	if agg.Outcomes[domain.OutcomeSent] != 0 {
		t.Fatalf("failed send must not count as sent")
	}
}

func TestPoller_RunStopsOnSessionExpiry(t *testing.T) {
	gw := &fakeGateway{
		sessionErrs: []error{
			fmt.Errorf("fetch_sessions: %w", bilibili.ErrSessionExpired),
		},
	}
	p, _, _ := newTestPoller(t, gw, nil, testSettings())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	if !errors.Is(err, bilibili.ErrSessionExpired) {
		t.Fatalf("expected session expiry from Run, got %v", err)
	}
}

func TestPoller_NoMatchRecorded(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "unrelated chatter", now)},
		},
	}
	rules := []domain.Rule{
		{ID: 1, AccountUID: "100", Keyword: "price", MatchType: domain.MatchContains, ReplyContent: "...", Enabled: true},
	}
	p, stats, _ := newTestPoller(t, gw, rules, testSettings())

	if err := p.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if gw.sentCount() != 0 {
		t.Fatalf("expected no reply")
	}
	agg := stats.ForAccount("100")
	if agg.Outcomes[domain.OutcomeNoMatch] != 1 {
		t.Fatalf("expected 1 no-match outcome, got %v", agg.Outcomes)
	}
}
