package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
)

type fakeAccountRepo struct {
	mu          sync.Mutex
	deactivated []string
}

func (r *fakeAccountRepo) Get(ctx context.Context, uid string) (*domain.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, acct *domain.Account) error { return nil }

func (r *fakeAccountRepo) List(ctx context.Context) ([]*domain.Account, error) { return nil, nil }

func (r *fakeAccountRepo) SetActive(ctx context.Context, uid string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !active {
		r.deactivated = append(r.deactivated, uid)
	}
	return nil
}

func (r *fakeAccountRepo) UpdateSettings(ctx context.Context, uid string, settings domain.ReplySettings) error {
	return nil
}

func (r *fakeAccountRepo) Delete(ctx context.Context, uid string) error { return nil }

func (r *fakeAccountRepo) deactivatedUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deactivated...)
}

type fakeReplyLogRepo struct {
	counts map[int64]int
}

func (r *fakeReplyLogRepo) Append(ctx context.Context, ev *domain.ReplyEvent) error { return nil }

func (r *fakeReplyLogRepo) Recent(ctx context.Context, uid string, limit int) ([]*domain.ReplyEvent, error) {
	return nil, nil
}

func (r *fakeReplyLogRepo) CountSentSince(ctx context.Context, uid string, since time.Time) (map[int64]int, error) {
	return r.counts, nil
}

func testAccount(uid string) *domain.Account {
	return &domain.Account{
		UID:      uid,
		Cookies:  map[string]string{"bili_jct": "x"},
		Active:   true,
		Settings: testSettings(),
	}
}

func newTestDispatcher(gateways map[string]*fakeGateway, accounts *fakeAccountRepo, logs *fakeReplyLogRepo) (*Dispatcher, *usecase.StatsCollector) {
	if logs == nil {
		logs = &fakeReplyLogRepo{}
	}
	factory := func(acct *domain.Account) repo.MessageGateway {
		return gateways[acct.UID]
	}
	rules := usecase.NewRuleStore(&staticRuleRepo{rules: []domain.Rule{
		{ID: 1, Keyword: "hello", MatchType: domain.MatchContains, ReplyContent: "hi!", Enabled: true},
	}})
	stats := usecase.NewStatsCollector(nil, zerolog.Nop())
	d := NewDispatcher(factory, accounts, newFakeCursorRepo(), logs, rules, stats,
		domain.MatchOptions{}, testOptions(), zerolog.Nop())
	return d, stats
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcher_StartAndStop(t *testing.T) {
	gw := &fakeGateway{sessions: []domain.Talker{}}
	d, _ := newTestDispatcher(map[string]*fakeGateway{"100": gw}, &fakeAccountRepo{}, nil)

	if err := d.StartAccount(context.Background(), testAccount("100")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.Running("100") {
		t.Fatal("account should be running")
	}
	if err := d.StartAccount(context.Background(), testAccount("100")); err == nil {
		t.Fatal("second start must fail while running")
	}

	d.StopAccount("100")
	if d.Running("100") {
		t.Fatal("account should have stopped")
	}
	// Stopping again is a no-op.
	d.StopAccount("100")
}

func TestDispatcher_ExpiredAccountDoesNotAffectOthers(t *testing.T) {
	now := time.Now()
	expired := &fakeGateway{
		sessionErrs: []error{fmt.Errorf("fetch_sessions: %w", bilibili.ErrSessionExpired)},
	}
	healthy := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello", now)},
		},
	}
	accounts := &fakeAccountRepo{}
	d, _ := newTestDispatcher(map[string]*fakeGateway{"100": expired, "101": healthy}, accounts, nil)

	var notifiedMu sync.Mutex
	var notified []string
	d.OnSessionExpired = func(uid string) {
		notifiedMu.Lock()
		notified = append(notified, uid)
		notifiedMu.Unlock()
	}

	if err := d.StartAccount(context.Background(), testAccount("100")); err != nil {
		t.Fatalf("start 100: %v", err)
	}
	if err := d.StartAccount(context.Background(), testAccount("101")); err != nil {
		t.Fatalf("start 101: %v", err)
	}

	// The expired account winds down on its own and gets deactivated.
	waitFor(t, 5*time.Second, func() bool { return !d.Running("100") })
	waitFor(t, 5*time.Second, func() bool {
		notifiedMu.Lock()
		defer notifiedMu.Unlock()
		return len(notified) == 1 && notified[0] == "100"
	})
	waitFor(t, 5*time.Second, func() bool {
		uids := accounts.deactivatedUIDs()
		return len(uids) == 1 && uids[0] == "100"
	})

	// The healthy account keeps replying.
	waitFor(t, 5*time.Second, func() bool { return healthy.sentCount() == 1 })
	if !d.Running("101") {
		t.Fatal("healthy account should still be running")
	}
	d.StopAll()
	if d.Running("101") {
		t.Fatal("StopAll should have stopped the healthy account")
	}
}

func TestDispatcher_SeedsDailyCountersFromLog(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		sessions: []domain.Talker{{ID: 7, SessionType: domain.SessionTypeUser}},
		messages: map[int64][]domain.DirectMessage{
			7: {textMsg(1, 7, "200", "hello", now)},
		},
	}
	acct := testAccount("100")
	acct.Settings.DailyLimit = 3
	// Talker 7 already got its three replies today before the restart.
	logs := &fakeReplyLogRepo{counts: map[int64]int{7: 3}}
	d, stats := newTestDispatcher(map[string]*fakeGateway{"100": gw}, &fakeAccountRepo{}, logs)

	if err := d.StartAccount(context.Background(), acct); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopAll()

	waitFor(t, 5*time.Second, func() bool {
		return stats.ForAccount("100").Outcomes[domain.OutcomeDailyLimit] >= 1
	})
	if gw.sentCount() != 0 {
		t.Fatalf("daily limit reached before restart, got %d replies", gw.sentCount())
	}
	states, ok := d.ThrottleSnapshot("100")
	if !ok || len(states) != 1 || states[0].RepliesToday != 3 {
		t.Fatalf("expected seeded throttle state, got ok=%v states=%v", ok, states)
	}
}

func TestDispatcher_ThrottleSnapshotUnknownAccount(t *testing.T) {
	d, _ := newTestDispatcher(nil, &fakeAccountRepo{}, nil)
	if _, ok := d.ThrottleSnapshot("999"); ok {
		t.Fatal("snapshot of unknown account must report not running")
	}
}
