package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/eventlog"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/spam"
)

// fakeAdapter records every moderation action the runtime attempts
// without touching a real platform, mirroring the teacher's own
// collaborator-stub style in its channel tests.
type fakeAdapter struct {
	deleted []string
	sent    []string
	timeout []string
	banned  []string
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, _, messageID string) spam.StepOutcome {
	f.deleted = append(f.deleted, messageID)
	return spam.OutcomeOK
}
func (f *fakeAdapter) SendMessage(_ context.Context, _, content string) (string, spam.StepOutcome) {
	f.sent = append(f.sent, content)
	return "msg-1", spam.OutcomeOK
}
func (f *fakeAdapter) SendDirectMessage(context.Context, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (f *fakeAdapter) Timeout(_ context.Context, _, userID string, _ time.Duration) spam.StepOutcome {
	f.timeout = append(f.timeout, userID)
	return spam.OutcomeOK
}
func (f *fakeAdapter) Kick(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (f *fakeAdapter) Ban(_ context.Context, _, userID, _ string) spam.StepOutcome {
	f.banned = append(f.banned, userID)
	return spam.OutcomeOK
}
func (f *fakeAdapter) FindRoleByName(context.Context, string, string) (platform.Role, bool, error) {
	return platform.Role{}, false, nil
}
func (f *fakeAdapter) FindRoleByID(context.Context, string, string) (platform.Role, bool, error) {
	return platform.Role{}, false, nil
}
func (f *fakeAdapter) CreateRole(context.Context, string, string) (platform.Role, error) {
	return platform.Role{}, nil
}
func (f *fakeAdapter) AddRole(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (f *fakeAdapter) RemoveRole(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (f *fakeAdapter) FindChannelByID(context.Context, string, string) (platform.Channel, bool, error) {
	return platform.Channel{}, false, nil
}
func (f *fakeAdapter) FindChannelByName(context.Context, string, string) (platform.Channel, bool, error) {
	return platform.Channel{}, false, nil
}
func (f *fakeAdapter) CreateTextChannel(context.Context, string, string) (platform.Channel, error) {
	return platform.Channel{}, nil
}
func (f *fakeAdapter) Channels(context.Context, string) ([]platform.Channel, error) {
	return nil, nil
}
func (f *fakeAdapter) SetChannelOverwrite(context.Context, string, string, platform.TargetKind, *platform.Overwrite) spam.StepOutcome {
	return spam.OutcomeOK
}
func (f *fakeAdapter) Member(context.Context, string, string) (platform.Member, error) {
	return platform.Member{}, nil
}

func newTestRuntime(t *testing.T) (*Runtime, *fakeAdapter, *config.Store) {
	t.Helper()
	store := config.New(t.TempDir() + "/config.json")
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	adapter := &fakeAdapter{}
	engine := spam.NewEngine()
	logger := eventlog.New(nil, nil)
	return New(store, engine, adapter, logger), adapter, store
}

func TestHandleMessage_ExemptChannelSkipsScoring(t *testing.T) {
	r, adapter, store := newTestRuntime(t)
	cfg := store.TenantConfig("guild-1")
	cfg.IgnoreChannelIds = []string{"chan-1"}
	if err := store.ReplaceTenantConfig("guild-1", cfg); err != nil {
		t.Fatalf("replace: %v", err)
	}

	out := r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "user-1",
		Content: "spam spam spam", Now: time.Now(),
	})
	if !out.Exempt {
		t.Fatal("expected message to be exempt")
	}
	if len(adapter.deleted) != 0 {
		t.Fatal("exempt message should not be deleted")
	}
}

func TestHandleMessage_BelowThresholdTakesNoAction(t *testing.T) {
	r, adapter, _ := newTestRuntime(t)

	out := r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "user-1",
		Content: "hello there", Now: time.Now(), AccountCreatedAt: time.Now().Add(-365 * 24 * time.Hour),
	})
	if out.Enforced {
		t.Fatal("expected a normal message not to be enforced")
	}
	if len(adapter.deleted) != 0 {
		t.Fatal("unenforced message should not be deleted")
	}
}

func TestHandleMessage_RapidPostingDeletesAndWarns(t *testing.T) {
	r, adapter, store := newTestRuntime(t)
	cfg := store.TenantConfig("guild-1")
	cfg.MaxMsgInWindow = 2
	cfg.WindowSec = 10
	cfg.ScoreThreshold = 2
	cfg.WarningThreshold = 1
	cfg.TimeoutThreshold = 99
	cfg.BanThreshold = 999
	if err := store.ReplaceTenantConfig("guild-1", cfg); err != nil {
		t.Fatalf("replace: %v", err)
	}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	accountCreated := t0.Add(-365 * 24 * time.Hour)

	r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "user-1", MessageID: "m1",
		Content: "a", Now: t0, AccountCreatedAt: accountCreated,
	})
	out := r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "user-1", MessageID: "m2",
		Content: "b", Now: t0.Add(2 * time.Second), AccountCreatedAt: accountCreated,
	})

	if !out.Enforced {
		t.Fatalf("expected enforcement, got score=%d reasons=%v", out.Score, out.Reasons)
	}
	if len(adapter.deleted) != 1 || adapter.deleted[0] != "m2" {
		t.Fatalf("expected m2 deleted, got %v", adapter.deleted)
	}
	if out.Action != spam.ActionWarn {
		t.Fatalf("expected warn action, got %s", out.Action)
	}
	if len(adapter.sent) != 1 {
		t.Fatalf("expected one warning message sent, got %d", len(adapter.sent))
	}
	if out.DeleteStep != spam.OutcomeOK {
		t.Fatalf("expected delete step recorded ok, got %s", out.DeleteStep)
	}
	if out.ActionStep != spam.OutcomeOK {
		t.Fatalf("expected action step recorded ok, got %s", out.ActionStep)
	}
	if out.Event == nil || out.Event.DeleteStep != out.DeleteStep || out.Event.ActionStep != out.ActionStep {
		t.Fatalf("expected emitted event to carry both step outcomes, got %+v", out.Event)
	}
}

func TestRegisterJoin_FeedsRaidSurgeIntoHandleMessage(t *testing.T) {
	r, _, store := newTestRuntime(t)
	cfg := store.TenantConfig("guild-1")
	cfg.RaidJoinThreshold = 3
	cfg.RaidJoinWindowSec = 20
	cfg.RaidNewUserMessageThreshold = 99 // keep raid_activity out of reach; isolate raid_join_surge
	cfg.NewMemberWindowSec = 1800
	cfg.ScoreThreshold = 999 // enforcement only fires via the forced-reason path
	if err := store.ReplaceTenantConfig("guild-1", cfg); err != nil {
		t.Fatalf("replace: %v", err)
	}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.RegisterJoin("guild-1", "j1", t0)
	r.RegisterJoin("guild-1", "j2", t0.Add(2*time.Second))
	r.RegisterJoin("guild-1", "j3", t0.Add(4*time.Second))

	joinedAt := t0.Add(5 * time.Second)
	out := r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "j1", MessageID: "m1",
		Content: "hello", Now: t0.Add(6 * time.Second), JoinedAt: &joinedAt,
	})

	found := false
	for _, reason := range out.Reasons {
		if reason == spam.ReasonRaidJoinSurge {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected raid_join_surge once joins registered via Runtime.RegisterJoin, got reasons=%v", out.Reasons)
	}
}

func TestHandleMessage_PostsLogEmbedWhenConfigured(t *testing.T) {
	r, adapter, store := newTestRuntime(t)
	cfg := store.TenantConfig("guild-1")
	cfg.MaxMsgInWindow = 1
	cfg.WindowSec = 10
	cfg.ScoreThreshold = 1
	cfg.WarningThreshold = 1
	cfg.LogChannelID = "log-chan"
	if err := store.ReplaceTenantConfig("guild-1", cfg); err != nil {
		t.Fatalf("replace: %v", err)
	}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := r.HandleMessage(context.Background(), IncomingMessage{
		TenantID: "guild-1", ChannelID: "chan-1", AuthorID: "user-1", MessageID: "m1",
		Content: "a", Now: t0, AccountCreatedAt: t0.Add(-365 * 24 * time.Hour),
	})
	if !out.Enforced {
		t.Fatalf("expected enforcement, score=%d", out.Score)
	}
	found := false
	for _, s := range adapter.sent {
		if strings.HasPrefix(s, "Security Event ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a log embed (\"Security Event ...\") among sent messages, got %v", adapter.sent)
	}
}

func TestIsExempt_WhitelistedUser(t *testing.T) {
	cfg := config.Default()
	cfg.WhitelistUserIds = []string{"user-1"}
	if !IsExempt(cfg, "chan-1", "user-1", nil) {
		t.Fatal("expected whitelisted user to be exempt")
	}
}

func TestIsExempt_WhitelistedRole(t *testing.T) {
	cfg := config.Default()
	cfg.WhitelistRoleIds = []string{"role-1"}
	if !IsExempt(cfg, "chan-1", "user-1", []string{"role-1"}) {
		t.Fatal("expected whitelisted role to be exempt")
	}
}

func TestIsExempt_NotExemptByDefault(t *testing.T) {
	cfg := config.Default()
	if IsExempt(cfg, "chan-1", "user-1", nil) {
		t.Fatal("expected non-whitelisted user/channel to not be exempt")
	}
}
