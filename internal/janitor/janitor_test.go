package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/eventlog"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/spam"
	"github.com/spamguard/core/internal/verification"
)

func TestSweep_EvictsIdleUsers(t *testing.T) {
	engine := spam.NewEngine()
	cfg := config.Default()
	detector := engine.Resolve("guild-1", cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	detector.Score(spam.MessageSnapshot{UserID: "user-1", Content: "hello", CreatedAt: start})

	store := config.New(t.TempDir() + "/config.json")
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	logger := eventlog.New(nil, nil)
	verifier := verification.New(store, noopAdapter{}, logger)

	s := New(engine, verifier, "* * * * *")

	later := start.Add(48 * time.Hour)
	evicted := engine.Sweep(later)
	if evicted != 1 {
		t.Fatalf("expected 1 idle user evicted, got %d", evicted)
	}

	s.sweepOnce(later)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	engine := spam.NewEngine()
	store := config.New(t.TempDir() + "/config.json")
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	logger := eventlog.New(nil, nil)
	verifier := verification.New(store, noopAdapter{}, logger)

	s := New(engine, verifier, "* * * * *")
	tickC := make(chan time.Time)
	s.tick = func() <-chan time.Time { return tickC }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNew_DefaultsEmptyExprToEveryMinute(t *testing.T) {
	engine := spam.NewEngine()
	store := config.New(t.TempDir() + "/config.json")
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	logger := eventlog.New(nil, nil)
	verifier := verification.New(store, noopAdapter{}, logger)

	s := New(engine, verifier, "")
	if s.expr != "* * * * *" {
		t.Fatalf("expected default cron expression, got %q", s.expr)
	}
}

// noopAdapter satisfies platform.Adapter with no-ops; the janitor tests
// only exercise timer/sweep plumbing, never an actual platform call.
type noopAdapter struct{}

func (noopAdapter) DeleteMessage(context.Context, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) SendMessage(context.Context, string, string) (string, spam.StepOutcome) {
	return "", spam.OutcomeOK
}
func (noopAdapter) SendDirectMessage(context.Context, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) Timeout(context.Context, string, string, time.Duration) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) Kick(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) Ban(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) FindRoleByName(context.Context, string, string) (platform.Role, bool, error) {
	return platform.Role{}, false, nil
}
func (noopAdapter) FindRoleByID(context.Context, string, string) (platform.Role, bool, error) {
	return platform.Role{}, false, nil
}
func (noopAdapter) CreateRole(context.Context, string, string) (platform.Role, error) {
	return platform.Role{}, nil
}
func (noopAdapter) AddRole(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) RemoveRole(context.Context, string, string, string) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) FindChannelByID(context.Context, string, string) (platform.Channel, bool, error) {
	return platform.Channel{}, false, nil
}
func (noopAdapter) FindChannelByName(context.Context, string, string) (platform.Channel, bool, error) {
	return platform.Channel{}, false, nil
}
func (noopAdapter) CreateTextChannel(context.Context, string, string) (platform.Channel, error) {
	return platform.Channel{}, nil
}
func (noopAdapter) Channels(context.Context, string) ([]platform.Channel, error) {
	return nil, nil
}
func (noopAdapter) SetChannelOverwrite(context.Context, string, string, platform.TargetKind, *platform.Overwrite) spam.StepOutcome {
	return spam.OutcomeOK
}
func (noopAdapter) Member(context.Context, string, string) (platform.Member, error) {
	return platform.Member{}, nil
}
