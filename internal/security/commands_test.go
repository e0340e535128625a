package security

import (
	"context"
	"testing"

	"github.com/spamguard/core/internal/config"
)

func newTestCommands(t *testing.T) *Commands {
	t.Helper()
	store := config.New(t.TempDir() + "/config.json")
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return NewCommands(store)
}

func TestSetValue_RejectsWithoutManageGuild(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1"}

	_, err := c.SetValue(req, "score_threshold", "10")
	if err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSetValue_RejectsNonEditableKey(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	if _, err := c.SetValue(req, "verify_unverified_role_id", "role-1"); err == nil {
		t.Fatal("expected error for non-editable key")
	}
}

func TestSetValue_EditsScoreThreshold(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	if _, err := c.SetValue(req, "score_threshold", "12"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	cfg := c.store.TenantConfig("guild-1")
	if cfg.ScoreThreshold != 12 {
		t.Fatalf("score_threshold = %d, want 12", cfg.ScoreThreshold)
	}
}

func TestSetBulk_ReportsPerKeyErrors(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	results, err := c.SetBulk(req, map[string]string{
		"score_threshold": "10",
		"not_a_real_key":  "x",
	})
	if err != nil {
		t.Fatalf("SetBulk: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestWhitelistAddRemoveUser(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	if err := c.WhitelistAddUser(req, "user-1"); err != nil {
		t.Fatalf("WhitelistAddUser: %v", err)
	}
	users, _, err := c.WhitelistList(req)
	if err != nil {
		t.Fatalf("WhitelistList: %v", err)
	}
	if len(users) != 1 || users[0] != "user-1" {
		t.Fatalf("expected [user-1], got %v", users)
	}

	if err := c.WhitelistRemoveUser(req, "user-1"); err != nil {
		t.Fatalf("WhitelistRemoveUser: %v", err)
	}
	users, _, err = c.WhitelistList(req)
	if err != nil {
		t.Fatalf("WhitelistList: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no whitelisted users after removal, got %v", users)
	}
}

func TestBlocklistDomainAdd_Lowercases(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	if err := c.BlocklistDomainAdd(req, "EVIL.Example"); err != nil {
		t.Fatalf("BlocklistDomainAdd: %v", err)
	}
	cfg := c.store.TenantConfig("guild-1")
	if len(cfg.PhishingDomains) != 1 || cfg.PhishingDomains[0] != "evil.example" {
		t.Fatalf("expected lowercased domain, got %v", cfg.PhishingDomains)
	}
}

func TestLogClear_ResetsLogChannel(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	if _, err := c.LogSetup(req, "channel-1", false); err != nil {
		t.Fatalf("LogSetup: %v", err)
	}
	if err := c.LogClear(req); err != nil {
		t.Fatalf("LogClear: %v", err)
	}
	if got := c.store.TenantConfig("guild-1").LogChannelID; got != "" {
		t.Fatalf("LogChannelID = %q, want cleared", got)
	}
}

func TestRuleList_IsSorted(t *testing.T) {
	c := newTestCommands(t)
	req := Requester{TenantID: "guild-1", HasManageGuild: true}

	keys, err := c.RuleList(req)
	if err != nil {
		t.Fatalf("RuleList: %v", err)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

type fakeVerifier struct {
	verifyOK bool
	detail   string
}

func (f fakeVerifier) VerifyCode(context.Context, string, string, string, bool) (bool, string) {
	return f.verifyOK, f.detail
}
func (f fakeVerifier) SendNewCode(context.Context, string, string) (bool, string) {
	return f.verifyOK, f.detail
}

func TestVerifyCode_DelegatesToManager(t *testing.T) {
	ok, detail := VerifyCode(context.Background(), fakeVerifier{verifyOK: true, detail: "verified"}, "guild-1", "user-1", "123456", false)
	if !ok || detail != "verified" {
		t.Fatalf("got ok=%v detail=%s", ok, detail)
	}
}
