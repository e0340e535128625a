package eventlog

import (
	"strings"
	"testing"
	"time"

	"github.com/spamguard/core/internal/spam"
)

func TestNewEventID_Format(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id := NewEventID(PrefixSecurity, now)

	if !strings.HasPrefix(id, "SEC-20260304050607-") {
		t.Fatalf("event id = %q, want SEC-20260304050607-<hex>", id)
	}
	parts := strings.Split(id, "-")
	if len(parts) != 3 || len(parts[2]) != 6 {
		t.Fatalf("event id = %q, want 3 dash-separated parts with a 6-char suffix", id)
	}
}

func TestNewEventID_Unique(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewEventID(PrefixVerification, now)
		if seen[id] {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = true
	}
}

func TestTruncateCodePoints(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"empty", "", 300, "(empty)"},
		{"blank", "   ", 300, "(empty)"},
		{"short", "hello", 300, "hello"},
		{"exact", "abc", 3, "abc"},
		{"over", "abcdef", 3, "abc…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateCodePoints(tc.input, tc.max)
			if got != tc.want {
				t.Fatalf("TruncateCodePoints(%q, %d) = %q, want %q", tc.input, tc.max, got, tc.want)
			}
		})
	}
}

func TestFormatReasonLabels_UnmappedFallsBackToTag(t *testing.T) {
	got := FormatReasonLabels([]spam.Reason{spam.ReasonRapidPosting, "unknown_reason"})
	if !strings.Contains(got, "短時間の連投") || !strings.Contains(got, "unknown_reason") {
		t.Fatalf("got %q", got)
	}
}

func TestActionLabel(t *testing.T) {
	if got := ActionLabel(spam.ActionBan); got != "BAN" {
		t.Fatalf("ActionLabel(ban) = %q, want BAN", got)
	}
	if got := ActionLabel("unknown"); got != "unknown" {
		t.Fatalf("ActionLabel(unknown) = %q, want passthrough", got)
	}
}

type spySink struct {
	security      []SecurityEvent
	verifications []VerificationEvent
}

func (s *spySink) Security(e SecurityEvent)         { s.security = append(s.security, e) }
func (s *spySink) Verification(e VerificationEvent) { s.verifications = append(s.verifications, e) }

func TestLogger_EmitSecurity_AssignsIDsAndSinks(t *testing.T) {
	sink := &spySink{}
	logger := New(nil, sink)

	evt := logger.EmitSecurity(SecurityEvent{
		TenantID: "guild-1",
		UserID:   "user-1",
		At:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Score:    7,
		Reasons:  []spam.Reason{spam.ReasonURLSpam},
		Action:   spam.ActionWarn,
	})

	if evt.EventID == "" || evt.TraceID == "" {
		t.Fatalf("expected EventID/TraceID to be assigned, got %+v", evt)
	}
	if len(sink.security) != 1 {
		t.Fatalf("sink received %d security events, want 1", len(sink.security))
	}
}

func TestLogger_EmitVerification_AssignsIDsAndSinks(t *testing.T) {
	sink := &spySink{}
	logger := New(nil, sink)

	evt := logger.EmitVerification(VerificationEvent{
		TenantID: "guild-1",
		UserID:   "user-1",
		At:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Phase:    PhaseJoin,
		Status:   "pending",
	})

	if evt.EventID == "" || evt.TraceID == "" {
		t.Fatalf("expected EventID/TraceID to be assigned, got %+v", evt)
	}
	if len(sink.verifications) != 1 {
		t.Fatalf("sink received %d verification events, want 1", len(sink.verifications))
	}
}
