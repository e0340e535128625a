// Package eventlog implements the structured SEC/VER audit events of
// spec.md §4.7 (C7). Grounded on the teacher's bus.Event (a thin, tagged
// payload type broadcast to listeners) and its internal/store/pg session
// store, which pairs an in-memory record with an optional Postgres
// mirror guarded by its own db handle.
package eventlog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spamguard/core/internal/spam"
)

// Prefix distinguishes the two event families of spec.md §4.7.
type Prefix string

const (
	PrefixSecurity      Prefix = "SEC"
	PrefixVerification  Prefix = "VER"
)

// VerificationPhase is the closed alphabet for VER events.
type VerificationPhase string

const (
	PhaseJoin    VerificationPhase = "join"
	PhaseVerify  VerificationPhase = "verify"
	PhaseResend  VerificationPhase = "resend"
	PhaseTimeout VerificationPhase = "timeout"
)

// reasonLabels localizes reason tags for operator-facing audit text,
// matching the original bot's REASON_LABELS (original_source/spamguard/
// security_runtime.py) verbatim so existing moderators reading the audit
// channel see the same vocabulary they already know.
var reasonLabels = map[spam.Reason]string{
	spam.ReasonRapidPosting:   "短時間の連投",
	spam.ReasonDuplicateMsgs:  "同文連投",
	spam.ReasonURLSpam:        "URL乱投",
	spam.ReasonRepeatedURLs:   "同一URL連投",
	spam.ReasonMentionSpam:    "過剰メンション",
	spam.ReasonNewAccount:     "新規アカウント加点",
	spam.ReasonPhishingDomain: "フィッシング既知ドメイン",
	spam.ReasonSuspiciousTLD:  "危険TLD",
	spam.ReasonRaidJoinSurge:  "Join急増",
	spam.ReasonRaidActivity:   "レイド活動",
}

// actionLabels localizes enforcement actions, matching ACTION_LABELS.
var actionLabels = map[spam.Action]string{
	spam.ActionNone:    "未実行",
	spam.ActionWarn:    "警告",
	spam.ActionTimeout: "タイムアウト",
	spam.ActionBan:     "BAN",
}

// FormatReasonLabels joins the localized label for each reason, falling
// back to the raw tag for anything not in the map (spec.md §4.7: "reason
// labels (localized from a fixed map)").
func FormatReasonLabels(reasons []spam.Reason) string {
	labels := make([]string, len(reasons))
	for i, r := range reasons {
		if label, ok := reasonLabels[r]; ok {
			labels[i] = label
		} else {
			labels[i] = string(r)
		}
	}
	return strings.Join(labels, ", ")
}

// ActionLabel returns the localized label for an action, or the raw tag
// if unmapped.
func ActionLabel(a spam.Action) string {
	if label, ok := actionLabels[a]; ok {
		return label
	}
	return string(a)
}

// SecurityEvent is the SEC audit record of spec.md §4.7. DeleteStep and
// ActionStep are recorded separately (spec.md §4.5 steps 5/6; the
// original bot's security_runtime.py emits them as distinct fields,
// 削除結果 and 処分結果) rather than folded into one headline outcome, so
// an operator reading the audit channel can tell "delete failed but the
// timeout still landed" from "delete succeeded but nothing ran".
type SecurityEvent struct {
	EventID      string
	TraceID      string
	TenantID     string
	UserID       string
	At           time.Time
	Score        int
	OffenseCount int
	Reasons      []spam.Reason
	Action       spam.Action
	DeleteStep   spam.StepOutcome
	ActionStep   spam.StepOutcome
	Channel      string
	Excerpt      string
}

// VerificationEvent is the VER audit record of spec.md §4.7.
type VerificationEvent struct {
	EventID  string
	TraceID  string
	TenantID string
	UserID   string
	At       time.Time
	Phase    VerificationPhase
	Status   string
	Detail   string
}

// NewEventID generates an event ID per spec.md §1 GLOSSARY: "<prefix>-
// <UTC timestamp YYYYMMDDhhmmss>-<6 hex>". Random suffix comes from a
// UUIDv4 rather than a dedicated RNG, following the teacher's habit
// (internal/store/pg/sessions.go) of reaching for google/uuid wherever a
// random identifier is needed.
func NewEventID(prefix Prefix, now time.Time) string {
	ts := now.UTC().Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return string(prefix) + "-" + ts + "-" + suffix
}

// NewTraceID mints a secondary correlation ID independent of EventID's
// human-scannable format, for joining SEC/VER rows to other telemetry
// (traces, logs) emitted for the same moderation action.
func NewTraceID() string {
	return uuid.NewString()
}

// TruncateCodePoints returns content capped at max Unicode code points,
// appending an ellipsis when truncated and returning the literal
// "(empty)" placeholder for blank input, per spec.md §4.7 ("first 300
// code points of the message body (ellipsis if longer; `(empty)` if
// blank)" and "detail string capped at 1000 code points").
func TruncateCodePoints(content string, max int) string {
	if strings.TrimSpace(content) == "" {
		return "(empty)"
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
