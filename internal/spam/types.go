package spam

import "time"

// Reason is a closed tag identifying one triggered heuristic (spec.md §9
// "tagged reasons ... represent as a variant/enum").
type Reason string

const (
	ReasonRapidPosting    Reason = "rapid_posting"
	ReasonDuplicateMsgs   Reason = "duplicate_messages"
	ReasonURLSpam         Reason = "url_spam"
	ReasonRepeatedURLs    Reason = "repeated_url_posts"
	ReasonPhishingDomain  Reason = "phishing_domain"
	ReasonSuspiciousTLD   Reason = "suspicious_domain_tld"
	ReasonMentionSpam     Reason = "mention_spam"
	ReasonNewAccount      Reason = "new_account"
	ReasonRaidJoinSurge   Reason = "raid_join_surge"
	ReasonRaidActivity    Reason = "raid_activity"
)

// ForcedReasons escalate enforcement even when the score is below the
// tenant's scoreThreshold (spec.md §4.5 step 3).
var ForcedReasons = map[Reason]bool{
	ReasonPhishingDomain: true,
	ReasonRaidActivity:   true,
}

// Action is the closed enforcement alphabet of spec.md §4.4/§9.
type Action string

const (
	ActionNone    Action = "none"
	ActionWarn    Action = "warn"
	ActionTimeout Action = "timeout"
	ActionBan     Action = "ban"
)

// StepOutcome is the closed per-step outcome alphabet of spec.md §4.5/§9.
type StepOutcome string

const (
	OutcomeOK           StepOutcome = "ok"
	OutcomeForbidden    StepOutcome = "forbidden"
	OutcomeHTTPError    StepOutcome = "http_error"
	OutcomeNotSupported StepOutcome = "not_supported"
	OutcomeNotAttempted StepOutcome = "not_attempted"
)

// MessageSnapshot is the immutable per-message record of spec.md §3.
type MessageSnapshot struct {
	UserID           string
	Content          string
	MentionCount     int
	CreatedAt        time.Time
	AccountCreatedAt time.Time
	JoinedAt         *time.Time
}

// ScoringResult is the output of SpamDetector.Score.
type ScoringResult struct {
	Score   int
	Reasons []Reason
}

// HasReason reports whether r is present in the result.
func (s ScoringResult) HasReason(r Reason) bool {
	for _, got := range s.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// EnforcementDecision is the output of the offense ledger's decide step
// (spec.md §4.4).
type EnforcementDecision struct {
	OffenseCount int
	Action       Action
}
