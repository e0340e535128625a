// Package security implements the SecurityRuntime orchestrator of
// spec.md §4.5 (C5): exemption filter, SpamDetector invocation,
// enforcement gate, moderation actions, and structured event emission.
// Grounded on the original bot's security_runtime.py for the decision
// sequence, translated into the teacher's adapter-and-logger plumbing
// style (internal/channels/discord/discord.go's thin session wrapper,
// cmd/gateway.go's "build the dependency graph, wire it through"
// composition root pattern).
package security

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/eventlog"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/spam"
)

// IncomingMessage is what the (out-of-scope) gateway adapter hands the
// runtime for one posted message. Now is threaded explicitly so tests
// can supply deterministic time rather than the runtime calling
// time.Now() internally.
type IncomingMessage struct {
	TenantID         string
	ChannelID        string
	MessageID        string
	AuthorID         string
	AuthorRoleIDs    []string
	Content          string
	MentionCount     int
	AccountCreatedAt time.Time
	JoinedAt         *time.Time
	Now              time.Time
}

// Outcome summarizes what HandleMessage did, for callers (tests, the
// gateway message handler) that want it without re-deriving it from the
// emitted event.
type Outcome struct {
	Exempt      bool
	Enforced    bool
	Score       int
	Reasons     []spam.Reason
	Action      spam.Action
	DeleteStep  spam.StepOutcome
	ActionStep  spam.StepOutcome
	Event       *eventlog.SecurityEvent
}

// Runtime is the SecurityRuntime of spec.md §4.5.
type Runtime struct {
	store    *config.Store
	engine   *spam.Engine
	adapter  platform.Adapter
	logger   *eventlog.Logger
}

// New creates a Runtime wired to its collaborators.
func New(store *config.Store, engine *spam.Engine, adapter platform.Adapter, logger *eventlog.Logger) *Runtime {
	return &Runtime{store: store, engine: engine, adapter: adapter, logger: logger}
}

// RegisterJoin feeds a member join into the tenant's spam detector raid
// state (spam.Detector.RegisterJoin, spec.md §4.3's registerJoin), so
// join bursts are visible to raid_join_surge/raid_activity scoring
// before the joining member ever posts a message. Called from the
// gateway's member-add handler, mirroring how HandleMessage resolves
// the same per-tenant detector for scoring.
func (r *Runtime) RegisterJoin(tenantID, userID string, joinedAt time.Time) {
	cfg := r.store.TenantConfig(tenantID)
	detector := r.engine.Resolve(tenantID, cfg)
	detector.RegisterJoin(userID, joinedAt)
}

// IsExempt implements spec.md §4.5 step 1's short-circuit.
func IsExempt(cfg config.GuildConfig, channelID, authorID string, authorRoleIDs []string) bool {
	if containsString(cfg.IgnoreChannelIds, channelID) {
		return true
	}
	if containsString(cfg.WhitelistUserIds, authorID) {
		return true
	}
	for _, roleID := range authorRoleIDs {
		if containsString(cfg.IgnoreRoleIds, roleID) || containsString(cfg.WhitelistRoleIds, roleID) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// HandleMessage runs the full spec.md §4.5 pipeline for one message.
func (r *Runtime) HandleMessage(ctx context.Context, msg IncomingMessage) Outcome {
	cfg := r.store.TenantConfig(msg.TenantID)

	if IsExempt(cfg, msg.ChannelID, msg.AuthorID, msg.AuthorRoleIDs) {
		return Outcome{Exempt: true}
	}

	detector := r.engine.Resolve(msg.TenantID, cfg)

	snap := spam.MessageSnapshot{
		UserID:           msg.AuthorID,
		Content:          msg.Content,
		MentionCount:     msg.MentionCount,
		CreatedAt:        msg.Now,
		AccountCreatedAt: msg.AccountCreatedAt,
		JoinedAt:         msg.JoinedAt,
	}
	result := detector.Score(snap)

	shouldEnforce := result.Score >= cfg.ScoreThreshold || forcedReasonPresent(result.Reasons)
	if !shouldEnforce {
		return Outcome{Score: result.Score, Reasons: result.Reasons}
	}

	decision := detector.Decide(msg.AuthorID, msg.Now)

	deleteStep := r.adapter.DeleteMessage(ctx, msg.ChannelID, msg.MessageID)

	actionStep := r.performAction(ctx, cfg, msg, decision.Action)

	evt := r.logger.EmitSecurity(eventlog.SecurityEvent{
		TenantID:     msg.TenantID,
		UserID:       msg.AuthorID,
		At:           msg.Now,
		Score:        result.Score,
		OffenseCount: decision.OffenseCount,
		Reasons:      result.Reasons,
		Action:       decision.Action,
		DeleteStep:   deleteStep,
		ActionStep:   actionStep,
		Channel:      msg.ChannelID,
		Excerpt:      eventlog.TruncateCodePoints(msg.Content, 300),
	})

	if cfg.LogChannelID != "" {
		r.postLogEmbed(ctx, cfg.LogChannelID, evt)
	}

	return Outcome{
		Enforced:   true,
		Score:      result.Score,
		Reasons:    result.Reasons,
		Action:     decision.Action,
		DeleteStep: deleteStep,
		ActionStep: actionStep,
		Event:      &evt,
	}
}

func forcedReasonPresent(reasons []spam.Reason) bool {
	for _, r := range reasons {
		if spam.ForcedReasons[r] {
			return true
		}
	}
	return false
}

// performAction applies decision.Action, per spec.md §4.5 step 6. The
// `warn` public mention is posted in the same channel *after* deletion
// (spec.md §9's preserved ordering) — HandleMessage already deleted
// before calling this, so a failed delete never blocks the warning.
func (r *Runtime) performAction(ctx context.Context, cfg config.GuildConfig, msg IncomingMessage, action spam.Action) spam.StepOutcome {
	switch action {
	case spam.ActionNone:
		return spam.OutcomeNotAttempted
	case spam.ActionWarn:
		_, outcome := r.adapter.SendMessage(ctx, msg.ChannelID, mention(msg.AuthorID)+" a moderation violation was detected.")
		return outcome
	case spam.ActionTimeout:
		return r.adapter.Timeout(ctx, msg.TenantID, msg.AuthorID, time.Duration(cfg.TimeoutMinutes)*time.Minute)
	case spam.ActionBan:
		return r.adapter.Ban(ctx, msg.TenantID, msg.AuthorID, "spamguard security escalation")
	default:
		return spam.OutcomeNotAttempted
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

// postLogEmbed posts the structured audit line to the tenant's log
// channel as plain text (the full embed rendering is the out-of-scope
// gateway shell's concern per spec.md §1; the runtime only supplies the
// content a shell would embed).
func (r *Runtime) postLogEmbed(ctx context.Context, logChannelID string, evt eventlog.SecurityEvent) {
	var b strings.Builder
	b.WriteString("Security Event ")
	b.WriteString(evt.EventID)
	b.WriteString("\nuser: <@")
	b.WriteString(evt.UserID)
	b.WriteString(">\nscore: ")
	b.WriteString(strconv.Itoa(evt.Score))
	b.WriteString(" offenses: ")
	b.WriteString(strconv.Itoa(evt.OffenseCount))
	b.WriteString("\nreasons: ")
	b.WriteString(eventlog.FormatReasonLabels(evt.Reasons))
	b.WriteString("\naction: ")
	b.WriteString(eventlog.ActionLabel(evt.Action))
	b.WriteString(" (delete: ")
	b.WriteString(string(evt.DeleteStep))
	b.WriteString(", action: ")
	b.WriteString(string(evt.ActionStep))
	b.WriteString(")\nchannel: <#")
	b.WriteString(evt.Channel)
	b.WriteString(">\n> ")
	b.WriteString(evt.Excerpt)

	_, _ = r.adapter.SendMessage(ctx, logChannelID, b.String())
}
