// Package verification implements the per-member admission-verification
// protocol of spec.md §4.6 (C6): the code-challenge state machine,
// session lifecycle, channel-permission isolation, and failure actions.
// Grounded on original_source/spamguard/verification.py, translated
// into the teacher's style (typed config, adapter-mediated platform
// calls, slog-based logging) the way internal/security/runtime.go
// translates security_runtime.py.
package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/eventlog"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/spam"
)

const permissionRetryDelay = 120 * time.Second

// State is the closed session-state alphabet of spec.md §4.6. It is
// informational only: no method stores or returns it, and the manager
// itself drives transitions through session presence/absence.
type State string

const (
	StatePendingCode     State = "pending_code"
	StateVerified        State = "verified"
	StateFailedExhausted State = "failed_exhausted"
	StateTimedOut        State = "timed_out"
)

type sessionKey struct {
	tenantID string
	userID   string
}

// session is the VerificationSession of spec.md §3, plus the manager's
// own cancellation handle for its scheduled timeout job.
type session struct {
	code      string
	expiresAt time.Time
	attempts  int
	cancel    func()
}

// JoinMember is what the gateway adapter knows about a joining member;
// the manager only needs the identity and eligibility facts, not a
// platform-specific member type.
type JoinMember struct {
	TenantID        string
	UserID          string
	Bot             bool
	IsAdministrator bool
	IsManageGuild   bool
}

// Manager is the VerificationManager of spec.md §4.6.
type Manager struct {
	store   *config.Store
	adapter platform.Adapter
	logger  *eventlog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session

	// now and afterFunc are seams for deterministic tests; New sets them
	// to time.Now and a time.AfterFunc wrapper, and tests replace them.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) func()
}

// New creates a Manager wired to its collaborators.
func New(store *config.Store, adapter platform.Adapter, logger *eventlog.Logger) *Manager {
	return &Manager{
		store:    store,
		adapter:  adapter,
		logger:   logger,
		sessions: make(map[sessionKey]*session),
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		},
	}
}

func (m *Manager) clock() time.Time { return m.now() }

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HandleJoin implements spec.md §4.6's handleJoin.
func (m *Manager) HandleJoin(ctx context.Context, member JoinMember) error {
	if member.Bot || member.IsAdministrator || member.IsManageGuild {
		return nil
	}

	cfg := m.store.TenantConfig(member.TenantID)
	if !cfg.VerifyEnabled {
		return nil
	}
	if containsString(cfg.WhitelistUserIds, member.UserID) {
		return nil
	}

	unverifiedRoleID, verifiedRoleID, err := m.ensureRoles(ctx, member.TenantID, cfg)
	if err != nil {
		slog.Warn("verification: ensure roles failed", "tenant_id", member.TenantID, "error", err)
	}
	verifyChannelID, err := m.ensureVerifyChannel(ctx, member.TenantID, cfg)
	if err != nil {
		slog.Warn("verification: ensure verify channel failed", "tenant_id", member.TenantID, "error", err)
	}

	isolationDetail := "isolation not attempted"
	if unverifiedRoleID != "" {
		if verifiedRoleID != "" {
			m.adapter.RemoveRole(ctx, member.TenantID, member.UserID, verifiedRoleID)
		}
		m.adapter.AddRole(ctx, member.TenantID, member.UserID, unverifiedRoleID)

		if verifyChannelID != "" && verifiedRoleID != "" {
			applied, failed := m.applyIsolation(ctx, member.TenantID, unverifiedRoleID, verifiedRoleID, verifyChannelID)
			isolationDetail = fmt.Sprintf("overwrites applied=%d failed=%d", applied, failed)
		} else if verifyChannelID != "" {
			isolationDetail = "verified role missing, isolation skipped"
		}
	}

	sess, err := m.openSession(member.TenantID, member.UserID, cfg)
	if err != nil {
		return err
	}

	m.notifyMember(ctx, member.TenantID, member.UserID, cfg, sess, verifyChannelID)

	detail := isolationDetail
	if verifyChannelID != "" {
		detail = fmt.Sprintf("verification started, channel=%s, %s", verifyChannelID, isolationDetail)
	}
	m.logger.EmitVerification(eventlog.VerificationEvent{
		TenantID: member.TenantID,
		UserID:   member.UserID,
		At:       m.clock(),
		Phase:    eventlog.PhaseJoin,
		Status:   string(spam.OutcomeOK),
		Detail:   eventlog.TruncateCodePoints(detail, 1000),
	})

	m.scheduleTimeout(member.TenantID, member.UserID, cfg)
	return nil
}

// VerifyCode implements spec.md §4.6's verifyCode. isAdmin is the
// caller's manage-guild/administrator permission, checked first per
// original_source/spamguard/verification.py:104-105 ("管理者権限ユーザーは
// 認証対象外です"): an admin or manage-guild holder is exempt from the
// challenge even with no open session, the same bypass HandleJoin
// already applies before ever opening one.
func (m *Manager) VerifyCode(ctx context.Context, tenantID, userID, codeInput string, isAdmin bool) (bool, string) {
	if isAdmin {
		return true, "admin/manage-guild users are exempt from verification"
	}

	cfg := m.store.TenantConfig(tenantID)
	if !cfg.VerifyEnabled {
		return true, "disabled"
	}

	key := sessionKey{tenantID, userID}
	now := m.clock()

	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()

	if !ok {
		return false, "no session"
	}
	if now.After(sess.expiresAt) {
		m.clearSession(key)
		return false, "expired"
	}

	if strings.TrimSpace(codeInput) != sess.code {
		m.mu.Lock()
		sess.attempts++
		attempts := sess.attempts
		m.mu.Unlock()

		maxAttempts := cfg.VerifyMaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		if attempts >= maxAttempts {
			status := m.applyFailAction(ctx, tenantID, userID, cfg)
			m.logger.EmitVerification(eventlog.VerificationEvent{
				TenantID: tenantID, UserID: userID, At: now,
				Phase: eventlog.PhaseVerify, Status: string(status),
				Detail: "attempts exhausted",
			})
			m.clearSession(key)
			return false, "attempts exhausted"
		}
		return false, fmt.Sprintf("incorrect code, %d attempt(s) remaining", maxAttempts-attempts)
	}

	if cfg.VerifyUnverifiedRoleID != "" {
		m.adapter.RemoveRole(ctx, tenantID, userID, cfg.VerifyUnverifiedRoleID)
	}
	if cfg.VerifyMemberRoleID != "" {
		m.adapter.AddRole(ctx, tenantID, userID, cfg.VerifyMemberRoleID)
	}

	m.grantPostVerifyAccess(ctx, tenantID, userID, cfg)
	if cfg.VerifyChannelID != "" {
		m.adapter.SetChannelOverwrite(ctx, cfg.VerifyChannelID, userID, platform.TargetMember, nil)
	}

	m.logger.EmitVerification(eventlog.VerificationEvent{
		TenantID: tenantID, UserID: userID, At: now,
		Phase: eventlog.PhaseVerify, Status: string(spam.OutcomeOK),
		Detail: "verification succeeded",
	})
	m.clearSession(key)
	return true, "verified"
}

// SendNewCode implements spec.md §4.6's sendNewCode.
func (m *Manager) SendNewCode(ctx context.Context, tenantID, userID string) (bool, string) {
	cfg := m.store.TenantConfig(tenantID)
	if !cfg.VerifyEnabled {
		return false, "disabled"
	}

	key := sessionKey{tenantID, userID}
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()

	if !ok {
		var err error
		sess, err = m.openSession(tenantID, userID, cfg)
		if err != nil {
			return false, "failed to generate code"
		}
	} else {
		code, err := generateCode()
		if err != nil {
			return false, "failed to generate code"
		}
		m.mu.Lock()
		sess.code = code
		sess.expiresAt = m.clock().Add(verifyTimeout(cfg))
		m.mu.Unlock()
	}

	m.scheduleTimeout(tenantID, userID, cfg)

	verifyChannelID, _ := m.ensureVerifyChannel(ctx, tenantID, cfg)
	m.notifyMember(ctx, tenantID, userID, cfg, sess, verifyChannelID)
	m.logger.EmitVerification(eventlog.VerificationEvent{
		TenantID: tenantID, UserID: userID, At: m.clock(),
		Phase: eventlog.PhaseResend, Status: string(spam.OutcomeOK),
		Detail: "code reissued",
	})
	return true, "code resent"
}

func verifyTimeout(cfg config.GuildConfig) time.Duration {
	minutes := cfg.VerifyTimeoutMinutes
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

func (m *Manager) openSession(tenantID, userID string, cfg config.GuildConfig) (*session, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	sess := &session{
		code:      code,
		expiresAt: m.clock().Add(verifyTimeout(cfg)),
	}
	key := sessionKey{tenantID, userID}

	m.mu.Lock()
	if old, ok := m.sessions[key]; ok && old.cancel != nil {
		old.cancel()
	}
	m.sessions[key] = sess
	m.mu.Unlock()
	return sess, nil
}

// scheduleTimeout (re)schedules the session's expiry job, cancelling any
// prior timer (spec.md §4.6/§5: "re-scheduling cancels the prior timer").
func (m *Manager) scheduleTimeout(tenantID, userID string, cfg config.GuildConfig) {
	key := sessionKey{tenantID, userID}

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	delay := sess.expiresAt.Sub(m.clock())
	if delay < 0 {
		delay = 0
	}
	cancel := m.afterFunc(delay, func() { m.runTimeout(key) })
	sess.cancel = cancel
	m.mu.Unlock()
}

// runTimeout is the cooperative timer job of spec.md §4.6/§9: a logical
// wake-up, not a wall-clock guarantee. It finalizes the session exactly
// once if it still exists.
func (m *Manager) runTimeout(key sessionKey) {
	// Check and remove under one lock, so a timer firing concurrently with
	// SweepExpired finalizes the session only once.
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if sess.cancel != nil {
		sess.cancel()
	}

	cfg := m.store.TenantConfig(key.tenantID)
	status := m.applyFailAction(context.Background(), key.tenantID, key.userID, cfg)
	m.logger.EmitVerification(eventlog.VerificationEvent{
		TenantID: key.tenantID, UserID: key.userID, At: m.clock(),
		Phase: eventlog.PhaseTimeout, Status: string(status),
		Detail: "verification window expired",
	})
}

// clearSession removes the session and cancels its timer, idempotently
// (spec.md §5: "cancellation is idempotent").
func (m *Manager) clearSession(key sessionKey) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if ok && sess.cancel != nil {
		sess.cancel()
	}
}

// SweepExpired finalizes any session already past its expiry whose timer
// never fired (the process was asleep, or the timer was otherwise
// dropped) — the janitor backstop of spec.md §5's resource-policy note.
// runTimeout stops a still-scheduled timer; a timer that is already
// firing finds the session removed and returns without acting.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.Lock()
	var expired []sessionKey
	for key, sess := range m.sessions {
		if !now.Before(sess.expiresAt) {
			expired = append(expired, key)
		}
	}
	m.mu.Unlock()

	for _, key := range expired {
		m.runTimeout(key)
	}
	return len(expired)
}

// PendingCount reports how many sessions are open for a tenant.
func (m *Manager) PendingCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.sessions {
		if k.tenantID == tenantID {
			n++
		}
	}
	return n
}

// IsPending reports whether (tenantID,userID) has an open session.
func (m *Manager) IsPending(tenantID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey{tenantID, userID}]
	return ok
}

func (m *Manager) applyFailAction(ctx context.Context, tenantID, userID string, cfg config.GuildConfig) spam.StepOutcome {
	switch cfg.VerifyFailAction {
	case config.VerifyFailNone:
		return spam.OutcomeNotAttempted
	case config.VerifyFailKick:
		return m.adapter.Kick(ctx, tenantID, userID, "spamguard verification failed")
	case config.VerifyFailTimeout:
		return m.adapter.Timeout(ctx, tenantID, userID, verifyTimeout(cfg))
	default:
		return spam.OutcomeNotAttempted
	}
}

func (m *Manager) ensureRoles(ctx context.Context, tenantID string, cfg config.GuildConfig) (unverifiedID, verifiedID string, err error) {
	unverifiedID, uErr := m.ensureRole(ctx, tenantID, cfg.VerifyUnverifiedRoleID, "Unverified", "verify_unverified_role_id")
	verifiedID, vErr := m.ensureRole(ctx, tenantID, cfg.VerifyMemberRoleID, "Verified", "verify_member_role_id")
	if uErr != nil {
		return unverifiedID, verifiedID, uErr
	}
	return unverifiedID, verifiedID, vErr
}

func (m *Manager) ensureRole(ctx context.Context, tenantID, configuredID, name, fieldKey string) (string, error) {
	if configuredID != "" {
		if role, ok, err := m.adapter.FindRoleByID(ctx, tenantID, configuredID); err == nil && ok {
			return role.ID, nil
		}
	}
	if role, ok, err := m.adapter.FindRoleByName(ctx, tenantID, name); err == nil && ok {
		m.store.SetTenantValue(tenantID, fieldKey, role.ID)
		return role.ID, nil
	}
	role, err := m.adapter.CreateRole(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	m.store.SetTenantValue(tenantID, fieldKey, role.ID)
	return role.ID, nil
}

func (m *Manager) ensureVerifyChannel(ctx context.Context, tenantID string, cfg config.GuildConfig) (string, error) {
	if cfg.VerifyChannelID != "" {
		if ch, ok, err := m.adapter.FindChannelByID(ctx, tenantID, cfg.VerifyChannelID); err == nil && ok {
			return ch.ID, nil
		}
	}
	if ch, ok, err := m.adapter.FindChannelByName(ctx, tenantID, "verify"); err == nil && ok {
		m.store.SetTenantValue(tenantID, "verify_channel_id", ch.ID)
		return ch.ID, nil
	}
	ch, err := m.adapter.CreateTextChannel(ctx, tenantID, "verify")
	if err != nil {
		return "", err
	}
	m.store.SetTenantValue(tenantID, "verify_channel_id", ch.ID)
	return ch.ID, nil
}

func boolPtr(b bool) *bool { return &b }

// applyIsolation fans out the per-channel permission overlay of
// spec.md §4.6: Unverified can only see/send in the verify channel;
// Verified keeps seeing every other (already-public) channel.
func (m *Manager) applyIsolation(ctx context.Context, tenantID, unverifiedRoleID, verifiedRoleID, verifyChannelID string) (applied, failed int) {
	channels, err := m.adapter.Channels(ctx, tenantID)
	if err != nil {
		return 0, 1
	}

	for _, ch := range channels {
		var unverified, verified *platform.Overwrite
		if ch.ID == verifyChannelID {
			unverified = &platform.Overwrite{ViewChannel: boolPtr(true), SendMessages: boolPtr(true), ReadHistory: boolPtr(true)}
			verified = &platform.Overwrite{ViewChannel: boolPtr(true), ReadHistory: boolPtr(true)}
		} else {
			unverified = &platform.Overwrite{ViewChannel: boolPtr(false), SendMessages: boolPtr(false), ReadHistory: boolPtr(false)}
			verified = nil
		}

		if out := m.adapter.SetChannelOverwrite(ctx, ch.ID, unverifiedRoleID, platform.TargetRole, unverified); out == spam.OutcomeOK {
			applied++
		} else {
			failed++
		}
		if verified != nil {
			if out := m.adapter.SetChannelOverwrite(ctx, ch.ID, verifiedRoleID, platform.TargetRole, verified); out == spam.OutcomeOK {
				applied++
			} else {
				failed++
			}
		}
	}
	return applied, failed
}

// grantPostVerifyAccess grants the member an explicit view overwrite on
// every channel except the log channel, per spec.md §4.6's success path.
func (m *Manager) grantPostVerifyAccess(ctx context.Context, tenantID, userID string, cfg config.GuildConfig) (applied, failed int) {
	channels, err := m.adapter.Channels(ctx, tenantID)
	if err != nil {
		return 0, 1
	}
	for _, ch := range channels {
		if cfg.LogChannelID != "" && ch.ID == cfg.LogChannelID {
			continue
		}
		overwrite := &platform.Overwrite{ViewChannel: boolPtr(true), ReadHistory: boolPtr(true)}
		if out := m.adapter.SetChannelOverwrite(ctx, ch.ID, userID, platform.TargetMember, overwrite); out == spam.OutcomeOK {
			applied++
		} else {
			failed++
		}
	}
	return applied, failed
}

func (m *Manager) notifyMember(ctx context.Context, tenantID, userID string, cfg config.GuildConfig, sess *session, verifyChannelID string) {
	minutes := cfg.VerifyTimeoutMinutes
	if minutes < 1 {
		minutes = 1
	}

	channelHint := "in the server"
	if verifyChannelID != "" {
		channelHint = fmt.Sprintf("in <#%s>", verifyChannelID)
	}
	dmText := fmt.Sprintf(
		"Thanks for joining. Your verification code is `%s`. Run `/verify code:<code>` %s within %d minutes.",
		sess.code, channelHint, minutes,
	)
	m.adapter.SendDirectMessage(ctx, userID, dmText)

	if verifyChannelID != "" {
		publicText := fmt.Sprintf("<@%s> thanks for joining. Enter `/verify code:<the 6-digit code sent by DM>` within %d minutes.", userID, minutes)
		m.adapter.SendMessage(ctx, verifyChannelID, publicText)
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// permissionRetryDelay documents the one-retry-after-120s back-off of
// spec.md §4.6/§9; the retry itself lives in platform.DiscordAdapter's
// SetChannelOverwrite, which every isolation call above routes through.
var _ = permissionRetryDelay
