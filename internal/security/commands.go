package security

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spamguard/core/internal/config"
)

// EditableRuleKeys is the allow-list `security rule set`/`set` may
// touch, matching the original bot's EDITABLE_SECURITY_RULES
// (original_source/spamguard/security_runtime.py) rather than every
// GuildConfig json tag: the unverified-role ID and the list fields are
// set through their own dedicated subcommands below, not generically.
var EditableRuleKeys = map[string]bool{
	"window_sec":                       true,
	"max_msg_in_window":                true,
	"duplicate_window_sec":             true,
	"dup_threshold":                    true,
	"url_threshold":                    true,
	"url_repeat_window_sec":            true,
	"url_repeat_threshold":             true,
	"mention_threshold":                true,
	"score_threshold":                  true,
	"timeout_minutes":                  true,
	"warning_threshold":                true,
	"timeout_threshold":                true,
	"ban_threshold":                    true,
	"offense_window_sec":               true,
	"ban_enabled":                      true,
	"raid_join_window_sec":             true,
	"raid_join_threshold":              true,
	"raid_message_window_sec":          true,
	"raid_new_user_message_threshold":  true,
	"new_member_window_sec":            true,
	"log_channel_id":                   true,
	"verify_enabled":                   true,
	"verify_channel_id":                true,
	"verify_timeout_minutes":           true,
	"verify_max_attempts":              true,
	"verify_fail_action":               true,
	"verify_member_role_id":            true,
}

// Requester is the caller identity the admin surface checks against.
// The out-of-scope slash-command dispatcher (spec.md §1/§6) is
// responsible for populating this from the platform's own permission
// model before invoking a Commands method.
type Requester struct {
	TenantID      string
	HasManageGuild bool
}

// ErrForbidden is returned when the requester lacks the "manage server"
// permission spec.md §6 requires of every admin command.
var ErrForbidden = fmt.Errorf("manage server permission required")

// Commands implements the typed handler functions behind the admin
// slash-command surface of spec.md §6. Each method is a thin, testable
// unit; the (unimplemented, out-of-scope) Discord dispatcher maps slash
// command invocations onto these.
type Commands struct {
	store *config.Store
}

// NewCommands creates a Commands bound to store.
func NewCommands(store *config.Store) *Commands {
	return &Commands{store: store}
}

func requireManage(req Requester) error {
	if !req.HasManageGuild {
		return ErrForbidden
	}
	return nil
}

// Status reports the tenant's current scoring/escalation configuration
// (`security status`).
func (c *Commands) Status(req Requester) (string, error) {
	if err := requireManage(req); err != nil {
		return "", err
	}
	cfg := c.store.TenantConfig(req.TenantID)
	return fmt.Sprintf(
		"score_threshold=%d warning=%d timeout=%d ban=%d(enabled=%t) verify_enabled=%t",
		cfg.ScoreThreshold, cfg.WarningThreshold, cfg.TimeoutThreshold, cfg.BanThreshold,
		cfg.BanEnabled, cfg.VerifyEnabled,
	), nil
}

// SetValue implements `set key value`/`security rule set key value`:
// restricted to EditableRuleKeys, unlike ConfigStore.SetTenantValue
// itself which accepts any GuildConfig field (the generic primitive the
// command surface narrows).
func (c *Commands) SetValue(req Requester, key, value string) (string, error) {
	if err := requireManage(req); err != nil {
		return "", err
	}
	if !EditableRuleKeys[key] {
		return "", fmt.Errorf("unknown or non-editable key: %s", key)
	}
	ok, err := c.store.SetTenantValue(req.TenantID, key, value)
	if err != nil {
		return "", fmt.Errorf("set %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("unknown key: %s", key)
	}
	return fmt.Sprintf("%s = %s", key, value), nil
}

// SetBulk implements `setting bulk key=value,key=value,...`.
func (c *Commands) SetBulk(req Requester, pairs map[string]string) ([]string, error) {
	if err := requireManage(req); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]string, 0, len(keys))
	for _, k := range keys {
		msg, err := c.SetValue(req, k, pairs[k])
		if err != nil {
			results = append(results, fmt.Sprintf("%s: error (%v)", k, err))
			continue
		}
		results = append(results, msg)
	}
	return results, nil
}

// RuleList implements `security rule list`.
func (c *Commands) RuleList(req Requester) ([]string, error) {
	if err := requireManage(req); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(EditableRuleKeys))
	for k := range EditableRuleKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// LogSetup implements `setting log_setup channel [restrict]`: points the
// tenant's audit log at channelID, optionally restricting it to a
// viewer role via permission overwrites (supplemented feature from
// original_source's apply_log_visibility_restriction, not excluded by
// any Non-goal). Restriction itself is applied by the caller through
// the platform adapter's SetChannelOverwrite; when restrict is set this
// returns the config key ("log_viewer_role_id") that holds the viewer
// role ID, otherwise "".
func (c *Commands) LogSetup(req Requester, channelID string, restrict bool) (restrictRoleKey string, err error) {
	if err := requireManage(req); err != nil {
		return "", err
	}
	if _, err := c.store.SetTenantValue(req.TenantID, "log_channel_id", channelID); err != nil {
		return "", fmt.Errorf("set log_channel_id: %w", err)
	}
	if !restrict {
		return "", nil
	}
	return "log_viewer_role_id", nil
}

// LogViewer implements `setting log_viewer action:{add|remove} member`.
// The actual role grant/revoke against the platform is the dispatcher's
// job (it has the live Member); this only checks the permission and
// validates the action alphabet, and records nothing.
func (c *Commands) LogViewer(req Requester, action string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	switch action {
	case "add", "remove":
		return nil
	default:
		return fmt.Errorf("unknown log_viewer action: %s", action)
	}
}

// LogClear implements `setting log_clear`.
func (c *Commands) LogClear(req Requester) error {
	if err := requireManage(req); err != nil {
		return err
	}
	_, err := c.store.SetTenantValue(req.TenantID, "log_channel_id", "none")
	return err
}

// listKind distinguishes which GuildConfig string-slice field a
// ignore/whitelist/blocklist command mutates.
type listKind int

const (
	kindIgnoreRole listKind = iota
	kindIgnoreChannel
	kindWhitelistUser
	kindWhitelistRole
	kindAllowDomain
	kindPhishingDomain
	kindSuspiciousTLD
)

// mutateList appends or removes value from the named GuildConfig list
// field, persisting the result. ConfigStore.SetTenantValue only
// supports scalar coercion (spec.md §4.1), so list mutation happens
// here, directly against a tenant copy, mirroring the teacher's pattern
// of small dedicated mutators layered over a generic store primitive.
func (c *Commands) mutateList(tenantID string, kind listKind, value string, add bool) error {
	cfg := c.store.TenantConfig(tenantID)
	var list *[]string
	switch kind {
	case kindIgnoreRole:
		list = &cfg.IgnoreRoleIds
	case kindIgnoreChannel:
		list = &cfg.IgnoreChannelIds
	case kindWhitelistUser:
		list = &cfg.WhitelistUserIds
	case kindWhitelistRole:
		list = &cfg.WhitelistRoleIds
	case kindAllowDomain:
		list = &cfg.AllowDomains
	case kindPhishingDomain:
		list = &cfg.PhishingDomains
	case kindSuspiciousTLD:
		list = &cfg.SuspiciousTlds
	}

	if add {
		if !containsString(*list, value) {
			*list = append(*list, value)
		}
	} else {
		filtered := (*list)[:0:0]
		for _, v := range *list {
			if v != value {
				filtered = append(filtered, v)
			}
		}
		*list = filtered
	}

	return c.store.ReplaceTenantConfig(tenantID, cfg)
}

// IgnoreAddRole / IgnoreRemoveRole implement `ignore add/remove role`.
func (c *Commands) IgnoreAddRole(req Requester, roleID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindIgnoreRole, roleID, true)
}

func (c *Commands) IgnoreRemoveRole(req Requester, roleID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindIgnoreRole, roleID, false)
}

// IgnoreAddChannel / IgnoreRemoveChannel implement `ignore add/remove channel`.
func (c *Commands) IgnoreAddChannel(req Requester, channelID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindIgnoreChannel, channelID, true)
}

func (c *Commands) IgnoreRemoveChannel(req Requester, channelID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindIgnoreChannel, channelID, false)
}

// WhitelistAdd/Remove/List implement `security whitelist {add|remove|list}`.
func (c *Commands) WhitelistAddUser(req Requester, userID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindWhitelistUser, userID, true)
}

func (c *Commands) WhitelistRemoveUser(req Requester, userID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindWhitelistUser, userID, false)
}

func (c *Commands) WhitelistAddRole(req Requester, roleID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindWhitelistRole, roleID, true)
}

func (c *Commands) WhitelistRemoveRole(req Requester, roleID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindWhitelistRole, roleID, false)
}

func (c *Commands) WhitelistList(req Requester) ([]string, []string, error) {
	if err := requireManage(req); err != nil {
		return nil, nil, err
	}
	cfg := c.store.TenantConfig(req.TenantID)
	return cfg.WhitelistUserIds, cfg.WhitelistRoleIds, nil
}

// Blocklist* implement `security blocklist {domain_add|domain_remove|tld_add|tld_remove}`.
func (c *Commands) BlocklistDomainAdd(req Requester, domain string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindPhishingDomain, strings.ToLower(domain), true)
}

func (c *Commands) BlocklistDomainRemove(req Requester, domain string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindPhishingDomain, strings.ToLower(domain), false)
}

func (c *Commands) BlocklistTLDAdd(req Requester, tld string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindSuspiciousTLD, strings.ToLower(tld), true)
}

func (c *Commands) BlocklistTLDRemove(req Requester, tld string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	return c.mutateList(req.TenantID, kindSuspiciousTLD, strings.ToLower(tld), false)
}

// VerifyStatus implements `security verify status`.
func (c *Commands) VerifyStatus(req Requester) (string, error) {
	if err := requireManage(req); err != nil {
		return "", err
	}
	cfg := c.store.TenantConfig(req.TenantID)
	return fmt.Sprintf(
		"enabled=%t channel=%s unverified_role=%s member_role=%s timeout_min=%d max_attempts=%d fail_action=%s",
		cfg.VerifyEnabled, cfg.VerifyChannelID, cfg.VerifyUnverifiedRoleID, cfg.VerifyMemberRoleID,
		cfg.VerifyTimeoutMinutes, cfg.VerifyMaxAttempts, cfg.VerifyFailAction,
	), nil
}

// VerifyConfigure implements `security verify configure`, setting a
// scalar verification field through the same restricted key set as
// SetValue (verify_unverified_role_id is not in it; see
// VerifyUnverifiedRole).
func (c *Commands) VerifyConfigure(req Requester, key, value string) (string, error) {
	return c.SetValue(req, key, value)
}

// VerifyUnverifiedRole implements `security verify unverified_role`,
// pointing the tenant's config at an already-existing role ID (role
// creation/lookup against the platform is the dispatcher's job).
func (c *Commands) VerifyUnverifiedRole(req Requester, roleID string) error {
	if err := requireManage(req); err != nil {
		return err
	}
	_, err := c.store.SetTenantValue(req.TenantID, "verify_unverified_role_id", roleID)
	return err
}

// VerificationCodeVerifier is the narrow slice of VerificationManager
// the command surface needs, kept as an interface here so commands.go
// has no import-cycle dependency on the verification package.
type VerificationCodeVerifier interface {
	VerifyCode(ctx context.Context, tenantID, userID, code string, isAdmin bool) (bool, string)
	SendNewCode(ctx context.Context, tenantID, userID string) (bool, string)
}

// VerifyCode implements `verify code`. isAdmin carries the requester's
// manage-guild/administrator permission through to the manager's own
// admin bypass (spec.md §4.6, original_source/spamguard/verification.py).
func VerifyCode(ctx context.Context, mgr VerificationCodeVerifier, tenantID, userID, code string, isAdmin bool) (bool, string) {
	return mgr.VerifyCode(ctx, tenantID, userID, code, isAdmin)
}

// VerifyResend implements `verify_resend`.
func VerifyResend(ctx context.Context, mgr VerificationCodeVerifier, tenantID, userID string) (bool, string) {
	return mgr.SendNewCode(ctx, tenantID, userID)
}
