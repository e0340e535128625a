// Package config owns the per-tenant moderation configuration document:
// the default document, one override per tenant, persistence, and typed
// mutation with string coercion for the admin command surface.
package config

import (
	"encoding/json"
)

// VerifyFailAction is the action applied when a member exhausts or times
// out of the verification challenge.
type VerifyFailAction string

const (
	VerifyFailKick    VerifyFailAction = "kick"
	VerifyFailTimeout VerifyFailAction = "timeout"
	VerifyFailNone    VerifyFailAction = "none"
)

// GuildConfig is the per-tenant moderation document described in spec.md §3.
// Zero value is never used directly — Default() populates every field.
type GuildConfig struct {
	// Scoring thresholds.
	WindowSec          int `json:"window_sec"`
	MaxMsgInWindow     int `json:"max_msg_in_window"`
	DuplicateWindowSec int `json:"duplicate_window_sec"`
	DupThreshold       int `json:"dup_threshold"`
	URLThreshold       int `json:"url_threshold"`
	URLRepeatWindowSec int `json:"url_repeat_window_sec"`
	URLRepeatThreshold int `json:"url_repeat_threshold"`
	MentionThreshold   int `json:"mention_threshold"`
	ScoreThreshold     int `json:"score_threshold"`

	// Escalation.
	WarningThreshold int  `json:"warning_threshold"`
	TimeoutThreshold int  `json:"timeout_threshold"`
	BanThreshold     int  `json:"ban_threshold"`
	BanEnabled       bool `json:"ban_enabled"`
	OffenseWindowSec int  `json:"offense_window_sec"`
	TimeoutMinutes   int  `json:"timeout_minutes"`

	// Raid detection.
	RaidJoinWindowSec           int `json:"raid_join_window_sec"`
	RaidJoinThreshold           int `json:"raid_join_threshold"`
	RaidMessageWindowSec        int `json:"raid_message_window_sec"`
	RaidNewUserMessageThreshold int `json:"raid_new_user_message_threshold"`
	NewMemberWindowSec          int `json:"new_member_window_sec"`

	// Verification.
	VerifyEnabled          bool             `json:"verify_enabled"`
	VerifyChannelID        string           `json:"verify_channel_id,omitempty"`
	VerifyUnverifiedRoleID string           `json:"verify_unverified_role_id,omitempty"`
	VerifyMemberRoleID     string           `json:"verify_member_role_id,omitempty"`
	VerifyTimeoutMinutes   int              `json:"verify_timeout_minutes"`
	VerifyMaxAttempts      int              `json:"verify_max_attempts"`
	VerifyFailAction       VerifyFailAction `json:"verify_fail_action"`

	// Lists.
	IgnoreRoleIds    []string `json:"ignore_role_ids,omitempty"`
	IgnoreChannelIds []string `json:"ignore_channel_ids,omitempty"`
	WhitelistUserIds []string `json:"whitelist_user_ids,omitempty"`
	WhitelistRoleIds []string `json:"whitelist_role_ids,omitempty"`
	AllowDomains     []string `json:"allow_domains,omitempty"`
	PhishingDomains  []string `json:"phishing_domains,omitempty"`
	SuspiciousTlds   []string `json:"suspicious_tlds,omitempty"`

	// Logging.
	LogChannelID   string `json:"log_channel_id,omitempty"`
	LogViewerRoleID string `json:"log_viewer_role_id,omitempty"`
}

// Default returns the default GuildConfig, matching the thresholds of the
// original spam_protect bot (original_source/spamguard/config.py).
func Default() GuildConfig {
	return GuildConfig{
		WindowSec:          12,
		MaxMsgInWindow:     5,
		DuplicateWindowSec: 120,
		DupThreshold:       3,
		URLThreshold:       2,
		URLRepeatWindowSec: 120,
		URLRepeatThreshold: 3,
		MentionThreshold:   4,
		ScoreThreshold:     6,

		WarningThreshold: 1,
		TimeoutThreshold: 2,
		BanThreshold:     4,
		BanEnabled:       false,
		OffenseWindowSec: 86400,
		TimeoutMinutes:   10,

		RaidJoinWindowSec:           20,
		RaidJoinThreshold:           6,
		RaidMessageWindowSec:        20,
		RaidNewUserMessageThreshold: 8,
		NewMemberWindowSec:          1800,

		VerifyEnabled:        true,
		VerifyTimeoutMinutes: 10,
		VerifyMaxAttempts:    3,
		VerifyFailAction:     VerifyFailKick,

		SuspiciousTlds: []string{"zip", "mov", "top", "click", "xyz", "gq", "tk"},
	}
}

// Clone returns a deep copy so tenant documents never alias the default's
// (or another tenant's) slice fields.
func (g GuildConfig) Clone() GuildConfig {
	out := g
	out.IgnoreRoleIds = append([]string(nil), g.IgnoreRoleIds...)
	out.IgnoreChannelIds = append([]string(nil), g.IgnoreChannelIds...)
	out.WhitelistUserIds = append([]string(nil), g.WhitelistUserIds...)
	out.WhitelistRoleIds = append([]string(nil), g.WhitelistRoleIds...)
	out.AllowDomains = append([]string(nil), g.AllowDomains...)
	out.PhishingDomains = append([]string(nil), g.PhishingDomains...)
	out.SuspiciousTlds = append([]string(nil), g.SuspiciousTlds...)
	return out
}

// rawDocument is the on-disk shape: { "defaults": {...}, "guilds": {"id": {...}} }.
// Using json.RawMessage per tenant lets load() drop unknown keys at both
// nesting levels without needing a two-pass decode.
type rawDocument struct {
	Defaults json.RawMessage            `json:"defaults"`
	Guilds   map[string]json.RawMessage `json:"guilds"`
}

// fromJSON decodes a GuildConfig starting from Default(), so missing keys
// take default values and unknown keys are silently dropped (the
// json.Unmarshal default behavior already drops unknown fields).
func fromJSON(data json.RawMessage) (GuildConfig, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GuildConfig{}, err
	}
	return cfg, nil
}
