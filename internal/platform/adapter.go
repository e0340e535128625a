// Package platform defines the thin collaborator boundary spec.md §6
// calls "the platform-adapter interface consumed by the core": every
// capability the engine needs from the chat platform, named by what it
// does rather than by a concrete SDK type. spec.md §1 scopes the actual
// gateway connection, REST client, and slash-command dispatch as "thin
// shells over the core" — this package is the seam between them.
package platform

import (
	"context"
	"time"

	"github.com/spamguard/core/internal/spam"
)

// TargetKind distinguishes a permission-overwrite target, matching
// discordgo's PermissionOverwriteTypeRole/Member split (spec.md §6
// "set per-channel permission overwrite for a role or member").
type TargetKind int

const (
	TargetRole TargetKind = iota
	TargetMember
)

// Overwrite is a minimal allow/deny pair for one channel permission
// overwrite target. A nil *Overwrite passed to SetChannelOverwrite
// clears any existing overwrite for that target (spec.md §4.6
// "clear verify-channel overwrites scoped to the member").
type Overwrite struct {
	ViewChannel   *bool
	SendMessages  *bool
	ReadHistory   *bool
	ManageChannel *bool
}

// Role is a platform role.
type Role struct {
	ID   string
	Name string
}

// Channel is a platform text channel.
type Channel struct {
	ID   string
	Name string
}

// Member is the subset of member identity the core needs.
type Member struct {
	ID              string
	Bot             bool
	IsAdministrator bool
	IsManageGuild   bool
	RoleIDs         []string
	AccountCreated  time.Time
	JoinedAt        time.Time
}

// Adapter is the capability surface of spec.md §6. Every action method
// (messaging, moderation, role grant/revoke, permission overwrite)
// returns spam.StepOutcome so callers can record the closed outcome
// alphabet without inspecting platform-specific error types (spec.md §7:
// platform errors convert to outcomes, never propagate across core
// operations). Lookup and creation methods return a plain error instead.
type Adapter interface {
	// Messaging.
	DeleteMessage(ctx context.Context, channelID, messageID string) spam.StepOutcome
	SendMessage(ctx context.Context, channelID, content string) (messageID string, outcome spam.StepOutcome)
	SendDirectMessage(ctx context.Context, userID, content string) spam.StepOutcome

	// Moderation actions.
	Timeout(ctx context.Context, guildID, userID string, d time.Duration) spam.StepOutcome
	Kick(ctx context.Context, guildID, userID, reason string) spam.StepOutcome
	Ban(ctx context.Context, guildID, userID, reason string) spam.StepOutcome

	// Roles.
	FindRoleByName(ctx context.Context, guildID, name string) (Role, bool, error)
	FindRoleByID(ctx context.Context, guildID, roleID string) (Role, bool, error)
	CreateRole(ctx context.Context, guildID, name string) (Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) spam.StepOutcome
	RemoveRole(ctx context.Context, guildID, userID, roleID string) spam.StepOutcome

	// Channels.
	FindChannelByID(ctx context.Context, guildID, channelID string) (Channel, bool, error)
	FindChannelByName(ctx context.Context, guildID, name string) (Channel, bool, error)
	CreateTextChannel(ctx context.Context, guildID, name string) (Channel, error)
	Channels(ctx context.Context, guildID string) ([]Channel, error)
	SetChannelOverwrite(ctx context.Context, channelID, targetID string, kind TargetKind, overwrite *Overwrite) spam.StepOutcome

	// Member lookup, used by the gateway's member-add handler to learn a
	// joining member's administrator/manage-guild permissions.
	Member(ctx context.Context, guildID, userID string) (Member, error)
}
