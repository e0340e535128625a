package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spamguard/core/internal/spam"
)

// DiscordAdapter implements Adapter over a live discordgo.Session,
// grounded on the teacher's internal/channels/discord/discord.go: a
// thin wrapper session field, outcome classification on every REST
// call rather than propagating *discordgo errors, and slog-free
// plumbing (callers log; this layer only classifies).
type DiscordAdapter struct {
	session *discordgo.Session
}

// NewDiscordAdapter wraps an already-created, not-yet-opened session.
func NewDiscordAdapter(session *discordgo.Session) *DiscordAdapter {
	return &DiscordAdapter{session: session}
}

func classifyErr(err error) spam.StepOutcome {
	if err == nil {
		return spam.OutcomeOK
	}
	if rerr, ok := err.(*discordgo.RESTError); ok && rerr.Response != nil {
		if rerr.Response.StatusCode == 403 {
			return spam.OutcomeForbidden
		}
		return spam.OutcomeHTTPError
	}
	return spam.OutcomeHTTPError
}

func (a *DiscordAdapter) DeleteMessage(_ context.Context, channelID, messageID string) spam.StepOutcome {
	if messageID == "" {
		return spam.OutcomeNotAttempted
	}
	return classifyErr(a.session.ChannelMessageDelete(channelID, messageID))
}

func (a *DiscordAdapter) SendMessage(_ context.Context, channelID, content string) (string, spam.StepOutcome) {
	msg, err := a.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", classifyErr(err)
	}
	return msg.ID, spam.OutcomeOK
}

func (a *DiscordAdapter) SendDirectMessage(_ context.Context, userID, content string) spam.StepOutcome {
	ch, err := a.session.UserChannelCreate(userID)
	if err != nil {
		return classifyErr(err)
	}
	_, err = a.session.ChannelMessageSend(ch.ID, content)
	return classifyErr(err)
}

func (a *DiscordAdapter) Timeout(_ context.Context, guildID, userID string, d time.Duration) spam.StepOutcome {
	until := time.Now().Add(d)
	err := a.session.GuildMemberTimeout(guildID, userID, &until)
	return classifyErr(err)
}

func (a *DiscordAdapter) Kick(_ context.Context, guildID, userID, reason string) spam.StepOutcome {
	return classifyErr(a.session.GuildMemberDeleteWithReason(guildID, userID, reason))
}

func (a *DiscordAdapter) Ban(_ context.Context, guildID, userID, reason string) spam.StepOutcome {
	return classifyErr(a.session.GuildBanCreateWithReason(guildID, userID, reason, 0))
}

func (a *DiscordAdapter) FindRoleByName(_ context.Context, guildID, name string) (Role, bool, error) {
	roles, err := a.session.GuildRoles(guildID)
	if err != nil {
		return Role{}, false, fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return Role{ID: r.ID, Name: r.Name}, true, nil
		}
	}
	return Role{}, false, nil
}

func (a *DiscordAdapter) FindRoleByID(_ context.Context, guildID, roleID string) (Role, bool, error) {
	if roleID == "" {
		return Role{}, false, nil
	}
	roles, err := a.session.GuildRoles(guildID)
	if err != nil {
		return Role{}, false, fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return Role{ID: r.ID, Name: r.Name}, true, nil
		}
	}
	return Role{}, false, nil
}

func (a *DiscordAdapter) CreateRole(_ context.Context, guildID, name string) (Role, error) {
	r, err := a.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Mentionable: discordgo.Bool(false),
		Hoist:       discordgo.Bool(false),
	})
	if err != nil {
		return Role{}, fmt.Errorf("create role %s: %w", name, err)
	}
	return Role{ID: r.ID, Name: r.Name}, nil
}

func (a *DiscordAdapter) AddRole(_ context.Context, guildID, userID, roleID string) spam.StepOutcome {
	if roleID == "" {
		return spam.OutcomeNotAttempted
	}
	return classifyErr(a.session.GuildMemberRoleAdd(guildID, userID, roleID))
}

func (a *DiscordAdapter) RemoveRole(_ context.Context, guildID, userID, roleID string) spam.StepOutcome {
	if roleID == "" {
		return spam.OutcomeNotAttempted
	}
	return classifyErr(a.session.GuildMemberRoleRemove(guildID, userID, roleID))
}

func (a *DiscordAdapter) FindChannelByID(_ context.Context, _, channelID string) (Channel, bool, error) {
	if channelID == "" {
		return Channel{}, false, nil
	}
	ch, err := a.session.Channel(channelID)
	if err != nil {
		return Channel{}, false, nil
	}
	return Channel{ID: ch.ID, Name: ch.Name}, true, nil
}

func (a *DiscordAdapter) FindChannelByName(_ context.Context, guildID, name string) (Channel, bool, error) {
	channels, err := a.session.GuildChannels(guildID)
	if err != nil {
		return Channel{}, false, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return Channel{ID: ch.ID, Name: ch.Name}, true, nil
		}
	}
	return Channel{}, false, nil
}

// CreateTextChannel creates name with the everyone-readable, send-disabled
// default overwrite spec.md §4.6 specifies for an auto-created verify
// channel ("everyone-readable + send-disabled default overwrites").
func (a *DiscordAdapter) CreateTextChannel(_ context.Context, guildID, name string) (Channel, error) {
	ch, err := a.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildText,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				ID:    guildID, // @everyone role ID == guild ID
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: discordgo.PermissionViewChannel,
				Deny:  discordgo.PermissionSendMessages,
			},
		},
	})
	if err != nil {
		return Channel{}, fmt.Errorf("create channel %s: %w", name, err)
	}
	return Channel{ID: ch.ID, Name: ch.Name}, nil
}

func (a *DiscordAdapter) Channels(_ context.Context, guildID string) ([]Channel, error) {
	channels, err := a.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, Channel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

func (a *DiscordAdapter) SetChannelOverwrite(_ context.Context, channelID, targetID string, kind TargetKind, overwrite *Overwrite) spam.StepOutcome {
	ot := discordgo.PermissionOverwriteTypeRole
	if kind == TargetMember {
		ot = discordgo.PermissionOverwriteTypeMember
	}

	if overwrite == nil {
		err := a.session.ChannelPermissionDelete(channelID, targetID)
		return classifyErr(err)
	}

	var allow, deny int64
	apply := func(set *bool, perm int64) {
		if set == nil {
			return
		}
		if *set {
			allow |= perm
		} else {
			deny |= perm
		}
	}
	apply(overwrite.ViewChannel, discordgo.PermissionViewChannel)
	apply(overwrite.SendMessages, discordgo.PermissionSendMessages)
	apply(overwrite.ReadHistory, discordgo.PermissionReadMessageHistory)
	apply(overwrite.ManageChannel, discordgo.PermissionManageChannels)

	err := a.session.ChannelPermissionSet(channelID, targetID, ot, allow, deny)
	if err != nil {
		// One retry after a 120s back-off on transient platform errors
		// (spec.md §4.6 isolation fan-out retry policy). Forbidden is not
		// transient; don't retry it.
		if classifyErr(err) == spam.OutcomeForbidden {
			return spam.OutcomeForbidden
		}
		time.Sleep(120 * time.Second)
		err = a.session.ChannelPermissionSet(channelID, targetID, ot, allow, deny)
	}
	return classifyErr(err)
}

func (a *DiscordAdapter) Member(_ context.Context, guildID, userID string) (Member, error) {
	m, err := a.session.GuildMember(guildID, userID)
	if err != nil {
		return Member{}, fmt.Errorf("fetch member %s: %w", userID, err)
	}

	perms, err := a.session.State.UserChannelPermissions(userID, guildID)
	isAdmin, isManageGuild := false, false
	if err == nil {
		isAdmin = perms&discordgo.PermissionAdministrator != 0
		isManageGuild = perms&discordgo.PermissionManageServer != 0
	}

	accountCreated, _ := discordgo.SnowflakeTimestamp(m.User.ID)
	joinedAt := m.JoinedAt

	return Member{
		ID:              m.User.ID,
		Bot:             m.User.Bot,
		IsAdministrator: isAdmin,
		IsManageGuild:   isManageGuild,
		RoleIDs:         append([]string(nil), m.Roles...),
		AccountCreated:  accountCreated,
		JoinedAt:        joinedAt,
	}, nil
}
