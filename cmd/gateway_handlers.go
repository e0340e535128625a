package cmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/security"
	"github.com/spamguard/core/internal/telemetry"
	"github.com/spamguard/core/internal/verification"
)

// registerGatewayHandlers wires discordgo's event handlers to the core
// engine, translating gateway payloads into the core's platform-neutral
// types (security.IncomingMessage, verification.JoinMember) — the thin
// shell spec.md §1 scopes as "out of scope", kept intentionally small and
// adapter-shaped, mirroring the teacher's handleMessage pattern
// (internal/channels/discord/discord.go).
func registerGatewayHandlers(session *discordgo.Session, store *config.Store, runtime *security.Runtime, verifier *verification.Manager, adapter *platform.DiscordAdapter, tracer *telemetry.Provider) {
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		handleMessageCreate(s, m, runtime, tracer)
	})

	session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
		handleGuildMemberAdd(s, e, runtime, verifier, adapter, tracer)
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		handleVerifyInteraction(s, i, verifier)
	})
}

func handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate, runtime *security.Runtime, tracer *telemetry.Provider) {
	now := time.Now()
	accountCreated, _ := discordgo.SnowflakeTimestamp(m.Author.ID)

	var joinedAt *time.Time
	if m.Member != nil && !m.Member.JoinedAt.IsZero() {
		jt := m.Member.JoinedAt
		joinedAt = &jt
	}
	var roleIDs []string
	if m.Member != nil {
		roleIDs = m.Member.Roles
	}

	msg := security.IncomingMessage{
		TenantID:         m.GuildID,
		ChannelID:        m.ChannelID,
		MessageID:        m.ID,
		AuthorID:         m.Author.ID,
		AuthorRoleIDs:    roleIDs,
		Content:          m.Content,
		MentionCount:     len(m.Mentions),
		AccountCreatedAt: accountCreated,
		JoinedAt:         joinedAt,
		Now:              now,
	}

	ctx, span := tracer.StartMessageSpan(context.Background(), msg.TenantID, "")
	outcome := runtime.HandleMessage(ctx, msg)
	if outcome.Event != nil {
		telemetry.AnnotateAction(span, string(outcome.Action), string(outcome.ActionStep))
	}
	span.End()

	if outcome.Enforced {
		slog.Debug("message enforced", "tenant_id", msg.TenantID, "user_id", msg.AuthorID, "action", outcome.Action)
	}
}

func handleGuildMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd, runtime *security.Runtime, verifier *verification.Manager, adapter *platform.DiscordAdapter, tracer *telemetry.Provider) {
	if e.Member == nil || e.Member.User == nil {
		return
	}
	member := verification.JoinMember{
		TenantID: e.GuildID,
		UserID:   e.Member.User.ID,
		Bot:      e.Member.User.Bot,
	}

	ctx, span := tracer.StartJoinSpan(context.Background(), member.TenantID, member.UserID)
	defer span.End()

	joinedAt := e.Member.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	runtime.RegisterJoin(member.TenantID, member.UserID, joinedAt)

	if info, err := adapter.Member(ctx, e.GuildID, e.Member.User.ID); err == nil {
		member.IsAdministrator = info.IsAdministrator
		member.IsManageGuild = info.IsManageGuild
	} else {
		slog.Warn("verification: member permission lookup failed", "tenant_id", member.TenantID, "user_id", member.UserID, "error", err)
	}

	if err := verifier.HandleJoin(ctx, member); err != nil {
		slog.Warn("verification: handle join failed", "tenant_id", member.TenantID, "user_id", member.UserID, "error", err)
	}
}

// handleVerifyInteraction implements the `/verify code:<code>` and
// `/verify_resend` slash commands from spec.md §6, the minimal dispatcher
// the admin-command surface (internal/security/commands.go) expects.
func handleVerifyInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, verifier *verification.Manager) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "verify" && data.Name != "verify_resend" {
		return
	}
	if i.Member == nil || i.Member.User == nil {
		return
	}

	ctx := context.Background()
	isAdmin := i.Member.Permissions&discordgo.PermissionAdministrator != 0 ||
		i.Member.Permissions&discordgo.PermissionManageServer != 0

	var ok bool
	var detail string
	switch data.Name {
	case "verify":
		code := ""
		for _, opt := range data.Options {
			if opt.Name == "code" {
				code = strings.TrimSpace(opt.StringValue())
			}
		}
		ok, detail = verifier.VerifyCode(ctx, i.GuildID, i.Member.User.ID, code, isAdmin)
	case "verify_resend":
		ok, detail = verifier.SendNewCode(ctx, i.GuildID, i.Member.User.ID)
	}

	content := detail
	if ok {
		content = "✅ " + detail
	} else {
		content = "❌ " + detail
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
