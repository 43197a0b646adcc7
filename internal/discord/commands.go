package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"voicepods/internal/panel"
	"voicepods/internal/pod"
	"voicepods/internal/stats"
	"voicepods/pkg/utils"
)

// leaderboardSize is the number of entries !top shows.
const leaderboardSize = 10

// Message is a text command as received from a guild channel.
type Message struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// Commands implements the prefixed text command surface.
type Commands struct {
	prefix    string
	panels    *panel.Dispatcher
	templates *pod.Templates
	presets   *pod.Presets
	voice     *stats.Tracker
}

// NewCommands creates the command handler.
func NewCommands(prefix string, panels *panel.Dispatcher, templates *pod.Templates, presets *pod.Presets, voice *stats.Tracker) *Commands {
	return &Commands{prefix: prefix, panels: panels, templates: templates, presets: presets, voice: voice}
}

// Handle runs a command and returns the reply. ok is false when the message
// is not a command.
func (c *Commands) Handle(ctx context.Context, m Message) (reply string, ok bool) {
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, c.prefix) {
		return "", false
	}
	args := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(args) == 0 {
		return "", false
	}

	switch args[0] {
	case "pod":
		return c.pod(ctx, m, args[1:]), true
	case "voice":
		return c.voiceStat(ctx, m), true
	case "top":
		return c.top(ctx, m), true
	}
	return "", false
}

func (c *Commands) usage() string {
	p := c.prefix
	return strings.Join([]string{
		"**Pod commands**",
		p + "pod panel",
		p + "pod template save|load|delete <name>",
		p + "pod template list",
		p + "pod preset add|remove @user",
		p + "pod preset list",
	}, "\n")
}

func (c *Commands) pod(ctx context.Context, m Message, args []string) string {
	if len(args) == 0 {
		return c.usage()
	}
	switch args[0] {
	case "panel":
		if _, err := c.panels.OpenPanel(ctx, m.ChannelID, m.AuthorID); err != nil {
			if errors.Is(err, pod.ErrNotAPod) {
				return "❌ This channel is not a pod. Use this in your pod's chat."
			}
			return c.failure(m, err)
		}
		return ""
	case "template":
		return c.template(ctx, m, args[1:])
	case "preset":
		return c.preset(ctx, m, args[1:])
	}
	return c.usage()
}

func (c *Commands) template(ctx context.Context, m Message, args []string) string {
	if len(args) == 1 && args[0] == "list" {
		templates, err := c.templates.List(ctx, m.AuthorID, m.GuildID)
		if err != nil {
			return c.failure(m, err)
		}
		if len(templates) == 0 {
			return "📂 You have no saved templates."
		}
		lines := []string{"📂 Your templates:"}
		for _, t := range templates {
			lines = append(lines, fmt.Sprintf("- **%s**: %s, %s, %d whitelisted",
				t.Name, limitText(t.UserLimit), lockText(t.AutoLock), len(t.WhitelistUserIDs)))
		}
		return strings.Join(lines, "\n")
	}
	if len(args) != 2 {
		return c.usage()
	}

	name := args[1]
	switch args[0] {
	case "save":
		t, err := c.templates.Save(ctx, m.AuthorID, m.GuildID, name)
		if err != nil {
			return c.failure(m, err)
		}
		return fmt.Sprintf("💾 Saved template **%s** (%s, %s, %d whitelisted).",
			t.Name, limitText(t.UserLimit), lockText(t.AutoLock), len(t.WhitelistUserIDs))
	case "load":
		res, err := c.templates.Load(ctx, m.AuthorID, m.GuildID, name)
		if err != nil {
			return c.failure(m, err)
		}
		c.panels.Refresh(ctx, res.ChannelID)
		reply := fmt.Sprintf("📥 Loaded template **%s**: %d whitelisted.", res.Template.Name, len(res.Applied))
		if len(res.Skipped) > 0 {
			reply += fmt.Sprintf(" Skipped %d users who could not be found.", len(res.Skipped))
		}
		return reply
	case "delete":
		if err := c.templates.Delete(ctx, m.AuthorID, m.GuildID, name); err != nil {
			return c.failure(m, err)
		}
		return fmt.Sprintf("🗑️ Deleted template **%s**.", strings.ToLower(name))
	}
	return c.usage()
}

func (c *Commands) preset(ctx context.Context, m Message, args []string) string {
	if len(args) == 1 && args[0] == "list" {
		targets, err := c.presets.List(ctx, m.AuthorID, m.GuildID)
		if err != nil {
			return c.failure(m, err)
		}
		if len(targets) == 0 {
			return "📋 Your auto-whitelist is empty."
		}
		mentions := make([]string, len(targets))
		for i, id := range targets {
			mentions[i] = utils.FormatUserMention(id)
		}
		return fmt.Sprintf("📋 Auto-whitelist (%d/%d): %s", len(targets), pod.MaxPresets, strings.Join(mentions, " "))
	}
	if len(args) != 2 {
		return c.usage()
	}

	target := targetID(args[1])
	if target == "" {
		return "⚠️ Mention the user, for example " + c.prefix + "pod preset add @friend"
	}
	switch args[0] {
	case "add":
		if err := c.presets.Add(ctx, m.AuthorID, m.GuildID, target); err != nil {
			return c.failure(m, err)
		}
		return fmt.Sprintf("✅ %s will be whitelisted in your new pods.", utils.FormatUserMention(target))
	case "remove":
		if err := c.presets.Remove(ctx, m.AuthorID, m.GuildID, target); err != nil {
			return c.failure(m, err)
		}
		return fmt.Sprintf("➖ %s removed from your auto-whitelist.", utils.FormatUserMention(target))
	}
	return c.usage()
}

// targetID accepts a user mention or a raw snowflake.
func targetID(arg string) string {
	if utils.IsUserMention(arg) {
		return utils.ExtractUserIDFromMention(arg)
	}
	if arg == "" || strings.Trim(arg, "0123456789") != "" {
		return ""
	}
	return arg
}

func (c *Commands) voiceStat(ctx context.Context, m Message) string {
	st, err := c.voice.Stat(ctx, m.GuildID, m.AuthorID)
	if err != nil {
		return c.failure(m, err)
	}
	return fmt.Sprintf("🔊 %s, voice time: %s over %d sessions",
		m.AuthorName, utils.FormatDuration(st.TotalSeconds), st.SessionCount)
}

func (c *Commands) top(ctx context.Context, m Message) string {
	entries, err := c.voice.Leaderboard(ctx, m.GuildID, leaderboardSize)
	if err != nil {
		return c.failure(m, err)
	}
	if len(entries) == 0 {
		return "🏆 No voice time recorded yet."
	}
	lines := []string{"🏆 **Voice leaderboard**"}
	for i, st := range entries {
		lines = append(lines, utils.FormatLeaderboardEntry(i+1, utils.FormatUserMention(st.UserID), utils.FormatDuration(st.TotalSeconds)))
	}
	return strings.Join(lines, "\n")
}

// failure turns a command error into a reply.
func (c *Commands) failure(m Message, err error) string {
	switch {
	case errors.Is(err, pod.ErrNotAPod):
		return "❌ You need to be in a pod you own for that."
	case errors.Is(err, pod.ErrUnauthorized):
		return "⛔ Only the pod owner or a co-owner can do that."
	case errors.Is(err, pod.ErrResourceGone):
		return "❌ That room no longer exists."
	case errors.Is(err, pod.ErrValidation):
		return "⚠️ " + strings.TrimPrefix(err.Error(), pod.ErrValidation.Error()+": ")
	case errors.Is(err, pod.ErrTemplateNotFound):
		return "❌ No template with that name."
	case errors.Is(err, pod.ErrPresetExists):
		return "ℹ️ That user is already on your auto-whitelist."
	case errors.Is(err, pod.ErrPresetNotFound):
		return "ℹ️ That user is not on your auto-whitelist."
	case errors.Is(err, pod.ErrTooManyPresets):
		return fmt.Sprintf("⚠️ Your auto-whitelist is full (%d users).", pod.MaxPresets)
	case errors.Is(err, pod.ErrUnknownUser):
		return "❌ I couldn't find that user."
	}
	id := uuid.NewString()
	log.Printf("❌ Command %s failed (author=%s channel=%s): %v", id, m.AuthorID, m.ChannelID, err)
	return fmt.Sprintf("❌ Something went wrong. Please try again. (ref `%s`)", id)
}

func limitText(limit int) string {
	if limit == 0 {
		return "no limit"
	}
	return fmt.Sprintf("limit %d", limit)
}

func lockText(locked bool) string {
	if locked {
		return "locked"
	}
	return "unlocked"
}
