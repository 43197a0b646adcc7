package panel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/models"
	"voicepods/internal/pod"
	"voicepods/pkg/utils"
)

func (d *Dispatcher) toggleLock(ctx context.Context, c *call) error {
	if err := c.reply.deferEphemeral(ctx); err != nil {
		return err
	}
	locked := !c.state.Locked
	if err := d.writer.SetLocked(ctx, c.pod.ChannelID, locked); err != nil {
		return err
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())
	if locked {
		c.reply.say(ctx, "🔒 Room locked. Only whitelisted users can join.")
	} else {
		c.reply.say(ctx, "🔓 Room unlocked.")
	}
	return nil
}

func (d *Dispatcher) openSelector(ctx context.Context, c *call, next Action, placeholder string) error {
	return c.reply.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:      discordgo.MessageFlagsEphemeral,
			Components: UserSelector(next, c.pod.ChannelID, c.panelID(), placeholder),
		},
	})
}

// targets resolves selected users, skipping the owner, bots and anyone who
// cannot be resolved.
func (d *Dispatcher) targets(ctx context.Context, c *call, exclude ...string) []string {
	var out []string
	for _, id := range c.in.Values {
		if id == c.pod.OwnerID || slices.Contains(exclude, id) || slices.Contains(out, id) {
			continue
		}
		u, err := d.users.User(ctx, id)
		if err != nil {
			log.Printf("Skipping unresolvable user %s in pod %s: %v", id, c.pod.ChannelID, err)
			continue
		}
		if u.Bot {
			continue
		}
		out = append(out, id)
	}
	return out
}

// toggleWhitelist adds when any selected user lacks connect, otherwise removes
// the whole selection. Co-owners are never removed through the whitelist.
func (d *Dispatcher) toggleWhitelist(ctx context.Context, c *call) error {
	targets := d.targets(ctx, c)
	if len(targets) == 0 {
		return c.reply.retire(ctx, "Nobody to update.")
	}
	add := slices.ContainsFunc(targets, func(id string) bool { return !c.state.CanConnect(id) })

	if err := c.reply.retire(ctx, "⏳ Updating whitelist…"); err != nil {
		return err
	}
	var changed []string
	for _, id := range targets {
		if add && c.state.CanConnect(id) {
			continue
		}
		if !add && c.state.IsCoOwner(id) {
			continue
		}
		if err := d.writer.SetWhitelisted(ctx, c.pod.ChannelID, id, add); err != nil {
			return err
		}
		changed = append(changed, id)
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())

	if add {
		c.reply.say(ctx, "✅ Whitelisted "+mentions(changed))
	} else {
		c.reply.say(ctx, "➖ Removed from whitelist: "+mentions(changed))
	}
	return nil
}

func (d *Dispatcher) promote(ctx context.Context, c *call) error {
	targets := d.targets(ctx, c)
	if err := c.reply.retire(ctx, "⏳ Promoting…"); err != nil {
		return err
	}
	var changed []string
	for _, id := range targets {
		if c.state.IsCoOwner(id) {
			continue
		}
		if err := d.writer.SetCoOwner(ctx, c.pod.ChannelID, id); err != nil {
			return err
		}
		changed = append(changed, id)
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())
	c.reply.say(ctx, "👑 Co-owners added: "+mentions(changed))
	return nil
}

// kick disconnects the selected users and drops their plain whitelist entry.
// The owner, the actor and co-owners are left alone.
func (d *Dispatcher) kick(ctx context.Context, c *call) error {
	var targets []string
	for _, id := range d.targets(ctx, c, c.in.ActorID) {
		if !c.state.IsCoOwner(id) {
			targets = append(targets, id)
		}
	}
	if err := c.reply.retire(ctx, "⏳ Kicking…"); err != nil {
		return err
	}
	members, err := d.res.VoiceMembers(ctx, c.pod.GuildID, c.pod.ChannelID)
	if err != nil {
		return err
	}
	for _, id := range targets {
		if c.state.IsWhitelisted(id) {
			if err := d.writer.SetWhitelisted(ctx, c.pod.ChannelID, id, false); err != nil {
				return err
			}
		}
		if slices.Contains(members, id) {
			if err := d.res.Disconnect(ctx, c.pod.GuildID, id); err != nil {
				return fmt.Errorf("%w: disconnect %s: %w", pod.ErrExternalWrite, id, err)
			}
		}
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())
	c.reply.say(ctx, "👢 Kicked "+mentions(targets))
	return nil
}

func (d *Dispatcher) rename(ctx context.Context, c *call) error {
	if err := c.reply.deferEphemeral(ctx); err != nil {
		return err
	}
	name := strings.TrimSpace(c.in.Fields[FieldName])
	if err := d.writer.Rename(ctx, c.pod.ChannelID, name); err != nil {
		return err
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())
	c.reply.say(ctx, fmt.Sprintf("✏️ Renamed to **%s**", utils.TruncateString(name, pod.MaxNameLength)))
	return nil
}

func (d *Dispatcher) setLimit(ctx context.Context, c *call) error {
	limit, err := strconv.Atoi(strings.TrimSpace(c.in.Fields[FieldLimit]))
	if err != nil {
		return fmt.Errorf("%w: limit must be a number between 0 and %d", pod.ErrValidation, pod.MaxCapacity)
	}
	if err := c.reply.deferEphemeral(ctx); err != nil {
		return err
	}
	if err := d.writer.SetCapacity(ctx, c.pod.ChannelID, limit); err != nil {
		return err
	}
	d.refresh(ctx, c.pod.ChannelID, c.panelID())
	if limit == 0 {
		c.reply.say(ctx, "👥 Limit removed.")
	} else {
		c.reply.say(ctx, fmt.Sprintf("👥 Limit set to %d.", limit))
	}
	return nil
}

func (d *Dispatcher) requestReclaim(ctx context.Context, c *call) error {
	if err := d.reclaim.Request(ctx, c.pod, c.in.ActorID); err != nil {
		return err
	}
	if err := c.reply.deferEphemeral(ctx); err != nil {
		d.abandon(ctx, c.pod)
		return err
	}
	prompt := ReclaimPrompt(c.pod.ChannelID, c.pod.OwnerID, c.in.ActorID)
	if _, err := d.msgs.SendMessage(ctx, c.pod.ChannelID, prompt); err != nil {
		d.abandon(ctx, c.pod)
		return fmt.Errorf("failed to send reclaim prompt: %w", err)
	}
	c.reply.say(ctx, fmt.Sprintf("📨 Asked %s to hand the pod back.", utils.FormatUserMention(c.pod.OwnerID)))
	return nil
}

func (d *Dispatcher) abandon(ctx context.Context, p *models.Pod) {
	if err := d.reclaim.Abandon(ctx, p); err != nil {
		log.Printf("Error clearing reclaim for %s: %v", p.ChannelID, err)
	}
}

func (d *Dispatcher) acceptReclaim(ctx context.Context, c *call) error {
	requester := c.ctl.Extra
	if err := d.reclaim.CheckDecision(c.pod, c.in.ActorID, requester); err != nil {
		return err
	}
	if err := c.reply.retire(ctx, "⏳ Transferring ownership…"); err != nil {
		return err
	}
	from := c.pod.OwnerID
	t, err := d.reclaim.Accept(ctx, c.pod, c.in.ActorID, requester)
	if err != nil {
		// The prompt is already gone; reopen the pod for a new request.
		d.abandon(ctx, c.pod)
		return err
	}
	d.refresh(ctx, c.pod.ChannelID, "")

	msg := fmt.Sprintf("✅ %s handed the pod back to %s.", utils.FormatUserMention(from), utils.FormatUserMention(t.To))
	if len(t.Warnings) > 0 {
		msg += " Some room settings could not be restored; check the panel."
	}
	c.reply.say(ctx, msg)
	return nil
}

func (d *Dispatcher) denyReclaim(ctx context.Context, c *call) error {
	requester := c.ctl.Extra
	if err := d.reclaim.CheckDecision(c.pod, c.in.ActorID, requester); err != nil {
		return err
	}
	if err := c.reply.retire(ctx, "⏳ Declining…"); err != nil {
		return err
	}
	if err := d.reclaim.Deny(ctx, c.pod, c.in.ActorID, requester); err != nil {
		d.abandon(ctx, c.pod)
		return err
	}
	c.reply.say(ctx, fmt.Sprintf("❌ %s declined %s's reclaim request.",
		utils.FormatUserMention(c.in.ActorID), utils.FormatUserMention(requester)))
	return nil
}

// Refresh re-renders the pod's current panel from a fresh read.
func (d *Dispatcher) Refresh(ctx context.Context, channelID string) {
	d.refresh(ctx, channelID, "")
}

// refresh re-renders the origin panel and the pod's current panel. Failures
// are logged and never reported: the write that preceded it already stands.
func (d *Dispatcher) refresh(ctx context.Context, channelID, origin string) {
	mu := d.refreshLock(channelID)
	mu.Lock()
	defer mu.Unlock()

	p, err := d.pods.PodByChannel(ctx, channelID)
	if err != nil {
		log.Printf("Skipping panel refresh for %s: %v", channelID, err)
		return
	}
	var ids []string
	for _, id := range []string{origin, p.PanelMessageID} {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}

	ch, err := d.res.Channel(ctx, channelID)
	if err != nil {
		log.Printf("Skipping panel refresh for %s: %v", channelID, err)
		return
	}
	st := pod.ReadState(ch)

	for _, id := range ids {
		view := Render(channelID, id, p.OwnerID, st)
		err := d.msgs.EditMessage(ctx, &discordgo.MessageEdit{
			ID:         id,
			Channel:    channelID,
			Embeds:     &[]*discordgo.MessageEmbed{view.Embed},
			Components: &view.Components,
		})
		switch {
		case errors.Is(err, pod.ErrResourceGone):
			log.Printf("Panel %s in %s is gone, not refreshing", id, channelID)
		case err != nil:
			log.Printf("Error refreshing panel %s in %s: %v", id, channelID, err)
		}
	}
}

// OpenPanel sends a fresh panel into the pod's room and records it as the
// current one. The actor must be the owner or a co-owner.
func (d *Dispatcher) OpenPanel(ctx context.Context, channelID, actorID string) (*discordgo.Message, error) {
	p, err := d.pods.PodByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ch, err := d.res.Channel(ctx, channelID)
	if err != nil {
		if errors.Is(err, pod.ErrResourceGone) {
			d.forget(ctx, channelID)
		}
		return nil, err
	}
	st := pod.ReadState(ch)
	if actorID != p.OwnerID && !st.IsCoOwner(actorID) {
		return nil, pod.ErrUnauthorized
	}

	view := Render(channelID, "", p.OwnerID, st)
	msg, err := d.msgs.SendMessage(ctx, channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{view.Embed},
		Components: view.Components,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send panel: %w", err)
	}
	id := msg.ID
	if err := d.pods.UpdatePod(ctx, channelID, models.PodUpdate{PanelMessageID: &id}); err != nil {
		return msg, fmt.Errorf("failed to record panel: %w", err)
	}
	return msg, nil
}

func mentions(ids []string) string {
	if len(ids) == 0 {
		return "nobody"
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = utils.FormatUserMention(id)
	}
	return strings.Join(out, ", ")
}
