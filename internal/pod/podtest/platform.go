// Package podtest provides in-memory fakes of the platform and persistence
// ports for tests.
package podtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/pod"
)

// Operation names passed to Platform.Hook and recorded in Platform.Writes.
const (
	OpSetOverwrite    = "set_overwrite"
	OpDeleteOverwrite = "delete_overwrite"
	OpUserLimit       = "user_limit"
	OpRename          = "rename"
	OpDisconnect      = "disconnect"
	OpSend            = "send"
	OpEdit            = "edit"
)

// Platform is a fake guild: channels with overwrites, users, voice members and
// messages.
type Platform struct {
	mu sync.Mutex

	GuildID  string
	Channels map[string]*discordgo.Channel
	Users    map[string]*discordgo.User
	Voice    map[string][]string
	Messages map[string]*discordgo.Message

	// Writes records every mutating call as "op:channel:target".
	Writes []string
	// Hook, when set, runs with the lock held before each mutating call. A
	// non-nil error fails the call without applying it.
	Hook func(p *Platform, op, channelID, targetID string) error

	nextID int
}

// NewPlatform creates an empty fake guild.
func NewPlatform(guildID string) *Platform {
	return &Platform{
		GuildID:  guildID,
		Channels: make(map[string]*discordgo.Channel),
		Users:    make(map[string]*discordgo.User),
		Voice:    make(map[string][]string),
		Messages: make(map[string]*discordgo.Message),
	}
}

// AddChannel registers a voice channel with the given overwrites.
func (p *Platform) AddChannel(channelID string, limit int, overwrites ...*discordgo.PermissionOverwrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Channels[channelID] = &discordgo.Channel{
		ID:                   channelID,
		GuildID:              p.GuildID,
		Name:                 "pod-" + channelID,
		Type:                 discordgo.ChannelTypeGuildVoice,
		UserLimit:            limit,
		PermissionOverwrites: overwrites,
	}
}

// AddUsers registers resolvable users.
func (p *Platform) AddUsers(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.Users[id] = &discordgo.User{ID: id, Username: "user" + id}
	}
}

// RemoveChannel deletes a channel as if it was removed on the platform.
func (p *Platform) RemoveChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Channels, channelID)
}

// RemoveMessage deletes a message as if it was removed on the platform.
func (p *Platform) RemoveMessage(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Messages, messageID)
}

// WriteCount returns the number of mutating calls made so far.
func (p *Platform) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Writes)
}

// Message returns a copy of a stored message, or nil.
func (p *Platform) Message(messageID string) *discordgo.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.Messages[messageID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Overwrite returns a copy of the overwrite for target, or nil.
func (p *Platform) Overwrite(channelID, targetID string) *discordgo.PermissionOverwrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.Channels[channelID]
	if !ok {
		return nil
	}
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == targetID {
			cp := *ow
			return &cp
		}
	}
	return nil
}

func (p *Platform) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.Channels[channelID]
	if !ok {
		return nil, pod.ErrResourceGone
	}
	cp := *ch
	cp.PermissionOverwrites = make([]*discordgo.PermissionOverwrite, 0, len(ch.PermissionOverwrites))
	for _, ow := range ch.PermissionOverwrites {
		o := *ow
		cp.PermissionOverwrites = append(cp.PermissionOverwrites, &o)
	}
	return &cp, nil
}

func (p *Platform) SetOverwrite(_ context.Context, channelID string, ow discordgo.PermissionOverwrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.begin(OpSetOverwrite, channelID, ow.ID)
	if err != nil {
		return err
	}
	for i, existing := range ch.PermissionOverwrites {
		if existing.ID == ow.ID {
			ch.PermissionOverwrites[i] = &ow
			return nil
		}
	}
	ch.PermissionOverwrites = append(ch.PermissionOverwrites, &ow)
	return nil
}

func (p *Platform) DeleteOverwrite(_ context.Context, channelID, targetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.begin(OpDeleteOverwrite, channelID, targetID)
	if err != nil {
		return err
	}
	ch.PermissionOverwrites = slices.DeleteFunc(ch.PermissionOverwrites, func(ow *discordgo.PermissionOverwrite) bool {
		return ow.ID == targetID
	})
	return nil
}

func (p *Platform) SetUserLimit(_ context.Context, channelID string, limit int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.begin(OpUserLimit, channelID, "")
	if err != nil {
		return err
	}
	ch.UserLimit = limit
	return nil
}

func (p *Platform) Rename(_ context.Context, channelID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.begin(OpRename, channelID, "")
	if err != nil {
		return err
	}
	ch.Name = name
	return nil
}

func (p *Platform) VoiceMembers(_ context.Context, _, channelID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Voice[channelID]), nil
}

func (p *Platform) Disconnect(_ context.Context, _, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Writes = append(p.Writes, fmt.Sprintf("%s::%s", OpDisconnect, userID))
	if p.Hook != nil {
		if err := p.Hook(p, OpDisconnect, "", userID); err != nil {
			return err
		}
	}
	for ch, members := range p.Voice {
		p.Voice[ch] = slices.DeleteFunc(members, func(id string) bool { return id == userID })
	}
	return nil
}

func (p *Platform) User(_ context.Context, userID string) (*discordgo.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.Users[userID]
	if !ok {
		return nil, pod.ErrUnknownUser
	}
	cp := *u
	return &cp, nil
}

func (p *Platform) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.begin(OpSend, channelID, ""); err != nil {
		return nil, err
	}
	p.nextID++
	m := &discordgo.Message{
		ID:         fmt.Sprintf("msg%d", p.nextID),
		ChannelID:  channelID,
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
	}
	p.Messages[m.ID] = m
	cp := *m
	return &cp, nil
}

func (p *Platform) EditMessage(_ context.Context, edit *discordgo.MessageEdit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Writes = append(p.Writes, fmt.Sprintf("%s:%s:%s", OpEdit, edit.Channel, edit.ID))
	if p.Hook != nil {
		if err := p.Hook(p, OpEdit, edit.Channel, edit.ID); err != nil {
			return err
		}
	}
	m, ok := p.Messages[edit.ID]
	if !ok || m.ChannelID != edit.Channel {
		return pod.ErrResourceGone
	}
	if edit.Content != nil {
		m.Content = *edit.Content
	}
	if edit.Embeds != nil {
		m.Embeds = *edit.Embeds
	}
	if edit.Components != nil {
		m.Components = *edit.Components
	}
	return nil
}

// begin records a write and returns the channel it targets. Callers hold the lock.
func (p *Platform) begin(op, channelID, targetID string) (*discordgo.Channel, error) {
	p.Writes = append(p.Writes, fmt.Sprintf("%s:%s:%s", op, channelID, targetID))
	if p.Hook != nil {
		if err := p.Hook(p, op, channelID, targetID); err != nil {
			return nil, err
		}
	}
	ch, ok := p.Channels[channelID]
	if !ok {
		return nil, pod.ErrResourceGone
	}
	return ch, nil
}

// PermissionWrites returns recorded overwrite, limit and rename writes only.
func (p *Platform) PermissionWrites() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, w := range p.Writes {
		for _, op := range []string{OpSetOverwrite, OpDeleteOverwrite, OpUserLimit, OpRename} {
			if len(w) > len(op) && w[:len(op)+1] == op+":" {
				out = append(out, w)
			}
		}
	}
	return out
}

// Member builds a member overwrite with the given allow bits.
func Member(userID string, allow int64) *discordgo.PermissionOverwrite {
	return &discordgo.PermissionOverwrite{ID: userID, Type: discordgo.PermissionOverwriteTypeMember, Allow: allow}
}

// Everyone builds the everyone-role overwrite, locked when deny includes connect.
func Everyone(guildID string, deny int64) *discordgo.PermissionOverwrite {
	return &discordgo.PermissionOverwrite{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: deny}
}

// Owner builds the member overwrite owners and co-owners hold.
func Owner(userID string) *discordgo.PermissionOverwrite {
	return Member(userID, pod.PermManage|pod.PermMove|pod.PermConnect)
}
