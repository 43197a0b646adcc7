package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/panel"
	"voicepods/internal/pod"
)

// Platform adapts a discordgo session to the pod and panel ports. Channel
// reads go to the REST API, never the gateway cache.
type Platform struct {
	s *discordgo.Session
}

// NewPlatform wraps a session.
func NewPlatform(s *discordgo.Session) *Platform {
	return &Platform{s: s}
}

var (
	_ pod.Resource     = (*Platform)(nil)
	_ pod.UserResolver = (*Platform)(nil)
	_ panel.Messenger  = (*Platform)(nil)
)

func (p *Platform) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ch, err := p.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return ch, nil
}

func (p *Platform) SetOverwrite(ctx context.Context, channelID string, ow discordgo.PermissionOverwrite) error {
	return classify(p.s.ChannelPermissionSet(channelID, ow.ID, ow.Type, ow.Allow, ow.Deny, discordgo.WithContext(ctx)))
}

func (p *Platform) DeleteOverwrite(ctx context.Context, channelID, targetID string) error {
	return classify(p.s.ChannelPermissionDelete(channelID, targetID, discordgo.WithContext(ctx)))
}

// SetUserLimit patches user_limit directly since ChannelEdit drops a zero
// limit.
func (p *Platform) SetUserLimit(ctx context.Context, channelID string, limit int) error {
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := p.s.RequestWithBucketID(http.MethodPatch, endpoint, map[string]int{"user_limit": limit}, endpoint, discordgo.WithContext(ctx))
	return classify(err)
}

func (p *Platform) Rename(ctx context.Context, channelID, name string) error {
	_, err := p.s.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return classify(err)
}

// VoiceMembers lists users connected to the channel according to the
// gateway state.
func (p *Platform) VoiceMembers(_ context.Context, guildID, channelID string) ([]string, error) {
	g, err := p.s.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to read guild state: %w", err)
	}
	p.s.State.RLock()
	defer p.s.State.RUnlock()

	var members []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			members = append(members, vs.UserID)
		}
	}
	return members, nil
}

func (p *Platform) Disconnect(ctx context.Context, guildID, userID string) error {
	return classify(p.s.GuildMemberMove(guildID, userID, nil, discordgo.WithContext(ctx)))
}

func (p *Platform) User(ctx context.Context, userID string) (*discordgo.User, error) {
	u, err := p.s.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	m, err := p.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

func (p *Platform) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	_, err := p.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return classify(err)
}

// classify maps REST failures onto the pod error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return err
	}
	code := 0
	if rerr.Message != nil {
		code = rerr.Message.Code
	}
	switch {
	case rerr.Response.StatusCode == http.StatusNotFound,
		code == discordgo.ErrCodeUnknownChannel,
		code == discordgo.ErrCodeUnknownMessage:
		return fmt.Errorf("%w: %v", pod.ErrResourceGone, err)
	case rerr.Response.StatusCode == http.StatusForbidden,
		code == discordgo.ErrCodeMissingPermissions:
		return fmt.Errorf("%w: %v", pod.ErrForbidden, err)
	}
	return err
}

// responder answers one interaction through the session.
type responder struct {
	s *discordgo.Session
	i *discordgo.Interaction
}

func (r *responder) Respond(ctx context.Context, resp *discordgo.InteractionResponse) error {
	return classify(r.s.InteractionRespond(r.i, resp, discordgo.WithContext(ctx)))
}

func (r *responder) Edit(ctx context.Context, content string) error {
	_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	return classify(err)
}
