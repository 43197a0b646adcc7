package discord

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/database"
	"voicepods/internal/panel"
	"voicepods/internal/pod"
	"voicepods/internal/stats"
)

// interactionTimeout bounds the work done for one interaction. The platform
// keeps the interaction token valid for far longer than this.
const interactionTimeout = 30 * time.Second

// Bot represents the Discord bot
type Bot struct {
	session  *discordgo.Session
	panels   *panel.Dispatcher
	commands *Commands
	tracker  *stats.Tracker
}

// New creates a new Discord bot
func New(token, prefix string, repository *database.Repository) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	platform := NewPlatform(session)
	writer := pod.NewWriter(platform)
	panels := panel.NewDispatcher(repository, platform, platform, platform, writer, pod.NewReclaimer(repository, platform, writer))
	tracker := stats.NewTracker(repository)

	bot := &Bot{
		session: session,
		panels:  panels,
		commands: NewCommands(prefix, panels,
			pod.NewTemplates(repository, repository, platform, writer, platform),
			pod.NewPresets(repository, platform, writer),
			tracker),
		tracker: tracker,
	}

	// Add event handlers
	session.AddHandler(bot.interactionCreate)
	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.voiceStateUpdate)

	return bot, nil
}

// Start starts the bot
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	fmt.Println("✅ Bot is running...")
	return nil
}

// Stop records open voice sessions and closes the connection
func (b *Bot) Stop(ctx context.Context) error {
	b.tracker.Flush(ctx)
	return b.session.Close()
}

// interactionCreate handles panel buttons, user selections and modal submits
func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	in, ok := toInteraction(i.Interaction)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	out := b.panels.Dispatch(ctx, in, &responder{s: s, i: i.Interaction})
	log.Printf("interaction %s by %s in %s: %s", in.CustomID, in.ActorID, in.RoomID, out)
}

// toInteraction extracts what the dispatcher needs from a gateway interaction.
func toInteraction(i *discordgo.Interaction) (panel.Interaction, bool) {
	in := panel.Interaction{
		Type:    i.Type,
		GuildID: i.GuildID,
		RoomID:  i.ChannelID,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		in.ActorID = i.Member.User.ID
	case i.User != nil:
		in.ActorID = i.User.ID
	default:
		return in, false
	}
	if i.Message != nil {
		in.MessageID = i.Message.ID
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		in.CustomID = data.CustomID
		in.Values = data.Values
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		in.CustomID = data.CustomID
		in.Fields = make(map[string]string)
		for _, c := range data.Components {
			row, ok := c.(*discordgo.ActionsRow)
			if !ok {
				continue
			}
			for _, rc := range row.Components {
				if ti, ok := rc.(*discordgo.TextInput); ok {
					in.Fields[ti.CustomID] = ti.Value
				}
			}
		}
	default:
		return in, false
	}
	return in, true
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	reply, ok := b.commands.Handle(ctx, Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
	})
	if !ok || reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		log.Printf("Error sending reply in %s: %v", m.ChannelID, err)
	}
}

// voiceStateUpdate feeds joins, moves and leaves into the voice tracker
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
		return
	}
	b.tracker.Update(context.Background(), vs.GuildID, vs.UserID, vs.ChannelID)
}
