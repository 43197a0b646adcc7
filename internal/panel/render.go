package panel

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/pod"
	"voicepods/pkg/utils"
)

const (
	colorUnlocked = 0x57F287
	colorLocked   = 0xED4245

	// maxListed bounds the mentions shown per embed field.
	maxListed = 20
	// maxSelect is the largest user selection a menu allows.
	maxSelect = 25
)

// View is a rendered panel.
type View struct {
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// Render builds the panel for a pod from its live state. The owner is implicit
// and never listed.
func Render(roomID, panelID, ownerID string, st pod.State) View {
	st = st.Without(ownerID)

	status := "🔓 Unlocked"
	color := colorUnlocked
	if st.Locked {
		status = "🔒 Locked"
		color = colorLocked
	}
	limit := "Unlimited"
	if st.Limit > 0 {
		limit = fmt.Sprintf("%d", st.Limit)
	}

	embed := &discordgo.MessageEmbed{
		Title: "🎛️ Pod Controls",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Owner", Value: utils.FormatUserMention(ownerID), Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Limit", Value: limit, Inline: true},
			{Name: fmt.Sprintf("Whitelist (%d)", len(st.Whitelist)), Value: mentionList(st.Whitelist)},
			{Name: fmt.Sprintf("Co-owners (%d)", len(st.CoOwners)), Value: mentionList(st.CoOwners)},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Room " + roomID},
	}

	id := func(a Action) string {
		return ControlID{Action: a, RoomID: roomID, PanelID: panelID}.String()
	}
	lockLabel := "🔒 Lock"
	if st.Locked {
		lockLabel = "🔓 Unlock"
	}

	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: lockLabel, Style: discordgo.PrimaryButton, CustomID: id(ActionLock)},
			discordgo.Button{Label: "✅ Whitelist", Style: discordgo.SecondaryButton, CustomID: id(ActionWhitelist)},
			discordgo.Button{Label: "👑 Co-owner", Style: discordgo.SecondaryButton, CustomID: id(ActionCoOwner)},
			discordgo.Button{Label: "👢 Kick", Style: discordgo.DangerButton, CustomID: id(ActionKick)},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "✏️ Rename", Style: discordgo.SecondaryButton, CustomID: id(ActionRename)},
			discordgo.Button{Label: "👥 Limit", Style: discordgo.SecondaryButton, CustomID: id(ActionLimit)},
			discordgo.Button{Label: "↩️ Reclaim", Style: discordgo.SecondaryButton, CustomID: id(ActionReclaim)},
		}},
	}

	return View{Embed: embed, Components: components}
}

func mentionList(ids []string) string {
	if len(ids) == 0 {
		return "None"
	}
	var b strings.Builder
	for i, id := range ids {
		if i == maxListed {
			fmt.Fprintf(&b, "… and %d more", len(ids)-maxListed)
			break
		}
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(utils.FormatUserMention(id))
	}
	return b.String()
}

// UserSelector builds the single-use user menu for a follow-up selection.
func UserSelector(a Action, roomID, panelID, placeholder string) []discordgo.MessageComponent {
	minValues := 1
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.UserSelectMenu,
				CustomID:    ControlID{Action: a, RoomID: roomID, PanelID: panelID}.String(),
				Placeholder: placeholder,
				MinValues:   &minValues,
				MaxValues:   maxSelect,
			},
		}},
	}
}

// Modal field ids.
const (
	FieldName  = "name"
	FieldLimit = "limit"
)

// TextModal builds a single-field modal.
func TextModal(a Action, roomID, panelID, title, field, label, placeholder string, maxLength int) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: ControlID{Action: a, RoomID: roomID, PanelID: panelID}.String(),
		Title:    title,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    field,
					Label:       label,
					Style:       discordgo.TextInputShort,
					Placeholder: placeholder,
					Required:    true,
					MinLength:   1,
					MaxLength:   maxLength,
				},
			}},
		},
	}
}

// ReclaimPrompt builds the decision message addressed to the current owner.
func ReclaimPrompt(roomID, ownerID, requesterID string) *discordgo.MessageSend {
	id := func(a Action) string {
		return ControlID{Action: a, RoomID: roomID, Extra: requesterID}.String()
	}
	return &discordgo.MessageSend{
		Content: fmt.Sprintf("%s, %s created this pod and is asking for it back.",
			utils.FormatUserMention(ownerID), utils.FormatUserMention(requesterID)),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Accept", Style: discordgo.SuccessButton, CustomID: id(ActionReclaimAccept)},
				discordgo.Button{Label: "Deny", Style: discordgo.DangerButton, CustomID: id(ActionReclaimDeny)},
			}},
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{ownerID}},
	}
}
