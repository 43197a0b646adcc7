package panel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"voicepods/internal/metrics"
	"voicepods/internal/models"
	"voicepods/internal/pod"
)

// Messenger sends and edits channel messages. EditMessage returns
// pod.ErrResourceGone when the message or channel is gone.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error
}

// Responder answers a single interaction. Respond is the initial response;
// Edit replaces the content of that response once it has been sent.
type Responder interface {
	Respond(ctx context.Context, resp *discordgo.InteractionResponse) error
	Edit(ctx context.Context, content string) error
}

// Interaction is a user-triggered component click, menu selection or modal
// submission.
type Interaction struct {
	Type      discordgo.InteractionType
	ActorID   string
	GuildID   string
	RoomID    string
	MessageID string
	CustomID  string
	Values    []string
	Fields    map[string]string
}

// Status is the terminal state of a dispatch.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// Rejection reasons.
const (
	ReasonUnrecognized = "unrecognized"
	ReasonNotAPod      = "not_a_pod"
	ReasonUnauthorized = "unauthorized"
	ReasonStale        = "stale"
	ReasonGone         = "resource_gone"
	ReasonValidation   = "validation"
	ReasonConflict     = "conflict"
)

// Outcome is what Dispatch returns.
type Outcome struct {
	Status  Status
	Reason  string
	ErrorID string
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusRejected:
		return "rejected:" + o.Reason
	case StatusError:
		return "error:" + o.ErrorID
	}
	return string(o.Status)
}

func applied() Outcome { return Outcome{Status: StatusApplied} }
func rejected(reason string) Outcome { return Outcome{Status: StatusRejected, Reason: reason} }

// Dispatcher validates panel interactions, applies them through the writer
// and refreshes the affected panels.
type Dispatcher struct {
	pods    pod.Store
	res     pod.Resource
	users   pod.UserResolver
	msgs    Messenger
	writer  *pod.Writer
	reclaim *pod.Reclaimer

	// refreshing holds a *sync.Mutex per pod channel.
	refreshing sync.Map
}

// NewDispatcher creates a dispatcher
func NewDispatcher(pods pod.Store, res pod.Resource, users pod.UserResolver, msgs Messenger, writer *pod.Writer, reclaim *pod.Reclaimer) *Dispatcher {
	return &Dispatcher{pods: pods, res: res, users: users, msgs: msgs, writer: writer, reclaim: reclaim}
}

// reply tracks which response channel is still open for an interaction.
type reply struct {
	r         Responder
	responded bool
}

func (rp *reply) respond(ctx context.Context, resp *discordgo.InteractionResponse) error {
	if err := rp.r.Respond(ctx, resp); err != nil {
		return err
	}
	rp.responded = true
	return nil
}

// deferEphemeral acknowledges the interaction with a private "thinking" state.
func (rp *reply) deferEphemeral(ctx context.Context) error {
	return rp.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

// retire replaces the message the component sits on, dropping its controls.
func (rp *reply) retire(ctx context.Context, content string) error {
	return rp.respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Content: content, Components: []discordgo.MessageComponent{}},
	})
}

// say delivers content on whichever channel is still available.
func (rp *reply) say(ctx context.Context, content string) {
	var err error
	if rp.responded {
		err = rp.r.Edit(ctx, content)
	} else {
		err = rp.respond(ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
		})
	}
	if err != nil {
		log.Printf("Error replying to interaction: %v", err)
	}
}

// call carries the per-dispatch context handed to action handlers.
type call struct {
	in    Interaction
	ctl   ControlID
	pod   *models.Pod
	state pod.State
	reply *reply
}

// panelID returns the panel the interaction originated from.
func (c *call) panelID() string {
	if c.ctl.PanelID != "" {
		return c.ctl.PanelID
	}
	if c.ctl.OnPanel() {
		return c.in.MessageID
	}
	return ""
}

// Dispatch handles one interaction end to end. It never panics and always
// makes one attempt to tell the actor what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, in Interaction, r Responder) (out Outcome) {
	rp := &reply{r: r}
	action := "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			out = d.fail(ctx, rp, in, fmt.Errorf("panic: %v", rec))
		}
		metrics.Interactions.WithLabelValues(action, string(out.Status)).Inc()
	}()

	ctl, err := ParseControlID(in.CustomID)
	if err != nil {
		log.Printf("Ignoring interaction with unknown id %q", in.CustomID)
		return rejected(ReasonUnrecognized)
	}
	action = string(ctl.Action)

	p, err := d.pods.PodByChannel(ctx, in.RoomID)
	if err != nil {
		if errors.Is(err, pod.ErrNotAPod) {
			rp.say(ctx, "❌ This channel is not a pod.")
			return rejected(ReasonNotAPod)
		}
		return d.fail(ctx, rp, in, err)
	}
	if ctl.RoomID != p.ChannelID {
		log.Printf("Stale control for %s used in %s", ctl.RoomID, p.ChannelID)
		rp.say(ctx, "⌛ These controls belong to another room.")
		return rejected(ReasonStale)
	}

	ch, err := d.res.Channel(ctx, p.ChannelID)
	if err != nil {
		if errors.Is(err, pod.ErrResourceGone) {
			d.forget(ctx, p.ChannelID)
			rp.say(ctx, "❌ This room no longer exists.")
			return rejected(ReasonGone)
		}
		return d.fail(ctx, rp, in, err)
	}

	c := &call{in: in, ctl: ctl, pod: p, state: pod.ReadState(ch), reply: rp}

	if ctl.OnPanel() && p.PanelMessageID != "" && c.panelID() != p.PanelMessageID {
		log.Printf("Stale panel %s for pod %s (current %s)", c.panelID(), p.ChannelID, p.PanelMessageID)
		rp.say(ctx, "⌛ This panel is out of date. Use the latest one.")
		return rejected(ReasonStale)
	}

	if err := d.authorize(c); err != nil {
		rp.say(ctx, "⛔ You don't have permission to do that.")
		return rejected(ReasonUnauthorized)
	}

	if err := d.handle(ctx, c); err != nil {
		return d.fail(ctx, rp, in, err)
	}
	return applied()
}

// authorize applies the panel rule: owner or co-owner, with co-owner
// management reserved to the owner. Reclaim actions are checked by the
// reclaimer.
func (d *Dispatcher) authorize(c *call) error {
	actor := c.in.ActorID
	switch c.ctl.Action {
	case ActionReclaim, ActionReclaimAccept, ActionReclaimDeny:
		return nil
	case ActionCoOwner, ActionCoOwnerSelect:
		if actor != c.pod.OwnerID {
			return pod.ErrUnauthorized
		}
		return nil
	}
	if actor != c.pod.OwnerID && !c.state.IsCoOwner(actor) {
		return pod.ErrUnauthorized
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, c *call) error {
	switch c.ctl.Action {
	case ActionLock:
		return d.toggleLock(ctx, c)
	case ActionWhitelist:
		return d.openSelector(ctx, c, ActionWhitelistSelect, "Select users to add or remove")
	case ActionCoOwner:
		return d.openSelector(ctx, c, ActionCoOwnerSelect, "Select users to promote")
	case ActionKick:
		return d.openSelector(ctx, c, ActionKickSelect, "Select users to kick")
	case ActionRename:
		return c.reply.respond(ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: TextModal(ActionRenameSubmit, c.pod.ChannelID, c.panelID(), "Rename pod", FieldName, "New name", "My room", pod.MaxNameLength),
		})
	case ActionLimit:
		return c.reply.respond(ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: TextModal(ActionLimitSubmit, c.pod.ChannelID, c.panelID(), "User limit", FieldLimit, "Limit (0 = unlimited)", "0-99", 2),
		})
	case ActionWhitelistSelect:
		return d.toggleWhitelist(ctx, c)
	case ActionCoOwnerSelect:
		return d.promote(ctx, c)
	case ActionKickSelect:
		return d.kick(ctx, c)
	case ActionRenameSubmit:
		return d.rename(ctx, c)
	case ActionLimitSubmit:
		return d.setLimit(ctx, c)
	case ActionReclaim:
		return d.requestReclaim(ctx, c)
	case ActionReclaimAccept:
		return d.acceptReclaim(ctx, c)
	case ActionReclaimDeny:
		return d.denyReclaim(ctx, c)
	}
	return ErrUnrecognized
}

// fail turns an error into an outcome and tells the actor about it.
func (d *Dispatcher) fail(ctx context.Context, rp *reply, in Interaction, err error) Outcome {
	switch {
	case errors.Is(err, pod.ErrValidation):
		rp.say(ctx, "⚠️ "+userMessage(err))
		return rejected(ReasonValidation)
	case errors.Is(err, pod.ErrUnauthorized):
		rp.say(ctx, "⛔ You don't have permission to do that.")
		return rejected(ReasonUnauthorized)
	case errors.Is(err, pod.ErrAlreadyOwner):
		rp.say(ctx, "ℹ️ You already own this pod.")
		return rejected(ReasonConflict)
	case errors.Is(err, pod.ErrReclaimPending):
		rp.say(ctx, "⏳ A reclaim request is already waiting for an answer.")
		return rejected(ReasonConflict)
	case errors.Is(err, pod.ErrNoReclaimPending):
		rp.say(ctx, "⌛ This request is no longer open.")
		return rejected(ReasonStale)
	case errors.Is(err, pod.ErrResourceGone):
		log.Printf("Pod %s vanished mid-operation: %v", in.RoomID, err)
		rp.say(ctx, "❌ This room no longer exists.")
		return rejected(ReasonGone)
	}

	id := uuid.NewString()
	log.Printf("❌ Interaction %s failed (actor=%s room=%s id=%q): %v", id, in.ActorID, in.RoomID, in.CustomID, err)
	if errors.Is(err, pod.ErrExternalWrite) {
		rp.say(ctx, fmt.Sprintf("❌ Discord rejected the change. Check my permissions and try again. (ref `%s`)", id))
	} else {
		rp.say(ctx, fmt.Sprintf("❌ Something went wrong. Please try again. (ref `%s`)", id))
	}
	return Outcome{Status: StatusError, ErrorID: id}
}

// userMessage strips the sentinel prefix from a validation error.
func userMessage(err error) string {
	msg := err.Error()
	prefix := pod.ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// refreshLock serializes panel refreshes of one pod so that the last refresh
// always renders a read taken after every preceding write.
func (d *Dispatcher) refreshLock(channelID string) *sync.Mutex {
	mu, _ := d.refreshing.LoadOrStore(channelID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// forget drops the pod row of a room that no longer exists.
func (d *Dispatcher) forget(ctx context.Context, channelID string) {
	d.refreshing.Delete(channelID)
	if err := d.pods.DeletePod(ctx, channelID); err != nil {
		log.Printf("Error deleting vanished pod %s: %v", channelID, err)
		return
	}
	log.Printf("🗑️ Pod %s removed, channel is gone", channelID)
}
