package panel_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepods/internal/models"
	"voicepods/internal/panel"
	"voicepods/internal/pod"
	"voicepods/internal/pod/podtest"
)

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func (f *fakeResponder) Respond(_ context.Context, r *discordgo.InteractionResponse) error {
	f.responses = append(f.responses, r)
	return nil
}

func (f *fakeResponder) Edit(_ context.Context, content string) error {
	f.edits = append(f.edits, content)
	return nil
}

// said returns the last text shown to the actor.
func (f *fakeResponder) said() string {
	if len(f.edits) > 0 {
		return f.edits[len(f.edits)-1]
	}
	if len(f.responses) > 0 && f.responses[len(f.responses)-1].Data != nil {
		return f.responses[len(f.responses)-1].Data.Content
	}
	return ""
}

type fixture struct {
	t          *testing.T
	platform   *podtest.Platform
	store      *podtest.Store
	dispatcher *panel.Dispatcher
	panelID    string
}

func newFixture(t *testing.T, overwrites ...*discordgo.PermissionOverwrite) *fixture {
	t.Helper()
	return newPodFixture(t, "O", overwrites...)
}

// newPodFixture builds an opened pod owned by O that was created by
// originalOwnerID.
func newPodFixture(t *testing.T, originalOwnerID string, overwrites ...*discordgo.PermissionOverwrite) *fixture {
	t.Helper()
	p := podtest.NewPlatform("guild")
	p.AddChannel("room", 0, append([]*discordgo.PermissionOverwrite{podtest.Owner("O")}, overwrites...)...)
	p.AddUsers("O", "A", "B", "C", "R", "Z", "X")
	s := podtest.NewStore(models.Pod{ChannelID: "room", GuildID: "guild", OwnerID: "O", OriginalOwnerID: originalOwnerID})
	w := pod.NewWriter(p)
	d := panel.NewDispatcher(s, p, p, p, w, pod.NewReclaimer(s, p, w))

	msg, err := d.OpenPanel(context.Background(), "room", "O")
	require.NoError(t, err)
	return &fixture{t: t, platform: p, store: s, dispatcher: d, panelID: msg.ID}
}

func (f *fixture) state() pod.State {
	f.t.Helper()
	ch, err := f.platform.Channel(context.Background(), "room")
	require.NoError(f.t, err)
	return pod.ReadState(ch)
}

// click builds an interaction for a control the way the platform would
// deliver it: panel buttons come from the panel message, follow-ups carry
// the panel id in their custom id.
func (f *fixture) click(a panel.Action, actor string, values ...string) panel.Interaction {
	ctl := panel.ControlID{Action: a, RoomID: "room"}
	in := panel.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		ActorID: actor,
		GuildID: "guild",
		RoomID:  "room",
		Values:  values,
	}
	if ctl.OnPanel() {
		in.MessageID = f.panelID
	} else {
		ctl.PanelID = f.panelID
		in.MessageID = "ephemeral"
	}
	in.CustomID = ctl.String()
	return in
}

func (f *fixture) submit(a panel.Action, actor, field, value string) panel.Interaction {
	in := f.click(a, actor)
	in.Type = discordgo.InteractionModalSubmit
	in.Fields = map[string]string{field: value}
	return in
}

func (f *fixture) dispatch(in panel.Interaction) (panel.Outcome, *fakeResponder) {
	r := &fakeResponder{}
	return f.dispatcher.Dispatch(context.Background(), in, r), r
}

func TestWhitelistBatchWithOneNewUserAddsAll(t *testing.T) {
	f := newFixture(t, podtest.Member("A", pod.PermConnect), podtest.Member("B", pod.PermConnect))

	out, r := f.dispatch(f.click(panel.ActionWhitelistSelect, "O", "A", "B", "C"))

	assert.Equal(t, "applied", out.String())
	assert.Equal(t, []string{"A", "B", "C"}, f.state().Whitelist)
	assert.Equal(t, []string{"set_overwrite:room:C"}, f.platform.PermissionWrites())
	assert.Contains(t, r.said(), "Whitelisted")
}

func TestWhitelistBatchAllPresentRemovesAll(t *testing.T) {
	f := newFixture(t,
		podtest.Member("A", pod.PermConnect),
		podtest.Member("B", pod.PermConnect),
		podtest.Member("C", pod.PermConnect),
	)

	out, r := f.dispatch(f.click(panel.ActionWhitelistSelect, "O", "A", "B"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.Equal(t, []string{"C"}, f.state().Whitelist)
	assert.Contains(t, r.said(), "Removed")
}

func TestWhitelistRemoveSkipsCoOwners(t *testing.T) {
	f := newFixture(t, podtest.Member("A", pod.PermConnect), podtest.Owner("Z"))

	out, _ := f.dispatch(f.click(panel.ActionWhitelistSelect, "O", "A", "Z"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	st := f.state()
	assert.Empty(t, st.Whitelist)
	assert.True(t, st.IsCoOwner("Z"))
}

func TestWhitelistSelectorIsSingleUse(t *testing.T) {
	f := newFixture(t)

	_, r := f.dispatch(f.click(panel.ActionWhitelistSelect, "O", "A"))

	require.NotEmpty(t, r.responses)
	first := r.responses[0]
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, first.Type)
	assert.Empty(t, first.Data.Components, "selector must be removed on use")
}

func TestUnauthorizedCoOwnerPromotion(t *testing.T) {
	f := newFixture(t, podtest.Member("A", pod.PermConnect), podtest.Owner("Z"))

	for _, actor := range []string{"X", "A", "Z"} {
		out, r := f.dispatch(f.click(panel.ActionCoOwnerSelect, actor, "X"))
		assert.Equal(t, "rejected:unauthorized", out.String(), actor)
		assert.Contains(t, r.said(), "permission")
	}
	assert.Empty(t, f.platform.PermissionWrites())
	assert.False(t, f.state().IsCoOwner("X"))
}

func TestOwnerPromotesCoOwner(t *testing.T) {
	f := newFixture(t)

	out, _ := f.dispatch(f.click(panel.ActionCoOwnerSelect, "O", "A", "O"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.Equal(t, []string{"A", "O"}, f.state().CoOwners)
}

func TestCoOwnerCanLock(t *testing.T) {
	f := newFixture(t, podtest.Owner("Z"))

	out, r := f.dispatch(f.click(panel.ActionLock, "Z"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.True(t, f.state().Locked)
	require.NotEmpty(t, r.responses)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, r.responses[0].Type)
	assert.Contains(t, r.said(), "locked")
}

func TestStrangerCannotLock(t *testing.T) {
	f := newFixture(t)

	out, _ := f.dispatch(f.click(panel.ActionLock, "X"))

	assert.Equal(t, "rejected:unauthorized", out.String())
	assert.False(t, f.state().Locked)
}

func TestLockRefreshesPanel(t *testing.T) {
	f := newFixture(t)

	_, _ = f.dispatch(f.click(panel.ActionLock, "O"))

	msg := f.platform.Message(f.panelID)
	require.NotNil(t, msg)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "🔒 Locked", msg.Embeds[0].Fields[1].Value)
}

func TestRefreshOfDeletedPanelIsTolerated(t *testing.T) {
	f := newFixture(t)
	f.platform.RemoveMessage(f.panelID)
	before := *f.store.Pod("room")
	updates := len(f.store.Updates)

	out, r := f.dispatch(f.click(panel.ActionLock, "O"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.True(t, f.state().Locked)
	assert.Contains(t, r.said(), "locked")
	assert.Equal(t, before, *f.store.Pod("room"))
	assert.Len(t, f.store.Updates, updates)
}

func TestStalePanelIsRejected(t *testing.T) {
	f := newFixture(t)
	old := f.panelID
	_, err := f.dispatcher.OpenPanel(context.Background(), "room", "O")
	require.NoError(t, err)

	in := f.click(panel.ActionLock, "O")
	in.MessageID = old
	out, r := f.dispatch(in)

	assert.Equal(t, "rejected:stale", out.String())
	assert.Contains(t, r.said(), "out of date")
	assert.False(t, f.state().Locked)
}

func TestSelectionFromSupersededPanelStillApplies(t *testing.T) {
	f := newFixture(t)
	in := f.click(panel.ActionWhitelistSelect, "O", "A")
	newer, err := f.dispatcher.OpenPanel(context.Background(), "room", "O")
	require.NoError(t, err)

	out, _ := f.dispatch(in)

	assert.Equal(t, panel.StatusApplied, out.Status)
	for _, id := range []string{f.panelID, newer.ID} {
		msg := f.platform.Message(id)
		require.NotNil(t, msg)
		assert.Equal(t, "<@A>", msg.Embeds[0].Fields[3].Value, id)
	}
}

func TestNotAPod(t *testing.T) {
	f := newFixture(t)
	in := f.click(panel.ActionLock, "O")
	in.RoomID = "elsewhere"

	out, r := f.dispatch(in)

	assert.Equal(t, "rejected:not_a_pod", out.String())
	assert.Contains(t, r.said(), "not a pod")
}

func TestUnrecognizedControl(t *testing.T) {
	f := newFixture(t)
	in := f.click(panel.ActionLock, "O")
	in.CustomID = "music:skip"

	out, r := f.dispatch(in)

	assert.Equal(t, "rejected:unrecognized", out.String())
	assert.Empty(t, r.responses)
}

func TestVanishedRoomDropsPod(t *testing.T) {
	f := newFixture(t)
	f.platform.RemoveChannel("room")

	out, _ := f.dispatch(f.click(panel.ActionLock, "O"))

	assert.Equal(t, "rejected:resource_gone", out.String())
	assert.Nil(t, f.store.Pod("room"))
}

func TestLimitValidation(t *testing.T) {
	f := newFixture(t)

	for _, v := range []string{"abc", "100", "-1"} {
		out, r := f.dispatch(f.submit(panel.ActionLimitSubmit, "O", panel.FieldLimit, v))
		assert.Equal(t, "rejected:validation", out.String(), v)
		assert.NotEmpty(t, r.said())
	}
	assert.Empty(t, f.platform.PermissionWrites())

	out, _ := f.dispatch(f.submit(panel.ActionLimitSubmit, "O", panel.FieldLimit, " 7 "))
	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.Equal(t, 7, f.state().Limit)
}

func TestRenameSubmit(t *testing.T) {
	f := newFixture(t)

	out, r := f.dispatch(f.submit(panel.ActionRenameSubmit, "O", panel.FieldName, "Study Hall"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.Contains(t, r.said(), "Study Hall")
	ch, err := f.platform.Channel(context.Background(), "room")
	require.NoError(t, err)
	assert.Equal(t, "Study Hall", ch.Name)
}

func TestOpenModalAndSelector(t *testing.T) {
	f := newFixture(t)

	_, r := f.dispatch(f.click(panel.ActionRename, "O"))
	require.Len(t, r.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseModal, r.responses[0].Type)
	ctl, err := panel.ParseControlID(r.responses[0].Data.CustomID)
	require.NoError(t, err)
	assert.Equal(t, panel.ActionRenameSubmit, ctl.Action)
	assert.Equal(t, f.panelID, ctl.PanelID)

	_, r = f.dispatch(f.click(panel.ActionKick, "O"))
	require.Len(t, r.responses, 1)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, r.responses[0].Data.Flags)
	menu := r.responses[0].Data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	assert.Equal(t, discordgo.UserSelectMenu, menu.MenuType)
	ctl, err = panel.ParseControlID(menu.CustomID)
	require.NoError(t, err)
	assert.Equal(t, panel.ActionKickSelect, ctl.Action)
	assert.Equal(t, f.panelID, ctl.PanelID)
}

func TestKick(t *testing.T) {
	f := newFixture(t, podtest.Member("A", pod.PermConnect), podtest.Owner("Z"))
	f.platform.Voice["room"] = []string{"O", "A", "B", "Z"}

	out, _ := f.dispatch(f.click(panel.ActionKickSelect, "O", "A", "B", "Z", "O"))

	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.ElementsMatch(t, []string{"O", "Z"}, f.platform.Voice["room"])
	assert.Empty(t, f.state().Whitelist)
	assert.True(t, f.state().IsCoOwner("Z"))
}

func TestExternalFailureIsReportedWithID(t *testing.T) {
	f := newFixture(t)
	f.platform.Hook = func(_ *podtest.Platform, op, _, _ string) error {
		if op == podtest.OpSetOverwrite {
			return pod.ErrForbidden
		}
		return nil
	}

	out, r := f.dispatch(f.click(panel.ActionLock, "O"))

	assert.Equal(t, panel.StatusError, out.Status)
	assert.NotEmpty(t, out.ErrorID)
	require.Len(t, r.responses, 1, "failure goes to the edited acknowledgment")
	assert.Contains(t, r.said(), out.ErrorID)
}

func TestPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.platform.Hook = func(_ *podtest.Platform, op, _, _ string) error {
		if op == podtest.OpSetOverwrite {
			panic("platform exploded")
		}
		return nil
	}

	var out panel.Outcome
	r := &fakeResponder{}
	require.NotPanics(t, func() {
		out = f.dispatcher.Dispatch(context.Background(), f.click(panel.ActionLock, "O"), r)
	})
	assert.Equal(t, panel.StatusError, out.Status)
	assert.Contains(t, r.said(), out.ErrorID)
}

func TestReclaimHandshake(t *testing.T) {
	f := newPodFixture(t, "R",
		podtest.Everyone("guild", pod.PermConnect),
		podtest.Member("X", pod.PermConnect),
		podtest.Member("Y", pod.PermConnect),
		podtest.Owner("Z"),
	)
	require.NoError(t, f.platform.SetUserLimit(context.Background(), "room", 5))

	out, _ := f.dispatch(f.click(panel.ActionReclaim, "X"))
	assert.Equal(t, "rejected:unauthorized", out.String())

	out, r := f.dispatch(f.click(panel.ActionReclaim, "R"))
	require.Equal(t, panel.StatusApplied, out.Status)
	assert.Contains(t, r.said(), "<@O>")
	prompts := sentPrompts(f)
	require.Len(t, prompts, 1)

	out, _ = f.dispatch(f.click(panel.ActionReclaim, "R"))
	assert.Equal(t, "rejected:conflict", out.String())
	assert.Len(t, sentPrompts(f), 1, "second request must not spawn another prompt")

	decision := func(a panel.Action, actor string) panel.Interaction {
		return panel.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			ActorID:   actor,
			GuildID:   "guild",
			RoomID:    "room",
			MessageID: prompts[0].ID,
			CustomID:  panel.ControlID{Action: a, RoomID: "room", Extra: "R"}.String(),
		}
	}

	out, _ = f.dispatch(decision(panel.ActionReclaimAccept, "Z"))
	assert.Equal(t, "rejected:unauthorized", out.String())

	out, r = f.dispatch(decision(panel.ActionReclaimAccept, "O"))
	require.Equal(t, panel.StatusApplied, out.Status)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, r.responses[0].Type)
	assert.Empty(t, r.responses[0].Data.Components, "prompt is retired on use")
	assert.Contains(t, r.said(), "<@R>")
	assert.Contains(t, r.said(), "<@O>")

	st := f.state()
	assert.Equal(t, pod.State{Locked: true, Limit: 5, Whitelist: []string{"X", "Y"}, CoOwners: []string{"Z"}}, st.Without("O", "R"))
	assert.True(t, st.CanConnect("O"))
	p := f.store.Pod("room")
	assert.Equal(t, "R", p.OwnerID)
	assert.False(t, p.ReclaimPending)

	msg := f.platform.Message(f.panelID)
	require.NotNil(t, msg)
	assert.Equal(t, "<@R>", msg.Embeds[0].Fields[0].Value, "panel shows the new owner")

	out, _ = f.dispatch(decision(panel.ActionReclaimAccept, "O"))
	assert.Equal(t, "rejected:unauthorized", out.String(), "old prompt is dead")
}

func TestReclaimDenied(t *testing.T) {
	f := newPodFixture(t, "R")

	out, _ := f.dispatch(f.click(panel.ActionReclaim, "R"))
	require.Equal(t, panel.StatusApplied, out.Status)
	writes := f.platform.PermissionWrites()

	in := panel.Interaction{
		ActorID:  "O",
		GuildID:  "guild",
		RoomID:   "room",
		CustomID: panel.ControlID{Action: panel.ActionReclaimDeny, RoomID: "room", Extra: "R"}.String(),
	}
	out, r := f.dispatch(in)

	require.Equal(t, panel.StatusApplied, out.Status)
	assert.Contains(t, r.said(), "declined")
	assert.Equal(t, writes, f.platform.PermissionWrites())
	p := f.store.Pod("room")
	assert.Equal(t, "O", p.OwnerID)
	assert.False(t, p.ReclaimPending)

	out, _ = f.dispatch(in)
	assert.Equal(t, "rejected:stale", out.String())
}

func TestReclaimPromptFailureClearsRequest(t *testing.T) {
	f := newPodFixture(t, "R")
	f.platform.Hook = func(_ *podtest.Platform, op, _, _ string) error {
		if op == podtest.OpSend {
			return errors.New("send failed")
		}
		return nil
	}

	out, _ := f.dispatch(f.click(panel.ActionReclaim, "R"))

	assert.Equal(t, panel.StatusError, out.Status)
	assert.False(t, f.store.Pod("room").ReclaimPending)
}

func TestFailedAcceptReopensReclaim(t *testing.T) {
	f := newPodFixture(t, "R")
	out, _ := f.dispatch(f.click(panel.ActionReclaim, "R"))
	require.Equal(t, panel.StatusApplied, out.Status)

	f.platform.Hook = func(_ *podtest.Platform, op, _, target string) error {
		if op == podtest.OpSetOverwrite && target == "R" {
			return pod.ErrForbidden
		}
		return nil
	}
	out, r := f.dispatch(f.decide(panel.ActionReclaimAccept, "O", "R"))

	assert.Equal(t, panel.StatusError, out.Status)
	assert.Contains(t, r.said(), out.ErrorID)
	p := f.store.Pod("room")
	assert.Equal(t, "O", p.OwnerID)
	assert.False(t, p.ReclaimPending)

	f.platform.Hook = nil
	out, _ = f.dispatch(f.click(panel.ActionReclaim, "R"))
	assert.Equal(t, panel.StatusApplied, out.Status)
	assert.Len(t, sentPrompts(f), 2)
}

func TestSelectionRevalidatesOwnership(t *testing.T) {
	f := newFixture(t)

	_, r := f.dispatch(f.click(panel.ActionCoOwner, "O"))
	menuID := selectorID(t, r)

	newOwner := "A"
	require.NoError(t, f.store.UpdatePod(context.Background(), "room", models.PodUpdate{OwnerID: &newOwner}))

	out, _ := f.dispatch(f.selection(menuID, "O", "B"))
	assert.Equal(t, "rejected:unauthorized", out.String())
	assert.Empty(t, f.platform.PermissionWrites())
	assert.False(t, f.state().IsCoOwner("B"))
}

func TestSelectionRevalidatesCoOwner(t *testing.T) {
	f := newFixture(t, podtest.Owner("Z"))

	_, r := f.dispatch(f.click(panel.ActionWhitelist, "Z"))
	menuID := selectorID(t, r)

	require.NoError(t, f.platform.DeleteOverwrite(context.Background(), "room", "Z"))
	writes := f.platform.PermissionWrites()

	out, _ := f.dispatch(f.selection(menuID, "Z", "B"))
	assert.Equal(t, "rejected:unauthorized", out.String())
	assert.Equal(t, writes, f.platform.PermissionWrites())
	assert.False(t, f.state().CanConnect("B"))
}

func TestCoOwnerButtonIsOwnerOnly(t *testing.T) {
	f := newFixture(t, podtest.Owner("Z"))

	out, r := f.dispatch(f.click(panel.ActionCoOwner, "Z"))

	assert.Equal(t, "rejected:unauthorized", out.String())
	require.Len(t, r.responses, 1)
	assert.Empty(t, r.responses[0].Data.Components, "no selector is opened")

	msg := f.platform.Message(f.panelID)
	require.NotNil(t, msg)
	assert.Equal(t, "<@Z>", msg.Embeds[0].Fields[4].Value, "shared panel lists co-owners and omits only the owner")
}

func TestConcurrentLocksLeaveConsistentPanel(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, podtest.Owner("Y"), podtest.Owner("Z"))

		var wg sync.WaitGroup
		outs := make([]panel.Outcome, 2)
		for i, actor := range []string{"Y", "Z"} {
			i, actor := i, actor
			wg.Add(1)
			go func() {
				defer wg.Done()
				outs[i] = f.dispatcher.Dispatch(context.Background(), f.click(panel.ActionLock, actor), &fakeResponder{})
			}()
		}
		wg.Wait()

		for _, out := range outs {
			require.Equal(t, panel.StatusApplied, out.Status)
		}
		want := "🔓 Unlocked"
		if f.state().Locked {
			want = "🔒 Locked"
		}
		msg := f.platform.Message(f.panelID)
		require.NotNil(t, msg)
		assert.Equal(t, want, msg.Embeds[0].Fields[1].Value, "round %d", round)
	}
}

// decide builds an Accept or Deny press on the reclaim prompt.
func (f *fixture) decide(a panel.Action, actor, requester string) panel.Interaction {
	return panel.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ActorID:   actor,
		GuildID:   "guild",
		RoomID:    "room",
		MessageID: "prompt",
		CustomID:  panel.ControlID{Action: a, RoomID: "room", Extra: requester}.String(),
	}
}

// selection delivers values chosen in a previously opened selector.
func (f *fixture) selection(customID, actor string, values ...string) panel.Interaction {
	return panel.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ActorID:   actor,
		GuildID:   "guild",
		RoomID:    "room",
		MessageID: "ephemeral",
		CustomID:  customID,
		Values:    values,
	}
}

func selectorID(t *testing.T, r *fakeResponder) string {
	t.Helper()
	require.Len(t, r.responses, 1)
	require.NotNil(t, r.responses[0].Data)
	require.NotEmpty(t, r.responses[0].Data.Components)
	menu := r.responses[0].Data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	return menu.CustomID
}

func sentPrompts(f *fixture) []*discordgo.Message {
	var out []*discordgo.Message
	for _, m := range f.platform.Messages {
		if len(m.Embeds) == 0 && len(m.Components) > 0 {
			out = append(out, m)
		}
	}
	return out
}
