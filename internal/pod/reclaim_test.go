package pod_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepods/internal/models"
	"voicepods/internal/pod"
	"voicepods/internal/pod/podtest"
)

type reclaimFixture struct {
	platform  *podtest.Platform
	store     *podtest.Store
	reclaimer *pod.Reclaimer
}

// newReclaimFixture builds room owned by O, originally created by R, with
// {locked, limit 5, whitelist X Y, co-owner Z}.
func newReclaimFixture(ownerConnect bool) *reclaimFixture {
	p := podtest.NewPlatform("guild")
	ownerAllow := pod.PermManage | pod.PermMove
	if ownerConnect {
		ownerAllow |= pod.PermConnect
	}
	p.AddChannel("room", 5,
		podtest.Everyone("guild", pod.PermConnect),
		podtest.Member("O", ownerAllow),
		podtest.Member("X", pod.PermConnect),
		podtest.Member("Y", pod.PermConnect),
		podtest.Owner("Z"),
	)
	s := podtest.NewStore(models.Pod{ChannelID: "room", GuildID: "guild", OwnerID: "O", OriginalOwnerID: "R"})
	w := pod.NewWriter(p)
	return &reclaimFixture{platform: p, store: s, reclaimer: pod.NewReclaimer(s, p, w)}
}

func (f *reclaimFixture) pod(t *testing.T) *models.Pod {
	t.Helper()
	p := f.store.Pod("room")
	require.NotNil(t, p)
	return p
}

func TestReclaimRequestGuards(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)

	assert.ErrorIs(t, f.reclaimer.Request(ctx, f.pod(t), "X"), pod.ErrUnauthorized)

	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))
	assert.True(t, f.pod(t).ReclaimPending)

	assert.ErrorIs(t, f.reclaimer.Request(ctx, f.pod(t), "R"), pod.ErrReclaimPending)
}

func TestReclaimRequestByCurrentOwner(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)
	p := f.pod(t)
	p.OwnerID = "R"

	assert.ErrorIs(t, f.reclaimer.Request(ctx, p, "R"), pod.ErrAlreadyOwner)
}

func TestReclaimAcceptPreservesState(t *testing.T) {
	for _, ownerConnect := range []bool{true, false} {
		ctx := context.Background()
		f := newReclaimFixture(ownerConnect)
		require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))

		tr, err := f.reclaimer.Accept(ctx, f.pod(t), "O", "R")
		require.NoError(t, err)
		assert.Empty(t, tr.Warnings)

		ch, err := f.platform.Channel(ctx, "room")
		require.NoError(t, err)
		st := pod.ReadState(ch)

		assert.Equal(t, pod.State{
			Locked:    true,
			Limit:     5,
			Whitelist: []string{"X", "Y"},
			CoOwners:  []string{"Z"},
		}, st.Without("O", "R"))
		assert.True(t, st.IsCoOwner("R"))
		assert.False(t, st.IsCoOwner("O"))
		assert.Equal(t, ownerConnect, st.CanConnect("O"))

		p := f.pod(t)
		assert.Equal(t, "R", p.OwnerID)
		assert.False(t, p.ReclaimPending)
		assert.Equal(t, "R", p.OriginalOwnerID)
	}
}

func TestReclaimAcceptNeedsCurrentOwner(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)
	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))
	writes := f.platform.WriteCount()

	_, err := f.reclaimer.Accept(ctx, f.pod(t), "Z", "R")
	assert.ErrorIs(t, err, pod.ErrUnauthorized)
	assert.Equal(t, writes, f.platform.WriteCount())
}

func TestReclaimAcceptWithoutRequest(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)

	_, err := f.reclaimer.Accept(ctx, f.pod(t), "O", "R")
	assert.ErrorIs(t, err, pod.ErrNoReclaimPending)

	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))
	_, err = f.reclaimer.Accept(ctx, f.pod(t), "O", "X")
	assert.ErrorIs(t, err, pod.ErrNoReclaimPending)
}

func TestReclaimPreservationIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)
	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))

	// The platform drops the limit when ownership moves and then refuses the
	// capacity re-apply.
	f.platform.Hook = func(p *podtest.Platform, op, channelID, targetID string) error {
		switch {
		case op == podtest.OpSetOverwrite && targetID == "R":
			p.Channels[channelID].UserLimit = 0
		case op == podtest.OpUserLimit:
			return pod.ErrForbidden
		}
		return nil
	}

	tr, err := f.reclaimer.Accept(ctx, f.pod(t), "O", "R")
	require.NoError(t, err)
	require.Len(t, tr.Warnings, 1)
	assert.ErrorIs(t, tr.Warnings[0], pod.ErrForbidden)
	assert.Equal(t, "R", f.pod(t).OwnerID)
}

func TestReclaimDeny(t *testing.T) {
	ctx := context.Background()
	f := newReclaimFixture(true)
	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"))
	writes := f.platform.WriteCount()

	require.NoError(t, f.reclaimer.Deny(ctx, f.pod(t), "O", "R"))

	p := f.pod(t)
	assert.False(t, p.ReclaimPending)
	assert.Equal(t, "O", p.OwnerID)
	assert.Equal(t, writes, f.platform.WriteCount())

	require.NoError(t, f.reclaimer.Request(ctx, f.pod(t), "R"), "a new request is allowed after a denial")
}
