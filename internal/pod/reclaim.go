package pod

import (
	"context"
	"fmt"
	"log"

	"voicepods/internal/metrics"
	"voicepods/internal/models"
)

// Reclaimer runs the ownership reclaim handshake: the original owner
// requests, the current owner accepts or denies.
type Reclaimer struct {
	pods   Store
	res    Resource
	writer *Writer
}

// NewReclaimer creates a reclaimer
func NewReclaimer(pods Store, res Resource, writer *Writer) *Reclaimer {
	return &Reclaimer{pods: pods, res: res, writer: writer}
}

// Transfer describes a completed reclaim. Warnings hold the preservation
// writes that failed after ownership had already moved.
type Transfer struct {
	ChannelID string
	From      string
	To        string
	Captured  State
	Warnings  []error
}

// Request marks a reclaim as pending. Only the original owner may ask, and
// only while someone else owns the pod and no request is open.
func (r *Reclaimer) Request(ctx context.Context, p *models.Pod, actorID string) error {
	if actorID != p.OriginalOwnerID {
		return ErrUnauthorized
	}
	if actorID == p.OwnerID {
		return ErrAlreadyOwner
	}
	ok, err := r.pods.BeginReclaim(ctx, p.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to begin reclaim: %w", err)
	}
	if !ok {
		return ErrReclaimPending
	}
	p.ReclaimPending = true
	metrics.ReclaimTransitions.WithLabelValues("requested").Inc()
	return nil
}

// Abandon clears a pending request that could not be delivered.
func (r *Reclaimer) Abandon(ctx context.Context, p *models.Pod) error {
	pending := false
	if err := r.pods.UpdatePod(ctx, p.ChannelID, models.PodUpdate{ReclaimPending: &pending}); err != nil {
		return fmt.Errorf("failed to clear reclaim: %w", err)
	}
	p.ReclaimPending = false
	return nil
}

// CheckDecision validates that actorID may answer requesterID's request.
func (r *Reclaimer) CheckDecision(p *models.Pod, actorID, requesterID string) error {
	if actorID != p.OwnerID {
		return ErrUnauthorized
	}
	if !p.ReclaimPending || requesterID != p.OriginalOwnerID || requesterID == p.OwnerID {
		return ErrNoReclaimPending
	}
	return nil
}

// Accept hands the pod to the requester. The access state is captured
// immediately before the ownership write and re-applied afterwards; those
// re-applies are best effort and only reported as warnings.
func (r *Reclaimer) Accept(ctx context.Context, p *models.Pod, actorID, requesterID string) (*Transfer, error) {
	if err := r.CheckDecision(p, actorID, requesterID); err != nil {
		return nil, err
	}
	from, to := p.OwnerID, requesterID

	ch, err := r.res.Channel(ctx, p.ChannelID)
	if err != nil {
		return nil, err
	}
	captured := ReadState(ch).Without(from, to)

	if err := r.writer.TransferOwnership(ctx, p.ChannelID, from, to); err != nil {
		return nil, err
	}

	t := &Transfer{ChannelID: p.ChannelID, From: from, To: to, Captured: captured}
	warn := func(what string, err error) {
		if err == nil {
			return
		}
		log.Printf("⚠️ Reclaim %s: %s re-apply failed: %v", p.ChannelID, what, err)
		t.Warnings = append(t.Warnings, fmt.Errorf("%s: %w", what, err))
	}
	for _, id := range captured.Whitelist {
		warn("whitelist "+id, r.writer.SetWhitelisted(ctx, p.ChannelID, id, true))
	}
	for _, id := range captured.CoOwners {
		warn("co-owner "+id, r.writer.SetCoOwner(ctx, p.ChannelID, id))
	}
	warn("lock", r.writer.SetLocked(ctx, p.ChannelID, captured.Locked))
	warn("capacity", r.writer.SetCapacity(ctx, p.ChannelID, captured.Limit))

	pending := false
	if err := r.pods.UpdatePod(ctx, p.ChannelID, models.PodUpdate{OwnerID: &to, ReclaimPending: &pending}); err != nil {
		return t, fmt.Errorf("failed to record new owner: %w", err)
	}
	p.OwnerID = to
	p.ReclaimPending = false

	metrics.ReclaimTransitions.WithLabelValues("accepted").Inc()
	log.Printf("🔁 Reclaim %s: ownership %s -> %s (%d warnings)", p.ChannelID, from, to, len(t.Warnings))
	return t, nil
}

// Deny closes the request without touching permissions.
func (r *Reclaimer) Deny(ctx context.Context, p *models.Pod, actorID, requesterID string) error {
	if err := r.CheckDecision(p, actorID, requesterID); err != nil {
		return err
	}
	if err := r.Abandon(ctx, p); err != nil {
		return err
	}
	metrics.ReclaimTransitions.WithLabelValues("denied").Inc()
	return nil
}
