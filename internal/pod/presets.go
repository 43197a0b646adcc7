package pod

import (
	"context"
	"errors"
	"fmt"
	"log"

	"voicepods/internal/models"
)

// MaxPresets matches the largest user selection a panel can offer.
const MaxPresets = 25

// Presets manages the per-user auto-whitelist.
type Presets struct {
	store  PresetStore
	users  UserResolver
	writer *Writer
}

func NewPresets(store PresetStore, users UserResolver, writer *Writer) *Presets {
	return &Presets{store: store, users: users, writer: writer}
}

// Add puts target on the user's auto-whitelist.
func (p *Presets) Add(ctx context.Context, userID, guildID, targetID string) error {
	if targetID == "" || targetID == userID {
		return fmt.Errorf("%w: cannot add yourself", ErrValidation)
	}
	u, err := p.users.User(ctx, targetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownUser, err)
	}
	if u.Bot {
		return fmt.Errorf("%w: bots cannot be auto-whitelisted", ErrValidation)
	}
	existing, err := p.store.Presets(ctx, userID, guildID)
	if err != nil {
		return fmt.Errorf("failed to list presets: %w", err)
	}
	if len(existing) >= MaxPresets {
		return ErrTooManyPresets
	}
	added, err := p.store.AddPreset(ctx, models.AutoWhitelistPreset{UserID: userID, GuildID: guildID, TargetUserID: targetID})
	if err != nil {
		return fmt.Errorf("failed to add preset: %w", err)
	}
	if !added {
		return ErrPresetExists
	}
	return nil
}

// Remove deletes target from the user's auto-whitelist.
func (p *Presets) Remove(ctx context.Context, userID, guildID, targetID string) error {
	removed, err := p.store.RemovePreset(ctx, models.AutoWhitelistPreset{UserID: userID, GuildID: guildID, TargetUserID: targetID})
	if err != nil {
		return fmt.Errorf("failed to remove preset: %w", err)
	}
	if !removed {
		return ErrPresetNotFound
	}
	return nil
}

func (p *Presets) List(ctx context.Context, userID, guildID string) ([]string, error) {
	return p.store.Presets(ctx, userID, guildID)
}

// Apply whitelists the owner's presets on a freshly provisioned pod and
// returns the ids applied. Unresolvable targets are skipped.
func (p *Presets) Apply(ctx context.Context, pd *models.Pod) ([]string, error) {
	targets, err := p.store.Presets(ctx, pd.OwnerID, pd.GuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	var applied []string
	for _, id := range targets {
		if _, err := p.users.User(ctx, id); err != nil {
			log.Printf("⚠️ Preset for %s: skipping unresolvable user %s", pd.OwnerID, id)
			continue
		}
		if err := p.writer.SetWhitelisted(ctx, pd.ChannelID, id, true); err != nil {
			if errors.Is(err, ErrResourceGone) {
				return applied, err
			}
			log.Printf("⚠️ Preset for %s: whitelist %s failed: %v", pd.OwnerID, id, err)
			continue
		}
		applied = append(applied, id)
	}
	return applied, nil
}
