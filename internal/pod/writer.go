package pod

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"

	"voicepods/internal/metrics"
)

const (
	MaxCapacity   = 99
	MaxNameLength = 100
)

// Writer applies access-rule deltas to a pod's channel. Every operation reads
// the live channel first and issues no call when nothing would change, so
// repeating an operation is safe.
type Writer struct {
	res      Resource
	validate *validator.Validate
}

// NewWriter creates a writer over the given resource
func NewWriter(res Resource) *Writer {
	return &Writer{res: res, validate: validator.New()}
}

// SetLocked adds or clears the deny-connect rule on the everyone role.
// Unlocking clears the bit rather than setting an explicit allow.
func (w *Writer) SetLocked(ctx context.Context, channelID string, locked bool) error {
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	return w.modify(ctx, "lock", ch, ch.GuildID, discordgo.PermissionOverwriteTypeRole, func(allow, deny int64) (int64, int64) {
		if locked {
			return allow &^ PermConnect, deny | PermConnect
		}
		return allow, deny &^ PermConnect
	})
}

// SetWhitelisted adds or removes a member connect allow. Removal leaves any
// manage grant the member holds untouched.
func (w *Writer) SetWhitelisted(ctx context.Context, channelID, userID string, present bool) error {
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	return w.modify(ctx, "whitelist", ch, userID, discordgo.PermissionOverwriteTypeMember, func(allow, deny int64) (int64, int64) {
		if present {
			return allow | PermConnect, deny &^ PermConnect
		}
		if allow&PermManage != 0 {
			return allow, deny
		}
		return allow &^ PermConnect, deny
	})
}

// SetCoOwner grants manage, move and connect. There is no inverse.
func (w *Writer) SetCoOwner(ctx context.Context, channelID, userID string) error {
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	return w.modify(ctx, "co_owner", ch, userID, discordgo.PermissionOverwriteTypeMember, grantOwner)
}

// TransferOwnership grants the owner rule to `to` before revoking manage and
// move from `from`. The old owner's connect bit is left as it was.
func (w *Writer) TransferOwnership(ctx context.Context, channelID, from, to string) error {
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := w.modify(ctx, "transfer_grant", ch, to, discordgo.PermissionOverwriteTypeMember, grantOwner); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	return w.modify(ctx, "transfer_revoke", ch, from, discordgo.PermissionOverwriteTypeMember, func(allow, deny int64) (int64, int64) {
		return allow &^ (PermManage | PermMove), deny
	})
}

// SetCapacity sets the user limit; 0 means unlimited.
func (w *Writer) SetCapacity(ctx context.Context, channelID string, limit int) error {
	if err := w.validate.Var(limit, fmt.Sprintf("gte=0,lte=%d", MaxCapacity)); err != nil {
		return fmt.Errorf("%w: capacity must be between 0 and %d", ErrValidation, MaxCapacity)
	}
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.UserLimit == limit {
		return nil
	}
	err = w.res.SetUserLimit(ctx, channelID, limit)
	metrics.PermissionWrites.WithLabelValues("capacity", metrics.Result(err)).Inc()
	return wrapWrite("set capacity", err)
}

// Rename sets the channel name.
func (w *Writer) Rename(ctx context.Context, channelID, name string) error {
	name = strings.TrimSpace(name)
	if err := w.validate.Var(name, fmt.Sprintf("required,max=%d", MaxNameLength)); err != nil {
		return fmt.Errorf("%w: name must be 1 to %d characters", ErrValidation, MaxNameLength)
	}
	ch, err := w.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.Name == name {
		return nil
	}
	err = w.res.Rename(ctx, channelID, name)
	metrics.PermissionWrites.WithLabelValues("rename", metrics.Result(err)).Inc()
	return wrapWrite("rename", err)
}

func grantOwner(allow, deny int64) (int64, int64) {
	return allow | ownerGrant, deny &^ ownerGrant
}

func (w *Writer) channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ch, err := w.res.Channel(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrResourceGone) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read channel: %w", err)
	}
	return ch, nil
}

// modify rewrites a single overwrite through fn, deleting it when it becomes empty.
func (w *Writer) modify(ctx context.Context, op string, ch *discordgo.Channel, targetID string, typ discordgo.PermissionOverwriteType, fn func(allow, deny int64) (int64, int64)) error {
	var allow, deny int64
	existing := findOverwrite(ch, targetID)
	if existing != nil {
		allow, deny = existing.Allow, existing.Deny
		typ = existing.Type
	}
	newAllow, newDeny := fn(allow, deny)
	if newAllow == allow && newDeny == deny {
		return nil
	}

	var err error
	if newAllow == 0 && newDeny == 0 {
		err = w.res.DeleteOverwrite(ctx, ch.ID, targetID)
	} else {
		err = w.res.SetOverwrite(ctx, ch.ID, discordgo.PermissionOverwrite{
			ID:    targetID,
			Type:  typ,
			Allow: newAllow,
			Deny:  newDeny,
		})
	}
	metrics.PermissionWrites.WithLabelValues(op, metrics.Result(err)).Inc()
	return wrapWrite(op, err)
}

func wrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrResourceGone) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalWrite, op, err)
}
