package pod

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"voicepods/internal/models"
)

// Resource is the platform side of a pod. Implementations must return
// ErrResourceGone when the channel no longer exists and ErrForbidden when the
// bot lacks the delegated permission.
type Resource interface {
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	SetOverwrite(ctx context.Context, channelID string, ow discordgo.PermissionOverwrite) error
	DeleteOverwrite(ctx context.Context, channelID, targetID string) error
	SetUserLimit(ctx context.Context, channelID string, limit int) error
	Rename(ctx context.Context, channelID, name string) error
	VoiceMembers(ctx context.Context, guildID, channelID string) ([]string, error)
	Disconnect(ctx context.Context, guildID, userID string) error
}

// Store persists pod rows. Lookups return ErrNotAPod when no row exists.
type Store interface {
	PodByChannel(ctx context.Context, channelID string) (*models.Pod, error)
	PodByOwner(ctx context.Context, guildID, ownerID string) (*models.Pod, error)
	UpdatePod(ctx context.Context, channelID string, u models.PodUpdate) error
	// BeginReclaim sets the pending flag only if it is clear and reports
	// whether it did.
	BeginReclaim(ctx context.Context, channelID string) (bool, error)
	DeletePod(ctx context.Context, channelID string) error
}

// TemplateStore persists saved templates keyed by (user, guild, name).
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t models.Template) error
	Template(ctx context.Context, userID, guildID, name string) (*models.Template, error)
	Templates(ctx context.Context, userID, guildID string) ([]models.Template, error)
	DeleteTemplate(ctx context.Context, userID, guildID, name string) (bool, error)
}

// PresetStore persists auto-whitelist presets.
type PresetStore interface {
	AddPreset(ctx context.Context, p models.AutoWhitelistPreset) (bool, error)
	RemovePreset(ctx context.Context, p models.AutoWhitelistPreset) (bool, error)
	Presets(ctx context.Context, userID, guildID string) ([]string, error)
}

// UserResolver looks users up by id. Any error means the target is skipped.
type UserResolver interface {
	User(ctx context.Context, userID string) (*discordgo.User, error)
}
