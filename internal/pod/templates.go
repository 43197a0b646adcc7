package pod

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"voicepods/internal/models"
)

const MaxTemplateNameLength = 32

// Templates saves and re-applies named snapshots of a user's pod.
type Templates struct {
	pods     Store
	store    TemplateStore
	res      Resource
	writer   *Writer
	users    UserResolver
	validate *validator.Validate
}

func NewTemplates(pods Store, store TemplateStore, res Resource, writer *Writer, users UserResolver) *Templates {
	return &Templates{pods: pods, store: store, res: res, writer: writer, users: users, validate: validator.New()}
}

// LoadResult lists the whitelist entries applied and skipped by Load.
type LoadResult struct {
	ChannelID string
	Template  *models.Template
	Applied   []string
	Skipped   []string
}

func (t *Templates) cleanName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if err := t.validate.Var(name, fmt.Sprintf("required,max=%d,printascii", MaxTemplateNameLength)); err != nil {
		return "", fmt.Errorf("%w: template name must be 1 to %d characters", ErrValidation, MaxTemplateNameLength)
	}
	return name, nil
}

// Save snapshots the pod the user currently owns.
func (t *Templates) Save(ctx context.Context, userID, guildID, name string) (*models.Template, error) {
	name, err := t.cleanName(name)
	if err != nil {
		return nil, err
	}
	p, err := t.pods.PodByOwner(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	ch, err := t.res.Channel(ctx, p.ChannelID)
	if err != nil {
		return nil, err
	}
	st := ReadState(ch).Without(userID)

	tmpl := models.Template{
		UserID:           userID,
		GuildID:          guildID,
		Name:             name,
		UserLimit:        st.Limit,
		AutoLock:         st.Locked,
		WhitelistUserIDs: st.Whitelist,
	}
	if err := t.store.SaveTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}
	return &tmpl, nil
}

// Load applies a saved template onto the pod the user currently owns.
// Whitelist targets that no longer resolve are skipped.
func (t *Templates) Load(ctx context.Context, userID, guildID, name string) (*LoadResult, error) {
	name, err := t.cleanName(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := t.store.Template(ctx, userID, guildID, name)
	if err != nil {
		return nil, err
	}
	p, err := t.pods.PodByOwner(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	if err := t.writer.SetCapacity(ctx, p.ChannelID, tmpl.UserLimit); err != nil {
		return nil, err
	}
	if err := t.writer.SetLocked(ctx, p.ChannelID, tmpl.AutoLock); err != nil {
		return nil, err
	}

	res := &LoadResult{ChannelID: p.ChannelID, Template: tmpl}
	for _, id := range tmpl.WhitelistUserIDs {
		if id == userID {
			continue
		}
		if _, err := t.users.User(ctx, id); err != nil {
			log.Printf("⚠️ Template %q: skipping unresolvable user %s: %v", name, id, err)
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err := t.writer.SetWhitelisted(ctx, p.ChannelID, id, true); err != nil {
			if errors.Is(err, ErrResourceGone) {
				return res, err
			}
			log.Printf("⚠️ Template %q: whitelist %s failed: %v", name, id, err)
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Applied = append(res.Applied, id)
	}
	return res, nil
}

// List returns the user's templates in this guild.
func (t *Templates) List(ctx context.Context, userID, guildID string) ([]models.Template, error) {
	return t.store.Templates(ctx, userID, guildID)
}

// Delete removes a template.
func (t *Templates) Delete(ctx context.Context, userID, guildID, name string) error {
	name, err := t.cleanName(name)
	if err != nil {
		return err
	}
	ok, err := t.store.DeleteTemplate(ctx, userID, guildID, name)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if !ok {
		return ErrTemplateNotFound
	}
	return nil
}
