package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"voicepods/internal/models"
	"voicepods/internal/pod"
	"voicepods/internal/stats"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const podColumns = `channel_id, guild_id, owner_id, original_owner_id, panel_message_id, reclaim_pending, created_at`

func scanPod(row *sql.Row) (*models.Pod, error) {
	var p models.Pod
	err := row.Scan(&p.ChannelID, &p.GuildID, &p.OwnerID, &p.OriginalOwnerID, &p.PanelMessageID, &p.ReclaimPending, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pod.ErrNotAPod
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pod: %w", err)
	}
	return &p, nil
}

// PodByChannel gets the pod backed by a voice channel
func (r *Repository) PodByChannel(ctx context.Context, channelID string) (*models.Pod, error) {
	return scanPod(r.db.conn.QueryRowContext(ctx,
		`SELECT `+podColumns+` FROM pods WHERE channel_id = $1`, channelID))
}

// PodByOwner gets the most recent pod a user owns in a guild
func (r *Repository) PodByOwner(ctx context.Context, guildID, ownerID string) (*models.Pod, error) {
	return scanPod(r.db.conn.QueryRowContext(ctx,
		`SELECT `+podColumns+` FROM pods WHERE guild_id = $1 AND owner_id = $2 ORDER BY created_at DESC LIMIT 1`,
		guildID, ownerID))
}

// UpdatePod writes the non-nil fields of u
func (r *Repository) UpdatePod(ctx context.Context, channelID string, u models.PodUpdate) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE pods SET
			owner_id = COALESCE($2::text, owner_id),
			panel_message_id = COALESCE($3::text, panel_message_id),
			reclaim_pending = COALESCE($4::boolean, reclaim_pending)
		WHERE channel_id = $1`,
		channelID, u.OwnerID, u.PanelMessageID, u.ReclaimPending)
	if err != nil {
		return fmt.Errorf("failed to update pod: %w", err)
	}
	return requireRow(res, pod.ErrNotAPod)
}

// BeginReclaim sets reclaim_pending only if it is clear
func (r *Repository) BeginReclaim(ctx context.Context, channelID string) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE pods SET reclaim_pending = TRUE WHERE channel_id = $1 AND reclaim_pending = FALSE`, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to begin reclaim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to begin reclaim: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.PodByChannel(ctx, channelID); err != nil {
		return false, err
	}
	return false, nil
}

// DeletePod removes a pod row
func (r *Repository) DeletePod(ctx context.Context, channelID string) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM pods WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("failed to delete pod: %w", err)
	}
	return nil
}

// SaveTemplate creates or replaces a template
func (r *Repository) SaveTemplate(ctx context.Context, t models.Template) error {
	whitelist := t.WhitelistUserIDs
	if whitelist == nil {
		whitelist = []string{}
	}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO pod_templates (user_id, guild_id, name, user_limit, auto_lock, whitelist_user_ids, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, guild_id, name) DO UPDATE SET
			user_limit = EXCLUDED.user_limit,
			auto_lock = EXCLUDED.auto_lock,
			whitelist_user_ids = EXCLUDED.whitelist_user_ids,
			updated_at = EXCLUDED.updated_at`,
		t.UserID, t.GuildID, t.Name, t.UserLimit, t.AutoLock, pq.Array(whitelist))
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

const templateColumns = `user_id, guild_id, name, user_limit, auto_lock, whitelist_user_ids, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (models.Template, error) {
	var t models.Template
	err := s.Scan(&t.UserID, &t.GuildID, &t.Name, &t.UserLimit, &t.AutoLock, pq.Array(&t.WhitelistUserIDs), &t.UpdatedAt)
	return t, err
}

// Template gets a template by name
func (r *Repository) Template(ctx context.Context, userID, guildID, name string) (*models.Template, error) {
	t, err := scanTemplate(r.db.conn.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM pod_templates WHERE user_id = $1 AND guild_id = $2 AND name = $3`,
		userID, guildID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pod.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

// Templates lists a user's templates in a guild by name
func (r *Repository) Templates(ctx context.Context, userID, guildID string) ([]models.Template, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM pod_templates WHERE user_id = $1 AND guild_id = $2 ORDER BY name`,
		userID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a template and reports whether it existed
func (r *Repository) DeleteTemplate(ctx context.Context, userID, guildID, name string) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM pod_templates WHERE user_id = $1 AND guild_id = $2 AND name = $3`,
		userID, guildID, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}
	return affected(res)
}

// AddPreset stores a preset and reports whether it was new
func (r *Repository) AddPreset(ctx context.Context, p models.AutoWhitelistPreset) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO auto_whitelist_presets (user_id, guild_id, target_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, guild_id, target_user_id) DO NOTHING`,
		p.UserID, p.GuildID, p.TargetUserID)
	if err != nil {
		return false, fmt.Errorf("failed to add preset: %w", err)
	}
	return affected(res)
}

// RemovePreset deletes a preset and reports whether it existed
func (r *Repository) RemovePreset(ctx context.Context, p models.AutoWhitelistPreset) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM auto_whitelist_presets WHERE user_id = $1 AND guild_id = $2 AND target_user_id = $3`,
		p.UserID, p.GuildID, p.TargetUserID)
	if err != nil {
		return false, fmt.Errorf("failed to remove preset: %w", err)
	}
	return affected(res)
}

// Presets lists a user's preset targets in a guild, oldest first
func (r *Repository) Presets(ctx context.Context, userID, guildID string) ([]string, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT target_user_id FROM auto_whitelist_presets WHERE user_id = $1 AND guild_id = $2 ORDER BY created_at, target_user_id`,
		userID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan preset: %w", err)
		}
		targets = append(targets, id)
	}
	return targets, rows.Err()
}

// AddVoiceSession adds one finished voice session to the user's totals
func (r *Repository) AddVoiceSession(ctx context.Context, guildID, userID string, seconds int64) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO voice_hours (user_id, guild_id, total_seconds, session_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, guild_id) DO UPDATE SET
			total_seconds = voice_hours.total_seconds + EXCLUDED.total_seconds,
			session_count = voice_hours.session_count + 1`,
		userID, guildID, seconds)
	if err != nil {
		return fmt.Errorf("failed to add voice seconds: %w", err)
	}
	return nil
}

// VoiceStat gets a user's voice totals in a guild; unknown users have zero totals
func (r *Repository) VoiceStat(ctx context.Context, guildID, userID string) (*models.VoiceStat, error) {
	st := &models.VoiceStat{UserID: userID, GuildID: guildID}
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT total_seconds, session_count FROM voice_hours WHERE user_id = $1 AND guild_id = $2`,
		userID, guildID).Scan(&st.TotalSeconds, &st.SessionCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get voice hours: %w", err)
	}
	return st, nil
}

// TopVoice gets the guild leaderboard by voice time
func (r *Repository) TopVoice(ctx context.Context, guildID string, limit int) ([]models.VoiceStat, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT user_id, total_seconds, session_count FROM voice_hours WHERE guild_id = $1 ORDER BY total_seconds DESC LIMIT $2`,
		guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top voice: %w", err)
	}
	defer rows.Close()

	var stats []models.VoiceStat
	for rows.Next() {
		st := models.VoiceStat{GuildID: guildID}
		if err := rows.Scan(&st.UserID, &st.TotalSeconds, &st.SessionCount); err != nil {
			return nil, fmt.Errorf("failed to scan voice row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func requireRow(res sql.Result, missing error) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return missing
	}
	return nil
}

var (
	_ pod.Store         = (*Repository)(nil)
	_ pod.TemplateStore = (*Repository)(nil)
	_ pod.PresetStore   = (*Repository)(nil)
	_ stats.Store       = (*Repository)(nil)
)
