// Package stats aggregates voice activity per guild member.
package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"voicepods/internal/metrics"
	"voicepods/internal/models"
)

// Store persists finished voice sessions.
type Store interface {
	AddVoiceSession(ctx context.Context, guildID, userID string, seconds int64) error
	VoiceStat(ctx context.Context, guildID, userID string) (*models.VoiceStat, error)
	TopVoice(ctx context.Context, guildID string, limit int) ([]models.VoiceStat, error)
}

type session struct {
	guildID   string
	userID    string
	channelID string
	start     time.Time
}

// Tracker keeps the open voice session of every member it has seen join and
// records the duration when they leave.
type Tracker struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
	open  map[string]session // key: guildID:userID
}

// NewTracker creates a tracker backed by store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		open:  make(map[string]session),
	}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func key(guildID, userID string) string {
	return guildID + ":" + userID
}

// Update applies a voice state change. An empty channelID means the member
// left voice. Moving between channels keeps the session open.
func (t *Tracker) Update(ctx context.Context, guildID, userID, channelID string) {
	k := key(guildID, userID)

	t.mu.Lock()
	s, ok := t.open[k]
	switch {
	case channelID != "" && !ok:
		s = session{guildID: guildID, userID: userID, channelID: channelID, start: t.now()}
		t.open[k] = s
		metrics.OpenVoiceSessions.Set(float64(len(t.open)))
		t.mu.Unlock()
		fmt.Printf("➡️ Join: %s channel=%s\n", userID, channelID)
		return
	case channelID != "" && ok:
		if s.channelID != channelID {
			log.Printf("Voice move: %s %s -> %s", userID, s.channelID, channelID)
			s.channelID = channelID
			t.open[k] = s
		}
		t.mu.Unlock()
		return
	case channelID == "" && ok:
		delete(t.open, k)
		metrics.OpenVoiceSessions.Set(float64(len(t.open)))
		end := t.now()
		t.mu.Unlock()
		t.record(ctx, s, end)
		return
	}
	t.mu.Unlock()
}

// Flush records every open session as if its member left now. It is called
// at shutdown.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	sessions := make([]session, 0, len(t.open))
	for _, s := range t.open {
		sessions = append(sessions, s)
	}
	clear(t.open)
	metrics.OpenVoiceSessions.Set(0)
	end := t.now()
	t.mu.Unlock()

	for _, s := range sessions {
		t.record(ctx, s, end)
	}
	if len(sessions) > 0 {
		log.Printf("Flushed %d open voice sessions", len(sessions))
	}
}

func (t *Tracker) record(ctx context.Context, s session, end time.Time) {
	seconds := int64(end.Sub(s.start).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if err := t.store.AddVoiceSession(ctx, s.guildID, s.userID, seconds); err != nil {
		log.Printf("Error adding voice seconds for %s: %v", s.userID, err)
		return
	}
	fmt.Printf("⬅️ Leave: %s, +%d seconds channel=%s\n", s.userID, seconds, s.channelID)
}

// Stat returns the member's recorded total plus the running time of an open
// session, if any.
func (t *Tracker) Stat(ctx context.Context, guildID, userID string) (*models.VoiceStat, error) {
	st, err := t.store.VoiceStat(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.open[key(guildID, userID)]; ok {
		st.TotalSeconds += int64(t.now().Sub(s.start).Seconds())
	}
	return st, nil
}

// Leaderboard returns the guild's top members by recorded voice time.
func (t *Tracker) Leaderboard(ctx context.Context, guildID string, limit int) ([]models.VoiceStat, error) {
	return t.store.TopVoice(ctx, guildID, limit)
}

// Open reports the number of open sessions.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
