package podtest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"voicepods/internal/models"
	"voicepods/internal/pod"
)

// Store is an in-memory pod, template and preset store.
type Store struct {
	mu        sync.Mutex
	pods      map[string]models.Pod
	templates map[string]models.Template
	presets   map[string][]string
	Updates   []models.PodUpdate
}

func NewStore(pods ...models.Pod) *Store {
	s := &Store{
		pods:      make(map[string]models.Pod),
		templates: make(map[string]models.Template),
		presets:   make(map[string][]string),
	}
	for _, p := range pods {
		s.pods[p.ChannelID] = p
	}
	return s
}

// Pod returns a copy of the stored pod, or nil.
func (s *Store) Pod(channelID string) *models.Pod {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pods[channelID]
	if !ok {
		return nil
	}
	return &p
}

func (s *Store) PodByChannel(_ context.Context, channelID string) (*models.Pod, error) {
	if p := s.Pod(channelID); p != nil {
		return p, nil
	}
	return nil, pod.ErrNotAPod
}

func (s *Store) PodByOwner(_ context.Context, guildID, ownerID string) (*models.Pod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pods {
		if p.GuildID == guildID && p.OwnerID == ownerID {
			return &p, nil
		}
	}
	return nil, pod.ErrNotAPod
}

func (s *Store) UpdatePod(_ context.Context, channelID string, u models.PodUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pods[channelID]
	if !ok {
		return pod.ErrNotAPod
	}
	if u.OwnerID != nil {
		p.OwnerID = *u.OwnerID
	}
	if u.PanelMessageID != nil {
		p.PanelMessageID = *u.PanelMessageID
	}
	if u.ReclaimPending != nil {
		p.ReclaimPending = *u.ReclaimPending
	}
	s.pods[channelID] = p
	s.Updates = append(s.Updates, u)
	return nil
}

func (s *Store) BeginReclaim(_ context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pods[channelID]
	if !ok {
		return false, pod.ErrNotAPod
	}
	if p.ReclaimPending {
		return false, nil
	}
	p.ReclaimPending = true
	s.pods[channelID] = p
	return true, nil
}

func (s *Store) DeletePod(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pods, channelID)
	return nil
}

func templateKey(userID, guildID, name string) string {
	return userID + "/" + guildID + "/" + name
}

func (s *Store) SaveTemplate(_ context.Context, t models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.WhitelistUserIDs = slices.Clone(t.WhitelistUserIDs)
	s.templates[templateKey(t.UserID, t.GuildID, t.Name)] = t
	return nil
}

func (s *Store) Template(_ context.Context, userID, guildID, name string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateKey(userID, guildID, name)]
	if !ok {
		return nil, pod.ErrTemplateNotFound
	}
	return &t, nil
}

func (s *Store) Templates(_ context.Context, userID, guildID string) ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Template
	for _, t := range s.templates {
		if t.UserID == userID && t.GuildID == guildID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b models.Template) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) DeleteTemplate(_ context.Context, userID, guildID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := templateKey(userID, guildID, name)
	if _, ok := s.templates[key]; !ok {
		return false, nil
	}
	delete(s.templates, key)
	return true, nil
}

func (s *Store) AddPreset(_ context.Context, p models.AutoWhitelistPreset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.UserID + "/" + p.GuildID
	if slices.Contains(s.presets[key], p.TargetUserID) {
		return false, nil
	}
	s.presets[key] = append(s.presets[key], p.TargetUserID)
	return true, nil
}

func (s *Store) RemovePreset(_ context.Context, p models.AutoWhitelistPreset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.UserID + "/" + p.GuildID
	if !slices.Contains(s.presets[key], p.TargetUserID) {
		return false, nil
	}
	s.presets[key] = slices.DeleteFunc(s.presets[key], func(id string) bool { return id == p.TargetUserID })
	return true, nil
}

func (s *Store) Presets(_ context.Context, userID, guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.presets[userID+"/"+guildID]), nil
}
