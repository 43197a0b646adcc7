package models

import "time"

// Pod represents an ephemeral, user-owned voice room
type Pod struct {
	ChannelID       string
	GuildID         string
	OwnerID         string
	OriginalOwnerID string
	PanelMessageID  string
	ReclaimPending  bool
	CreatedAt       time.Time
}

// PodUpdate carries the mutable pod fields; nil fields are left untouched
type PodUpdate struct {
	OwnerID        *string
	PanelMessageID *string
	ReclaimPending *bool
}

// Template is a saved snapshot of a pod's access rules
type Template struct {
	UserID           string
	GuildID          string
	Name             string
	UserLimit        int
	AutoLock         bool
	WhitelistUserIDs []string
	UpdatedAt        time.Time
}

// AutoWhitelistPreset marks a user that is always invited to the owner's new pods
type AutoWhitelistPreset struct {
	UserID       string
	GuildID      string
	TargetUserID string
}

// VoiceStat represents aggregated voice time for a user in a guild
type VoiceStat struct {
	UserID       string
	GuildID      string
	TotalSeconds int64
	SessionCount int64
}
