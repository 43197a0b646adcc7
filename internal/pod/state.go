package pod

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

const (
	PermConnect = int64(discordgo.PermissionVoiceConnect)
	PermManage  = int64(discordgo.PermissionManageChannels)
	PermMove    = int64(discordgo.PermissionVoiceMoveMembers)

	// ownerGrant is what owners and co-owners hold on their member overwrite.
	ownerGrant = PermManage | PermMove | PermConnect
)

// State is the logical access state of a pod, derived from its overwrites.
type State struct {
	Locked    bool
	Limit     int
	Whitelist []string
	CoOwners  []string
}

// ReadState derives the pod state from the live channel. Co-owners are never
// listed in Whitelist even though they hold connect.
func ReadState(ch *discordgo.Channel) State {
	st := State{Limit: ch.UserLimit}
	var connect []string
	for _, ow := range ch.PermissionOverwrites {
		switch ow.Type {
		case discordgo.PermissionOverwriteTypeRole:
			if ow.ID == ch.GuildID && ow.Deny&PermConnect != 0 {
				st.Locked = true
			}
		case discordgo.PermissionOverwriteTypeMember:
			if ow.Allow&PermManage != 0 {
				st.CoOwners = append(st.CoOwners, ow.ID)
			} else if ow.Allow&PermConnect != 0 {
				connect = append(connect, ow.ID)
			}
		}
	}
	for _, id := range connect {
		if !slices.Contains(st.CoOwners, id) {
			st.Whitelist = append(st.Whitelist, id)
		}
	}
	slices.Sort(st.Whitelist)
	slices.Sort(st.CoOwners)
	return st
}

// IsCoOwner reports whether the user holds the manage grant.
func (s State) IsCoOwner(userID string) bool {
	return slices.Contains(s.CoOwners, userID)
}

// IsWhitelisted reports whether the user has a plain connect allow.
func (s State) IsWhitelisted(userID string) bool {
	return slices.Contains(s.Whitelist, userID)
}

// CanConnect reports whether the user holds connect, directly or as co-owner.
func (s State) CanConnect(userID string) bool {
	return s.IsWhitelisted(userID) || s.IsCoOwner(userID)
}

// Without returns a copy of s with the given users dropped from both lists.
func (s State) Without(userIDs ...string) State {
	keep := func(ids []string) []string {
		var out []string
		for _, id := range ids {
			if !slices.Contains(userIDs, id) {
				out = append(out, id)
			}
		}
		return out
	}
	return State{
		Locked:    s.Locked,
		Limit:     s.Limit,
		Whitelist: keep(s.Whitelist),
		CoOwners:  keep(s.CoOwners),
	}
}

func findOverwrite(ch *discordgo.Channel, targetID string) *discordgo.PermissionOverwrite {
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == targetID {
			return ow
		}
	}
	return nil
}
