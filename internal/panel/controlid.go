// Package panel renders pod control panels and dispatches the interactions
// they produce.
package panel

import (
	"errors"
	"strings"
)

// Action names a panel control. Values are part of persisted message
// components, so they must stay stable.
type Action string

const (
	ActionLock      Action = "lock"
	ActionWhitelist Action = "wl"
	ActionCoOwner   Action = "co"
	ActionKick      Action = "kick"
	ActionRename    Action = "rename"
	ActionLimit     Action = "limit"
	ActionReclaim   Action = "reclaim"

	ActionWhitelistSelect Action = "wl_sel"
	ActionCoOwnerSelect   Action = "co_sel"
	ActionKickSelect      Action = "kick_sel"
	ActionRenameSubmit    Action = "rename_sub"
	ActionLimitSubmit     Action = "limit_sub"

	ActionReclaimAccept Action = "rc_yes"
	ActionReclaimDeny   Action = "rc_no"
)

var knownActions = map[Action]bool{
	ActionLock: true, ActionWhitelist: true, ActionCoOwner: true, ActionKick: true,
	ActionRename: true, ActionLimit: true, ActionReclaim: true,
	ActionWhitelistSelect: true, ActionCoOwnerSelect: true, ActionKickSelect: true,
	ActionRenameSubmit: true, ActionLimitSubmit: true,
	ActionReclaimAccept: true, ActionReclaimDeny: true,
}

// panelControls are the buttons on the panel message itself.
var panelControls = map[Action]bool{
	ActionLock: true, ActionWhitelist: true, ActionCoOwner: true, ActionKick: true,
	ActionRename: true, ActionLimit: true, ActionReclaim: true,
}

const (
	idPrefix = "pod"
	idSep    = ":"
)

// ErrUnrecognized is returned for custom ids this package did not produce.
var ErrUnrecognized = errors.New("unrecognized control id")

// ControlID is the decoded form of a component custom id.
type ControlID struct {
	Action Action
	// RoomID is the pod channel the control acts on.
	RoomID string
	// PanelID is the panel message a follow-up should refresh. Empty on
	// panel buttons rendered before their message id was known.
	PanelID string
	// Extra carries action data, e.g. the requester of a reclaim.
	Extra string
}

func (c ControlID) String() string {
	return strings.Join([]string{idPrefix, string(c.Action), c.RoomID, c.PanelID, c.Extra}, idSep)
}

// OnPanel reports whether the control is a button on the panel message.
func (c ControlID) OnPanel() bool {
	return panelControls[c.Action]
}

// ParseControlID decodes a custom id.
func ParseControlID(raw string) (ControlID, error) {
	parts := strings.Split(raw, idSep)
	if len(parts) != 5 || parts[0] != idPrefix {
		return ControlID{}, ErrUnrecognized
	}
	c := ControlID{Action: Action(parts[1]), RoomID: parts[2], PanelID: parts[3], Extra: parts[4]}
	if !knownActions[c.Action] || c.RoomID == "" {
		return ControlID{}, ErrUnrecognized
	}
	return c, nil
}
