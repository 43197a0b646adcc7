package pod

import "errors"

var (
	ErrNotAPod       = errors.New("not a pod")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrResourceGone  = errors.New("resource gone")
	ErrExternalWrite = errors.New("external write failed")
	ErrForbidden     = errors.New("missing permissions")
	ErrValidation    = errors.New("validation failed")

	ErrAlreadyOwner     = errors.New("already the owner")
	ErrReclaimPending   = errors.New("reclaim request already pending")
	ErrNoReclaimPending = errors.New("no matching reclaim request")
	ErrTemplateNotFound = errors.New("template not found")
	ErrPresetExists     = errors.New("preset already exists")
	ErrPresetNotFound   = errors.New("preset not found")
	ErrTooManyPresets   = errors.New("too many presets")
	ErrUnknownUser      = errors.New("user cannot be resolved")
)
