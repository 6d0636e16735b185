package mesh

import "errors"

// Envelope validation errors.
var (
	ErrMissingType     = errors.New("mesh envelope: missing type")
	ErrUnknownType     = errors.New("mesh envelope: unknown type")
	ErrMissingPayload  = errors.New("mesh envelope: missing payload")
	ErrMalformedFrame  = errors.New("mesh envelope: malformed frame")
	ErrPayloadMismatch = errors.New("mesh envelope: payload does not match type")
)

// Payload validation errors.
var (
	ErrMissingTaskID   = errors.New("mesh message: missing task id")
	ErrMissingSkillID  = errors.New("mesh message: missing skill id")
	ErrMissingDeviceID = errors.New("mesh message: missing device id")
	ErrMissingQueryID  = errors.New("mesh message: missing query id")
	ErrMissingInviteID = errors.New("mesh message: missing invite id")
	ErrInvalidProgress = errors.New("mesh message: progress out of range")
	ErrInvalidTimeout  = errors.New("mesh message: negative timeout")
)
