package voxgrid

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("voxgrid: no store configured")
	ErrStoreClosed = errors.New("voxgrid: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("voxgrid: job not found")
	ErrAgentNotFound    = errors.New("voxgrid: agent not found")
	ErrScheduleNotFound = errors.New("voxgrid: schedule not found")
	ErrTokenNotFound    = errors.New("voxgrid: token not found")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("voxgrid: job already exists")
	ErrAgentAlreadyExists = errors.New("voxgrid: agent already exists")

	// Auth errors. ErrUnauthorized covers unknown and revoked tokens;
	// ErrTokenMismatch and ErrRegionMismatch cover a valid token presented
	// against the wrong agent or the wrong region.
	ErrUnauthorized   = errors.New("voxgrid: unauthorized")
	ErrTokenMismatch  = errors.New("voxgrid: token does not own agent")
	ErrRegionMismatch = errors.New("voxgrid: region mismatch")

	// Validation errors.
	ErrInvalidRegion   = errors.New("voxgrid: invalid region")
	ErrInvalidSchedule = errors.New("voxgrid: invalid schedule")

	// State errors.
	ErrInvalidState = errors.New("voxgrid: invalid state transition")
)
