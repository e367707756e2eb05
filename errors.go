package bugtrack

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("not found")
	// ErrResetExpired is returned when a password reset token is past its window.
	ErrResetExpired = errors.New("password reset has expired")
	ErrInvalidPassword = errors.New("invalid password")
	ErrUnknownEntity   = errors.New("unknown entity type")
	ErrInvalidRule     = errors.New("invalid rule")
)
