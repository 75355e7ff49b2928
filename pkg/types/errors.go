package types

import "errors"

// Parse errors for model values.
var (
	// ErrInvalidChangeType is returned when a change type is not INSERT, UPDATE or DELETE
	ErrInvalidChangeType = errors.New("invalid change type")

	// ErrInvalidVersionNumber is returned when a version label is not of the form N.D
	ErrInvalidVersionNumber = errors.New("invalid version number")
)
