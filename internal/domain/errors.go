package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrConnection is returned to the transport layer when a push stream
	// could not be set up.
	ErrConnection = errors.New("connection error")
)
