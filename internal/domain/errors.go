package domain

import "errors"

// ErrInvalidInput is the base error for malformed caller input. Specific
// validation errors wrap it so callers can match the whole class.
var ErrInvalidInput = errors.New("invalid input")
