package types

import "errors"

// Domain errors for request validation.
var (
	ErrTooManyQueries      = errors.New("too many queries (max 5)")
	ErrBlankQuery          = errors.New("query cannot be blank")
	ErrThresholdOutOfRange = errors.New("similarity threshold must be between 0 and 1")
	ErrInvalidMode         = errors.New("invalid search mode")
	ErrInvalidDetailLevel  = errors.New("invalid detail level")
)
