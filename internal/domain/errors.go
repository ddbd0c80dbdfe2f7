package domain

import (
	"errors"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBadSource          = errors.New("bad source url")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrNoVariants         = errors.New("no variants produced")
	ErrProviderFailure    = errors.New("provider failure")
)
