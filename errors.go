package magpie

import "errors"

// Common SMTP engine errors.
var (
	ErrServerClosed    = errors.New("smtp: server closed")
	ErrMissingHostname = errors.New("smtp: hostname is required")
	ErrMissingStore    = errors.New("smtp: store is required")
	ErrTimeout         = errors.New("smtp: timeout")
	ErrTLSRequired     = errors.New("smtp: TLS required")
	ErrAuthRequired    = errors.New("smtp: authentication required")
)
