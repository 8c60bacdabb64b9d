package models

import (
	"errors"
	"fmt"
)

var (
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrAuthRequired      = errors.New("authentication required")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrLivenessFailure   = errors.New("heartbeat liveness failure")
	ErrTransport         = errors.New("transport error")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")

	// ErrSlowConsumer and ErrClosed are transport faults of a single connection.
	ErrSlowConsumer = fmt.Errorf("%w: outbound queue full", ErrTransport)
	ErrClosed       = fmt.Errorf("%w: connection closed", ErrTransport)
)
