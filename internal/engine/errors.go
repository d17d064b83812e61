package engine

import (
	"errors"

	"github.com/kiranshivaraju/integrationhub/internal/connector"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrRetryNotAllowed  = errors.New("retry not allowed while an attempt is in flight")
	ErrUnknownConnector = connector.ErrUnknownConnector
	ErrShuttingDown     = errors.New("engine is shutting down")
)

// Failure categories produced by the engine rather than a connector.
const (
	CategoryInternal         = "InternalError"
	CategoryUnknownConnector = "UnknownConnector"
	CategoryInterrupted      = "Interrupted"
)
