package handler

import (
	"errors"
	"fmt"
)

// Reason classifies a resolution failure.
type Reason int

const (
	ReasonMissingID Reason = iota
	ReasonNotFound
	ReasonConstruction
	ReasonCapability
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingID:
		return "missing_id"
	case ReasonNotFound:
		return "not_found"
	case ReasonConstruction:
		return "construction"
	case ReasonCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// ResolutionError is returned by Registry.Resolve.
type ResolutionError struct {
	ID     string
	Reason Reason
	Err    error
}

func (e *ResolutionError) Error() string {
	switch e.Reason {
	case ReasonMissingID:
		return "resolve handler: no handler identifier configured"
	case ReasonNotFound:
		return fmt.Sprintf("resolve handler %q: not registered", e.ID)
	case ReasonCapability:
		return fmt.Sprintf("resolve handler %q: %v", e.ID, e.Err)
	default:
		return fmt.Sprintf("resolve handler %q: construct: %v", e.ID, e.Err)
	}
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrNoCapability is wrapped by a ReasonCapability ResolutionError.
var ErrNoCapability = errors.New("handler exposes neither a structured nor a raw stream capability")

// ErrDuplicate is returned when an identifier is registered twice.
var ErrDuplicate = errors.New("handler already registered")
