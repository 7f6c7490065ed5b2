package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries. Callers should use [errors.Is] to match these.
var (
	// ErrInvalidToken indicates the AUTH token failed verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbiddenRole means the token is valid but its role may not
	// open gateway connections.
	ErrForbiddenRole = errors.New("role not allowed")

	// ErrMissingFacility is returned when an AUTH frame carries no
	// facility id.
	ErrMissingFacility = errors.New("missing facility id")

	// ErrScopeViolation indicates an attempt to act on a facility
	// outside the identity's granted scopes.
	ErrScopeViolation = errors.New("facility out of scope")

	// ErrNotConnected means no gateway is currently connected for the
	// requested facility.
	ErrNotConnected = errors.New("gateway not connected")
)

// GatewayError wraps an underlying error with facility context.
type GatewayError struct {
	FacilityID string
	Op         string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.FacilityID != "" {
		return fmt.Sprintf("facility %s: %s: %v", e.FacilityID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
