package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a user identity
	// and none was supplied.
	ErrNotAuthenticated = errors.New("billing: not authenticated")

	// ErrInvalidPlan is returned for price IDs that are not in the catalog or
	// cannot be purchased.
	ErrInvalidPlan = errors.New("billing: invalid plan")

	// ErrAlreadyOnPlan is returned when a checkout targets the plan the user
	// already holds.
	ErrAlreadyOnPlan = errors.New("billing: already subscribed to this plan")

	// ErrCustomerMismatch is returned when a request names a provider
	// customer that does not belong to the caller.
	ErrCustomerMismatch = errors.New("billing: customer does not belong to user")

	// ErrNotFound is returned when no subscription (or customer) matches.
	ErrNotFound = errors.New("billing: not found")

	// ErrInvalidSignature is returned when a webhook payload fails
	// verification.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// ProviderError wraps a failed call to the billing provider. Message keeps the
// upstream description intact.
type ProviderError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing: provider %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("billing: provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError for op. An error that is already a
// ProviderError is returned unchanged.
func NewProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Op: op, Message: err.Error(), Err: err}
}

// PartialSuccess reports that the primary effect of Op happened (for example
// the provider canceled the subscription) while a secondary step, usually the
// local mirror write, did not.
type PartialSuccess struct {
	Op      string
	Primary string
	Err     error
}

func (p *PartialSuccess) Error() string {
	return fmt.Sprintf("billing: %s partially succeeded (%s): %v", p.Op, p.Primary, p.Err)
}

func (p *PartialSuccess) Unwrap() error { return p.Err }

// IsPartial reports whether err carries a PartialSuccess.
func IsPartial(err error) bool {
	var p *PartialSuccess
	return errors.As(err, &p)
}
