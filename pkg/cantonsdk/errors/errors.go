// Package errors contains the error taxonomy shared by the SDK packages.
//
// Transport and dependency failures are reported as *ServiceError values with
// a Category. Domain failures that carry data (insufficient balance, ledger
// rejection) have their own struct types. Higher layers wrap these with
// fmt.Errorf("...: %w") and never replace them, so errors.As keeps working
// through any number of orchestration steps.
package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Category defines error category
type Category int

const (
	// CategoryGeneralError The operation failed in an unexpected way
	CategoryGeneralError Category = iota
	// CategoryAuth Credentials were rejected or the OAuth service could not be reached
	CategoryAuth
	// CategoryMalformedToken The access token is not a decodable JWT with a subject
	CategoryMalformedToken
	// CategoryAuthExpired The ledger rejected the bearer token
	CategoryAuthExpired
	// CategoryTransient A read against the ledger failed and can be retried
	CategoryTransient
	// CategoryLedgerUnavailable A submission could not reach the ledger (5xx, timeout)
	CategoryLedgerUnavailable
	// CategoryAttestorUnavailable The attestor network could not supply reference data
	CategoryAttestorUnavailable
	// CategoryTimeout A local wait exceeded its deadline
	CategoryTimeout
	// CategoryInvalidInput The caller supplied invalid arguments
	CategoryInvalidInput
)

func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "CategoryAuth"
	case CategoryMalformedToken:
		return "CategoryMalformedToken"
	case CategoryAuthExpired:
		return "CategoryAuthExpired"
	case CategoryTransient:
		return "CategoryTransient"
	case CategoryLedgerUnavailable:
		return "CategoryLedgerUnavailable"
	case CategoryAttestorUnavailable:
		return "CategoryAttestorUnavailable"
	case CategoryTimeout:
		return "CategoryTimeout"
	case CategoryInvalidInput:
		return "CategoryInvalidInput"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError is the categorized error returned by SDK clients.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err *ServiceError) Error() string {
	if err.Err != nil {
		return err.Message + ": " + err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err *ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// IsRetryable reports whether err is a transient failure that may succeed when
// the same request is repeated.
func IsRetryable(err error) bool {
	return Is(err, CategoryTransient) || Is(err, CategoryLedgerUnavailable)
}

func newError(cat Category, err error, message string) error {
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// AuthError reports a failed login or refresh.
func AuthError(err error, message string) error {
	return newError(CategoryAuth, err, message)
}

// MalformedTokenError reports an access token that cannot be decoded.
func MalformedTokenError(err error, message string) error {
	return newError(CategoryMalformedToken, err, message)
}

// AuthExpiredError reports a 401/403 from the ledger.
func AuthExpiredError(err error) error {
	return newError(CategoryAuthExpired, err, "ledger rejected credential")
}

// TransientNetworkError reports a retryable read failure.
func TransientNetworkError(err error) error {
	return newError(CategoryTransient, err, "transient network error")
}

// LedgerUnavailableError reports a submission that did not reach a verdict.
func LedgerUnavailableError(err error) error {
	return newError(CategoryLedgerUnavailable, err, "ledger unavailable")
}

// AttestorUnavailableError reports a failed attestor lookup.
func AttestorUnavailableError(err error) error {
	return newError(CategoryAttestorUnavailable, err, "attestor unavailable")
}

// TimeoutError reports an expired local wait.
func TimeoutError(err error) error {
	return newError(CategoryTimeout, err, "timed out")
}

// InvalidInputError reports invalid caller input.
func InvalidInputError(err error, message string) error {
	return newError(CategoryInvalidInput, err, message)
}

// InsufficientBalanceError is returned when the unlocked holdings of a party
// cannot cover a requested amount.
type InsufficientBalanceError struct {
	Have decimal.Decimal
	Need decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Have.String(), e.Need.String())
}

// SubmissionError is a ledger rejection of a submitted command. It is never
// retried.
type SubmissionError struct {
	Status  int
	Code    string
	Message string
}

func (e *SubmissionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("submission rejected (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("submission rejected (%d): %s", e.Status, e.Message)
}
