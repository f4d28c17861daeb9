// Package ledgererr defines the stable error codes shared by every mutating
// ledger operation, and normalizes storage driver errors into them so
// Postgres error shapes never leak to callers.
package ledgererr

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Stable error codes.
const (
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeInvalidClientID         = "INVALID_CLIENT_ID"
	CodeInvalidStorefrontItemID = "INVALID_STOREFRONT_ITEM_ID"
	CodeMissingIdempotencyToken = "MISSING_IDEMPOTENCY_TOKEN"
	CodeMissingPaymentMethod    = "MISSING_PAYMENT_METHOD"
	CodeDuplicateIdempotencyKey = "DUPLICATE_IDEMPOTENCY_KEY"
	CodePossibleDuplicate       = "POSSIBLE_DUPLICATE"
	CodeInvalidClient           = "INVALID_CLIENT"
	CodeInvalidItem             = "INVALID_ITEM"
	CodeCartAlreadyGranted      = "CART_ALREADY_GRANTED"
	CodeCartNotCompleted        = "CART_NOT_COMPLETED"
	CodeChargeNotConfirmed      = "CHARGE_NOT_CONFIRMED"
	CodeInternal                = "INTERNAL_ERROR"
)

// ServiceError is a business-rule violation carrying a stable code and
// optional auxiliary data for the caller.
type ServiceError struct {
	Code    string
	Message string
	Data    map[string]interface{}
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a ServiceError with a code and message.
func New(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Newf creates a ServiceError with a formatted message.
func Newf(code, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches auxiliary data and returns the error.
func (e *ServiceError) WithData(data map[string]interface{}) *ServiceError {
	e.Data = data
	return e
}

// CodeOf extracts the stable code from err, or CodeInternal for anything
// that is not a ServiceError.
func CodeOf(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// AsServiceError unwraps err to a ServiceError, if it carries one.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// pq error class 23505 is unique_violation.
const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, walking wrapped errors.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// NormalizeStorage maps driver-level constraint violations into the shared
// taxonomy. A unique violation on an idempotency token means a concurrent
// retry already won the race, which callers treat as a successful no-op.
func NormalizeStorage(err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return New(CodeDuplicateIdempotencyKey, "a grant with this idempotency token already exists")
	}
	return err
}
