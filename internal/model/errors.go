package model

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindAuthorization Kind = "authorization_error"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindRateLimited   Kind = "rate_limited"
	KindConsistency   Kind = "consistency_error"
	KindExternal      Kind = "external_dependency_error"
	KindInternal      Kind = "internal"
)

type Code string

const (
	CodeAgentNotFound          Code = "agent_not_found"
	CodeOrderNotFound          Code = "order_not_found"
	CodeInvalidOrder           Code = "invalid_order"
	CodeOrderNotAssigned       Code = "order_not_assigned"
	CodeAlreadyCollected       Code = "already_collected"
	CodePaymentTypeMismatch    Code = "payment_type_mismatch"
	CodeInvalidAmounts         Code = "invalid_amounts"
	CodeInsufficientPayment    Code = "insufficient_payment"
	CodeRateLimited            Code = "rate_limited"
	CodeUnauthenticated        Code = "unauthenticated"
	CodeForbidden              Code = "forbidden"
	CodeInvalidRequest         Code = "invalid_request"
	CodePaymentNotFound        Code = "payment_not_found"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeReconciliationNotFound Code = "reconciliation_not_found"
	CodeNotSubmitted           Code = "reconciliation_not_submitted"
	CodeAlreadyApproved        Code = "reconciliation_already_approved"
	CodeReconciliationBusy     Code = "reconciliation_busy"
	CodeConsistency            Code = "consistency_error"
	CodeOrderService           Code = "order_service_unavailable"
	CodeInternal               Code = "internal_error"
)

// Error is the typed failure returned across the service boundary. Message is safe to show to
// clients; Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can compare against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific client message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy that records cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

func NewError(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// AsError extracts a *Error from err. Untyped errors become an internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}

var (
	ErrAgentNotFound          = NewError(KindNotFound, CodeAgentNotFound, "courier could not be identified")
	ErrOrderNotFound          = NewError(KindNotFound, CodeOrderNotFound, "order does not exist")
	ErrInvalidOrder           = NewError(KindValidation, CodeInvalidOrder, "order is not in a collectible state")
	ErrOrderNotAssigned       = NewError(KindAuthorization, CodeOrderNotAssigned, "order is not assigned to this courier")
	ErrAlreadyCollected       = NewError(KindConflict, CodeAlreadyCollected, "payment for this order was already collected")
	ErrPaymentTypeMismatch    = NewError(KindValidation, CodePaymentTypeMismatch, "order is not a cash-on-delivery order")
	ErrInvalidAmounts         = NewError(KindValidation, CodeInvalidAmounts, "amounts are invalid")
	ErrInsufficientPayment    = NewError(KindValidation, CodeInsufficientPayment, "collected amount is less than the order total")
	ErrRateLimited            = NewError(KindRateLimited, CodeRateLimited, "too many collection attempts, try again later")
	ErrUnauthenticated        = NewError(KindAuthorization, CodeUnauthenticated, "missing or invalid credentials")
	ErrForbidden              = NewError(KindAuthorization, CodeForbidden, "operation is not permitted for this caller")
	ErrInvalidRequest         = NewError(KindValidation, CodeInvalidRequest, "request is malformed")
	ErrPaymentNotFound        = NewError(KindNotFound, CodePaymentNotFound, "payment does not exist")
	ErrInvalidTransition      = NewError(KindConflict, CodeInvalidTransition, "payment cannot move to the requested status")
	ErrReconciliationNotFound = NewError(KindNotFound, CodeReconciliationNotFound, "reconciliation does not exist")
	ErrNotSubmitted           = NewError(KindConflict, CodeNotSubmitted, "reconciliation has not been submitted")
	ErrAlreadyApproved        = NewError(KindConflict, CodeAlreadyApproved, "reconciliation is already approved")
	ErrReconciliationBusy     = NewError(KindConflict, CodeReconciliationBusy, "daily totals kept changing during submission, try again")
	ErrConsistency            = NewError(KindConsistency, CodeConsistency, "payment was recorded but the daily total could not be updated")
	ErrOrderService           = NewError(KindExternal, CodeOrderService, "order service is unavailable")
	ErrInternal               = NewError(KindInternal, CodeInternal, "internal error")
)
