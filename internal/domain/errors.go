package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to react
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindValidation    ErrorKind = "validation"
	KindGateway       ErrorKind = "gateway"
	KindPersistence   ErrorKind = "persistence"
	KindRunInProgress ErrorKind = "run_in_progress"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// Error is the engine's error type
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError creates an Error of the given kind
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Gateway errors report KindGateway,
// anything unclassified reports KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return KindGateway
	}
	return KindInternal
}

// IsKind reports whether err has the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrRunInProgress builds the error returned when a portfolio is already being rebalanced
func ErrRunInProgress(portfolioID string) error {
	return NewError(KindRunInProgress, "rebalance", fmt.Sprintf("rebalance already in progress for portfolio %s", portfolioID), nil)
}

// ErrNotFound builds a not-found error for the named entity
func ErrNotFound(entity, id string) error {
	return NewError(KindNotFound, entity, fmt.Sprintf("%s %s not found", entity, id), nil)
}

// GatewayErrorCode classifies exchange failures
type GatewayErrorCode string

const (
	GatewayCredentialsNotConfigured GatewayErrorCode = "CredentialsNotConfigured"
	GatewayRateLimited              GatewayErrorCode = "RateLimited"
	GatewayInvalidPair              GatewayErrorCode = "InvalidPair"
	GatewayUnknown                  GatewayErrorCode = "Unknown"
)

// GatewayError is returned by exchange gateways
type GatewayError struct {
	Code      GatewayErrorCode
	Transient bool
	Op        string
	Message   string
	Err       error

	// Sent is true when the request reached the exchange before failing.
	// Order placement is not retried in that case.
	Sent bool
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", e.Op, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTransientGatewayError reports whether err is a gateway error worth retrying
func IsTransientGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Transient
}

// GatewayCode returns the gateway error code of err, or "" when err is not a gateway error
func GatewayCode(err error) GatewayErrorCode {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}
