package radialight

import (
	"errors"
	"strconv"
)

var (
	ErrRefreshRejected  = &AuthError{Kind: RefreshRejected}
	ErrRefreshTransient = &AuthError{Kind: RefreshTransient}
	ErrUnauthorized     = &FetchError{Kind: Unauthorized}
	ErrRejected         = &FetchError{Kind: Rejected}
	ErrTransient        = &FetchError{Kind: Transient}
	ErrMalformedSample  = &DataError{Kind: MalformedSample}
	ErrMalformedEntry   = &DataError{Kind: MalformedEntry}
	ErrMalformedPayload = &DataError{Kind: MalformedPayload}
)

type AuthErrorKind int

const (
	RefreshRejected AuthErrorKind = iota
	RefreshTransient
)

func (k AuthErrorKind) String() string {
	switch k {
	case RefreshRejected:
		return "refresh_rejected"
	case RefreshTransient:
		return "refresh_transient"
	default:
		return "unknown"
	}
}

// AuthError is returned when the refresh token could not be exchanged for a bearer token.
// RefreshRejected means the refresh token is invalid or revoked and requires reconfiguration.
type AuthError struct {
	Kind       AuthErrorKind
	StatusCode int
	Err        error
}

var _ error = &AuthError{}

func (e *AuthError) Error() string {
	msg := "token exchange: " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Is(target error) bool {
	var t *AuthError
	return errors.As(target, &t) && t.Kind == e.Kind
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type FetchErrorKind int

const (
	Unauthorized FetchErrorKind = iota
	Rejected
	Transient
)

func (k FetchErrorKind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Rejected:
		return "rejected"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// FetchError is returned by all Client calls.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Endpoint   string
	Err        error
}

var _ error = &FetchError{}

func (e *FetchError) Error() string {
	msg := e.Kind.String()
	if e.Endpoint != "" {
		msg = e.Endpoint + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Is(target error) bool {
	var t *FetchError
	return errors.As(target, &t) && t.Kind == e.Kind
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type DataErrorKind int

const (
	MalformedSample DataErrorKind = iota
	MalformedEntry
	MalformedPayload
)

func (k DataErrorKind) String() string {
	switch k {
	case MalformedSample:
		return "malformed_sample"
	case MalformedEntry:
		return "malformed_entry"
	case MalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// DataError reports a response (or part of a response) that does not match the expected shape.
type DataError struct {
	Kind   DataErrorKind
	Reason string
	Err    error
}

var _ error = &DataError{}

func (e *DataError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataError) Is(target error) bool {
	var t *DataError
	return errors.As(target, &t) && t.Kind == e.Kind
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRefreshTransient)
}

// IsFatal returns true if err requires operator intervention (i.e. new credentials) or a change to the request.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}
