package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes raised by collaborators before they are mapped to an ErrorKind.
var (
	ErrAuth         = errors.New("unauthorized")
	ErrStore        = errors.New("token store failure")
	ErrGateway      = errors.New("accounts api failure")
	ErrNotification = errors.New("notification failure")
	ErrGeneric      = errors.New("internal failure")

	ErrTokenNotFound      = fmt.Errorf("%w: challenge token not found or expired", ErrAuth)
	ErrCredentialNotFound = errors.New("password credential not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrRateLimited        = fmt.Errorf("%w: too many requests", ErrAuth)
)

// GatewayError carries the downstream status and body of a failed Accounts API call.
// Status is zero when the request never produced a response.
type GatewayError struct {
	Method string
	URL    string
	Status int
	Body   []byte
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("accounts api %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("accounts api %s %s: status %d: %s", e.Method, e.URL, e.Status, string(e.Body))
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// LoginError is a non-2xx answer of the login endpoint. Its status and body
// already describe the failure to the end user and are passed through as is.
type LoginError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login rejected: status %d", e.Status)
}

// ErrorKind is one of the fixed error envelopes exposed to callers.
type ErrorKind string

const (
	ErrorKindAuth    ErrorKind = "auth"
	ErrorKindAccount ErrorKind = "account"
	ErrorKindDB      ErrorKind = "db"
	ErrorKindEmail   ErrorKind = "email"
	ErrorKindGeneric ErrorKind = "generic"
	ErrorKindToken   ErrorKind = "token"
)

// ErrorEnvelope is the JSON body returned for every mapped failure.
type ErrorEnvelope struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Type    string `json:"type"`
	Detail  string `json:"detail"`
}

var envelopes = map[ErrorKind]ErrorEnvelope{
	ErrorKindAuth: {
		Message: "Unauthorized",
		Status:  http.StatusUnauthorized,
		Type:    "error",
		Detail:  "Unauthorized",
	},
	ErrorKindAccount: {
		Message: "Unauthorized",
		Status:  http.StatusUnauthorized,
		Type:    "error",
		Detail:  "There was an error trying to retrieve that account, ensure you have entered the correct credentials and try again later",
	},
	ErrorKindDB: {
		Message: "Internal Server Error",
		Status:  http.StatusInternalServerError,
		Type:    "error",
		Detail:  "There was an error retrieving your data, ensure the info you entered is correct and try again",
	},
	ErrorKindEmail: {
		Message: "Internal Server Error",
		Status:  http.StatusInternalServerError,
		Type:    "error",
		Detail:  "There was an error with your email, ensure you have entered the correct email and try again",
	},
	ErrorKindGeneric: {
		Message: "Internal Server Error",
		Status:  http.StatusInternalServerError,
		Type:    "error",
		Detail:  "Internal Server Error",
	},
	ErrorKindToken: {
		Message: "Internal Server Error",
		Status:  http.StatusInternalServerError,
		Type:    "error",
		Detail:  "There was an error trying to retrieve that token, try again later",
	},
}

// Envelope returns the fixed envelope of the kind. Unknown kinds fall back to generic.
func (k ErrorKind) Envelope() ErrorEnvelope {
	if env, ok := envelopes[k]; ok {
		return env
	}
	return envelopes[ErrorKindGeneric]
}

// DomainError binds an internal cause to the envelope kind callers will see.
// The zero value renders as the generic envelope.
type DomainError struct {
	kind  ErrorKind
	cause error
	msg   string
}

type ErrorOption func(*DomainError)

// WithMsg attaches a short log message describing the failed step.
func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.msg = msg
	}
}

func NewError(kind ErrorKind, cause error, opts ...ErrorOption) error {
	e := DomainError{kind: kind, cause: cause}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Name(), e.msg, e.cause)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Name(), e.cause)
	case e.msg != "":
		return fmt.Sprintf("%s: %s", e.Name(), e.msg)
	}
	return e.Name()
}

func (e DomainError) Unwrap() error {
	return e.cause
}

func (e DomainError) Kind() ErrorKind {
	if e.kind == "" {
		return ErrorKindGeneric
	}
	return e.kind
}

func (e DomainError) Name() string {
	return string(e.Kind())
}

func (e DomainError) Msg() string {
	return e.msg
}

func (e DomainError) Envelope() ErrorEnvelope {
	return e.Kind().Envelope()
}

func (e DomainError) HTTPStatus() int {
	return e.Envelope().Status
}
