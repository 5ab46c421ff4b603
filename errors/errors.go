package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	// failures observed while talking to remote services
	ErrCodeTransport ErrCode = "Transport"
	ErrCodeAPI       ErrCode = "API"
	ErrCodeParse     ErrCode = "Parse"
	// failures caused by input data
	ErrCodeValidation   ErrCode = "Validation"
	ErrCodePrecondition ErrCode = "Precondition"
	ErrCodeBadInput     ErrCode = "BadInput"
	ErrCodeNotFound     ErrCode = "NotFound"
	ErrCodeConflict     ErrCode = "Conflict"
	// failures of our own
	ErrCodeServiceFailure ErrCode = "ServiceFailure"
	ErrCodePartialFailure ErrCode = "PartialFailure"
	ErrCodeNotImplemented ErrCode = "NotImplemented"
)

// Err is the error type vended by all vtourist components.
type Err struct {
	Code ErrCode
	// RemoteStatus is the http status code a remote service responded with, 0 if there was no response
	RemoteStatus int
	msg          string
	cause        error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the chain of causes associated with the error
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	indent := "\n"
	err := errors.Unwrap(e)
	for err != nil {
		indent += "\t"
		b.WriteString(indent)
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

func (e *Err) WithRemoteStatus(code int) *Err {
	e.RemoteStatus = code
	return e
}

// prefer appSpecificErr(msg) over appSpecificErr(msg, cause) since the latter's method signature has less
// readability - user needs to look up docs to know the 2nd param is for cause, while the first one can use
// WithCause() to be explicit
func newErr(c ErrCode, m string) *Err {
	return &Err{Code: c, msg: m}
}

// NewTransport reports a network level failure, or a non-2XX response without a recognizable error body.
func NewTransport(m string) *Err { return newErr(ErrCodeTransport, m) }

// NewAPI reports a failure the remote API reported in a successfully transported response.
func NewAPI(m string) *Err { return newErr(ErrCodeAPI, m) }

func NewParse(m string) *Err { return newErr(ErrCodeParse, m) }

func NewValidation(m string) *Err { return newErr(ErrCodeValidation, m) }

func NewPrecondition(m string) *Err { return newErr(ErrCodePrecondition, m) }

func NewBadInput(m string) *Err { return newErr(ErrCodeBadInput, m) }

func NewNotFound(m string) *Err { return newErr(ErrCodeNotFound, m) }

func NewConflict(m string) *Err { return newErr(ErrCodeConflict, m) }

func NewServiceFailure(m string) *Err { return newErr(ErrCodeServiceFailure, m) }

func NewPartialFailure(m string) *Err { return newErr(ErrCodePartialFailure, m) }

func NewNotImplemented() *Err { return newErr(ErrCodeNotImplemented, "Not implemented") }

// CodeOf returns the code of the first *Err found in err's chain, or an empty code if there is none.
func CodeOf(err error) ErrCode {
	var e *Err
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RemoteStatusOf returns the first remote http status code found in err's chain, or 0 if there is none.
func RemoteStatusOf(err error) int {
	for err != nil {
		if e, ok := err.(*Err); ok && e.RemoteStatus != 0 {
			return e.RemoteStatus
		}
		err = errors.Unwrap(err)
	}
	return 0
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadInput, ErrCodeValidation, ErrCodePrecondition:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTransport, ErrCodeAPI, ErrCodeParse:
		return http.StatusBadGateway
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
