package csrfapi

import (
	"errors"
	"fmt"
)

// ErrNoClient is returned when a request is issued on a nil *Client,
// i.e. after a bootstrap that did not produce one.
var ErrNoClient = errors.New("csrfapi: no client (bootstrap did not succeed)")

type ErrorKind string

const (
	KindTransport    ErrorKind = "transport"
	KindStatus       ErrorKind = "status"
	KindMissingToken ErrorKind = "missing_token"
	KindNoClient     ErrorKind = "no_client"
)

type RequestError struct {
	Op         string
	Kind       ErrorKind
	URL        string
	HTTPStatus int
	Response   *Response
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.HTTPStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func IsRequestError(err error) (*RequestError, bool) {
	var e *RequestError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a *RequestError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := IsRequestError(err)
	return ok && e.Kind == kind
}
