package remote

import (
	"fmt"
	"net/http"

	"emperror.dev/errors"

	"github.com/ncwatch/ncwatch/metrics"
)

var (
	// ErrUnavailable is matched by errors caused by a timeout, a refused
	// connection or any other failure to get an answer from a remote service. It
	// never means the remote confirmed anything.
	ErrUnavailable = errors.Sentinel("remote: service unavailable")

	// ErrRejected is matched by errors where the remote service answered, but
	// refused the request.
	ErrRejected = errors.Sentinel("remote: request rejected")
)

type unavailableError struct {
	collaborator string
	err          error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("remote: %s unavailable: %s", e.collaborator, e.err.Error())
}

func (e *unavailableError) Unwrap() error {
	return e.err
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable marks err as a failure to reach the collaborator and counts it.
func Unavailable(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RemoteUnavailableTotal.WithLabelValues(collaborator).Inc()
	return errors.WithStackDepth(&unavailableError{collaborator: collaborator, err: err}, 1)
}

// IsUnavailable reports whether the error means the remote could not be
// reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether the remote answered with a definitive error.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// RequestError is returned when a remote answered with an unexpected status or
// a body that reports a failure.
type RequestError struct {
	response     *http.Response
	Collaborator string
	Detail       string
}

// NewRequestError builds a rejection that did not come from an HTTP status,
// such as a SOAP fault or a JSON body with success set to false.
func NewRequestError(collaborator, detail string) *RequestError {
	return &RequestError{Collaborator: collaborator, Detail: detail}
}

// AsRequestError transforms the error into a RequestError if it is currently
// one, checking the wrap status from the other error handlers. If the error
// is not a RequestError nil is returned.
func AsRequestError(err error) *RequestError {
	if err == nil {
		return nil
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr
	}
	return nil
}

// Error returns the error response in a string form that can be more easily
// consumed.
func (re *RequestError) Error() string {
	return fmt.Sprintf("error response from %s: %s (HTTP/%d)", re.Collaborator, re.Detail, re.StatusCode())
}

// Is lets errors.Is match any RequestError against ErrRejected.
func (re *RequestError) Is(target error) bool {
	return target == ErrRejected
}

// StatusCode returns the status code of the response, or zero when the
// rejection was not carried by a status code.
func (re *RequestError) StatusCode() int {
	if re.response == nil {
		return 0
	}
	return re.response.StatusCode
}
