package middleware

import (
	"context"
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/ncwatch/ncwatch/ledger"
)

// RequestError is a custom error type returned when something goes wrong with
// any of the HTTP endpoints.
type RequestError struct {
	err error
	msg string
}

// NewError returns a new RequestError for the provided error.
func NewError(err error) *RequestError {
	return &RequestError{
		// Attach a stacktrace to the error if it is missing at this point and mark it
		// as originating from the location where NewError was called, rather than this
		// specific point in the code.
		err: errors.WithStackDepthIf(err, 1),
	}
}

// SetMessage allows for a custom error message to be set on an existing
// RequestError instance.
func (re *RequestError) SetMessage(m string) {
	re.msg = m
}

// Abort aborts the given HTTP request with the specified status code and then
// logs the event into the logs. The error that is output will include the unique
// request ID if it is present.
func (re *RequestError) Abort(c *gin.Context, status int) {
	reqId := c.Writer.Header().Get("X-Request-Id")
	event := log.WithField("request_id", reqId).WithField("url", c.Request.URL.String())

	if c.Writer.Status() == http.StatusOK {
		switch {
		case errors.Is(re.err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
			re.SetMessage("The server could not process this request in time, please try again.")
		case strings.Contains(re.Cause().Error(), "context canceled"):
			status = http.StatusBadRequest
			re.SetMessage("Request aborted by client.")
		case errors.Is(re.err, ledger.ErrPersistence):
			status = http.StatusServiceUnavailable
			re.SetMessage("The ledger is not available right now.")
		}
	}

	if status >= 500 || c.Writer.Status() != http.StatusOK {
		event.WithField("status", status).WithField("error", re.err).Error("error while handling HTTP request")
	} else {
		event.WithField("status", status).WithField("error", re.err).Debug("error handling HTTP request (not a server error)")
	}
	if re.msg == "" {
		re.msg = "An unexpected error was encountered while processing this request"
	}
	// Include the request ID in the body as well, for clients that do not show
	// response headers.
	c.AbortWithStatusJSON(status, gin.H{"error": re.msg, "request_id": reqId})
}

// Cause returns the underlying error.
func (re *RequestError) Cause() error {
	return re.err
}

// Error returns the underlying error message for this request.
func (re *RequestError) Error() string {
	return re.err.Error()
}
