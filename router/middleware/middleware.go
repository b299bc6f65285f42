package middleware

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ncwatch/ncwatch/config"
)

const authorizedKey = "authorized"

// AttachRequestID attaches a unique ID to the incoming HTTP request so that any
// errors that are generated or returned to the client will include this reference
// allowing for an easier time identifying the specific request that failed for
// the user.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// Attach stores a dependency on the request context under the given key.
func Attach(key string, v interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(key, v)
		c.Next()
	}
}

// CaptureAndAbort aborts the request and attaches the provided error to the gin
// context, so it can be reported properly. If the error is missing a stacktrace
// at the time it is called the stack will be attached.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	c.Error(errors.WithStackDepthIf(err, 1))
}

// CaptureErrors is custom handler function allowing for errors bubbled up by
// c.Error() to be returned in a standardized format with tracking UUIDs on them
// for easier log searching.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}

		status := http.StatusInternalServerError
		if c.Writer.Status() != http.StatusOK {
			status = c.Writer.Status()
		}
		if err.Error() == io.EOF.Error() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The data passed in the request was not in a parsable format. Please try again."})
			return
		}
		NewError(err.Err).Abort(c, status)
	}
}

// bearer returns the token of a "Bearer" authorization header.
func bearer(c *gin.Context) (string, bool) {
	auth := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(auth) != 2 || auth[0] != "Bearer" {
		return "", false
	}
	return auth[1], true
}

// validToken reports whether the token matches the configured API token. An
// unset API token matches nothing.
func validToken(token string) bool {
	want := config.Get().Api.Token
	return want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

// CheckAuthorization marks the request as authorized when it carries the API
// token, without rejecting anonymous requests.
func CheckAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c)
		c.Set(authorizedKey, ok && validToken(token))
		c.Next()
	}
}

// RequireAuthorization rejects every request that does not carry the API token
// as a bearer token.
func RequireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "The required authorization heads were not present in the request."})
			return
		}
		if !validToken(token) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You are not authorized to access this endpoint."})
			return
		}
		c.Set(authorizedKey, true)
		c.Next()
	}
}

// IsAuthorized reports whether an earlier middleware accepted the API token.
func IsAuthorized(c *gin.Context) bool {
	return c.GetBool(authorizedKey)
}

// ExtractLogger pulls the logger out of the request context and returns it. By
// default this will include the request ID.
func ExtractLogger(c *gin.Context) *log.Entry {
	v, ok := c.Get("logger")
	if !ok {
		panic("middleware/middleware: cannot extract logger: not present in request context")
	}
	return v.(*log.Entry)
}
