package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/ncwatch/ncwatch/system"
)

// Longest part of an error body kept in a RequestError.
const maxDetail = 256

// Client is the HTTP client shared by every remote integration. It applies a
// bounded timeout and classifies failures into ErrUnavailable and ErrRejected.
type Client struct {
	httpClient   *http.Client
	collaborator string
	attempts     int

	// retryInterval is the first wait before a request is sent again.
	retryInterval time.Duration
}

type ClientOption func(c *Client)

// NewClient returns a client for the named collaborator. The name is used in
// errors, logs and metrics.
func NewClient(collaborator string, opts ...ClientOption) *Client {
	c := &Client{
		collaborator: collaborator,
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		attempts:      1,
		retryInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHttpClient sets the underlying HTTP client instance to use when making
// requests.
func WithHttpClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every request, including reading the response.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithAttempts sets how often a request answered with a 5xx or 429 status is
// sent before giving up. Only use it for calls that are safe to repeat.
func WithAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// requestOnce creates a http request and executes it once. Prefer Do over this
// method when possible.
func (c *Client) requestOnce(ctx context.Context, method, endpoint string, body []byte, opts ...func(r *http.Request)) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	req.Header.Set("User-Agent", fmt.Sprintf("ncwatch/v%s", system.Version))

	// Call all opts functions to allow modifying the request
	for _, o := range opts {
		o(req)
	}

	debugLogRequest(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(c.collaborator, err)
	}
	return &Response{Response: res, collaborator: c.collaborator}, nil
}

// Do executes a http request, sending it again with an exponential backoff
// while the remote answers with a server error and attempts remain. A
// transport failure is returned as ErrUnavailable. The caller is responsible
// for checking the status of the returned response and closing its body.
func (c *Client) Do(ctx context.Context, method, endpoint string, body []byte, opts ...func(r *http.Request)) (*Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval

	var res *Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := c.requestOnce(ctx, method, endpoint, body, opts...)
		if err != nil {
			return backoff.Permanent(err)
		}
		res = r
		if attempt < c.attempts && retryable(r.StatusCode) {
			_ = r.Body.Close()
			res = nil
			log.WithFields(log.Fields{"collaborator": c.collaborator, "status": r.StatusCode, "attempt": attempt}).Debug("remote: server error, retrying request")
			return errors.Errorf("remote: %s answered with HTTP/%d", c.collaborator, r.StatusCode)
		}
		return nil
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		if res != nil {
			_ = res.Body.Close()
		}
		if IsUnavailable(err) || ctx.Err() == nil {
			return nil, err
		}
		return nil, Unavailable(c.collaborator, err)
	}
	return res, nil
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// Get executes a http get request and fails with a RequestError on any status
// outside the 2xx range.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...func(r *http.Request)) (*Response, error) {
	return c.checked(c.Do(ctx, http.MethodGet, endpoint, nil, opts...))
}

// PostForm posts url encoded form values.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values, opts ...func(r *http.Request)) (*Response, error) {
	opts = append([]func(r *http.Request){func(r *http.Request) {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}}, opts...)
	return c.checked(c.Do(ctx, http.MethodPost, endpoint, []byte(form.Encode()), opts...))
}

// PostJSON posts data encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, endpoint string, data interface{}, opts ...func(r *http.Request)) (*Response, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	opts = append([]func(r *http.Request){func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
	}}, opts...)
	return c.checked(c.Do(ctx, http.MethodPost, endpoint, b, opts...))
}

func (c *Client) checked(res *Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	if res.HasError() {
		defer res.Body.Close()
		return nil, errors.WithStack(res.Error())
	}
	return res, nil
}

// Response is a custom response type that allows for commonly used error
// handling and response parsing. This just embeds the normal HTTP response
// from Go and we attach a few helper functions to it.
type Response struct {
	*http.Response
	collaborator string
}

// HasError determines if the API call encountered an error. If no request has
// been made the response will be false. This function will evaluate to true if
// the response code is anything 300 or higher.
func (r *Response) HasError() bool {
	if r.Response == nil {
		return false
	}

	return r.StatusCode >= 300 || r.StatusCode < 200
}

// Read reads the body from the response and returns it, then replaces it on
// the response so that it can be read again later. This does not close the
// response body, so any functions calling this should be sure to manually
// defer a Body.Close() call.
func (r *Response) Read() ([]byte, error) {
	var b []byte
	if r.Response == nil {
		return nil, errors.New("http: attempting to read missing response")
	}

	if r.Response.Body != nil {
		var err error
		if b, err = io.ReadAll(r.Response.Body); err != nil {
			return nil, Unavailable(r.collaborator, err)
		}
	}

	r.Response.Body = io.NopCloser(bytes.NewBuffer(b))

	return b, nil
}

// BindJSON binds a given interface with the data returned in the response. This
// is a shortcut for calling Read and then manually calling json.Unmarshal on
// the raw bytes.
func (r *Response) BindJSON(v interface{}) error {
	b, err := r.Read()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "http: could not unmarshal response")
	}
	return nil
}

// Error returns a RequestError describing a failed call, carrying the start of
// the response body. It returns nil when the response is not an error.
func (r *Response) Error() error {
	if !r.HasError() {
		return nil
	}

	b, _ := r.Read()
	detail := strings.TrimSpace(string(b))
	if len(detail) > maxDetail {
		detail = detail[:maxDetail]
	}
	if detail == "" {
		detail = http.StatusText(r.StatusCode)
	}

	return &RequestError{response: r.Response, Collaborator: r.collaborator, Detail: detail}
}

var redactedHeaders = map[string]bool{"Authorization": true, "Cookie": true}

// Logs the request into the debug log with all of the important request bits.
// Credentials carried in headers are cleaned up before being output.
func debugLogRequest(req *http.Request) {
	if l, ok := log.Log.(*log.Logger); ok && l.Level != log.DebugLevel {
		return
	}
	headers := make(map[string][]string)
	for k, v := range req.Header {
		if !redactedHeaders[k] || len(v) == 0 || len(v[0]) == 0 {
			headers[k] = v
			continue
		}

		headers[k] = []string{"(redacted)"}
	}

	log.WithFields(log.Fields{
		"method":   req.Method,
		"endpoint": redactURL(req.URL.String()),
		"headers":  headers,
	}).Debug("making request to external HTTP endpoint")
}
