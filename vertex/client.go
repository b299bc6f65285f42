package vertex

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/apex/log"
	"golang.org/x/sync/singleflight"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const (
	collaborator = "vertex"
	cookieName   = "connect.sid"
)

// Client is a session backed client of the Vertex web API. The session cookie
// is renewed on demand; every call is retried once after a fresh login.
type Client struct {
	http      *remote.Client
	baseURL   string
	username  string
	password  string
	container string
	docker    ContainerRestarter

	mu    sync.Mutex
	sid   string
	group singleflight.Group
}

type Option func(c *Client)

// WithDocker sets the client used to restart the Vertex container.
func WithDocker(d ContainerRestarter) Option {
	return func(c *Client) {
		c.docker = d
	}
}

func New(cfg config.VertexConfiguration, opts ...Option) *Client {
	hc := &http.Client{
		Timeout: 10 * time.Second,
		// The login answers with a redirect that carries the session cookie.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	c := &Client{
		http:      remote.NewClient(collaborator, remote.WithHttpClient(hc), remote.WithAttempts(2)),
		baseURL:   cfg.BaseURL(),
		username:  cfg.Username,
		password:  cfg.Password,
		container: cfg.ContainerName,
		sid:       cfg.ConnectSID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func withSession(sid string) func(r *http.Request) {
	return func(r *http.Request) {
		if sid != "" {
			r.AddCookie(&http.Cookie{Name: cookieName, Value: sid})
		}
	}
}

// login obtains a new session. Concurrent callers share a single login.
func (c *Client) login(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do("login", func() (interface{}, error) {
		if c.baseURL == "" || c.username == "" {
			return "", errors.WithStack(remote.NewRequestError(collaborator, "no credentials configured"))
		}
		// Visiting the login page first mirrors a browser; failures are ignored.
		if res, err := c.http.Do(ctx, http.MethodGet, c.baseURL+"/login", nil); err == nil {
			res.Body.Close()
		}

		sum := md5.Sum([]byte(c.password))
		var lastErr error
		for _, pw := range []string{c.password, hex.EncodeToString(sum[:])} {
			sid, err := c.tryLogin(ctx, pw)
			if err == nil {
				c.mu.Lock()
				c.sid = sid
				c.mu.Unlock()
				log.Info("logged in to vertex")
				return sid, nil
			}
			if remote.IsUnavailable(err) {
				return "", err
			}
			lastErr = err
		}
		log.WithField("error", lastErr).Warn("vertex login failed")
		return "", lastErr
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) tryLogin(ctx context.Context, password string) (string, error) {
	body := gabs.New()
	_, _ = body.Set(c.username, "username")
	_, _ = body.Set(password, "password")
	res, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/user/login", body.Bytes(), func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusFound {
		for _, ck := range res.Cookies() {
			if ck.Name == cookieName && ck.Value != "" {
				return ck.Value, nil
			}
		}
	}
	return "", errors.WithStack(remote.NewRequestError(collaborator, "login rejected"))
}

// withRetry runs fn with the current session and, if it fails, once more
// after a fresh login.
func (c *Client) withRetry(ctx context.Context, fn func(sid string) error) error {
	sid := c.session()
	if sid != "" {
		err := fn(sid)
		if err == nil {
			return nil
		}
		log.WithField("error", err).Debug("vertex call failed, renewing session")
	}
	sid, err := c.login(ctx)
	if err != nil {
		return err
	}
	return fn(sid)
}

// ListRules returns every RSS rule.
func (c *Client) ListRules(ctx context.Context) ([]*Rule, error) {
	var rules []*Rule
	err := c.withRetry(ctx, func(sid string) error {
		var err error
		rules, err = c.listRules(ctx, sid)
		return err
	})
	return rules, err
}

func (c *Client) listRules(ctx context.Context, sid string) ([]*Rule, error) {
	res, err := c.http.Get(ctx, c.baseURL+"/api/rss/list", withSession(sid))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := res.Read()
	if err != nil {
		return nil, err
	}
	doc, err := gabs.ParseJSON(b)
	if err != nil {
		// An expired session is answered with the HTML login page.
		return nil, errors.WithStack(remote.NewRequestError(collaborator, "rule list is not JSON"))
	}
	if ok, _ := doc.Path("success").Data().(bool); !ok {
		return nil, errors.WithStack(remote.NewRequestError(collaborator, message(doc, "rule list refused")))
	}
	var rules []*Rule
	for _, child := range doc.Path("data").Children() {
		rules = append(rules, &Rule{c: child})
	}
	return rules, nil
}

// UpdateRule posts the rule back to Vertex.
func (c *Client) UpdateRule(ctx context.Context, rule *Rule) error {
	return c.withRetry(ctx, func(sid string) error {
		return c.updateRule(ctx, sid, rule)
	})
}

func (c *Client) updateRule(ctx context.Context, sid string, rule *Rule) error {
	res, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/rss/modify", rule.Bytes(), withSession(sid), func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.HasError() {
		return errors.WithStack(res.Error())
	}
	b, err := res.Read()
	if err != nil {
		return err
	}
	doc, perr := gabs.ParseJSON(b)
	if perr == nil {
		if ok, _ := doc.Path("success").Data().(bool); ok {
			return nil
		}
	}
	// Older releases only answer with a localised success message.
	if strings.Contains(string(b), "成功") {
		return nil
	}
	detail := string(b)
	if len(detail) > 100 {
		detail = detail[:100]
	}
	return errors.WithStack(remote.NewRequestError(collaborator, "rule update refused: "+detail))
}

func message(doc *gabs.Container, fallback string) string {
	if m, ok := doc.Path("message").Data().(string); ok && m != "" {
		return m
	}
	return fallback
}

// SyncClients points every rule in ruleIDs at exactly the given downloaders.
// Rules that already match are left alone. It returns the number of updated
// rules; the error combines every failed update.
func (c *Client) SyncClients(ctx context.Context, ruleIDs []string, clients []string) (int, error) {
	rules, err := c.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	want := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		want[id] = true
	}
	target := unique(clients)

	var updated int
	var errs []error
	for _, rule := range rules {
		if !want[rule.ID()] || sameClients(rule.Clients(), target) {
			continue
		}
		l := log.WithFields(log.Fields{"rule": rule.Alias(), "from": len(unique(rule.Clients())), "to": len(target)})
		rule.SetClients(target)
		if err := c.UpdateRule(ctx, rule); err != nil {
			l.WithField("error", err).Error("failed to update rss rule")
			errs = append(errs, err)
			continue
		}
		l.Info("updated rss rule downloaders")
		updated++
	}
	return updated, errors.Combine(errs...)
}
