package qbittorrent

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"github.com/patrickmn/go-cache"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const collaborator = "qbittorrent"

// Client talks to the WebUI API of the qBittorrent instance running on every
// managed server. One client serves all servers; sessions are kept per host.
type Client struct {
	http     *remote.Client
	port     int
	username string
	password string

	// host -> SID cookie value
	sessions *cache.Cache
}

func New(cfg config.QbittorrentConfiguration, opts ...remote.ClientOption) *Client {
	opts = append([]remote.ClientOption{remote.WithTimeout(time.Duration(cfg.Timeout) * time.Second)}, opts...)
	return &Client{
		http:     remote.NewClient(collaborator, opts...),
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sessions: cache.New(time.Hour, 10*time.Minute),
	}
}

func (c *Client) endpoint(host, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.port)) + "/api/v2" + path
}

// session returns the SID for the host, logging in when none is cached. An
// empty SID is valid for clients that allow unauthenticated access.
func (c *Client) session(ctx context.Context, host string) (string, error) {
	if sid, ok := c.sessions.Get(host); ok {
		return sid.(string), nil
	}
	if c.username == "" {
		return "", nil
	}

	form := url.Values{"username": {c.username}, "password": {c.password}}
	res, err := c.http.PostForm(ctx, c.endpoint(host, "/auth/login"), form, referer(host))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	b, err := res.Read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(b)) == "Fails." {
		return "", errors.WithStack(remote.NewRequestError(collaborator, "login refused for "+host))
	}
	for _, ck := range res.Cookies() {
		if ck.Name == "SID" {
			c.sessions.Set(host, ck.Value, cache.DefaultExpiration)
			return ck.Value, nil
		}
	}
	return "", errors.WithStack(remote.NewRequestError(collaborator, "login to "+host+" returned no session"))
}

func referer(host string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Referer", "http://"+host)
	}
}

// call performs an authenticated request. A 403 means the session expired, in
// which case the call is sent once more with a fresh login.
func (c *Client) call(ctx context.Context, host, method, path string, form url.Values) (*remote.Response, error) {
	var body []byte
	if form != nil {
		body = []byte(form.Encode())
	}
	for attempt := 0; ; attempt++ {
		sid, err := c.session(ctx, host)
		if err != nil {
			return nil, err
		}
		res, err := c.http.Do(ctx, method, c.endpoint(host, path), body, referer(host), func(r *http.Request) {
			if form != nil {
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if sid != "" {
				r.AddCookie(&http.Cookie{Name: "SID", Value: sid})
			}
		})
		if err != nil {
			return nil, err
		}
		if res.StatusCode == http.StatusForbidden && attempt == 0 {
			res.Body.Close()
			c.sessions.Delete(host)
			log.WithField("server", host).Debug("qbittorrent session expired, logging in again")
			continue
		}
		if res.HasError() {
			defer res.Body.Close()
			return nil, errors.WithStack(res.Error())
		}
		return res, nil
	}
}

// TransferInfo returns the cumulative upload and download counters of the
// client on host.
func (c *Client) TransferInfo(ctx context.Context, host string) (Transfer, error) {
	res, err := c.call(ctx, host, http.MethodGet, "/transfer/info", nil)
	if err != nil {
		return Transfer{}, err
	}
	defer res.Body.Close()

	b, err := res.Read()
	if err != nil {
		return Transfer{}, err
	}
	up, err := jsonparser.GetInt(b, "up_info_data")
	if err != nil {
		return Transfer{}, errors.Wrap(err, "qbittorrent: could not parse transfer info")
	}
	down, err := jsonparser.GetInt(b, "dl_info_data")
	if err != nil {
		return Transfer{}, errors.Wrap(err, "qbittorrent: could not parse transfer info")
	}
	return Transfer{Up: up, Down: down}, nil
}

// Torrents lists every torrent of the client on host.
func (c *Client) Torrents(ctx context.Context, host string) ([]Torrent, error) {
	res, err := c.call(ctx, host, http.MethodGet, "/torrents/info", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var torrents []Torrent
	if err := res.BindJSON(&torrents); err != nil {
		return nil, err
	}
	return torrents, nil
}

// Apply sends a single action to the client on host. An action without hashes
// is a no-op.
func (c *Client) Apply(ctx context.Context, host string, a Action) error {
	if len(a.Hashes) == 0 {
		return nil
	}
	form := url.Values{"hashes": {strings.Join(a.Hashes, "|")}}
	switch a.Verb {
	case VerbSetUploadLimit:
		limit := a.Limit
		if limit <= 0 {
			limit = 0
		}
		form.Set("limit", strconv.FormatInt(limit, 10))
	case VerbDelete:
		form.Set("deleteFiles", "true")
	case VerbStop, VerbPause, VerbResume, VerbStart, VerbReannounce:
	default:
		return errors.Errorf("qbittorrent: unknown verb %q", a.Verb)
	}

	res, err := c.call(ctx, host, http.MethodPost, "/torrents/"+string(a.Verb), form)
	if err != nil {
		return err
	}
	return res.Body.Close()
}
