package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const DefaultLocation = "/etc/ncwatch/config.yml"

var (
	mu      sync.RWMutex
	_config *Configuration
)

// Notification modes understood by the notify package.
const (
	NotifyTelegram  = "telegram"
	NotifyWechat    = "wechat"
	NotifyWechatApp = "wechat_app"
	NotifyAll       = "all"
	NotifyNone      = "none"
)

type ApiConfiguration struct {
	// The interface that the internal webserver should bind to.
	Host string `default:"0.0.0.0" yaml:"host" toml:"host"`

	// The port that the internal webserver should bind to.
	Port int `default:"5000" yaml:"port" toml:"port"`

	// Bearer token required to trigger runs and to see server addresses. When
	// empty the protected endpoints are disabled.
	Token string `yaml:"token" toml:"token"`
}

// ServerConfiguration is one managed server. The IP is used both to reach the
// torrent client and to match the server in the control panel.
type ServerConfiguration struct {
	Name string `yaml:"name" toml:"name"`
	IP   string `yaml:"ip" toml:"ip"`

	// The client identifier of this server's torrent client inside Vertex. Used
	// to point RSS rules only at unthrottled servers.
	ClientID string `yaml:"client_id" toml:"client_id"`

	// Unmanaged servers are observed and recorded, but never remediated.
	Unmanaged bool `yaml:"unmanaged" toml:"unmanaged"`
}

// HitAndRunConfiguration lists the torrent categories that must keep seeding
// while a server is throttled, and the upload ceiling applied to them.
type HitAndRunConfiguration struct {
	Categories    []string `yaml:"categories" toml:"categories"`
	UploadLimitKB int64    `default:"10" yaml:"upload_limit_kb" toml:"upload_limit_kb"`
}

// UploadLimitBytes returns the configured ceiling in bytes per second.
func (h HitAndRunConfiguration) UploadLimitBytes() int64 {
	return h.UploadLimitKB * 1024
}

type QbittorrentConfiguration struct {
	Port     int    `default:"8080" yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	// Request timeout in seconds.
	Timeout int `default:"15" yaml:"timeout" toml:"timeout"`
}

type ScpAccount struct {
	CustomerNumber string `yaml:"customer_number" toml:"customer_number"`
	Password       string `yaml:"password" toml:"password"`
}

// ScpConfiguration configures the control panel web service that reports the
// throttle state of every server.
type ScpConfiguration struct {
	Endpoint string       `default:"https://www.servercontrolpanel.de/WSEndUser" yaml:"endpoint" toml:"endpoint"`
	Accounts []ScpAccount `yaml:"accounts" toml:"accounts"`

	// The web service is rate limited by the provider, so requests are paced.
	RequestsPerSecond float64 `default:"2" yaml:"requests_per_second" toml:"requests_per_second"`
	Timeout           int     `default:"30" yaml:"timeout" toml:"timeout"`
}

type VertexConfiguration struct {
	URL      string `yaml:"url" toml:"url"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	// A session cookie to start with, saving one login after a restart.
	ConnectSID string `yaml:"connect_sid" toml:"connect_sid"`

	// The docker container restarted when Vertex refuses rule updates. Only
	// honoured when Vertex runs on this host.
	ContainerName string `default:"vertex" yaml:"container_name" toml:"container_name"`

	UseApiUpdate bool     `default:"true" yaml:"use_api_update" toml:"use_api_update"`
	RssIDs       []string `yaml:"rss_ids" toml:"rss_ids"`
}

// BaseURL returns the Vertex URL with a scheme and without a trailing slash.
func (v VertexConfiguration) BaseURL() string {
	u := strings.TrimSpace(v.URL)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// Enabled reports whether RSS rules should be synchronised at all.
func (v VertexConfiguration) Enabled() bool {
	return v.URL != "" && v.UseApiUpdate && len(v.RssIDs) > 0
}

type TelegramConfiguration struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
	ChatID   string `yaml:"chat_id" toml:"chat_id"`
	Proxy    string `yaml:"proxy" toml:"proxy"`
}

type WechatConfiguration struct {
	Key string `yaml:"key" toml:"key"`
}

type WechatAppConfiguration struct {
	CorpID  string `yaml:"corp_id" toml:"corp_id"`
	Secret  string `yaml:"secret" toml:"secret"`
	AgentID string `yaml:"agent_id" toml:"agent_id"`
}

type NotificationConfiguration struct {
	Mode string `default:"telegram" yaml:"mode" toml:"mode"`

	// Minimum number of minutes between two briefs. Zero sends one on every
	// state change.
	MinInterval int `default:"0" yaml:"min_interval" toml:"min_interval"`

	Telegram  TelegramConfiguration  `yaml:"telegram" toml:"telegram"`
	Wechat    WechatConfiguration    `yaml:"wechat" toml:"wechat"`
	WechatApp WechatAppConfiguration `yaml:"wechat_app" toml:"wechat_app"`
}

// Wants reports whether the given channel is selected by the mode.
func (n NotificationConfiguration) Wants(channel string) bool {
	return n.Mode == channel || n.Mode == NotifyAll
}

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if ncwatch should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `yaml:"debug" toml:"debug"`

	System        SystemConfiguration       `yaml:"system" toml:"system"`
	Api           ApiConfiguration          `yaml:"api" toml:"api"`
	Servers       []ServerConfiguration     `yaml:"servers" toml:"servers"`
	Qbittorrent   QbittorrentConfiguration  `yaml:"qbittorrent" toml:"qbittorrent"`
	Scp           ScpConfiguration          `yaml:"scp" toml:"scp"`
	Vertex        VertexConfiguration       `yaml:"vertex" toml:"vertex"`
	Notifications NotificationConfiguration `yaml:"notifications" toml:"notifications"`

	// Torrents in these categories are paused rather than deleted while a server
	// is throttled.
	KeepCategories []string               `yaml:"keep_categories" toml:"keep_categories"`
	HitAndRun      HitAndRunConfiguration `yaml:"hit_and_run" toml:"hit_and_run"`
}

// NewAtPath creates a new configuration with defaults applied, pointing at
// the given path.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	if err := defaults.Set(&c); err != nil {
		return nil, errors.Wrap(err, "config: failed to set defaults")
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. The configuration is replaced as a
// whole; readers holding a previous snapshot keep using it until their next
// call to Get.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns a copy of the global configuration. A tick takes one snapshot at
// its start so an edit made while it runs only applies to the next tick.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	if _config == nil {
		panic("config: attempt to access configuration before it was loaded")
	}
	c := *_config
	return &c
}

// ReadConfiguration reads the file at the given path, applies defaults for any
// missing values and validates the result. Files ending in ".toml" are parsed as
// TOML, everything else as YAML. Environment variables are expanded first.
func ReadConfiguration(path string) (*Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c, err := NewAtPath(path)
	if err != nil {
		return nil, err
	}
	b = []byte(os.ExpandEnv(string(b)))
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrap(err, "config: could not parse toml file")
		}
	} else {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrap(err, "config: could not parse yaml file")
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetPath returns the location of the configuration file.
func (c *Configuration) GetPath() string {
	return c.path
}

// DatabasePath returns the location of the SQLite ledger.
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.System.RootDirectory, "ncwatch.db")
}

// Location returns the timezone used for calendar boundaries. Validate has
// already rejected unknown zones, so UTC is only a fallback for hand built
// configurations.
func (c *Configuration) Location() *time.Location {
	l, err := time.LoadLocation(c.System.Timezone)
	if err != nil {
		return time.UTC
	}
	return l
}

// Interval returns the time between two scheduled ticks.
func (c *Configuration) Interval() time.Duration {
	return time.Duration(c.System.Interval) * time.Minute
}

// Validate checks the configuration once at load time. The returned error
// names the first offending field.
func (c *Configuration) Validate() error {
	if c.System.Interval < 1 {
		return errors.New("config: system.interval must be at least one minute")
	}
	if err := c.System.ConfigureTimezone(); err != nil {
		return err
	}
	if c.Api.Port < 1 || c.Api.Port > 65535 {
		return errors.Errorf("config: api.port %d is out of range", c.Api.Port)
	}
	if c.HitAndRun.UploadLimitKB <= 0 {
		return errors.New("config: hit_and_run.upload_limit_kb must be positive")
	}
	if c.Qbittorrent.Timeout <= 0 || c.Scp.Timeout <= 0 {
		return errors.New("config: request timeouts must be positive")
	}
	if c.Scp.RequestsPerSecond <= 0 {
		return errors.New("config: scp.requests_per_second must be positive")
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return errors.Errorf("config: servers[%d] is missing a name", i)
		}
		if _, ok := seen[s.Name]; ok {
			return errors.Errorf("config: duplicate server name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if !govalidator.IsHost(s.IP) {
			return errors.Errorf("config: server %q has an invalid ip %q", s.Name, s.IP)
		}
	}

	if c.Vertex.URL != "" && !govalidator.IsURL(c.Vertex.BaseURL()) {
		return errors.Errorf("config: vertex.url %q is not a valid url", c.Vertex.URL)
	}
	if c.Scp.Endpoint != "" && !govalidator.IsURL(c.Scp.Endpoint) {
		return errors.Errorf("config: scp.endpoint %q is not a valid url", c.Scp.Endpoint)
	}

	switch c.Notifications.Mode {
	case NotifyTelegram, NotifyWechat, NotifyWechatApp, NotifyAll, NotifyNone:
	default:
		return errors.Errorf("config: unknown notifications.mode %q", c.Notifications.Mode)
	}
	if c.Notifications.MinInterval < 0 {
		return errors.New("config: notifications.min_interval cannot be negative")
	}
	return nil
}

// String returns a short description used in start-up logs.
func (c *Configuration) String() string {
	return fmt.Sprintf("%d servers, every %s", len(c.Servers), c.Interval())
}
