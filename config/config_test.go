package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleYAML = `
debug: true
system:
  root_directory: /tmp/ncwatch
  timezone: Europe/Berlin
servers:
  - name: vps1
    ip: 10.0.0.1
    client_id: c1
  - name: vps2
    ip: 10.0.0.2
    client_id: c2
    unmanaged: true
keep_categories: [keep]
hit_and_run:
  categories: [hr]
vertex:
  url: 127.0.0.1:3000
  password: ${NCWATCH_TEST_VERTEX_PASSWORD}
  rss_ids: [r1]
notifications:
  mode: all
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestReadConfiguration(t *testing.T) {
	t.Setenv("NCWATCH_TEST_VERTEX_PASSWORD", "hunter2")

	p := writeFile(t, "config.yml", exampleYAML)
	c, err := ReadConfiguration(p)
	require.NoError(t, err)

	assert.Equal(t, p, c.GetPath())
	assert.True(t, c.Debug)
	assert.Len(t, c.Servers, 2)
	assert.True(t, c.Servers[1].Unmanaged)
	assert.Equal(t, "hunter2", c.Vertex.Password)
	assert.Equal(t, "http://127.0.0.1:3000", c.Vertex.BaseURL())
	assert.True(t, c.Vertex.Enabled())
	assert.True(t, c.Notifications.Wants(NotifyTelegram))
	assert.True(t, c.Notifications.Wants(NotifyWechatApp))

	// Defaults fill in anything the file does not mention.
	assert.Equal(t, 5*time.Minute, c.Interval())
	assert.Equal(t, 5000, c.Api.Port)
	assert.Equal(t, 8080, c.Qbittorrent.Port)
	assert.Equal(t, int64(10*1024), c.HitAndRun.UploadLimitBytes())
	assert.Equal(t, "vertex", c.Vertex.ContainerName)
	assert.True(t, c.Vertex.UseApiUpdate)
	assert.Equal(t, "/tmp/ncwatch/ncwatch.db", c.DatabasePath())
	assert.Equal(t, "Europe/Berlin", c.Location().String())
}

func TestReadConfiguration_TOML(t *testing.T) {
	p := writeFile(t, "config.toml", `
keep_categories = ["keep"]

[system]
interval = 10

[[servers]]
name = "vps1"
ip = "vps1.example.com"

[hit_and_run]
categories = ["hr"]
upload_limit_kb = 20
`)
	c, err := ReadConfiguration(p)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, c.Interval())
	assert.Equal(t, "vps1.example.com", c.Servers[0].IP)
	assert.Equal(t, int64(20*1024), c.HitAndRun.UploadLimitBytes())
	assert.Equal(t, []string{"keep"}, c.KeepCategories)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"duplicate server": `
servers:
  - {name: a, ip: 10.0.0.1}
  - {name: a, ip: 10.0.0.2}
`,
		"invalid ip":       "servers: [{name: a, ip: 'not a host!'}]",
		"missing name":     "servers: [{ip: 10.0.0.1}]",
		"zero hr limit":    "hit_and_run: {upload_limit_kb: 0}",
		"zero interval":    "system: {interval: 0}",
		"unknown timezone": "system: {timezone: Mars/Olympus}",
		"unknown mode":     "notifications: {mode: pigeon}",
		"bad port":         "api: {port: 70000}",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadConfiguration(writeFile(t, "config.yml", content))
			assert.Error(t, err)
		})
	}
}

func TestConfigureTimezone(t *testing.T) {
	t.Setenv("TZ", "Asia/Shanghai")

	sc := SystemConfiguration{}
	require.NoError(t, sc.ConfigureTimezone())
	assert.Equal(t, "Asia/Shanghai", sc.Timezone)
}

func TestGetReturnsSnapshot(t *testing.T) {
	c, err := NewAtPath("")
	require.NoError(t, err)
	Set(c)

	snap := Get()
	snap.Debug = true
	assert.False(t, Get().Debug)
}
