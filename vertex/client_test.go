package vertex

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"emperror.dev/errors"
	"github.com/Jeffail/gabs/v2"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

type fakeVertex struct {
	mu      sync.Mutex
	logins  int
	updates []*gabs.Container
	rules   string
	// rejectUpdates makes every rule update fail.
	rejectUpdates bool
	// busy is the number of rule listings answered with a gateway error.
	busy int
}

func (v *fakeVertex) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	authed := false
	if ck, err := r.Cookie("connect.sid"); err == nil && ck.Value == "fresh" {
		authed = true
	}
	switch r.URL.Path {
	case "/login":
		_, _ = rw.Write([]byte("<html></html>"))
	case "/api/user/login":
		v.logins++
		b, _ := io.ReadAll(r.Body)
		doc, _ := gabs.ParseJSON(b)
		sum := md5.Sum([]byte("hunter2"))
		if doc.Path("password").Data() != hex.EncodeToString(sum[:]) {
			_, _ = rw.Write([]byte(`{"success":false,"message":"wrong password"}`))
			return
		}
		http.SetCookie(rw, &http.Cookie{Name: "connect.sid", Value: "fresh"})
		rw.Header().Set("Location", "/")
		rw.WriteHeader(http.StatusFound)
	case "/api/rss/list":
		if v.busy > 0 {
			v.busy--
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		if !authed {
			_, _ = rw.Write([]byte("<html>login</html>"))
			return
		}
		_, _ = rw.Write([]byte(v.rules))
	case "/api/rss/modify":
		if !authed || v.rejectUpdates {
			_, _ = rw.Write([]byte(`{"success":false,"message":"nope"}`))
			return
		}
		b, _ := io.ReadAll(r.Body)
		doc, _ := gabs.ParseJSON(b)
		v.updates = append(v.updates, doc)
		_, _ = rw.Write([]byte(`{"success":true,"message":"修改 Rss 成功"}`))
	default:
		rw.WriteHeader(http.StatusNotFound)
	}
}

const rulesJSON = `{"success":true,"data":[
	{"id":"r1","alias":"main","enable":true,"clientArr":["c1","c2"],"cron":"*/5 * * * *"},
	{"id":"r2","alias":"other","enable":true,"clientArr":["c1"]},
	{"id":"r3","alias":"same","enable":true,"clientArr":["c2","c1"]}
]}`

type fakeDocker struct {
	restarted []string
}

func (d *fakeDocker) ContainerRestart(_ context.Context, id string, _ container.StopOptions) error {
	d.restarted = append(d.restarted, id)
	return nil
}

func newTestClient(t *testing.T, v *fakeVertex, opts ...Option) *Client {
	t.Helper()
	s := httptest.NewServer(v)
	t.Cleanup(s.Close)
	return New(config.VertexConfiguration{
		URL:           s.URL,
		Username:      "admin",
		Password:      "hunter2",
		ConnectSID:    "stale",
		ContainerName: "vertex",
	}, opts...)
}

func TestListRules_RenewsSession(t *testing.T) {
	v := &fakeVertex{rules: rulesJSON}
	c := newTestClient(t, v)

	rules, err := c.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "r1", rules[0].ID())
	assert.Equal(t, "main", rules[0].Alias())
	assert.Equal(t, []string{"c1", "c2"}, rules[0].Clients())
	assert.Equal(t, 2, v.logins, "the plain password is tried first, then its digest")
	assert.Equal(t, "fresh", c.session())
}

func TestListRules_ConcurrentLoginsCollapse(t *testing.T) {
	v := &fakeVertex{rules: rulesJSON}
	c := newTestClient(t, v)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListRules(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, v.logins, 10)
	assert.Equal(t, "fresh", c.session())
}

func TestSyncClients(t *testing.T) {
	v := &fakeVertex{rules: rulesJSON}
	c := newTestClient(t, v)

	n, err := c.SyncClients(context.Background(), []string{"r1", "r3"}, []string{"c2", "c1", "c1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "both selected rules already use the same set")

	n, err = c.SyncClients(context.Background(), []string{"r1", "r2"}, []string{"c2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, v.updates, 2)
	assert.Equal(t, "*/5 * * * *", v.updates[0].Path("cron").Data(), "unknown fields are posted back")
	assert.Equal(t, []interface{}{"c2"}, v.updates[0].Path("clientArr").Data())

	v.updates = nil
	_, err = c.SyncClients(context.Background(), []string{"r1"}, nil)
	require.NoError(t, err)
	require.Len(t, v.updates, 1)
	assert.Equal(t, false, v.updates[0].Path("enable").Data(), "a rule without downloaders is disabled")
}

func TestSyncClients_Rejected(t *testing.T) {
	v := &fakeVertex{rules: rulesJSON, rejectUpdates: true}
	c := newTestClient(t, v)

	n, err := c.SyncClients(context.Background(), []string{"r2"}, []string{"c9"})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, remote.IsRejected(err))
}

func TestListRules_RetriesServerErrors(t *testing.T) {
	v := &fakeVertex{rules: rulesJSON, busy: 1}
	c := newTestClient(t, v)
	c.sid = "fresh"

	rules, err := c.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 3)
	assert.Zero(t, v.busy)

	// Two attempts with the current session, then two more after logging in.
	v.busy = 4
	_, err = c.ListRules(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsRejected(err), "a gateway error that outlasts the retry is an answer")
	assert.Zero(t, v.busy)
}

func TestListRules_Unavailable(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	s.Close()
	c := New(config.VertexConfiguration{URL: s.URL, Username: "admin", Password: "x"})

	_, err := c.ListRules(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsUnavailable(err))
}

func TestRestart(t *testing.T) {
	d := &fakeDocker{}
	c := newTestClient(t, &fakeVertex{}, WithDocker(d))

	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, []string{"vertex"}, d.restarted)
	assert.Empty(t, c.session())

	remoteClient := New(config.VertexConfiguration{URL: "http://192.0.2.10:3000", ContainerName: "vertex"}, WithDocker(d))
	err := remoteClient.Restart(context.Background())
	assert.True(t, errors.Is(err, ErrRemoteRestartRefused))
	assert.Len(t, d.restarted, 1)
}

func TestRule_SetClients(t *testing.T) {
	doc, err := gabs.ParseJSON([]byte(`{"id": 7, "enable": false, "clientArr": []}`))
	require.NoError(t, err)
	r := &Rule{c: doc}

	assert.Equal(t, "7", r.ID())
	r.SetClients([]string{"a"})
	assert.True(t, r.Enabled())
	assert.Equal(t, []string{"a"}, r.Clients())
}
