package scp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const responseTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/">
  <S:Body>
    <ns2:%[1]sResponse xmlns:ns2="http://enduser.service.web.vcp.netcup.de/">%[2]s</ns2:%[1]sResponse>
  </S:Body>
</S:Envelope>`

const faultResponse = `<?xml version="1.0" encoding="UTF-8"?>
<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/">
  <S:Body>
    <S:Fault><faultcode>S:Server</faultcode><faultstring>validation error</faultstring></S:Fault>
  </S:Body>
</S:Envelope>`

type fakePanel struct {
	// account -> vserver -> (ip, throttled)
	accounts map[string]map[string]struct {
		ip        string
		throttled bool
	}
}

func (p fakePanel) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	op := doc.FindElement("//Body/*")
	login := op.SelectElement("loginName").Text()
	servers, ok := p.accounts[login]
	if !ok || op.SelectElement("password").Text() != "secret" {
		rw.WriteHeader(http.StatusInternalServerError)
		_, _ = rw.Write([]byte(faultResponse))
		return
	}

	var inner string
	switch op.Tag {
	case "getVServers":
		for name := range servers {
			inner += "<return>" + name + "</return>"
		}
	case "getVServerInformation":
		s := servers[op.SelectElement("vservername").Text()]
		inner = fmt.Sprintf(`<return><ips>%s</ips><ips>2001:db8::1</ips><serverInterfaces><mac>00:00</mac><trafficThrottled>%t</trafficThrottled></serverInterfaces></return>`, s.ip, s.throttled)
	}
	_, _ = fmt.Fprintf(rw, responseTemplate, op.Tag, inner)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	return New(config.ScpConfiguration{Endpoint: s.URL + "/WSEndUser?wsdl", RequestsPerSecond: 100, Timeout: 5})
}

func TestRefresh(t *testing.T) {
	panel := fakePanel{accounts: map[string]map[string]struct {
		ip        string
		throttled bool
	}{
		"1001": {
			"v1": {"10.0.0.1", true},
			"v2": {"10.0.0.2", false},
			"v3": {"10.0.0.99", true},
		},
	}}
	c := newTestClient(t, panel)

	snap, err := c.Refresh(context.Background(), []config.ScpAccount{{CustomerNumber: "1001", Password: "secret"}}, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"})
	require.NoError(t, err)

	assert.Equal(t, Status{Throttled: true, Known: true}, snap.Status("10.0.0.1"))
	assert.Equal(t, Status{Throttled: false, Known: true}, snap.Status("10.0.0.2"))
	assert.Equal(t, Status{}, snap.Status("10.0.0.3"))
	assert.Len(t, snap, 2, "servers that are not configured are ignored")
}

func TestRefresh_FailingAccount(t *testing.T) {
	panel := fakePanel{accounts: map[string]map[string]struct {
		ip        string
		throttled bool
	}{
		"1001": {"v1": {"10.0.0.1", true}},
	}}
	c := newTestClient(t, panel)

	accounts := []config.ScpAccount{
		{CustomerNumber: "1001", Password: "wrong"},
		{CustomerNumber: "1001", Password: "secret"},
	}
	snap, err := c.Refresh(context.Background(), accounts, []string{"10.0.0.1"})
	require.Error(t, err)
	assert.True(t, remote.IsRejected(err))
	assert.True(t, snap.Status("10.0.0.1").Throttled, "the remaining accounts are still queried")
}

func TestVServerInformation(t *testing.T) {
	panel := fakePanel{accounts: map[string]map[string]struct {
		ip        string
		throttled bool
	}{
		"1001": {"v1": {"10.0.0.1", false}},
	}}
	c := newTestClient(t, panel)

	info, err := c.VServerInformation(context.Background(), config.ScpAccount{CustomerNumber: "1001", Password: "secret"}, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "2001:db8::1"}, info.IPs)
	assert.False(t, info.Throttled)
}

func TestRefresh_RetriesServerErrors(t *testing.T) {
	panel := fakePanel{accounts: map[string]map[string]struct {
		ip        string
		throttled bool
	}{
		"1001": {"v1": {"10.0.0.1", true}},
	}}
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		panel.ServeHTTP(rw, r)
	}))

	snap, err := c.Refresh(context.Background(), []config.ScpAccount{{CustomerNumber: "1001", Password: "secret"}}, []string{"10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, snap.Status("10.0.0.1").Throttled)
	assert.Equal(t, int32(3), calls.Load(), "the busy answer is sent again once")
}

func TestUnavailable(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	s.Close()
	c := New(config.ScpConfiguration{Endpoint: s.URL, RequestsPerSecond: 100, Timeout: 1})

	snap, err := c.Refresh(context.Background(), []config.ScpAccount{{CustomerNumber: "1", Password: "x"}}, []string{"10.0.0.1"})
	assert.True(t, remote.IsUnavailable(err))
	assert.False(t, snap.Status("10.0.0.1").Known)
}

func TestEnvelope(t *testing.T) {
	b, err := envelope("getVServers", param{"loginName", "1001"}, param{"password", "<&>"})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(b))
	op := doc.FindElement("//Body/getVServers")
	require.NotNil(t, op)
	assert.Equal(t, "end", op.Space)
	assert.Equal(t, "<&>", op.SelectElement("password").Text())
}
