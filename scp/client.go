package scp

import (
	"context"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/juju/ratelimit"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const collaborator = "scp"

// Client queries the server control panel web service for the throttle state
// of the servers of one or more customer accounts.
type Client struct {
	http     *remote.Client
	endpoint string
	bucket   *ratelimit.Bucket
}

func New(cfg config.ScpConfiguration, opts ...remote.ClientOption) *Client {
	// Listing servers and reading their status is safe to repeat.
	opts = append([]remote.ClientOption{
		remote.WithTimeout(time.Duration(cfg.Timeout) * time.Second),
		remote.WithAttempts(2),
	}, opts...)
	return &Client{
		http:     remote.NewClient(collaborator, opts...),
		endpoint: strings.TrimSuffix(cfg.Endpoint, "?wsdl"),
		bucket:   ratelimit.NewBucketWithRate(cfg.RequestsPerSecond, 1),
	}
}

// wait blocks until the rate limit allows another request.
func (c *Client) wait(ctx context.Context) error {
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return remote.Unavailable(collaborator, ctx.Err())
	case <-t.C:
		return nil
	}
}

func credentials(acc config.ScpAccount) []param {
	return []param{{"loginName", acc.CustomerNumber}, {"password", acc.Password}}
}

// VServers lists the names of the servers of an account.
func (c *Client) VServers(ctx context.Context, acc config.ScpAccount) ([]string, error) {
	doc, err := c.call(ctx, "getVServers", credentials(acc)...)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, el := range doc.FindElements("//return") {
		if n := strings.TrimSpace(el.Text()); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// VServerInformation is the part of a server's details ncwatch uses.
type VServerInformation struct {
	Name string
	IPs  []string
	// Throttled is the state of the first network interface.
	Throttled bool
}

// VServerInformation returns the addresses and throttle state of a server.
func (c *Client) VServerInformation(ctx context.Context, acc config.ScpAccount, name string) (VServerInformation, error) {
	info := VServerInformation{Name: name}
	doc, err := c.call(ctx, "getVServerInformation", append(credentials(acc), param{"vservername", name})...)
	if err != nil {
		return info, err
	}
	ret := doc.FindElement("//return")
	if ret == nil {
		return info, errors.WithStack(remote.NewRequestError(collaborator, "getVServerInformation: empty response for "+name))
	}
	for _, el := range ret.SelectElements("ips") {
		info.IPs = append(info.IPs, strings.TrimSpace(el.Text()))
	}
	if iface := ret.SelectElement("serverInterfaces"); iface != nil {
		if el := iface.SelectElement("trafficThrottled"); el != nil {
			info.Throttled = strings.EqualFold(strings.TrimSpace(el.Text()), "true")
		}
	}
	return info, nil
}

// Status is the throttle state of a server as known to the control panel.
type Status struct {
	Throttled bool
	// Known is false when no account reported the address, for example because
	// the control panel could not be reached.
	Known bool
}

// Snapshot maps server addresses onto their throttle state at the time of one
// refresh.
type Snapshot map[string]bool

func (s Snapshot) Status(ip string) Status {
	t, ok := s[ip]
	return Status{Throttled: t, Known: ok}
}

// Refresh asks every account for its servers and records the throttle state
// of those whose first address is one of addresses. A failing account is
// logged and skipped; the returned error combines every failure.
func (c *Client) Refresh(ctx context.Context, accounts []config.ScpAccount, addresses []string) (Snapshot, error) {
	wanted := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		wanted[a] = true
	}

	snap := make(Snapshot)
	var errs []error
	for _, acc := range accounts {
		if err := c.refreshAccount(ctx, acc, wanted, snap); err != nil {
			log.WithFields(log.Fields{"account": acc.CustomerNumber, "error": err}).Error("failed to query control panel account")
			errs = append(errs, err)
		}
	}
	return snap, errors.Combine(errs...)
}

func (c *Client) refreshAccount(ctx context.Context, acc config.ScpAccount, wanted map[string]bool, snap Snapshot) error {
	names, err := c.VServers(ctx, acc)
	if err != nil {
		return err
	}
	for _, name := range names {
		info, err := c.VServerInformation(ctx, acc, name)
		if err != nil {
			return err
		}
		if len(info.IPs) > 0 && wanted[info.IPs[0]] {
			snap[info.IPs[0]] = info.Throttled
		}
	}
	return nil
}
