package vertex

import (
	"context"
	"net"
	"net/url"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ErrRemoteRestartRefused is returned by Restart when Vertex does not run on
// this host.
var ErrRemoteRestartRefused = errors.Sentinel("vertex: refusing to restart a service that is not local")

// ContainerRestarter is the part of the Docker Engine API used to restart
// Vertex.
type ContainerRestarter interface {
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
}

// IsLocal reports whether the Vertex URL resolves only to loopback addresses.
func (c *Client) IsLocal(ctx context.Context) bool {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, a := range addrs {
		if !a.IP.IsLoopback() {
			return false
		}
	}
	return true
}

// Restart restarts the Vertex container through the local Docker daemon. It is
// refused unless Vertex is reached over a loopback address.
func (c *Client) Restart(ctx context.Context) error {
	if !c.IsLocal(ctx) {
		return errors.WithStack(ErrRemoteRestartRefused)
	}
	if c.docker == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return errors.Wrap(err, "vertex: could not create docker client")
		}
		c.docker = cli
	}
	if err := c.docker.ContainerRestart(ctx, c.container, container.StopOptions{}); err != nil {
		return errors.Wrapf(err, "vertex: could not restart container %s", c.container)
	}

	// The old session does not survive the restart.
	c.mu.Lock()
	c.sid = ""
	c.mu.Unlock()
	log.WithField("container", c.container).Info("restarted vertex container")
	return nil
}
