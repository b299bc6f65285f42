package cmd

import (
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/coder/quartz"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/internal/database"
	"github.com/ncwatch/ncwatch/ledger"
	"github.com/ncwatch/ncwatch/monitor"
	"github.com/ncwatch/ncwatch/notify"
	"github.com/ncwatch/ncwatch/qbittorrent"
	"github.com/ncwatch/ncwatch/scp"
	"github.com/ncwatch/ncwatch/stats"
	"github.com/ncwatch/ncwatch/vertex"
)

// daemon holds everything a tick and the HTTP API need.
type daemon struct {
	clock    quartz.Clock
	store    *ledger.Store
	stats    *stats.Aggregator
	notifier *notify.Notifier
	monitor  *monitor.Monitor
}

// bootstrap opens the ledger and wires the collaborators named in the
// configuration into a monitor.
func bootstrap(c *config.Configuration) (*daemon, error) {
	if err := c.System.ConfigureDirectories(); err != nil {
		return nil, errors.WithMessage(err, "failed to configure system directories")
	}
	if err := database.Initialize(c.DatabasePath()); err != nil {
		return nil, errors.WithMessage(err, "failed to open ledger database")
	}
	log.WithField("path", c.DatabasePath()).Info("opened ledger database")

	d := &daemon{clock: quartz.NewReal()}
	db := database.Instance()
	d.store = ledger.New(db, d.clock)
	d.stats = stats.NewAggregator(d.store, c.Location())
	d.notifier = notify.FromConfig(c.Notifications)
	channels := make([]string, 0, len(d.notifier.Sinks()))
	for _, s := range d.notifier.Sinks() {
		channels = append(channels, s.Name())
	}
	log.WithField("mode", c.Notifications.Mode).WithField("channels", channels).Info("configured status brief channels")

	opts := []monitor.Option{
		monitor.WithClock(d.clock),
		monitor.WithNotifier(d.notifier, d.stats),
	}
	if c.Vertex.Enabled() {
		opts = append(opts, monitor.WithRules(vertex.New(c.Vertex)))
		log.WithField("url", c.Vertex.BaseURL()).WithField("rules", c.Vertex.RssIDs).Info("keeping rss rules in sync")
	}
	d.monitor = monitor.New(
		d.store,
		scp.New(c.Scp),
		qbittorrent.New(c.Qbittorrent),
		ledger.NewRestoreStore(db, d.clock),
		opts...,
	)

	for _, s := range c.Servers {
		log.WithFields(log.Fields{"server": s.Name, "unmanaged": s.Unmanaged}).Info("loaded configuration for server")
	}
	return d, nil
}
