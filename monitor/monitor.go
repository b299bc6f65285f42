// Package monitor runs the control loop tick: it asks the control panel which
// servers are throttled, samples their torrent clients, records the result in
// the ledger and brings every managed server in line with its state.
package monitor

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/coder/quartz"
	"github.com/gammazero/workerpool"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/metrics"
	"github.com/ncwatch/ncwatch/notify"
	"github.com/ncwatch/ncwatch/qbittorrent"
	"github.com/ncwatch/ncwatch/remediation"
	"github.com/ncwatch/ncwatch/remote"
	"github.com/ncwatch/ncwatch/scp"
	"github.com/ncwatch/ncwatch/system"
)

// ErrTickRunning is returned by Tick when another tick has not finished yet.
var ErrTickRunning = errors.Sentinel("monitor: tick already running")

// Number of torrent clients sampled at the same time.
const samplers = 4

// Oracle reports which servers are throttled.
type Oracle interface {
	Refresh(ctx context.Context, accounts []config.ScpAccount, addresses []string) (scp.Snapshot, error)
}

// Torrents is the torrent client running on every server.
type Torrents interface {
	remediation.TorrentClient
	TransferInfo(ctx context.Context, host string) (qbittorrent.Transfer, error)
}

// Ledger records one sample per server and tick.
type Ledger interface {
	Record(ctx context.Context, server string, state models.State, up, dl int64) (bool, error)
	RecordUnreachable(ctx context.Context, server string, state models.State) (bool, error)
}

// Rules keeps the RSS rules pointed at the downloaders of unthrottled servers.
type Rules interface {
	SyncClients(ctx context.Context, ruleIDs []string, clients []string) (int, error)
	Restart(ctx context.Context) error
}

// Dispatcher delivers a report without blocking the tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *notify.Report)
}

type Monitor struct {
	ledger   Ledger
	oracle   Oracle
	torrents Torrents
	restore  remediation.RestoreStore

	rules    Rules
	notifier Dispatcher
	health   notify.HealthSource

	clock  quartz.Clock
	config func() *config.Configuration
	locker *system.Locker

	mu           sync.Mutex
	lastNotified time.Time
}

type Option func(m *Monitor)

// WithRules enables keeping the configured RSS rules in sync.
func WithRules(r Rules) Option {
	return func(m *Monitor) {
		m.rules = r
	}
}

// WithNotifier enables status briefs, built from the given health source.
func WithNotifier(d Dispatcher, health notify.HealthSource) Option {
	return func(m *Monitor) {
		m.notifier = d
		m.health = health
	}
}

func WithClock(c quartz.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithConfig replaces the source of the configuration snapshot taken at the
// start of every tick.
func WithConfig(fn func() *config.Configuration) Option {
	return func(m *Monitor) {
		m.config = fn
	}
}

func New(l Ledger, oracle Oracle, torrents Torrents, restore remediation.RestoreStore, opts ...Option) *Monitor {
	m := &Monitor{
		ledger:   l,
		oracle:   oracle,
		torrents: torrents,
		restore:  restore,
		clock:    quartz.NewReal(),
		config:   config.Get,
		locker:   system.NewLocker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick runs one pass over every configured server. ErrTickRunning is returned
// without doing anything if a tick is in progress.
func (m *Monitor) Tick(ctx context.Context) error {
	if err := m.locker.Acquire(); err != nil {
		return ErrTickRunning
	}
	defer m.locker.Release()
	m.tick(ctx)
	return nil
}

// RunNow waits for a running tick to finish and then runs another one. The
// running tick is never interrupted.
func (m *Monitor) RunNow(ctx context.Context) error {
	if err := m.locker.TryAcquire(ctx); err != nil {
		return err
	}
	defer m.locker.Release()
	m.tick(ctx)
	return nil
}

// Running reports whether a tick is in progress.
func (m *Monitor) Running() bool {
	return m.locker.IsLocked()
}

// ResetNotificationClock forgets when the last brief was sent, so the next
// state change is reported regardless of the minimum interval.
func (m *Monitor) ResetNotificationClock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastNotified = time.Time{}
}

type sample struct {
	transfer qbittorrent.Transfer
	err      error
}

func (m *Monitor) tick(ctx context.Context) {
	start := m.clock.Now()
	cfg := m.config()
	log.WithField("servers", len(cfg.Servers)).Info("monitor: starting tick")

	addresses := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		addresses[i] = s.IP
	}
	snap, err := m.oracle.Refresh(ctx, cfg.Scp.Accounts, addresses)
	if err != nil {
		log.WithField("error", err).Warn("monitor: control panel refresh incomplete")
	}

	samples := m.sample(ctx, cfg.Servers)

	automaton, err := remediation.New(remediation.PolicyFromConfig(cfg), m.torrents, m.restore)
	if err != nil {
		log.WithField("error", err).Error("monitor: remediation is disabled for this tick")
	}

	var good []string
	changed := false
	for i, s := range cfg.Servers {
		if ctx.Err() != nil {
			log.WithField("error", ctx.Err()).Warn("monitor: tick cancelled")
			return
		}
		status := snap.Status(s.IP)
		if m.process(ctx, automaton, s, status, samples[i]) {
			changed = true
		}
		if !s.Unmanaged && s.ClientID != "" && !status.Throttled {
			good = append(good, s.ClientID)
		}
	}

	m.syncRules(ctx, cfg.Vertex, good)
	if changed {
		m.maybeNotify(ctx, cfg)
	}

	elapsed := m.clock.Since(start)
	metrics.TickDurationSeconds.Observe(elapsed.Seconds())
	log.WithField("duration", elapsed.String()).Info("monitor: tick finished")
}

// sample reads the transfer counters of every server concurrently.
func (m *Monitor) sample(ctx context.Context, servers []config.ServerConfiguration) []sample {
	out := make([]sample, len(servers))
	pool := workerpool.New(samplers)
	for i, s := range servers {
		i, host := i, s.IP
		pool.Submit(func() {
			t, err := m.torrents.TransferInfo(ctx, host)
			out[i] = sample{transfer: t, err: err}
		})
	}
	pool.StopWait()
	return out
}

// process records the sample of one server and remediates it. It reports
// whether the server changed state.
func (m *Monitor) process(ctx context.Context, automaton *remediation.Automaton, s config.ServerConfiguration, status scp.Status, smp sample) bool {
	logger := log.WithField("server", s.Name)
	if !status.Known {
		logger.Warn("monitor: throttle state unknown, treating server as unthrottled")
	}
	state := models.StateFromThrottled(status.Throttled)

	var changed bool
	var err error
	if smp.err != nil {
		logger.WithField("error", smp.err).Warn("monitor: could not read transfer counters")
		changed, err = m.ledger.RecordUnreachable(ctx, s.Name, state)
	} else {
		changed, err = m.ledger.Record(ctx, s.Name, state, smp.transfer.Up, smp.transfer.Down)
	}
	if err != nil {
		logger.WithField("error", err).Error("monitor: failed to record sample, skipping server")
		return false
	}
	metrics.SetThrottled(s.Name, status.Throttled)
	if changed {
		metrics.StateTransitionsTotal.WithLabelValues(s.Name, string(state)).Inc()
	}

	if s.Unmanaged || automaton == nil {
		return changed
	}
	if remote.IsUnavailable(smp.err) {
		logger.Debug("monitor: torrent client unreachable, skipping remediation")
		return changed
	}
	if err := automaton.Reconcile(ctx, remediation.Target{Name: s.Name, Host: s.IP}, status.Throttled); err != nil {
		logger.WithField("error", err).Error("monitor: remediation failed")
	}
	return changed
}

// syncRules points the configured RSS rules at the given downloaders. A rule
// that cannot be updated gets the RSS service restarted, which is only done
// for a service on this host.
func (m *Monitor) syncRules(ctx context.Context, cfg config.VertexConfiguration, clients []string) {
	if m.rules == nil || !cfg.UseApiUpdate || len(cfg.RssIDs) == 0 {
		return
	}
	n, err := m.rules.SyncClients(ctx, cfg.RssIDs, clients)
	if err == nil {
		if n > 0 {
			log.WithField("rules", n).WithField("clients", clients).Info("monitor: updated rss rules")
		}
		return
	}
	if !remote.IsRejected(err) {
		log.WithField("error", err).Warn("monitor: could not update rss rules")
		return
	}
	log.WithField("error", err).Error("monitor: rss rule update rejected, restarting rss service")
	if err := m.rules.Restart(ctx); err != nil {
		log.WithField("error", err).Error("monitor: failed to restart rss service")
	}
}

func (m *Monitor) maybeNotify(ctx context.Context, cfg *config.Configuration) {
	if m.notifier == nil || m.health == nil || cfg.Notifications.Mode == config.NotifyNone {
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	last := m.lastNotified
	m.mu.Unlock()
	interval := time.Duration(cfg.Notifications.MinInterval) * time.Minute
	if !last.IsZero() && now.Sub(last) < interval {
		log.WithField("last", last).Debug("monitor: state changed, but a brief was sent recently")
		return
	}

	names := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		names[i] = s.Name
	}
	r, err := notify.BuildReport(ctx, m.health, names, now.In(cfg.Location()))
	if err != nil {
		// The interval only starts with a brief that actually went out.
		log.WithField("error", err).Error("monitor: failed to build status brief")
		return
	}

	m.mu.Lock()
	m.lastNotified = now
	m.mu.Unlock()
	m.notifier.Dispatch(ctx, r)
}
