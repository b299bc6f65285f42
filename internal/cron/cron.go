package cron

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron"

	"github.com/ncwatch/ncwatch/monitor"
	"github.com/ncwatch/ncwatch/system"
)

const tickTag = "tick"

// Ticker runs control loop ticks.
type Ticker interface {
	Tick(ctx context.Context) error
	RunNow(ctx context.Context) error
}

// Scheduler runs a tick every interval, starting right away, and on demand.
type Scheduler struct {
	ctx     context.Context
	s       *gocron.Scheduler
	ticker  Ticker
	pending *system.AtomicBool
}

// New configures the scheduler. Ticks run in the given timezone and receive ctx.
func New(ctx context.Context, t Ticker, loc *time.Location, interval time.Duration) (*Scheduler, error) {
	if interval < time.Minute {
		return nil, errors.Errorf("cron: interval %s is shorter than a minute", interval)
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		ctx:     ctx,
		s:       gocron.NewScheduler(loc),
		ticker:  t,
		pending: system.NewAtomicBool(false),
	}
	_, err := s.s.Tag(tickTag).Every(interval).StartImmediately().Do(func() {
		if err := t.Tick(ctx); err != nil {
			if errors.Is(err, monitor.ErrTickRunning) {
				log.WithField("cron", tickTag).Warn("cron: tick is already running, skipping...")
			} else {
				log.WithField("error", err).Error("cron: failed to run tick")
			}
		}
		log.WithField("next_run", s.NextRun()).Debug("cron: tick finished")
	})
	if err != nil {
		return nil, errors.Wrap(err, "cron: failed to schedule tick")
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.s.StartAsync()
}

// Stop stops scheduling new ticks and waits for the running one.
func (s *Scheduler) Stop() {
	s.s.Stop()
}

// NextRun returns the time of the next scheduled tick.
func (s *Scheduler) NextRun() time.Time {
	_, t := s.s.NextRun()
	return t
}

// Trigger queues an on-demand tick that runs as soon as the current one, if
// any, is done. It returns false when one is already queued.
func (s *Scheduler) Trigger() bool {
	if !s.pending.SwapIf(true) {
		return false
	}
	go func() {
		defer s.pending.Store(false)
		if err := s.ticker.RunNow(s.ctx); err != nil {
			log.WithField("error", err).Warn("cron: on-demand tick did not run")
		}
	}()
	return true
}
