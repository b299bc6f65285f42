// Package notify sends the server status brief to the configured chat
// channels.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/remote"
)

const (
	sendTimeout = 15 * time.Second
	// A sink gets this long, retries included, before the report is dropped.
	dispatchTimeout = time.Minute
	maxRetries      = 2
)

// Notifier fans a report out to every sink in the background.
type Notifier struct {
	sinks []Sink
	wg    sync.WaitGroup

	// initialInterval is the first wait between two attempts.
	initialInterval time.Duration
}

func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, initialInterval: 2 * time.Second}
}

// FromConfig returns a notifier with the sinks selected by the notification
// mode. Channels that cannot be set up are logged and skipped.
func FromConfig(cfg config.NotificationConfiguration) *Notifier {
	var sinks []Sink
	if cfg.Wants(config.NotifyTelegram) {
		if t, err := NewTelegram(cfg.Telegram); err != nil {
			log.WithField("error", err).Warn("notify: telegram is disabled")
		} else {
			sinks = append(sinks, t)
		}
	}
	if cfg.Wants(config.NotifyWechat) {
		sinks = append(sinks, NewWechat(cfg.Wechat))
	}
	if cfg.Wants(config.NotifyWechatApp) {
		sinks = append(sinks, NewWechatApp(cfg.WechatApp))
	}
	return NewNotifier(sinks...)
}

// Sinks returns the channels reports are delivered to.
func (n *Notifier) Sinks() []Sink {
	return n.sinks
}

// Dispatch starts delivering the report to every sink and returns right away.
// Deliveries outlive ctx's cancellation but are bounded by their own timeout.
func (n *Notifier) Dispatch(ctx context.Context, r *Report) {
	for _, s := range n.sinks {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
			defer cancel()

			if err := n.send(ctx, s, r); err != nil {
				log.WithField("sink", s.Name()).WithField("error", err).Error("notify: failed to deliver report")
				return
			}
			log.WithField("sink", s.Name()).Info("notify: report delivered")
		}(s)
	}
}

// Wait blocks until every dispatched delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(ctx context.Context, s Sink, r *Report) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.initialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	return backoff.Retry(func() error {
		err := s.Send(ctx, r)
		if err == nil || remote.IsUnavailable(err) {
			return err
		}
		if re := remote.AsRequestError(err); re != nil && re.StatusCode() >= http.StatusInternalServerError {
			return err
		}
		// The channel refused the message, sending it again will not help.
		return backoff.Permanent(err)
	}, b)
}
