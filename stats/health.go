package stats

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/ledger"
)

// Health is the throttle history of one server.
type Health struct {
	State             models.State
	CurrentDuration   time.Duration
	TodayThrottled    time.Duration
	AvgDailyThrottled time.Duration
}

// MarshalJSON renders the durations in seconds.
func (h Health) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CurrentDuration   float64 `json:"current_duration"`
		TodayThrottled    float64 `json:"today_throttled"`
		AvgDailyThrottled float64 `json:"avg_daily_throttled"`
	}{
		CurrentDuration:   h.CurrentDuration.Seconds(),
		TodayThrottled:    h.TodayThrottled.Seconds(),
		AvgDailyThrottled: h.AvgDailyThrottled.Seconds(),
	})
}

// CurrentHealth reports the current state of the server and how much of today,
// and of an average day, it spent throttled.
func (a *Aggregator) CurrentHealth(ctx context.Context, server string, now time.Time) (Health, error) {
	return a.health(ctx, a.ledger, server, now)
}

func (a *Aggregator) health(ctx context.Context, r ledger.Reader, server string, now time.Time) (Health, error) {
	h := Health{State: models.StateUnknown}

	open, err := r.OpenEvent(ctx, server)
	if err != nil {
		return h, err
	}
	if open != nil {
		h.State = open.State
		h.CurrentDuration = now.Sub(open.Start())
		if stored := open.Elapsed(); stored > h.CurrentDuration {
			h.CurrentDuration = stored
		}
		if h.CurrentDuration < 0 {
			h.CurrentDuration = 0
		}
	}

	todayStart := a.startOfDay(now)
	events, err := r.EventsOverlapping(ctx, server, models.StateLow, todayStart)
	if err != nil {
		return h, err
	}
	for _, e := range events {
		h.TodayThrottled += e.Overlap(todayStart, now, now)
	}

	lowTotal, err := r.ClosedDuration(ctx, server, models.StateLow)
	if err != nil {
		return h, err
	}
	if h.State == models.StateLow {
		lowTotal += h.CurrentDuration
	}
	days := 1.0
	if first, ok, err := r.FirstSampleTime(ctx, server); err != nil {
		return h, err
	} else if ok {
		days = elapsedDays(first, now)
	}
	h.AvgDailyThrottled = time.Duration(float64(lowTotal) / days)
	return h, nil
}
