package stats

import (
	"context"
	"time"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/ledger"
)

const trendDays = 7

// ServerTrend holds one value per day of the trend window, oldest first.
type ServerTrend struct {
	// Traffic is the total of both directions in GB, two decimals.
	Traffic []float64 `json:"traffic"`
	// ThrottledHours is the time spent throttled in hours, one decimal.
	ThrottledHours []float64 `json:"health"`
}

type Trend struct {
	Dates   []string               `json:"dates"`
	Servers map[string]ServerTrend `json:"data"`
}

// SevenDayTrend computes the daily traffic and throttled hours of every server
// for the seven calendar days ending with today.
func (a *Aggregator) SevenDayTrend(ctx context.Context, servers []string, now time.Time) (Trend, error) {
	return a.trend(ctx, a.ledger, servers, now)
}

func (a *Aggregator) trend(ctx context.Context, r ledger.Reader, servers []string, now time.Time) (Trend, error) {
	today := a.startOfDay(now)
	days := make([]time.Time, trendDays)
	t := Trend{Dates: make([]string, trendDays), Servers: make(map[string]ServerTrend, len(servers))}
	for i := range days {
		days[i] = today.AddDate(0, 0, i-(trendDays-1))
		t.Dates[i] = days[i].Format("01-02")
	}
	windowStart := days[0]
	windowEnd := endOfDay(today)

	for _, server := range servers {
		st := ServerTrend{Traffic: make([]float64, trendDays), ThrottledHours: make([]float64, trendDays)}

		samples, err := r.SamplesBetween(ctx, server, windowStart, windowEnd)
		if err != nil {
			return t, err
		}
		samples = reachable(samples)
		events, err := r.EventsOverlapping(ctx, server, models.StateLow, windowStart)
		if err != nil {
			return t, err
		}

		for i, start := range days {
			end := endOfDay(start)
			st.Traffic[i] = round(float64(dayTraffic(samplesWithin(samples, start, end)))/(1<<30), 2)

			var throttled time.Duration
			for _, e := range events {
				throttled += e.Overlap(start, end, now)
			}
			st.ThrottledHours[i] = round(throttled.Hours(), 1)
		}
		t.Servers[server] = st
	}
	return t, nil
}

// endOfDay returns 23:59:59.999999 of the day beginning at start.
func endOfDay(start time.Time) time.Time {
	return start.AddDate(0, 0, 1).Add(-time.Microsecond)
}

func samplesWithin(samples []models.TrafficSample, from, to time.Time) []models.TrafficSample {
	var out []models.TrafficSample
	for _, s := range samples {
		at := s.Time()
		if !at.Before(from) && !at.After(to) {
			out = append(out, s)
		}
	}
	return out
}
