package stats

import (
	"context"
	"time"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/ledger"
)

// TrafficTotals is the transfer accounting of one server for the current day
// and month. Byte values, averages in bytes per day.
type TrafficTotals struct {
	UpToday    int64   `json:"up_today"`
	DlToday    int64   `json:"dl_today"`
	UpMonth    int64   `json:"up_month"`
	DlMonth    int64   `json:"dl_month"`
	UpCurrent  int64   `json:"qb_current_up"`
	DlCurrent  int64   `json:"qb_current_dl"`
	UpDailyAvg float64 `json:"up_daily_avg"`
	DlDailyAvg float64 `json:"dl_daily_avg"`
}

// MonthlyAndDailyTotals accounts the traffic of the server since the start of
// the month containing now.
func (a *Aggregator) MonthlyAndDailyTotals(ctx context.Context, server string, now time.Time) (TrafficTotals, error) {
	return a.totals(ctx, a.ledger, server, now)
}

func (a *Aggregator) totals(ctx context.Context, r ledger.Reader, server string, now time.Time) (TrafficTotals, error) {
	var t TrafficTotals

	monthStart := a.startOfMonth(now)
	todayStart := a.startOfDay(now)

	samples, err := r.SamplesBetween(ctx, server, monthStart, now)
	if err != nil {
		return t, err
	}
	samples = reachable(samples)
	if len(samples) == 0 {
		return t, nil
	}

	prev := samples[0]
	for _, curr := range samples[1:] {
		du := counterDelta(prev.UpTotal, curr.UpTotal)
		dd := counterDelta(prev.DlTotal, curr.DlTotal)
		t.UpMonth += du
		t.DlMonth += dd
		if !curr.Time().Before(todayStart) {
			t.UpToday += du
			t.DlToday += dd
		}
		prev = curr
	}
	last := samples[len(samples)-1]
	t.UpCurrent, t.DlCurrent = last.UpTotal, last.DlTotal

	effectiveStart := monthStart
	if first, ok, err := r.FirstSampleTime(ctx, server); err != nil {
		return t, err
	} else if ok && first.After(effectiveStart) {
		effectiveStart = first
	}
	days := elapsedDays(effectiveStart, now)
	t.UpDailyAvg = float64(t.UpMonth) / days
	t.DlDailyAvg = float64(t.DlMonth) / days
	return t, nil
}

// dayTraffic returns the bytes transferred, up and down together, between the
// given samples of a single day. The first sample is the baseline.
func dayTraffic(samples []models.TrafficSample) int64 {
	if len(samples) == 0 {
		return 0
	}
	var total int64
	prev := samples[0]
	for _, curr := range samples[1:] {
		total += counterDelta(prev.UpTotal, curr.UpTotal) + counterDelta(prev.DlTotal, curr.DlTotal)
		prev = curr
	}
	return total
}

// reachable drops samples taken while the torrent client was unavailable. Their
// counters are zero and would otherwise look like a reset.
func reachable(samples []models.TrafficSample) []models.TrafficSample {
	out := samples[:0:0]
	for _, s := range samples {
		if s.Reachable {
			out = append(out, s)
		}
	}
	return out
}
