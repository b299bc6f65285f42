package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncwatch/ncwatch/internal/database"
	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/ledger"
)

// A Wednesday, early enough in the month that a week of history still starts
// inside it.
var now = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*Aggregator, *ledger.Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ncwatch.db"))
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(now)
	store := ledger.New(db, clock)
	return NewAggregator(store, time.UTC), store
}

func record(t *testing.T, s *ledger.Store, server string, state models.State, up, dl int64, at time.Time) {
	t.Helper()
	_, err := s.RecordAt(context.Background(), server, state, up, dl, at)
	require.NoError(t, err)
}

func TestMonthlyAndDailyTotals_ResetRule(t *testing.T) {
	a, s := newTestAggregator(t)
	base := now.Add(-3 * time.Hour)
	for i, u := range []int64{0, 100, 40, 90} {
		record(t, s, "vps1", models.StateHigh, u, u*2, base.Add(time.Duration(i)*time.Minute))
	}

	totals, err := a.MonthlyAndDailyTotals(context.Background(), "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(190), totals.UpMonth)
	assert.Equal(t, int64(190), totals.UpToday)
	assert.Equal(t, int64(380), totals.DlMonth)
	assert.Equal(t, int64(90), totals.UpCurrent)
	assert.Equal(t, int64(180), totals.DlCurrent)
	assert.Equal(t, 190.0, totals.UpDailyAvg, "observed for less than a day")
}

func TestMonthlyAndDailyTotals_Empty(t *testing.T) {
	a, _ := newTestAggregator(t)

	totals, err := a.MonthlyAndDailyTotals(context.Background(), "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, TrafficTotals{}, totals)
}

func TestMonthlyAndDailyTotals_DailyAverage(t *testing.T) {
	a, s := newTestAggregator(t)
	first := now.Add(-50 * time.Hour)
	record(t, s, "vps1", models.StateHigh, 0, 0, first)
	record(t, s, "vps1", models.StateHigh, 300, 600, now.Add(-30*time.Hour))
	record(t, s, "vps1", models.StateHigh, 400, 900, now.Add(-time.Hour))

	totals, err := a.MonthlyAndDailyTotals(context.Background(), "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(400), totals.UpMonth)
	assert.Equal(t, int64(100), totals.UpToday)
	assert.Equal(t, int64(300), totals.DlToday)
	// 50 hours is three started days.
	assert.InDelta(t, 400.0/3, totals.UpDailyAvg, 0.001)
	assert.InDelta(t, 300.0, totals.DlDailyAvg, 0.001)
}

func TestMonthlyAndDailyTotals_SkipsUnreachable(t *testing.T) {
	a, s := newTestAggregator(t)
	record(t, s, "vps1", models.StateHigh, 1000, 1000, now.Add(-2*time.Hour))
	_, err := s.RecordUnreachable(context.Background(), "vps1", models.StateHigh)
	require.NoError(t, err)
	record(t, s, "vps1", models.StateHigh, 1500, 1200, now.Add(time.Minute))

	totals, err := a.MonthlyAndDailyTotals(context.Background(), "vps1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(500), totals.UpMonth)
	assert.Equal(t, int64(200), totals.DlMonth)
}

func TestCurrentHealth_Scenario(t *testing.T) {
	ctx := context.Background()
	a, s := newTestAggregator(t)

	h, err := a.CurrentHealth(ctx, "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnknown, h.State)
	assert.Zero(t, h.CurrentDuration)

	start := now.Add(-10 * time.Minute)
	record(t, s, "vps1", models.StateHigh, 0, 0, start)
	record(t, s, "vps1", models.StateLow, 10, 5, start.Add(300*time.Second))

	h, err = a.CurrentHealth(ctx, "vps1", start.Add(300*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StateLow, h.State)
	assert.Zero(t, h.CurrentDuration)
	assert.Zero(t, h.TodayThrottled)

	h, err = a.CurrentHealth(ctx, "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, h.CurrentDuration)
	assert.Equal(t, 5*time.Minute, h.TodayThrottled)
	assert.Equal(t, 5*time.Minute, h.AvgDailyThrottled)

	later, err := a.CurrentHealth(ctx, "vps1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Greater(t, later.TodayThrottled, h.TodayThrottled)
	assert.GreaterOrEqual(t, later.CurrentDuration, h.CurrentDuration)
}

func TestCurrentHealth_TodayClipsAtMidnight(t *testing.T) {
	a, s := newTestAggregator(t)
	midnight := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	record(t, s, "vps1", models.StateLow, 0, 0, midnight.Add(-2*time.Hour))
	record(t, s, "vps1", models.StateHigh, 0, 0, midnight.Add(3*time.Hour))

	h, err := a.CurrentHealth(context.Background(), "vps1", now)
	require.NoError(t, err)
	assert.Equal(t, models.StateHigh, h.State)
	assert.Equal(t, 3*time.Hour, h.TodayThrottled)
	// Observed for fourteen hours, so a single started day.
	assert.Equal(t, 5*time.Hour, h.AvgDailyThrottled)
}

func TestSevenDayTrend(t *testing.T) {
	a, s := newTestAggregator(t)
	today := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	day2 := today.AddDate(0, 0, -5)
	day4 := today.AddDate(0, 0, -3)

	record(t, s, "vps1", models.StateHigh, 0, 0, day2.Add(-time.Hour))
	record(t, s, "vps1", models.StateLow, 1<<30, 0, day2)
	record(t, s, "vps1", models.StateLow, 1<<30, 1<<30, day2.Add(20*time.Hour))
	record(t, s, "vps1", models.StateHigh, 1<<30, 1<<30, day4)

	trend, err := a.SevenDayTrend(context.Background(), []string{"vps1", "vps2"}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"05-09", "05-10", "05-11", "05-12", "05-13", "05-14", "05-15"}, trend.Dates)

	vps1 := trend.Servers["vps1"]
	assert.Equal(t, []float64{0, 24, 24, 0, 0, 0, 0}, vps1.ThrottledHours)
	// The day's first sample is the baseline, so only the download counted.
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 0, 0}, vps1.Traffic)

	vps2 := trend.Servers["vps2"]
	assert.Equal(t, make([]float64, 7), vps2.Traffic)
	assert.Equal(t, make([]float64, 7), vps2.ThrottledHours)
}

func TestOverview(t *testing.T) {
	a, s := newTestAggregator(t)
	record(t, s, "vps1", models.StateHigh, 0, 0, now.Add(-time.Hour))
	record(t, s, "vps2", models.StateLow, 0, 0, now.Add(-time.Hour))

	servers := []ServerRef{{Name: "vps1", IP: "10.0.0.1"}, {Name: "vps2", IP: "10.0.0.2"}, {Name: "vps3", IP: "10.0.0.3"}}

	o, err := a.Overview(context.Background(), servers, now, false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, High: 1, Low: 1, Offline: 1}, o.Summary)
	assert.Equal(t, "2024-05-15 12:00:00", o.LastUpdated)
	require.Len(t, o.Servers, 3)
	assert.Empty(t, o.Servers[0].IP)
	assert.Equal(t, models.StateUnknown, o.Servers[2].Status)
	assert.Len(t, o.Trends.Servers, 3)

	o, err = a.Overview(context.Background(), servers, now, true)
	require.NoError(t, err)
	assert.True(t, o.IsAdmin)
	assert.Equal(t, "10.0.0.2", o.Servers[1].IP)
}
