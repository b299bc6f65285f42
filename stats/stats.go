package stats

import (
	"context"
	"math"
	"time"

	"github.com/ncwatch/ncwatch/ledger"
)

const day = 24 * time.Hour

// Ledger is the part of the sample store the statistics are computed from.
type Ledger interface {
	ledger.Reader
	View(ctx context.Context, fn func(r ledger.Reader) error) error
}

// Aggregator derives traffic totals and throttle health from the ledger.
// Calendar days and months are taken in loc.
type Aggregator struct {
	ledger Ledger
	loc    *time.Location
}

func NewAggregator(l Ledger, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{ledger: l, loc: loc}
}

func (a *Aggregator) startOfDay(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

func (a *Aggregator) startOfMonth(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, a.loc)
}

// elapsedDays returns the number of started days between from and to, never
// less than one.
func elapsedDays(from, to time.Time) float64 {
	return math.Max(1, math.Ceil(to.Sub(from).Hours()/24))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// counterDelta applies the reset rule: a counter that went backwards was reset
// by a client restart, so everything it shows now was transferred since.
func counterDelta(prev, curr int64) int64 {
	if d := curr - prev; d >= 0 {
		return d
	}
	return curr
}
