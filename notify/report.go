package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/stats"
)

const title = "📊 服务器状态简报"

// HealthSource is the part of the statistics aggregator a report is built from.
type HealthSource interface {
	CurrentHealth(ctx context.Context, server string, now time.Time) (stats.Health, error)
}

// Line is the status of a single server in a report.
type Line struct {
	Name            string
	State           models.State
	CurrentDuration time.Duration
	TodayHigh       time.Duration
	TodayThrottled  time.Duration
}

// Report is the status brief sent after a state change.
type Report struct {
	Time  time.Time
	Lines []Line
}

// BuildReport collects the health of every server. The calendar day is taken
// in the location of now.
func BuildReport(ctx context.Context, source HealthSource, servers []string, now time.Time) (*Report, error) {
	r := &Report{Time: now, Lines: make([]Line, 0, len(servers))}
	y, m, d := now.Date()
	elapsed := now.Sub(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))

	for _, name := range servers {
		h, err := source.CurrentHealth(ctx, name, now)
		if err != nil {
			return nil, err
		}
		high := elapsed - h.TodayThrottled
		if high < 0 {
			log.WithFields(log.Fields{
				"server":          name,
				"today_throttled": h.TodayThrottled.String(),
				"elapsed":         elapsed.String(),
			}).Warn("notify: throttled time exceeds the elapsed part of the day, clamping")
			high = 0
		}
		r.Lines = append(r.Lines, Line{
			Name:            name,
			State:           h.State,
			CurrentDuration: h.CurrentDuration,
			TodayHigh:       high,
			TodayThrottled:  h.TodayThrottled,
		})
	}
	return r, nil
}

// FormatDuration renders d as whole hours and minutes, e.g. "3h5m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func icon(s models.State) string {
	if s == models.StateHigh {
		return "✅ 高速"
	}
	return "⚠️ 限速"
}

func (l Line) current() string {
	return fmt.Sprintf("当前: %s (持续 %s)", icon(l.State), FormatDuration(l.CurrentDuration))
}

func (l Line) today() string {
	return fmt.Sprintf("今日: 高速 %s | 限速 %s\n", FormatDuration(l.TodayHigh), FormatDuration(l.TodayThrottled))
}

func (r *Report) clock() string {
	return r.Time.Format("15:04")
}

// HTML renders the report for Telegram.
func (r *Report) HTML() string {
	lines := []string{fmt.Sprintf("📊 <b>服务器状态简报</b> (%s)", r.clock()), ""}
	for _, l := range r.Lines {
		lines = append(lines, "<b>"+html.EscapeString(l.Name)+"</b>", l.current(), l.today())
	}
	return strings.Join(lines, "\n")
}

// Markdown renders the report for a WeCom group robot.
func (r *Report) Markdown() string {
	lines := []string{fmt.Sprintf("### %s (%s)", title, r.clock())}
	for _, l := range r.Lines {
		lines = append(lines, "**"+l.Name+"**", "> "+l.current(), "> "+l.today())
	}
	return strings.Join(lines, "\n")
}

// Text renders the report as plain text.
func (r *Report) Text() string {
	lines := []string{fmt.Sprintf("%s (%s)", title, r.clock()), ""}
	for _, l := range r.Lines {
		lines = append(lines, "【"+l.Name+"】", l.current(), l.today())
	}
	return strings.Join(lines, "\n")
}
