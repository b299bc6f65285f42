package stats

import (
	"context"
	"time"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/ledger"
)

// ServerRef identifies a configured server for the overview.
type ServerRef struct {
	Name string
	IP   string
}

type ServerOverview struct {
	Name    string        `json:"name"`
	IP      string        `json:"ip,omitempty"`
	Status  models.State  `json:"status"`
	Traffic TrafficTotals `json:"traffic"`
	Health  Health        `json:"health"`
}

// Summary counts servers per state. Servers without any event count as
// offline.
type Summary struct {
	Total   int `json:"total"`
	High    int `json:"high"`
	Low     int `json:"low"`
	Offline int `json:"offline"`
}

type Overview struct {
	Servers     []ServerOverview `json:"servers"`
	Summary     Summary          `json:"summary"`
	IsAdmin     bool             `json:"is_admin"`
	LastUpdated string           `json:"last_updated"`
	Trends      Trend            `json:"trends"`
}

// Overview builds the dashboard document for the given servers from a single
// consistent snapshot of the ledger. Addresses are only included when
// revealAddresses is set.
func (a *Aggregator) Overview(ctx context.Context, servers []ServerRef, now time.Time, revealAddresses bool) (*Overview, error) {
	o := &Overview{
		Servers:     make([]ServerOverview, 0, len(servers)),
		IsAdmin:     revealAddresses,
		LastUpdated: now.In(a.loc).Format("2006-01-02 15:04:05"),
	}
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}

	err := a.ledger.View(ctx, func(r ledger.Reader) error {
		for _, s := range servers {
			traffic, err := a.totals(ctx, r, s.Name, now)
			if err != nil {
				return err
			}
			health, err := a.health(ctx, r, s.Name, now)
			if err != nil {
				return err
			}
			so := ServerOverview{Name: s.Name, Status: health.State, Traffic: traffic, Health: health}
			if revealAddresses {
				so.IP = s.IP
			}
			o.Servers = append(o.Servers, so)

			o.Summary.Total++
			switch health.State {
			case models.StateHigh:
				o.Summary.High++
			case models.StateLow:
				o.Summary.Low++
			default:
				o.Summary.Offline++
			}
		}
		trend, err := a.trend(ctx, r, names, now)
		if err != nil {
			return err
		}
		o.Trends = trend
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
