package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/router/middleware"
	"github.com/ncwatch/ncwatch/stats"
)

// Returns traffic, health and trend statistics of every configured server.
func getStats(c *gin.Context) {
	d := extractDependencies(c)
	cfg := config.Get()

	refs := make([]stats.ServerRef, len(cfg.Servers))
	for i, s := range cfg.Servers {
		refs[i] = stats.ServerRef{Name: s.Name, IP: s.IP}
	}
	o, err := d.Stats.Overview(c.Request.Context(), refs, d.Clock.Now().In(cfg.Location()), middleware.IsAuthorized(c))
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Queues a tick to run as soon as the current one finishes.
func postRunNow(c *gin.Context) {
	d := extractDependencies(c)
	queued := d.Trigger.Trigger()
	middleware.ExtractLogger(c).WithField("queued", queued).Info("on-demand tick requested")
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// Reports whether the daemon can reach its ledger.
func getHealth(c *gin.Context) {
	d := extractDependencies(c)
	if err := d.Database.Ping(c.Request.Context()); err != nil {
		middleware.ExtractLogger(c).WithField("error", err).Warn("ledger database is not reachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
