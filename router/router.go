package router

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"

	"github.com/ncwatch/ncwatch/metrics"
	"github.com/ncwatch/ncwatch/router/middleware"
	"github.com/ncwatch/ncwatch/stats"
)

// Overviewer builds the dashboard document.
type Overviewer interface {
	Overview(ctx context.Context, servers []stats.ServerRef, now time.Time, revealAddresses bool) (*stats.Overview, error)
}

// Trigger queues an on-demand tick.
type Trigger interface {
	Trigger() bool
}

// Pinger checks that the ledger database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are attached to every request and used by the handlers.
type Dependencies struct {
	Stats    Overviewer
	Trigger  Trigger
	Database Pinger
	Clock    quartz.Clock
}

// Configure configures the routing infrastructure for this daemon instance.
func Configure(d Dependencies) *gin.Engine {
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors())
	router.Use(middleware.Attach("dependencies", d))

	router.GET("/api/health", getHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Statistics are public, server addresses are only revealed to requests
	// that carry the API token.
	router.GET("/api/stats", middleware.CheckAuthorization(), getStats)

	// All of the routes beyond this mount will use an authorization middleware
	// and will not be accessible without the correct Authorization header provided.
	protected := router.Group("/api")
	protected.Use(middleware.RequireAuthorization())
	{
		protected.POST("/run_now", postRunNow)
	}

	return router
}

func extractDependencies(c *gin.Context) Dependencies {
	v, ok := c.Get("dependencies")
	if !ok {
		panic("router: cannot extract dependencies: not present in request context")
	}
	return v.(Dependencies)
}
