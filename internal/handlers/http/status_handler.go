package http

import (
	"net/http"
	"time"

	"confload/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusHandler exposes the running fleet over HTTP: liveness, a
// status document with the latest aggregate, and prometheus metrics.
type StatusHandler struct {
	orchestrator *services.FleetOrchestrator
	collector    *services.StatsCollector // nil when stats are disabled
	startedAt    time.Time
}

func NewStatusHandler(orchestrator *services.FleetOrchestrator, collector *services.StatsCollector) *StatusHandler {
	return &StatusHandler{
		orchestrator: orchestrator,
		collector:    collector,
		startedAt:    time.Now(),
	}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/status", h.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}

// Status reports the fleet's state per user plus the latest stats
// aggregate when the collector has polled at least once.
func (h *StatusHandler) Status(c *gin.Context) {
	users := h.orchestrator.Users()
	fleet := make([]gin.H, 0, len(users))
	for _, u := range users {
		snap := u.Snapshot()
		fleet = append(fleet, gin.H{
			"nickname":   snap.Nickname,
			"state":      snap.State.String(),
			"bytes_sent": snap.Media.BytesSent,
		})
	}

	resp := gin.H{
		"started": h.orchestrator.Started(),
		"users":   fleet,
	}
	if h.collector != nil {
		if agg := h.collector.Latest(); agg != nil {
			resp["latest"] = agg
		}
	}

	c.JSON(http.StatusOK, resp)
}
