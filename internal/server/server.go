package server

import (
	"io"
	"net/http"

	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New builds the HTTP router. The routing layer is thin plumbing: it
// verifies credentials, reads the body and maps manager results to
// responses.
func New(cfg *config.Config, mgr *stats.Manager, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	report := router.Group("/")
	if len(cfg.Users) > 0 {
		report.Use(gin.BasicAuth(gin.Accounts(cfg.Users)))
	} else {
		logger.Warn().Msg("No users configured, /report is unauthenticated")
	}
	report.POST("/report", handleReport(mgr))

	router.GET("/json/stats.json", handleStats(mgr))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return router
}

func handleReport(mgr *stats.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 1, "error": "unreadable body"})
			return
		}

		size, err := mgr.Report(raw)
		if err != nil {
			if errors.HasCode(err, errors.ErrInvalidPayload) {
				logger.Debug().Err(err).Msg("Rejected report")
				c.JSON(http.StatusBadRequest, gin.H{"code": 1, "error": "invalid payload"})
				return
			}
			logger.Error().Err(err).Msg("Report ingestion failed")
			c.JSON(http.StatusInternalServerError, gin.H{"code": 1, "error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "size": size})
	}
}

func handleStats(mgr *stats.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := mgr.SnapshotJSON()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to serialize snapshot")
			c.JSON(http.StatusInternalServerError, gin.H{"code": 1, "error": "internal error"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}
