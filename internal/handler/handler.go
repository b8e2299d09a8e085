// Package handler exposes the read-only ops API: pipeline health, unified
// events, run telemetry, and the dead-letter queue.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// RegisterRoutes mounts all ops endpoints. Every route is read-only — the
// pipeline only mutates data through the poller/consumer/runner paths.
func RegisterRoutes(e *echo.Echo, st store.Store, logger *zap.Logger) {
	e.Use(otelecho.Middleware("quake-ops-api"))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/v1")

	// GET /v1/unified-events?limit=50
	v1.GET("/unified-events", listUnifiedHandler(st, logger))

	// GET /v1/unified-events/:id
	v1.GET("/unified-events/:id", getUnifiedHandler(st, logger))

	// GET /v1/pipeline-runs?limit=50
	v1.GET("/pipeline-runs", listRunsHandler(st, logger))

	// GET /v1/dead-letters?limit=50
	v1.GET("/dead-letters", listDeadLettersHandler(st, logger))
}

// ── handlers ──────────────────────────────────────────────────────────────

func listUnifiedHandler(st store.FusionStore, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := parseLimit(c)

		events, err := st.ListUnified(c.Request().Context(), limit)
		if err != nil {
			logger.Error("ListUnified failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp("failed to list unified events"))
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"data":  events,
			"limit": limit,
			"count": len(events),
		})
	}
}

func getUnifiedHandler(st store.FusionStore, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, errResp("id is required"))
		}

		event, err := st.GetUnified(c.Request().Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusNotFound, errResp("unified event not found"))
			}
			logger.Error("GetUnified failed", zap.String("id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp("failed to get unified event"))
		}

		return c.JSON(http.StatusOK, event)
	}
}

func listRunsHandler(st store.OpsStore, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := parseLimit(c)

		runs, err := st.ListRuns(c.Request().Context(), limit)
		if err != nil {
			logger.Error("ListRuns failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp("failed to list pipeline runs"))
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"data":  runs,
			"limit": limit,
			"count": len(runs),
		})
	}
}

func listDeadLettersHandler(st store.OpsStore, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := parseLimit(c)

		entries, err := st.ListDeadLetters(c.Request().Context(), limit)
		if err != nil {
			logger.Error("ListDeadLetters failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp("failed to list dead letters"))
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"data":  entries,
			"limit": limit,
			"count": len(entries),
		})
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func parseLimit(c echo.Context) int {
	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
