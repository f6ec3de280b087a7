package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/suwandre/arbwatch/internal/arbitrage"
	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/scheduler"
)

type CycleSource interface {
	Healthy() bool
	Uptime() time.Duration
	Stats() scheduler.Stats
	Connections() []models.ConnectionStatus
}

type EngineStatsSource interface {
	Stats() arbitrage.Stats
}

type StatusHandler struct {
	cycles CycleSource
	engine EngineStatsSource
}

func NewStatusHandler(cycles CycleSource, engine EngineStatsSource) *StatusHandler {
	return &StatusHandler{cycles: cycles, engine: engine}
}

// Handles GET /health.
func (h *StatusHandler) Health(c fiber.Ctx) error {
	status, code := "ok", fiber.StatusOK
	if !h.cycles.Healthy() {
		status, code = "degraded", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"uptime": h.cycles.Uptime().Round(time.Second).String(),
	})
}

// Handles GET /stats.
func (h *StatusHandler) Stats(c fiber.Ctx) error {
	body := fiber.Map{
		"cycles":    h.cycles.Stats(),
		"exchanges": h.cycles.Connections(),
	}
	if h.engine != nil {
		body["engine"] = h.engine.Stats()
	}
	return c.Status(fiber.StatusOK).JSON(body)
}
