package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/scheduler"
)

type OpportunitySource interface {
	GetOpportunities(symbol string) (*scheduler.Opportunities, bool)
}

type OpportunityHandler struct {
	source OpportunitySource
}

func NewOpportunityHandler(source OpportunitySource) *OpportunityHandler {
	return &OpportunityHandler{source}
}

// Handles GET /opportunities/:symbol.
func (h *OpportunityHandler) GetOpportunities(c fiber.Ctx) error {
	symbol := strings.ToUpper(c.Params("symbol"))

	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "symbol parameter is required",
		})
	}

	opps, ok := h.source.GetOpportunities(symbol)
	if !ok {
		log.Debug().Str("symbol", symbol).Msg("symbol not in latest cycle")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "symbol not available, check configured symbols",
		})
	}

	return c.Status(fiber.StatusOK).JSON(opps)
}
