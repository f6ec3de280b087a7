package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/suwandre/arbwatch/api/handlers"
)

type Source interface {
	handlers.CycleSource
	handlers.OpportunitySource
}

func SetupRoutes(app *fiber.App, src Source, engine handlers.EngineStatsSource) {
	statusHandler := handlers.NewStatusHandler(src, engine)
	oppHandler := handlers.NewOpportunityHandler(src)

	app.Get("/health", statusHandler.Health)

	v1 := app.Group("/v1")

	v1.Get("/stats", statusHandler.Stats)
	v1.Get("/opportunities/:symbol", oppHandler.GetOpportunities)
}
