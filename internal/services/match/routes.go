package match

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты сервиса подбора
func (s *MatchService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	api := app.Group("/api")
	api.Use(authMiddleware)

	// Позиции объявлений
	api.Post("/items", s.CreateItem)
	api.Post("/items/:id/archive", s.ArchiveItem)

	// Запуск подбора
	api.Post("/matching/run", s.RunMatching)

	// Результаты подбора
	api.Get("/matches", s.GetMatches)
	api.Get("/chains", s.GetChains)

	// Решения участников
	api.Post("/matches/:id/accept", func(c fiber.Ctx) error { return s.DecideMatch(c, true) })
	api.Post("/matches/:id/reject", func(c fiber.Ctx) error { return s.DecideMatch(c, false) })
	api.Post("/chains/:id/accept", func(c fiber.Ctx) error { return s.DecideChain(c, true) })
	api.Post("/chains/:id/decline", func(c fiber.Ctx) error { return s.DecideChain(c, false) })
}
