package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/middleware"
	"github.com/rajivgeraev/swaploop-api/internal/services/auth"
	"github.com/rajivgeraev/swaploop-api/internal/services/match"
	"github.com/rajivgeraev/swaploop-api/internal/storage"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Подключаемся к базе данных
	store, err := storage.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer store.Close()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Swaploop API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	authService := auth.NewAuthService(cfg, store)
	matchService := match.NewMatchService(cfg, store, matching.LogDispatcher{})

	// Настраиваем middleware для аутентификации
	authMiddleware := middleware.AuthMiddleware(authService.GetJWTService())

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	matchService.SetupRoutes(app, authMiddleware)

	// Метрики Prometheus
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Запускаем сервер
	log.Println("✅ Swaploop API запущен на порту 8080")
	log.Fatal(app.Listen(":8080"))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
