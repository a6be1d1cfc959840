package match

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/metrics"
	"github.com/rajivgeraev/swaploop-api/internal/middleware"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// CreateItem создаёт позицию объявления и запускает локальный
// пересчёт затронутых пользователей
func (s *MatchService) CreateItem(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		Direction    string `json:"direction"`
		Category     string `json:"category"`
		ExchangeType string `json:"exchange_type"`
		Value        int64  `json:"value"`
		DurationDays int    `json:"duration_days"`
		Description  string `json:"description"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	item := models.ListingItem{
		ID:           uuid.New(),
		OwnerID:      userID,
		Direction:    models.Direction(requestData.Direction),
		Category:     models.Category(requestData.Category),
		ExchangeType: models.ExchangeType(requestData.ExchangeType),
		Value:        requestData.Value,
		DurationDays: requestData.DurationDays,
		Description:  requestData.Description,
		CreatedAt:    time.Now().UTC(),
	}

	// Валидация на границе: внутрь ядра попадают только корректные позиции
	if err := item.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := getContext()
	defer cancel()

	if err := s.store.CreateItem(ctx, &item); err != nil {
		log.Printf("Ошибка сохранения позиции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения позиции"})
	}

	report := s.recomputeAround(item, matching.ItemCreated)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"item":   item,
		"report": report,
	})
}

// ArchiveItem архивирует позицию: зависящие от неё матчи и цепочки
// снимаются, соседи пересчитываются
func (s *MatchService) ArchiveItem(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID позиции"})
	}

	ctx, cancel := getContext()
	defer cancel()

	existing, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Позиция не найдена"})
	}
	if existing.OwnerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Нельзя архивировать чужую позицию"})
	}

	item, err := s.store.ArchiveItem(ctx, itemID)
	if err != nil {
		log.Printf("Ошибка архивации позиции %s: %v", itemID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка архивации"})
	}

	// Записи, опирающиеся на позицию, не должны остаться действующими
	if err := s.store.InvalidateByItem(ctx, itemID); err != nil {
		log.Printf("Ошибка инвалидации по позиции %s: %v", itemID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка инвалидации"})
	}

	report := s.recomputeAround(item, matching.ItemArchived)

	return c.JSON(fiber.Map{
		"item":   item,
		"report": report,
	})
}

// recomputeAround выполняет ограниченный пересчёт после изменения
// позиции: снимок, определение затронутых через MatchIndex и запуск
// конвейера только для них. Сбой пересчёта не роняет сам запрос —
// позиция уже сохранена.
func (s *MatchService) recomputeAround(item models.ListingItem, change matching.ItemChange) *matching.Report {
	ctx, cancel := getContext()
	defer cancel()

	snap, err := matching.BuildSnapshot(ctx, s.store)
	if err != nil {
		log.Printf("Ошибка сборки снимка для пересчёта: %v", err)
		return nil
	}

	index := matching.NewMatchIndex(snap)
	affected := index.OnItemChanged(item, change)

	started := time.Now()
	report, err := s.pipeline.RunForUsers(ctx, snap, affected)
	if err != nil {
		log.Printf("Ошибка локального пересчёта: %v", err)
		return nil
	}

	metrics.PipelineRuns.WithLabelValues("incremental").Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	metrics.MatchesCreated.Add(float64(report.BilateralMatches))
	metrics.ChainsDiscovered.Add(float64(report.ExchangeChains))
	return report
}
