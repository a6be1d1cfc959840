package match

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/metrics"
	"github.com/rajivgeraev/swaploop-api/internal/middleware"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// Store — всё, что нужно сервису подбора от персистентного слоя
type Store interface {
	matching.SnapshotSource
	matching.MatchStore

	CreateItem(ctx context.Context, item *models.ListingItem) error
	GetItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error)
	ArchiveItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error)
	GetMatch(ctx context.Context, matchID uuid.UUID) (models.Match, error)
	GetChain(ctx context.Context, chainID uuid.UUID) (models.ExchangeChain, error)
	UpdateMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error
	UpdateChainStatus(ctx context.Context, chainID uuid.UUID, status models.ChainStatus, accepted []uuid.UUID) error
	MatchesForUser(ctx context.Context, userID uuid.UUID) ([]models.Match, error)
	ChainsForUser(ctx context.Context, userID uuid.UUID) ([]models.ExchangeChain, error)
	InvalidateByItem(ctx context.Context, itemID uuid.UUID) error
}

// MatchService — сервис подбора обменов: запуск конвейера, выдача
// матчей и цепочек, приём решений участников и приём изменений позиций
type MatchService struct {
	cfg      *config.Config
	store    Store
	pipeline *matching.Pipeline
}

// NewMatchService создаёт сервис поверх хранилища и доставщика событий
func NewMatchService(cfg *config.Config, store Store, dispatcher matching.Dispatcher) *MatchService {
	return &MatchService{
		cfg:      cfg,
		store:    store,
		pipeline: matching.NewPipeline(cfg.Matching, store, store, dispatcher),
	}
}

// getContext возвращает контекст с таймаутом для работы с базой
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// RunMatching запускает конвейер подбора: для одного пользователя,
// если user_id передан, иначе пакетно по всем активным
func (s *MatchService) RunMatching(c fiber.Ctx) error {
	var requestData struct {
		UserID string `json:"user_id"`
	}
	// Тело может быть пустым — это пакетный запуск
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&requestData); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
		}
	}

	var userID *uuid.UUID
	scope := "batch"
	if requestData.UserID != "" {
		parsed, err := uuid.Parse(requestData.UserID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
		}
		userID = &parsed
		scope = "scoped"
	}

	ctx, cancel := getContext()
	defer cancel()

	started := time.Now()
	report, err := s.pipeline.Run(ctx, userID)
	if err != nil {
		log.Printf("Ошибка запуска подбора: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка запуска подбора"})
	}

	metrics.PipelineRuns.WithLabelValues(scope).Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	metrics.MatchesCreated.Add(float64(report.BilateralMatches))
	metrics.ChainsDiscovered.Add(float64(report.ExchangeChains))
	if report.Truncated {
		metrics.TruncatedRuns.Inc()
	}

	return c.JSON(report)
}

// GetMatches возвращает матчи авторизованного пользователя
func (s *MatchService) GetMatches(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := getContext()
	defer cancel()

	matches, err := s.store.MatchesForUser(ctx, userID)
	if err != nil {
		log.Printf("Ошибка выборки матчей: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения матчей"})
	}

	// Наружу уходит вид с точки зрения запрашивающего: партнёр и его
	// позиции только из совпавших категорий
	views := make([]fiber.Map, 0, len(matches))
	for _, match := range matches {
		partner, _ := match.OtherUser(userID)
		views = append(views, fiber.Map{
			"id":                  match.ID,
			"partner_id":          partner,
			"overall_score":       match.OverallScore,
			"matching_categories": match.MatchingCategories,
			"category_scores":     match.CategoryScores,
			"partner_items":       match.PartnerItems(userID),
			"status":              match.Status,
			"created_at":          match.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"matches": views})
}

// GetChains возвращает цепочки с участием авторизованного пользователя
func (s *MatchService) GetChains(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := getContext()
	defer cancel()

	chains, err := s.store.ChainsForUser(ctx, userID)
	if err != nil {
		log.Printf("Ошибка выборки цепочек: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения цепочек"})
	}
	return c.JSON(fiber.Map{"chains": chains})
}

// DecideMatch применяет решение участника по матчу
func (s *MatchService) DecideMatch(c fiber.Ctx, accept bool) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	matchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID матча"})
	}

	ctx, cancel := getContext()
	defer cancel()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Матч не найден"})
	}
	if !match.HasUser(userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не участвуете в этом матче"})
	}

	status, err := match.Transition(userID, accept)
	if err != nil {
		if errors.Is(err, models.ErrBadTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка смены статуса"})
	}

	if err := s.store.UpdateMatchStatus(ctx, matchID, status); err != nil {
		log.Printf("Ошибка обновления статуса матча: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения статуса"})
	}

	// Обе стороны подтвердили — обмен состоялся, позиции уходят в архив
	if status == models.MatchMatched {
		s.archiveMatchedItems(ctx, match)
	}

	return c.JSON(fiber.Map{"id": matchID, "status": status})
}

// DecideChain применяет решение участника по цепочке
func (s *MatchService) DecideChain(c fiber.Ctx, accept bool) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	chainID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID цепочки"})
	}

	ctx, cancel := getContext()
	defer cancel()

	chain, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Цепочка не найдена"})
	}
	if !chain.HasParticipant(userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не участвуете в этой цепочке"})
	}

	status, accepted, err := chain.Transition(userID, accept)
	if err != nil {
		if errors.Is(err, models.ErrBadTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка смены статуса"})
	}

	if err := s.store.UpdateChainStatus(ctx, chainID, status, accepted); err != nil {
		log.Printf("Ошибка обновления статуса цепочки: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения статуса"})
	}

	// Все участники подтвердили — позиции цепочки уходят в архив
	if status == models.ChainAcceptedAll {
		s.archiveChainItems(ctx, chain)
	}

	return c.JSON(fiber.Map{"id": chainID, "status": status})
}

// archiveMatchedItems архивирует позиции состоявшегося обмена и
// снимает записи, которые на них опирались
func (s *MatchService) archiveMatchedItems(ctx context.Context, match models.Match) {
	seen := make(map[uuid.UUID]bool)
	for _, pair := range match.Pairs {
		for _, itemID := range []uuid.UUID{pair.WantItemID, pair.OfferItemID} {
			if seen[itemID] {
				continue
			}
			seen[itemID] = true
			if _, err := s.store.ArchiveItem(ctx, itemID); err != nil {
				log.Printf("Ошибка архивации позиции %s: %v", itemID, err)
				continue
			}
			if err := s.store.InvalidateByItem(ctx, itemID); err != nil {
				log.Printf("Ошибка инвалидации по позиции %s: %v", itemID, err)
			}
		}
	}
}

// archiveChainItems архивирует позиции состоявшейся цепочки
func (s *MatchService) archiveChainItems(ctx context.Context, chain models.ExchangeChain) {
	seen := make(map[uuid.UUID]bool)
	for _, edge := range chain.Edges {
		for _, itemID := range []uuid.UUID{edge.WantItemID, edge.OfferItemID} {
			if seen[itemID] {
				continue
			}
			seen[itemID] = true
			if _, err := s.store.ArchiveItem(ctx, itemID); err != nil {
				log.Printf("Ошибка архивации позиции %s: %v", itemID, err)
				continue
			}
			if err := s.store.InvalidateByItem(ctx, itemID); err != nil {
				log.Printf("Ошибка инвалидации по позиции %s: %v", itemID, err)
			}
		}
	}
}
