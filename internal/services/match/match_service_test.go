package match

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/middleware"
	"github.com/rajivgeraev/swaploop-api/internal/models"
	"github.com/rajivgeraev/swaploop-api/internal/storage"
	"github.com/rajivgeraev/swaploop-api/internal/utils"
)

// testApp собирает приложение с настоящей авторизацией поверх хранилища
// в памяти и возвращает выдачу токенов для запросов
func testApp(t *testing.T) (*fiber.App, *storage.MemoryStore, func(uuid.UUID) string) {
	t.Helper()
	cfg := &config.Config{
		JWTSecret: "test-secret",
		Matching:  config.DefaultMatching(),
	}
	store := storage.NewMemoryStore()
	jwtService := utils.NewJWTService(cfg.JWTSecret)

	app := fiber.New()
	service := NewMatchService(cfg, store, nil)
	service.SetupRoutes(app, middleware.AuthMiddleware(jwtService))

	token := func(userID uuid.UUID) string {
		signed, err := jwtService.GenerateToken(userID.String())
		if err != nil {
			t.Fatalf("не удалось выдать токен: %v", err)
		}
		return signed
	}
	return app, store, token
}

func seedChain(t *testing.T, store *storage.MemoryStore, participants ...uuid.UUID) models.ExchangeChain {
	t.Helper()
	chain := models.ExchangeChain{
		ID:           uuid.New(),
		Participants: participants,
		Status:       models.ChainPending,
	}
	if err := store.SaveChain(context.Background(), &chain); err != nil {
		t.Fatalf("цепочка должна сохраниться: %v", err)
	}
	return chain
}

// Решение по цепочке принимают только её участники: посторонний
// получает 403, а не конфликт статусов
func TestDecideChainForbiddenForOutsider(t *testing.T) {
	app, store, token := testApp(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	chain := seedChain(t, store, a, b, c)
	outsider := uuid.New()

	req := httptest.NewRequest("POST", "/api/chains/"+chain.ID.String()+"/accept", nil)
	req.Header.Set("Authorization", "Bearer "+token(outsider))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("запрос не прошёл: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("ожидался 403 для постороннего, получено %d", resp.StatusCode)
	}

	got, err := store.GetChain(context.Background(), chain.ID)
	if err != nil {
		t.Fatalf("чтение цепочки не прошло: %v", err)
	}
	if got.Status != models.ChainPending || len(got.Accepted) != 0 {
		t.Fatalf("посторонний не должен менять цепочку: %+v", got)
	}
}

func TestDecideChainParticipantAccepts(t *testing.T) {
	app, store, token := testApp(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	chain := seedChain(t, store, a, b, c)

	req := httptest.NewRequest("POST", "/api/chains/"+chain.ID.String()+"/accept", nil)
	req.Header.Set("Authorization", "Bearer "+token(b))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("запрос не прошёл: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("участник должен подтвердить цепочку, получено %d", resp.StatusCode)
	}

	got, err := store.GetChain(context.Background(), chain.ID)
	if err != nil {
		t.Fatalf("чтение цепочки не прошло: %v", err)
	}
	if got.Status != models.ChainAcceptedSome || len(got.Accepted) != 1 || got.Accepted[0] != b {
		t.Fatalf("подтверждение участника не записалось: %+v", got)
	}
}

func TestDecideMatchForbiddenForOutsider(t *testing.T) {
	app, store, token := testApp(t)
	alice, bob := uuid.New(), uuid.New()
	match := models.Match{
		ID:     uuid.New(),
		UserA:  alice,
		UserB:  bob,
		Status: models.MatchProposed,
	}
	if err := store.SaveMatch(context.Background(), &match); err != nil {
		t.Fatalf("матч должен сохраниться: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/matches/"+match.ID.String()+"/accept", nil)
	req.Header.Set("Authorization", "Bearer "+token(uuid.New()))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("запрос не прошёл: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("ожидался 403 для постороннего, получено %d", resp.StatusCode)
	}
}
