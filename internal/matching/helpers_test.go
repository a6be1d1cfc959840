package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// Вспомогательные конструкторы для тестов подбора

func makeItem(owner uuid.UUID, dir models.Direction, cat models.Category, value int64) models.ListingItem {
	return models.ListingItem{
		ID:           uuid.New(),
		OwnerID:      owner,
		Direction:    dir,
		Category:     cat,
		ExchangeType: models.ExchangePermanent,
		Value:        value,
		CreatedAt:    time.Now(),
	}
}

func makeRental(owner uuid.UUID, dir models.Direction, cat models.Category, value int64, days int) models.ListingItem {
	item := makeItem(owner, dir, cat, value)
	item.ExchangeType = models.ExchangeTemporary
	item.DurationDays = days
	return item
}

// makeSnapshot собирает снимок напрямую, без источника: все
// пользователи с нулевой репутацией, города задаются картой
func makeSnapshot(items []models.ListingItem, locations map[uuid.UUID][]models.Location) *Snapshot {
	snap := &Snapshot{
		Items:     items,
		Index:     NewCategoryIndex(items),
		Locations: NewLocationFilter(locations),
		Trust:     make(map[uuid.UUID]float64),
	}
	return snap
}

func testConfig() config.MatchingConfig {
	return config.DefaultMatching()
}

func almaty() []models.Location {
	return []models.Location{models.LocationAlmaty}
}

func shymkent() []models.Location {
	return []models.Location{models.LocationShymkent}
}
