package matching

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// ItemFilter — необязательные ограничения выборки активных позиций
type ItemFilter struct {
	Category     *models.Category
	ExchangeType *models.ExchangeType
	Location     *models.Location
}

// SnapshotSource — доступ ядра к персистентному слою на чтение.
// Ядро никогда не ходит в базу напрямую: ему передают источник снимка.
type SnapshotSource interface {
	// ListActiveItems возвращает активные позиции, опционально по фильтру
	ListActiveItems(ctx context.Context, filter ItemFilter) ([]models.ListingItem, error)
	// UserLocations возвращает города пользователя (1..3)
	UserLocations(ctx context.Context, userID uuid.UUID) ([]models.Location, error)
	// UserTrustScore возвращает нормализованную репутацию ∈ [0,1]
	UserTrustScore(ctx context.Context, userID uuid.UUID) (float64, error)
}

// Snapshot — снимок состояния на один запуск подбора: позиции, индекс
// по категориям, города и репутация владельцев. После сборки снимок
// только читается, поэтому шардирование запуска по пользователям
// безопасно.
type Snapshot struct {
	Items     []models.ListingItem
	Index     *CategoryIndex
	Locations *LocationFilter
	Trust     map[uuid.UUID]float64
}

// BuildSnapshot собирает снимок активных позиций и данных их владельцев
func BuildSnapshot(ctx context.Context, src SnapshotSource) (*Snapshot, error) {
	items, err := src.ListActiveItems(ctx, ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки активных позиций: %w", err)
	}

	snap := &Snapshot{
		Items:     items,
		Index:     NewCategoryIndex(items),
		Locations: NewLocationFilter(nil),
		Trust:     make(map[uuid.UUID]float64),
	}

	for _, owner := range snap.Index.Users() {
		locs, err := src.UserLocations(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки городов пользователя %s: %w", owner, err)
		}
		snap.Locations.Set(owner, locs)

		trust, err := src.UserTrustScore(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки репутации пользователя %s: %w", owner, err)
		}
		snap.Trust[owner] = trust
	}

	return snap, nil
}
