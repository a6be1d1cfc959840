package matching

import (
	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// LocationFilter отсекает пары пользователей без общего города.
// Набор городов пользователя никогда не пуст: если город не задан,
// подставляется город по умолчанию.
type LocationFilter struct {
	byUser map[uuid.UUID]map[models.Location]bool
}

// NewLocationFilter строит фильтр по карте городов пользователей
func NewLocationFilter(locations map[uuid.UUID][]models.Location) *LocationFilter {
	f := &LocationFilter{byUser: make(map[uuid.UUID]map[models.Location]bool, len(locations))}
	for userID, locs := range locations {
		f.Set(userID, locs)
	}
	return f
}

// Set задаёт города пользователя; пустой список заменяется городом
// по умолчанию
func (f *LocationFilter) Set(userID uuid.UUID, locs []models.Location) {
	set := make(map[models.Location]bool, len(locs))
	for _, loc := range locs {
		if models.ValidLocation(loc) {
			set[loc] = true
		}
	}
	if len(set) == 0 {
		set[models.DefaultLocation] = true
	}
	f.byUser[userID] = set
}

// Locations возвращает города пользователя
func (f *LocationFilter) Locations(userID uuid.UUID) map[models.Location]bool {
	if set, ok := f.byUser[userID]; ok {
		return set
	}
	return map[models.Location]bool{models.DefaultLocation: true}
}

// SharesLocation сообщает, есть ли у двух пользователей общий город
func (f *LocationFilter) SharesLocation(a, b uuid.UUID) bool {
	setA, setB := f.Locations(a), f.Locations(b)
	if len(setB) < len(setA) {
		setA, setB = setB, setA
	}
	for loc := range setA {
		if setB[loc] {
			return true
		}
	}
	return false
}
