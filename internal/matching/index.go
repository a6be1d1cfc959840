package matching

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// ItemChange — вид изменения позиции
type ItemChange string

const (
	ItemCreated  ItemChange = "created"
	ItemArchived ItemChange = "archived"
)

// MatchIndex — инкрементальный слой над снимком: при изменении одной
// позиции он определяет узкий круг затронутых пользователей вместо
// полного пересчёта всех матчей и всего графа.
type MatchIndex struct {
	snap *Snapshot
}

// NewMatchIndex оборачивает снимок инкрементальным слоем
func NewMatchIndex(snap *Snapshot) *MatchIndex {
	return &MatchIndex{snap: snap}
}

// Snapshot возвращает снимок под индексом
func (mi *MatchIndex) Snapshot() *Snapshot {
	return mi.snap
}

// OnItemChanged применяет изменение позиции к индексу и возвращает
// пользователей, чьи матчи и рёбра графа могло задеть: владельца и
// всех, у кого есть активность в той же категории и виде обмена при
// общем с владельцем городе. Пересчёт для них ограничивается их
// окрестностью.
func (mi *MatchIndex) OnItemChanged(item models.ListingItem, change ItemChange) []uuid.UUID {
	switch change {
	case ItemCreated:
		copied := item
		mi.snap.Index.Add(&copied)
	case ItemArchived:
		mi.snap.Index.Remove(item.ID)
	}

	affected := map[uuid.UUID]bool{item.OwnerID: true}
	for owner := range mi.snap.Index.OwnersInKey(item.Key(), item.OwnerID) {
		if mi.snap.Locations.SharesLocation(item.OwnerID, owner) {
			affected[owner] = true
		}
	}

	users := make([]uuid.UUID, 0, len(affected))
	for userID := range affected {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].String() < users[j].String()
	})
	return users
}
