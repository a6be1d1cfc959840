package matching

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// bucketKey адресует корзину индекса: категория, вид обмена и
// направление (хочу/предлагаю)
type bucketKey struct {
	key       models.CategoryKey
	direction models.Direction
}

// CategoryIndex держит активные позиции, разложенные по категориям и
// направлениям, чтобы поиск кандидатов не требовал перебора всего пула
// объявлений. Индекс собирается заново на каждый запуск подбора и
// между запусками не разделяется.
type CategoryIndex struct {
	buckets map[bucketKey][]*models.ListingItem
	byOwner map[uuid.UUID][]*models.ListingItem
	byID    map[uuid.UUID]*models.ListingItem
}

// NewCategoryIndex строит индекс по снимку позиций; архивные позиции
// пропускаются
func NewCategoryIndex(items []models.ListingItem) *CategoryIndex {
	idx := &CategoryIndex{
		buckets: make(map[bucketKey][]*models.ListingItem),
		byOwner: make(map[uuid.UUID][]*models.ListingItem),
		byID:    make(map[uuid.UUID]*models.ListingItem),
	}
	for i := range items {
		if items[i].Archived {
			continue
		}
		idx.Add(&items[i])
	}
	return idx
}

// Add добавляет позицию в индекс. Уже известная позиция не
// добавляется повторно: снимок, собранный после сохранения, может её
// содержать, и двойная запись исказила бы агрегаты подбора.
func (idx *CategoryIndex) Add(item *models.ListingItem) {
	if item.Archived {
		return
	}
	if _, ok := idx.byID[item.ID]; ok {
		return
	}
	bk := bucketKey{key: item.Key(), direction: item.Direction}
	idx.buckets[bk] = append(idx.buckets[bk], item)
	idx.byOwner[item.OwnerID] = append(idx.byOwner[item.OwnerID], item)
	idx.byID[item.ID] = item
}

// Remove убирает позицию из индекса, например при архивации
func (idx *CategoryIndex) Remove(itemID uuid.UUID) {
	item, ok := idx.byID[itemID]
	if !ok {
		return
	}
	delete(idx.byID, itemID)
	bk := bucketKey{key: item.Key(), direction: item.Direction}
	idx.buckets[bk] = dropItem(idx.buckets[bk], itemID)
	if len(idx.buckets[bk]) == 0 {
		delete(idx.buckets, bk)
	}
	idx.byOwner[item.OwnerID] = dropItem(idx.byOwner[item.OwnerID], itemID)
	if len(idx.byOwner[item.OwnerID]) == 0 {
		delete(idx.byOwner, item.OwnerID)
	}
}

func dropItem(items []*models.ListingItem, itemID uuid.UUID) []*models.ListingItem {
	for i, it := range items {
		if it.ID == itemID {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

// Item возвращает активную позицию по идентификатору
func (idx *CategoryIndex) Item(itemID uuid.UUID) (*models.ListingItem, bool) {
	item, ok := idx.byID[itemID]
	return item, ok
}

// Items возвращает активные позиции корзины
func (idx *CategoryIndex) Items(key models.CategoryKey, direction models.Direction) []*models.ListingItem {
	return idx.buckets[bucketKey{key: key, direction: direction}]
}

// OwnerItems возвращает активные позиции пользователя
func (idx *CategoryIndex) OwnerItems(ownerID uuid.UUID) []*models.ListingItem {
	return idx.byOwner[ownerID]
}

// OwnerKeys возвращает категории, в которых у пользователя есть хотя бы
// одна активная позиция
func (idx *CategoryIndex) OwnerKeys(ownerID uuid.UUID) map[models.CategoryKey]bool {
	keys := make(map[models.CategoryKey]bool)
	for _, item := range idx.byOwner[ownerID] {
		keys[item.Key()] = true
	}
	return keys
}

// OwnersInKey возвращает владельцев активных позиций в категории,
// кроме исключаемого пользователя
func (idx *CategoryIndex) OwnersInKey(key models.CategoryKey, exclude uuid.UUID) map[uuid.UUID]bool {
	owners := make(map[uuid.UUID]bool)
	for _, dir := range []models.Direction{models.DirectionWant, models.DirectionOffer} {
		for _, item := range idx.buckets[bucketKey{key: key, direction: dir}] {
			if item.OwnerID != exclude {
				owners[item.OwnerID] = true
			}
		}
	}
	return owners
}

// Users возвращает пользователей с хотя бы одной активной позицией,
// отсортированных для детерминированного обхода
func (idx *CategoryIndex) Users() []uuid.UUID {
	users := make([]uuid.UUID, 0, len(idx.byOwner))
	for owner := range idx.byOwner {
		users = append(users, owner)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].String() < users[j].String()
	})
	return users
}
