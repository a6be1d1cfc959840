package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// BilateralMatcher ищет прямые двусторонние обмены: пары
// пользователей, у которых хотелки одной стороны закрываются
// предложениями другой в обе стороны.
type BilateralMatcher struct {
	cfg    config.MatchingConfig
	engine *EquivalenceEngine
}

// NewBilateralMatcher создаёт матчер с заданными параметрами
func NewBilateralMatcher(cfg config.MatchingConfig) *BilateralMatcher {
	return &BilateralMatcher{
		cfg:    cfg,
		engine: NewEquivalenceEngine(cfg.ValueTolerance),
	}
}

// categorySums — агрегаты пользователя внутри одной категории:
// суммы дневных тарифов хотелок и предложений
type categorySums struct {
	wants  float64
	offers float64
}

// FindMatches возвращает матчи пользователя, отсортированные по
// убыванию итогового балла. Кандидаты берутся только из пересечения
// по городам и категориям, полного перебора пользователей нет.
func (m *BilateralMatcher) FindMatches(snap *Snapshot, userID uuid.UUID) []models.Match {
	myKeys := snap.Index.OwnerKeys(userID)
	if len(myKeys) == 0 {
		return nil
	}

	// Кандидаты: хотя бы одна общая категория и хотя бы один общий город
	candidates := make(map[uuid.UUID]bool)
	for key := range myKeys {
		for owner := range snap.Index.OwnersInKey(key, userID) {
			if snap.Locations.SharesLocation(userID, owner) {
				candidates[owner] = true
			}
		}
	}

	matches := make([]models.Match, 0, len(candidates))
	for other := range candidates {
		if match, ok := m.matchPair(snap, userID, other); ok {
			matches = append(matches, match)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OverallScore != matches[j].OverallScore {
			return matches[i].OverallScore > matches[j].OverallScore
		}
		// При равном балле первыми идут более активные пользователи
		ti := m.latestItemTime(snap, matches[i].UserB)
		tj := m.latestItemTime(snap, matches[j].UserB)
		return ti.After(tj)
	})
	return matches
}

// matchPair сравнивает двух пользователей по всем общим категориям.
// Балл категории симметричен относительно сторон; итоговый балл
// добавляет надбавки за репутацию партнёра и общий город.
func (m *BilateralMatcher) matchPair(snap *Snapshot, userID, other uuid.UUID) (models.Match, bool) {
	mySums := m.sumByKey(snap.Index.OwnerItems(userID))
	theirSums := m.sumByKey(snap.Index.OwnerItems(other))

	scores := make(map[models.CategoryKey]float64)
	keys := make([]models.CategoryKey, 0)
	pairs := make([]models.ItemPair, 0)

	for key, mine := range mySums {
		theirs, ok := theirSums[key]
		if !ok {
			continue
		}
		// Категория проходит, только если обе стороны закрыты:
		// мои хотелки против их предложений и наоборот
		if mine.wants <= 0 || theirs.offers <= 0 || !m.engine.Eligible(mine.wants, theirs.offers) {
			continue
		}
		if mine.offers <= 0 || theirs.wants <= 0 || !m.engine.Eligible(mine.offers, theirs.wants) {
			continue
		}
		forward := m.engine.Score(mine.wants, theirs.offers)
		backward := m.engine.Score(mine.offers, theirs.wants)
		score := (forward + backward) / 2
		if score < m.cfg.CategoryThreshold {
			continue
		}
		scores[key] = score
		keys = append(keys, key)

		if p, ok := m.bestPair(snap, key, userID, other); ok {
			pairs = append(pairs, p)
		}
		if p, ok := m.bestPair(snap, key, other, userID); ok {
			pairs = append(pairs, p)
		}
	}

	if len(keys) == 0 {
		return models.Match{}, false
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	overall := sum / float64(len(scores)) * m.cfg.TextWeight

	trust := snap.Trust[other]
	if trust > m.cfg.TrustBonusCap {
		trust = m.cfg.TrustBonusCap
	}
	overall += trust
	if snap.Locations.SharesLocation(userID, other) {
		overall += m.cfg.LocationBonus
	}
	overall = clamp01(overall)

	match := models.Match{
		ID:                 uuid.New(),
		UserA:              userID,
		UserB:              other,
		Pairs:              pairs,
		OverallScore:       overall,
		MatchingCategories: keys,
		CategoryScores:     scores,
		ItemsA:             filterItems(snap.Index.OwnerItems(userID), scores),
		ItemsB:             filterItems(snap.Index.OwnerItems(other), scores),
		Status:             models.MatchProposed,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	return match, true
}

// sumByKey агрегирует позиции пользователя по категориям. Для
// временного обмена суммируются дневные тарифы, не сырые стоимости.
func (m *BilateralMatcher) sumByKey(items []*models.ListingItem) map[models.CategoryKey]categorySums {
	sums := make(map[models.CategoryKey]categorySums)
	for _, item := range items {
		s := sums[item.Key()]
		switch item.Direction {
		case models.DirectionWant:
			s.wants += item.DailyRate()
		case models.DirectionOffer:
			s.offers += item.DailyRate()
		}
		sums[item.Key()] = s
	}
	return sums
}

// bestPair подбирает внутри категории самую близкую по стоимости пару
// "хотелка wantOwner — предложение offerOwner"
func (m *BilateralMatcher) bestPair(snap *Snapshot, key models.CategoryKey, wantOwner, offerOwner uuid.UUID) (models.ItemPair, bool) {
	best := models.ItemPair{Key: key}
	for _, want := range snap.Index.Items(key, models.DirectionWant) {
		if want.OwnerID != wantOwner {
			continue
		}
		for _, offer := range snap.Index.Items(key, models.DirectionOffer) {
			if offer.OwnerID != offerOwner {
				continue
			}
			score := m.engine.ScoreItems(want, offer)
			if score > best.Score {
				best.WantItemID = want.ID
				best.OfferItemID = offer.ID
				best.Score = score
			}
		}
	}
	return best, best.Score > 0
}

// latestItemTime возвращает время самой свежей активной позиции
// пользователя
func (m *BilateralMatcher) latestItemTime(snap *Snapshot, userID uuid.UUID) time.Time {
	var latest time.Time
	for _, item := range snap.Index.OwnerItems(userID) {
		if item.CreatedAt.After(latest) {
			latest = item.CreatedAt
		}
	}
	return latest
}

// filterItems оставляет только позиции из совпавших категорий:
// партнёр не должен видеть объявления из посторонних категорий
func filterItems(items []*models.ListingItem, scores map[models.CategoryKey]float64) []models.ListingItem {
	filtered := make([]models.ListingItem, 0, len(items))
	for _, item := range items {
		if _, ok := scores[item.Key()]; ok {
			filtered = append(filtered, *item)
		}
	}
	return filtered
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
