package matching

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// Сценарий: Алиса в Алматы ищет инструменты за 50 000 и отдаёт
// велозапчасти за 30 000; Боб в Алматы предлагает инструменты за
// 52 000 (разница 3.8%) и ищет велозапчасти за 31 000 (разница 3.2%).
// Ожидается один матч с бонусом за общий город.
func TestBilateralScenarioAlmaty(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 30000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 52000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 31000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	cfg := testConfig()
	matcher := NewBilateralMatcher(cfg)
	matches := matcher.FindMatches(snap, alice)

	if len(matches) != 1 {
		t.Fatalf("ожидался один матч, получено %d", len(matches))
	}
	match := matches[0]

	key := models.CategoryKey{Category: models.CategoryTools, ExchangeType: models.ExchangePermanent}
	if len(match.MatchingCategories) != 1 || match.MatchingCategories[0] != key {
		t.Fatalf("ожидалась категория %v, получено %v", key, match.MatchingCategories)
	}

	forward := 1 - 2000.0/52000.0
	backward := 1 - 1000.0/31000.0
	wantCategory := (forward + backward) / 2
	if math.Abs(match.CategoryScores[key]-wantCategory) > 1e-9 {
		t.Fatalf("ожидался балл категории %v, получено %v", wantCategory, match.CategoryScores[key])
	}

	// Итог включает надбавку 0.1 за общий город
	wantOverall := wantCategory*cfg.TextWeight + cfg.LocationBonus
	if math.Abs(match.OverallScore-wantOverall) > 1e-9 {
		t.Fatalf("ожидался итоговый балл %v, получено %v", wantOverall, match.OverallScore)
	}
}

// Категория может пройти по агрегатам без единой равноценной пары
// позиций: две хотелки по 100 против одного предложения за 200.
// Матч при этом создаётся, а позиция без пары остаётся видимой через
// витрину стороны — на ней держится инвалидация при архивации.
func TestBilateralAggregateOnlyCategory(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	bigOffer := makeItem(bob, models.DirectionOffer, models.CategoryTools, 200)
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 100),
		makeItem(alice, models.DirectionWant, models.CategoryTools, 100),
		bigOffer,
		makeItem(bob, models.DirectionWant, models.CategoryTools, 150),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 150),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 1 {
		t.Fatalf("агрегаты равны, ожидался один матч, получено %d", len(matches))
	}
	match := matches[0]

	// Прямого направления в парах нет: 100 против 200 не равноценны
	for _, pair := range match.Pairs {
		if pair.OfferItemID == bigOffer.ID {
			t.Fatal("неравноценная позиция не должна попадать в лучшие пары")
		}
	}
	if len(match.Pairs) != 1 {
		t.Fatalf("ожидалась одна пара обратного направления, получено %d", len(match.Pairs))
	}

	// Но через витрину партнёра позиция видна и достижима для инвалидации
	if !match.ReferencesItem(bigOffer.ID) {
		t.Fatal("матч должен опираться на позицию через витрину стороны")
	}
}

// Тот же сценарий, но Боб в Шымкенте: матча нет, несмотря на
// равноценные стоимости
func TestBilateralDisjointLocations(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 30000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 52000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 31000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   shymkent(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 0 {
		t.Fatalf("без общего города матчей быть не должно, получено %d", len(matches))
	}
}

// Категория с баллом ниже порога 0.70 не попадает в совпавшие
func TestBilateralCategoryThresholdGate(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 100),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 100),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 160),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 160),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	// Широкий допуск пропускает пару (разница 37.5%), но балл
	// категории 0.625 ниже порога — матча нет
	cfg := testConfig()
	cfg.ValueTolerance = 0.5
	matches := NewBilateralMatcher(cfg).FindMatches(snap, alice)
	if len(matches) != 0 {
		t.Fatalf("категория ниже порога не должна давать матч, получено %d", len(matches))
	}
}

// Балл категории одинаков с обеих точек зрения
func TestBilateralCategoryScoreSymmetry(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 30000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 52000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 31000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	matcher := NewBilateralMatcher(testConfig())
	fromAlice := matcher.FindMatches(snap, alice)
	fromBob := matcher.FindMatches(snap, bob)
	if len(fromAlice) != 1 || len(fromBob) != 1 {
		t.Fatalf("ожидался матч с обеих сторон: %d и %d", len(fromAlice), len(fromBob))
	}

	key := models.CategoryKey{Category: models.CategoryTools, ExchangeType: models.ExchangePermanent}
	if fromAlice[0].CategoryScores[key] != fromBob[0].CategoryScores[key] {
		t.Fatalf("балл категории должен быть симметричен: %v != %v",
			fromAlice[0].CategoryScores[key], fromBob[0].CategoryScores[key])
	}
	if fromAlice[0].PairKey() != fromBob[0].PairKey() {
		t.Fatal("канонический ключ пары должен совпадать с обеих сторон")
	}
}

// Партнёр не видит позиции из посторонних категорий
func TestBilateralFilteredPartnerView(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	bookOffer := makeItem(bob, models.DirectionOffer, models.CategoryBooks, 5000)
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 30000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 52000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 31000),
		bookOffer,
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 1 {
		t.Fatalf("ожидался один матч, получено %d", len(matches))
	}
	for _, item := range matches[0].ItemsB {
		if item.ID == bookOffer.ID {
			t.Fatal("книги не входят в совпавшие категории и не должны попасть в выдачу")
		}
	}
	if len(matches[0].ItemsB) != 2 {
		t.Fatalf("ожидались две позиции Боба в совпавшей категории, получено %d", len(matches[0].ItemsB))
	}
}

// Надбавка за репутацию ограничена потолком
func TestBilateralTrustBonusCap(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 50000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})
	snap.Trust[bob] = 0.9

	cfg := testConfig()
	matches := NewBilateralMatcher(cfg).FindMatches(snap, alice)
	if len(matches) != 1 {
		t.Fatalf("ожидался один матч, получено %d", len(matches))
	}

	// Идеальная категория: 1.0 * вес + потолок репутации + город
	want := clamp01(1.0*cfg.TextWeight + cfg.TrustBonusCap + cfg.LocationBonus)
	if math.Abs(matches[0].OverallScore-want) > 1e-9 {
		t.Fatalf("ожидался итог %v с потолком репутации, получено %v", want, matches[0].OverallScore)
	}
}

// Матчи отсортированы по убыванию балла; при равенстве первыми идут
// более активные кандидаты
func TestBilateralOrdering(t *testing.T) {
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	strong := []models.ListingItem{
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionWant, models.CategoryTools, 50000),
	}
	weak := []models.ListingItem{
		makeItem(carol, models.DirectionOffer, models.CategoryTools, 56000),
		makeItem(carol, models.DirectionWant, models.CategoryTools, 56000),
	}
	items := append([]models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 50000),
	}, append(strong, weak...)...)

	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
		carol: almaty(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 2 {
		t.Fatalf("ожидались два матча, получено %d", len(matches))
	}
	if matches[0].UserB != bob {
		t.Fatal("матч с более близкими стоимостями должен идти первым")
	}
	if matches[0].OverallScore < matches[1].OverallScore {
		t.Fatal("матчи должны быть отсортированы по убыванию балла")
	}
}

// При равных баллах первым идёт кандидат со свежей позицией
func TestBilateralTieBreakByRecency(t *testing.T) {
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	old := makeItem(bob, models.DirectionOffer, models.CategoryTools, 50000)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	oldWant := makeItem(bob, models.DirectionWant, models.CategoryTools, 50000)
	oldWant.CreatedAt = time.Now().Add(-48 * time.Hour)

	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 50000),
		old, oldWant,
		makeItem(carol, models.DirectionOffer, models.CategoryTools, 50000),
		makeItem(carol, models.DirectionWant, models.CategoryTools, 50000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
		carol: almaty(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 2 {
		t.Fatalf("ожидались два матча, получено %d", len(matches))
	}
	if matches[0].UserB != carol {
		t.Fatal("при равном балле первым идёт более активный кандидат")
	}
}

// Пользователь без встречного предложения в категории не матчится:
// обе стороны должны закрываться
func TestBilateralRequiresBothDirections(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 50000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	matches := NewBilateralMatcher(testConfig()).FindMatches(snap, alice)
	if len(matches) != 0 {
		t.Fatalf("одностороннее совпадение — не двусторонний матч, получено %d", len(matches))
	}
}
