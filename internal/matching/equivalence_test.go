package matching

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

func TestScoreExactEquality(t *testing.T) {
	engine := NewEquivalenceEngine(0.15)
	if got := engine.Score(50000, 50000); got != 1.0 {
		t.Fatalf("равные стоимости должны давать 1.0, получено %v", got)
	}
}

func TestScoreToleranceBoundary(t *testing.T) {
	engine := NewEquivalenceEngine(0.15)

	// Разница ровно 15% — пара проходит с баллом 0.85
	got := engine.Score(100, 85)
	if math.Abs(got-0.85) > 1e-9 {
		t.Fatalf("на границе допуска ожидался балл 0.85, получено %v", got)
	}

	// Разница 15.01% — пара не проходит, без частичного зачёта
	if got := engine.Score(10000, 8499); got != 0 {
		t.Fatalf("за границей допуска ожидался 0, получено %v", got)
	}
}

func TestScoreSymmetry(t *testing.T) {
	engine := NewEquivalenceEngine(0.15)
	pairs := [][2]float64{{50000, 52000}, {100, 85}, {1, 1}, {30000, 31000}}
	for _, p := range pairs {
		if engine.Score(p[0], p[1]) != engine.Score(p[1], p[0]) {
			t.Fatalf("балл должен быть симметричен для %v", p)
		}
	}
}

func TestScoreItemsDailyRate(t *testing.T) {
	engine := NewEquivalenceEngine(0.15)
	owner := uuid.New()

	// 700 за 7 дней и 103 за день: тарифы 100 и 103, разница 2.9%
	week := makeRental(owner, models.DirectionWant, models.CategoryTools, 700, 7)
	day := makeRental(uuid.New(), models.DirectionOffer, models.CategoryTools, 103, 1)

	got := engine.ScoreItems(&week, &day)
	want := 1 - 3.0/103.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("ожидался балл %v по дневным тарифам, получено %v", want, got)
	}

	// Сырые стоимости (700 против 103) без нормализации не прошли бы
	if engine.Score(700, 103) != 0 {
		t.Fatal("проверка смысла теста: сырые стоимости несравнимы")
	}
}

func TestScoreItemsIncomparable(t *testing.T) {
	engine := NewEquivalenceEngine(0.15)

	tools := makeItem(uuid.New(), models.DirectionWant, models.CategoryTools, 1000)
	books := makeItem(uuid.New(), models.DirectionOffer, models.CategoryBooks, 1000)
	if engine.ScoreItems(&tools, &books) != 0 {
		t.Fatal("позиции из разных категорий несравнимы")
	}

	rental := makeRental(uuid.New(), models.DirectionOffer, models.CategoryTools, 1000, 1)
	permanent := makeItem(uuid.New(), models.DirectionWant, models.CategoryTools, 1000)
	if engine.ScoreItems(&permanent, &rental) != 0 {
		t.Fatal("аренда и обмен насовсем несравнимы")
	}
}
