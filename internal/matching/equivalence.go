// Package matching реализует ядро подбора обменов: оценку
// равноценности позиций, прямые двусторонние матчи и поиск замкнутых
// цепочек обмена по графу односторонних совпадений.
//
// Ядро не держит глобального состояния: каждый запуск работает по
// снимку активных позиций, который собирается заново из хранилища.
package matching

import (
	"math"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// EquivalenceEngine оценивает равноценность двух стоимостей.
//
// Правило бинарное с градацией внутри допуска: считается относительная
// разница d = |a-b| / max(a,b). Если d не превышает допуск, пара
// равноценна и получает балл 1-d (равные стоимости — 1.0, на границе
// допуска — 1-Tolerance). Если разница больше допуска, пара не
// проходит и балл равен нулю — частичных зачётов за пределами допуска
// нет.
type EquivalenceEngine struct {
	// Tolerance — максимальная относительная разница стоимостей
	Tolerance float64
}

// NewEquivalenceEngine создаёт движок с заданным допуском
func NewEquivalenceEngine(tolerance float64) *EquivalenceEngine {
	return &EquivalenceEngine{Tolerance: tolerance}
}

// Score возвращает балл равноценности двух стоимостей в [0,1].
// Стоимости на входе всегда положительны (валидация на границе),
// поэтому деление на ноль невозможно.
func (e *EquivalenceEngine) Score(a, b float64) float64 {
	d := math.Abs(a-b) / math.Max(a, b)
	if d > e.Tolerance {
		return 0
	}
	return 1 - d
}

// Eligible сообщает, проходит ли пара стоимостей порог допуска
func (e *EquivalenceEngine) Eligible(a, b float64) bool {
	return e.Score(a, b) > 0
}

// ScoreItems сравнивает две позиции. Позиции из разных категорий или
// разных видов обмена несравнимы и получают ноль. Для временного
// обмена сравниваются не сами стоимости, а тарифы за день.
func (e *EquivalenceEngine) ScoreItems(a, b *models.ListingItem) float64 {
	if a.Category != b.Category || a.ExchangeType != b.ExchangeType {
		return 0
	}
	return e.Score(a.DailyRate(), b.DailyRate())
}
