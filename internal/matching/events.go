package matching

import (
	"log"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// MatchCreated — событие о новом двустороннем матче
type MatchCreated struct {
	Match models.Match
}

// ChainDiscovered — событие о новой цепочке обмена
type ChainDiscovered struct {
	Chain models.ExchangeChain
}

// Dispatcher доставляет события подбора внешнему слою уведомлений
// (Telegram, in-app). Доставка — fire-and-forget: сбой уведомления не
// откатывает уже сохранённый матч, ядро его только логирует.
type Dispatcher interface {
	MatchCreated(event MatchCreated)
	ChainDiscovered(event ChainDiscovered)
}

// LogDispatcher пишет события в лог. Используется, пока внешний
// доставщик уведомлений не подключён, и в офлайновых запусках.
type LogDispatcher struct{}

// MatchCreated логирует новый матч
func (LogDispatcher) MatchCreated(event MatchCreated) {
	log.Printf("🔔 Новый матч %s: %s ↔ %s, балл %.2f",
		event.Match.ID, event.Match.UserA, event.Match.UserB, event.Match.OverallScore)
}

// ChainDiscovered логирует новую цепочку
func (LogDispatcher) ChainDiscovered(event ChainDiscovered) {
	log.Printf("🔔 Новая цепочка %s: %d участников, балл %.2f",
		event.Chain.ID, len(event.Chain.Participants), event.Chain.Score)
}
