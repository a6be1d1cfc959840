package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchStatus — статус двустороннего обмена
type MatchStatus string

const (
	MatchProposed  MatchStatus = "proposed"
	MatchAcceptedA MatchStatus = "accepted_a"
	MatchAcceptedB MatchStatus = "accepted_b"
	MatchMatched   MatchStatus = "matched"
	MatchRejected  MatchStatus = "rejected"
)

// ErrBadTransition возвращается при недопустимой смене статуса
var ErrBadTransition = errors.New("недопустимая смена статуса")

// ItemPair — пара позиций "хочу/предлагаю", прошедшая проверку
// равноценности. Для матчей это лучшая пара внутри категории, для
// цепочек — позиции на ребре.
type ItemPair struct {
	WantItemID  uuid.UUID   `json:"want_item_id"`
	OfferItemID uuid.UUID   `json:"offer_item_id"`
	Key         CategoryKey `json:"key"`
	Score       float64     `json:"score"`
}

// Match представляет найденный двусторонний обмен между двумя
// пользователями. Запись создаётся только ядром подбора; статус
// меняется только через Transition.
type Match struct {
	ID    uuid.UUID `json:"id"`
	UserA uuid.UUID `json:"user_a"`
	UserB uuid.UUID `json:"user_b"`
	// Pairs — лучшие пары позиций по каждой совпавшей категории,
	// в обе стороны
	Pairs []ItemPair `json:"pairs"`
	// OverallScore ∈ [0,1]
	OverallScore       float64                 `json:"overall_score"`
	MatchingCategories []CategoryKey           `json:"matching_categories"`
	CategoryScores     map[CategoryKey]float64 `json:"category_scores"`
	// ItemsA и ItemsB — позиции сторон, отфильтрованные до совпавших
	// категорий: партнёр не видит объявления из посторонних категорий
	ItemsA []ListingItem `json:"items_a"`
	ItemsB []ListingItem `json:"items_b"`
	Status MatchStatus   `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUser сообщает, участвует ли пользователь в матче
func (m *Match) HasUser(userID uuid.UUID) bool {
	return m.UserA == userID || m.UserB == userID
}

// OtherUser возвращает второго участника матча
func (m *Match) OtherUser(userID uuid.UUID) (uuid.UUID, bool) {
	if m.UserA == userID {
		return m.UserB, true
	}
	if m.UserB == userID {
		return m.UserA, true
	}
	return uuid.Nil, false
}

// PartnerItems возвращает отфильтрованные позиции партнёра с точки
// зрения указанного участника
func (m *Match) PartnerItems(userID uuid.UUID) []ListingItem {
	if m.UserA == userID {
		return m.ItemsB
	}
	return m.ItemsA
}

// Active сообщает, считается ли матч действующим для инварианта
// уникальности пары
func (m *Match) Active() bool {
	return m.Status != MatchRejected
}

// PairKey возвращает канонический ключ матча: неупорядоченная пара
// пользователей плюс отсортированный набор совпавших категорий.
// На этом ключе держится уникальность активных матчей — повторный
// запуск подбора не плодит дубликаты.
func (m *Match) PairKey() string {
	a, b := m.UserA.String(), m.UserB.String()
	if b < a {
		a, b = b, a
	}
	keys := make([]string, 0, len(m.MatchingCategories))
	for _, k := range m.MatchingCategories {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return a + "|" + b + "|" + strings.Join(keys, ",")
}

// Transition применяет решение участника и возвращает новый статус.
// Функция чистая: саму запись не меняет, проверку прав и запись в базу
// делает вызывающий слой.
func (m *Match) Transition(actor uuid.UUID, accept bool) (MatchStatus, error) {
	if !m.HasUser(actor) {
		return m.Status, fmt.Errorf("пользователь %s не участвует в матче: %w", actor, ErrBadTransition)
	}
	if !accept {
		switch m.Status {
		case MatchProposed, MatchAcceptedA, MatchAcceptedB:
			return MatchRejected, nil
		}
		return m.Status, fmt.Errorf("матч в статусе %q нельзя отклонить: %w", m.Status, ErrBadTransition)
	}
	isA := m.UserA == actor
	switch m.Status {
	case MatchProposed:
		if isA {
			return MatchAcceptedA, nil
		}
		return MatchAcceptedB, nil
	case MatchAcceptedA:
		if isA {
			return m.Status, fmt.Errorf("повторное подтверждение: %w", ErrBadTransition)
		}
		return MatchMatched, nil
	case MatchAcceptedB:
		if !isA {
			return m.Status, fmt.Errorf("повторное подтверждение: %w", ErrBadTransition)
		}
		return MatchMatched, nil
	}
	return m.Status, fmt.Errorf("матч в статусе %q нельзя подтвердить: %w", m.Status, ErrBadTransition)
}

// ChainStatus — статус цепочки обмена
type ChainStatus string

const (
	ChainPending      ChainStatus = "pending"
	ChainAcceptedSome ChainStatus = "accepted_partial"
	ChainAcceptedAll  ChainStatus = "accepted_all"
	ChainDeclined     ChainStatus = "declined"
)

// ChainEdge — ребро цепочки: "хотелка" пользователя From закрывается
// предложением пользователя To
type ChainEdge struct {
	FromUser    uuid.UUID   `json:"from_user"`
	ToUser      uuid.UUID   `json:"to_user"`
	WantItemID  uuid.UUID   `json:"want_item_id"`
	OfferItemID uuid.UUID   `json:"offer_item_id"`
	Key         CategoryKey `json:"key"`
	Score       float64     `json:"score"`
}

// ExchangeChain представляет многосторонний обмен по кругу: каждый
// участник отдаёт следующему и получает от предыдущего
type ExchangeChain struct {
	ID uuid.UUID `json:"id"`
	// Participants — участники в порядке обхода, без повторов
	Participants []uuid.UUID `json:"participants"`
	// Edges — рёбра замкнутого цикла, Edges[i].ToUser == Edges[i+1].FromUser,
	// последнее ребро возвращается к первому участнику
	Edges []ChainEdge `json:"edges"`
	// Score — средний балл равноценности по рёбрам
	Score  float64     `json:"score"`
	Status ChainStatus `json:"status"`
	// Accepted — кто из участников уже подтвердил
	Accepted []uuid.UUID `json:"accepted,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainKey возвращает канонический ключ цепочки: участники в порядке
// обхода, повёрнутые так, чтобы первым шёл минимальный идентификатор.
// Повторный запуск подбора по неизменному пулу даёт тот же ключ.
func (c *ExchangeChain) ChainKey() string {
	if len(c.Participants) == 0 {
		return ""
	}
	minIdx := 0
	for i, p := range c.Participants {
		if p.String() < c.Participants[minIdx].String() {
			minIdx = i
		}
	}
	parts := make([]string, 0, len(c.Participants))
	for i := 0; i < len(c.Participants); i++ {
		parts = append(parts, c.Participants[(minIdx+i)%len(c.Participants)].String())
	}
	return strings.Join(parts, "|")
}

// HasParticipant сообщает, входит ли пользователь в цепочку
func (c *ExchangeChain) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Validate проверяет, что рёбра образуют замкнутый цикл по участникам
// без повторов
func (c *ExchangeChain) Validate() error {
	if len(c.Participants) < 3 {
		return fmt.Errorf("в цепочке должно быть не меньше трёх участников, получено %d", len(c.Participants))
	}
	if len(c.Edges) != len(c.Participants) {
		return fmt.Errorf("число рёбер %d не совпадает с числом участников %d", len(c.Edges), len(c.Participants))
	}
	seen := make(map[uuid.UUID]bool, len(c.Participants))
	for i, edge := range c.Edges {
		if edge.FromUser != c.Participants[i] {
			return fmt.Errorf("ребро %d начинается не с участника %s", i, c.Participants[i])
		}
		next := c.Participants[(i+1)%len(c.Participants)]
		if edge.ToUser != next {
			return fmt.Errorf("ребро %d не ведёт к следующему участнику %s", i, next)
		}
		if seen[edge.FromUser] {
			return fmt.Errorf("участник %s встречается дважды", edge.FromUser)
		}
		seen[edge.FromUser] = true
	}
	return nil
}

// Transition применяет решение участника цепочки. Отказ любого
// участника закрывает цепочку целиком; подтверждение всех переводит её
// в accepted_all. Возвращает новый статус и обновлённый список
// подтвердивших.
func (c *ExchangeChain) Transition(actor uuid.UUID, accept bool) (ChainStatus, []uuid.UUID, error) {
	if !c.HasParticipant(actor) {
		return c.Status, c.Accepted, fmt.Errorf("пользователь %s не участвует в цепочке: %w", actor, ErrBadTransition)
	}
	switch c.Status {
	case ChainPending, ChainAcceptedSome:
	default:
		return c.Status, c.Accepted, fmt.Errorf("цепочка в статусе %q закрыта: %w", c.Status, ErrBadTransition)
	}
	if !accept {
		return ChainDeclined, c.Accepted, nil
	}
	for _, p := range c.Accepted {
		if p == actor {
			return c.Status, c.Accepted, fmt.Errorf("повторное подтверждение: %w", ErrBadTransition)
		}
	}
	accepted := append(append([]uuid.UUID{}, c.Accepted...), actor)
	if len(accepted) == len(c.Participants) {
		return ChainAcceptedAll, accepted, nil
	}
	return ChainAcceptedSome, accepted, nil
}

// ReferencesItem сообщает, опирается ли матч на позицию
func (m *Match) ReferencesItem(itemID uuid.UUID) bool {
	for _, p := range m.Pairs {
		if p.WantItemID == itemID || p.OfferItemID == itemID {
			return true
		}
	}
	for _, it := range m.ItemsA {
		if it.ID == itemID {
			return true
		}
	}
	for _, it := range m.ItemsB {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// ReferencesItem сообщает, опирается ли цепочка на позицию
func (c *ExchangeChain) ReferencesItem(itemID uuid.UUID) bool {
	for _, e := range c.Edges {
		if e.WantItemID == itemID || e.OfferItemID == itemID {
			return true
		}
	}
	return false
}
