package matching

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// ErrDuplicateMatch возвращается хранилищем, когда активный матч или
// цепочка с таким же каноническим ключом уже существует. Конвейер
// трактует это как идемпотентный повтор и молча пропускает запись.
var ErrDuplicateMatch = errors.New("такой обмен уже существует")

// MatchStore — доступ конвейера к персистентному слою на запись.
// Каждая запись атомарна сама по себе: сбой одной не откатывает
// остальные.
type MatchStore interface {
	SaveMatch(ctx context.Context, match *models.Match) error
	SaveChain(ctx context.Context, chain *models.ExchangeChain) error
}

// Report — итог одного запуска конвейера. Пустой результат — это не
// ошибка: Errors заполняется только реальными сбоями.
type Report struct {
	BilateralMatches int      `json:"bilateral_matches"`
	ExchangeChains   int      `json:"exchange_chains"`
	Participants     int      `json:"participants"`
	Truncated        bool     `json:"truncated"`
	Errors           []string `json:"errors"`
}

// Pipeline — полный цикл подбора: снимок → двусторонние матчи → граф
// односторонних совпадений → цепочки → сохранение и события
type Pipeline struct {
	cfg        config.MatchingConfig
	src        SnapshotSource
	store      MatchStore
	dispatcher Dispatcher

	bilateral *BilateralMatcher
	builder   *ChainGraphBuilder
	cycles    *CycleDiscoverer
}

// NewPipeline собирает конвейер из источника снимка, хранилища и
// доставщика событий
func NewPipeline(cfg config.MatchingConfig, src SnapshotSource, store MatchStore, dispatcher Dispatcher) *Pipeline {
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	return &Pipeline{
		cfg:        cfg,
		src:        src,
		store:      store,
		dispatcher: dispatcher,
		bilateral:  NewBilateralMatcher(cfg),
		builder:    NewChainGraphBuilder(cfg.ValueTolerance),
		cycles:     NewCycleDiscoverer(cfg.MinChainParticipants, cfg.MaxChainParticipants, cfg.CycleEdgeBudget),
	}
}

// Run выполняет один запуск подбора. userID == nil — пакетный запуск
// по всем активным пользователям; иначе подбор ограничен одним
// пользователем: его матчи и цепочки с его участием.
func (p *Pipeline) Run(ctx context.Context, userID *uuid.UUID) (*Report, error) {
	snap, err := BuildSnapshot(ctx, p.src)
	if err != nil {
		return nil, err
	}
	return p.runOnSnapshot(ctx, snap, userID)
}

// RunForUsers выполняет ограниченный пересчёт для набора затронутых
// пользователей по готовому снимку — быстрый путь после изменения
// одной позиции. Граф строится не целиком, а только вокруг затронутых:
// цикл допустимой длины через них не выходит за пределы такой
// окрестности.
func (p *Pipeline) RunForUsers(ctx context.Context, snap *Snapshot, users []uuid.UUID) (*Report, error) {
	report := &Report{Errors: []string{}}
	participants := make(map[uuid.UUID]bool)
	seen := make(map[string]bool)

	for _, u := range users {
		p.runBilateral(ctx, snap, u, report, participants, seen)
	}

	graph := p.builder.BuildAround(snap, users, p.cfg.MaxChainParticipants)
	chains, truncated := p.cycles.FindChains(graph)
	report.Truncated = truncated
	p.persistChains(ctx, filterChainsByUsers(chains, users), report, participants)

	report.Participants = len(participants)
	return report, nil
}

func (p *Pipeline) runOnSnapshot(ctx context.Context, snap *Snapshot, userID *uuid.UUID) (*Report, error) {
	report := &Report{Errors: []string{}}
	participants := make(map[uuid.UUID]bool)
	seen := make(map[string]bool)

	users := snap.Index.Users()
	if userID != nil {
		users = []uuid.UUID{*userID}
	}
	for _, u := range users {
		p.runBilateral(ctx, snap, u, report, participants, seen)
	}

	graph := p.builder.Build(snap)
	chains, truncated := p.cycles.FindChains(graph)
	report.Truncated = truncated
	if truncated {
		log.Printf("⚠️ Поиск цепочек усечён: бюджет %d рёбер исчерпан", p.cfg.CycleEdgeBudget)
	}
	if userID != nil {
		chains = filterChainsByUsers(chains, []uuid.UUID{*userID})
	}
	p.persistChains(ctx, chains, report, participants)

	report.Participants = len(participants)
	return report, nil
}

// runBilateral ищет и сохраняет матчи одного пользователя. Дубликаты
// внутри запуска (матч A↔B находится и от A, и от B) и между
// запусками отсекаются по каноническому ключу пары.
func (p *Pipeline) runBilateral(ctx context.Context, snap *Snapshot, userID uuid.UUID, report *Report, participants map[uuid.UUID]bool, seen map[string]bool) {
	for _, match := range p.bilateral.FindMatches(snap, userID) {
		key := match.PairKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		err := p.store.SaveMatch(ctx, &match)
		if errors.Is(err, ErrDuplicateMatch) {
			continue
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("сохранение матча %s: %v", match.ID, err))
			continue
		}
		report.BilateralMatches++
		participants[match.UserA] = true
		participants[match.UserB] = true
		p.dispatch(func() { p.dispatcher.MatchCreated(MatchCreated{Match: match}) })
	}
}

func (p *Pipeline) persistChains(ctx context.Context, chains []models.ExchangeChain, report *Report, participants map[uuid.UUID]bool) {
	for _, chain := range chains {
		err := p.store.SaveChain(ctx, &chain)
		if errors.Is(err, ErrDuplicateMatch) {
			continue
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("сохранение цепочки %s: %v", chain.ID, err))
			continue
		}
		report.ExchangeChains++
		for _, u := range chain.Participants {
			participants[u] = true
		}
		p.dispatch(func() { p.dispatcher.ChainDiscovered(ChainDiscovered{Chain: chain}) })
	}
}

// dispatch доставляет событие, не давая паникующему или падающему
// доставщику уронить запуск подбора
func (p *Pipeline) dispatch(send func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Сбой доставки уведомления: %v", r)
		}
	}()
	send()
}

func filterChainsByUsers(chains []models.ExchangeChain, users []uuid.UUID) []models.ExchangeChain {
	keep := make([]models.ExchangeChain, 0, len(chains))
	for _, chain := range chains {
		for _, u := range users {
			if chain.HasParticipant(u) {
				keep = append(keep, chain)
				break
			}
		}
	}
	return keep
}
