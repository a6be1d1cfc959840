package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// MemoryStore — хранилище в памяти. Реализует те же контракты, что и
// Postgres-хранилище; используется в тестах и офлайновых запусках
// swapctl.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]models.ListingItem
	matches   map[uuid.UUID]models.Match
	chains    map[uuid.UUID]models.ExchangeChain
	locations map[uuid.UUID][]models.Location
	trust     map[uuid.UUID]float64
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[uuid.UUID]models.ListingItem),
		matches:   make(map[uuid.UUID]models.Match),
		chains:    make(map[uuid.UUID]models.ExchangeChain),
		locations: make(map[uuid.UUID][]models.Location),
		trust:     make(map[uuid.UUID]float64),
	}
}

// SetUser задаёт города и репутацию пользователя
func (s *MemoryStore) SetUser(userID uuid.UUID, locs []models.Location, trust float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[userID] = locs
	s.trust[userID] = trust
}

// CreateItem валидирует и сохраняет позицию
func (s *MemoryStore) CreateItem(ctx context.Context, item *models.ListingItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

// ArchiveItem помечает позицию архивной
func (s *MemoryStore) ArchiveItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return models.ListingItem{}, fmt.Errorf("позиция %s не найдена", itemID)
	}
	item.Archived = true
	s.items[itemID] = item
	return item, nil
}

// GetItem возвращает позицию по идентификатору
func (s *MemoryStore) GetItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return models.ListingItem{}, fmt.Errorf("позиция %s не найдена", itemID)
	}
	return item, nil
}

// ListActiveItems возвращает активные позиции по фильтру
func (s *MemoryStore) ListActiveItems(ctx context.Context, filter matching.ItemFilter) ([]models.ListingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]models.ListingItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Archived {
			continue
		}
		if filter.Category != nil && item.Category != *filter.Category {
			continue
		}
		if filter.ExchangeType != nil && item.ExchangeType != *filter.ExchangeType {
			continue
		}
		if filter.Location != nil && !s.userHasLocation(item.OwnerID, *filter.Location) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

func (s *MemoryStore) userHasLocation(userID uuid.UUID, loc models.Location) bool {
	locs := s.locations[userID]
	if len(locs) == 0 {
		return loc == models.DefaultLocation
	}
	for _, l := range locs {
		if l == loc {
			return true
		}
	}
	return false
}

// UserLocations возвращает города пользователя
func (s *MemoryStore) UserLocations(ctx context.Context, userID uuid.UUID) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locations[userID], nil
}

// UserTrustScore возвращает репутацию пользователя
func (s *MemoryStore) UserTrustScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trust[userID], nil
}

// SaveMatch сохраняет матч; активный матч с тем же каноническим ключом
// пары уже есть — возвращается matching.ErrDuplicateMatch
func (s *MemoryStore) SaveMatch(ctx context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := match.PairKey()
	for _, existing := range s.matches {
		if existing.Active() && existing.PairKey() == key {
			return matching.ErrDuplicateMatch
		}
	}
	s.matches[match.ID] = *match
	return nil
}

// SaveChain сохраняет цепочку с той же защитой от дубликатов
func (s *MemoryStore) SaveChain(ctx context.Context, chain *models.ExchangeChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chain.ChainKey()
	for _, existing := range s.chains {
		if existing.Status != models.ChainDeclined && existing.ChainKey() == key {
			return matching.ErrDuplicateMatch
		}
	}
	s.chains[chain.ID] = *chain
	return nil
}

// GetMatch возвращает матч по идентификатору
func (s *MemoryStore) GetMatch(ctx context.Context, matchID uuid.UUID) (models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, fmt.Errorf("матч %s не найден", matchID)
	}
	return match, nil
}

// GetChain возвращает цепочку по идентификатору
func (s *MemoryStore) GetChain(ctx context.Context, chainID uuid.UUID) (models.ExchangeChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.chains[chainID]
	if !ok {
		return models.ExchangeChain{}, fmt.Errorf("цепочка %s не найдена", chainID)
	}
	return chain, nil
}

// UpdateMatchStatus записывает новый статус матча
func (s *MemoryStore) UpdateMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("матч %s не найден", matchID)
	}
	match.Status = status
	s.matches[matchID] = match
	return nil
}

// UpdateChainStatus записывает новый статус цепочки и список
// подтвердивших участников
func (s *MemoryStore) UpdateChainStatus(ctx context.Context, chainID uuid.UUID, status models.ChainStatus, accepted []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain, ok := s.chains[chainID]
	if !ok {
		return fmt.Errorf("цепочка %s не найдена", chainID)
	}
	chain.Status = status
	chain.Accepted = accepted
	s.chains[chainID] = chain
	return nil
}

// MatchesForUser возвращает матчи пользователя, действующие первыми,
// по убыванию балла
func (s *MemoryStore) MatchesForUser(ctx context.Context, userID uuid.UUID) ([]models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]models.Match, 0)
	for _, match := range s.matches {
		if match.HasUser(userID) {
			matches = append(matches, match)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Active() != matches[j].Active() {
			return matches[i].Active()
		}
		return matches[i].OverallScore > matches[j].OverallScore
	})
	return matches, nil
}

// ChainsForUser возвращает цепочки с участием пользователя по
// убыванию балла
func (s *MemoryStore) ChainsForUser(ctx context.Context, userID uuid.UUID) ([]models.ExchangeChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chains := make([]models.ExchangeChain, 0)
	for _, chain := range s.chains {
		if chain.HasParticipant(userID) {
			chains = append(chains, chain)
		}
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].Score > chains[j].Score
	})
	return chains, nil
}

// InvalidateByItem отклоняет матчи и цепочки, опирающиеся на позицию.
// Вызывается при архивации: устаревшие записи не остаются висеть в
// действующем статусе.
func (s *MemoryStore) InvalidateByItem(ctx context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Состоявшиеся обмены не трогаем: снимаются только ещё не
	// завершённые предложения
	for id, match := range s.matches {
		switch match.Status {
		case models.MatchProposed, models.MatchAcceptedA, models.MatchAcceptedB:
			if match.ReferencesItem(itemID) {
				match.Status = models.MatchRejected
				s.matches[id] = match
			}
		}
	}
	for id, chain := range s.chains {
		switch chain.Status {
		case models.ChainPending, models.ChainAcceptedSome:
			if chain.ReferencesItem(itemID) {
				chain.Status = models.ChainDeclined
				s.chains[id] = chain
			}
		}
	}
	return nil
}
