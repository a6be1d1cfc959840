// Package storage реализует персистентный слой подбора: Postgres для
// продакшена и хранилище в памяти для тестов и офлайновых запусков.
// Соединение с базой передаётся явно, глобального пула нет.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// uniqueViolation — код Postgres для нарушения уникальности
const uniqueViolation = "23505"

// Store — хранилище на Postgres
type Store struct {
	pool *pgxpool.Pool
}

// New подключается к базе и возвращает хранилище
func New(ctx context.Context, databaseURL string) (*Store, error) {
	log.Printf("Подключение к базе данных: %s\n", databaseURL)

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе URL базы данных: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула соединений: %w", err)
	}

	if err = pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("ошибка при проверке соединения: %w", err)
	}

	log.Println("✅ Успешное подключение к базе данных")
	return &Store{pool: pool}, nil
}

// Close закрывает пул соединений
func (s *Store) Close() {
	s.pool.Close()
}

// matchPayload — jsonb-часть записи матча
type matchPayload struct {
	Pairs              []models.ItemPair              `json:"pairs"`
	MatchingCategories []models.CategoryKey           `json:"matching_categories"`
	CategoryScores     map[models.CategoryKey]float64 `json:"category_scores"`
	ItemsA             []models.ListingItem           `json:"items_a"`
	ItemsB             []models.ListingItem           `json:"items_b"`
}

// chainPayload — jsonb-часть записи цепочки
type chainPayload struct {
	Participants []uuid.UUID        `json:"participants"`
	Edges        []models.ChainEdge `json:"edges"`
	Accepted     []uuid.UUID        `json:"accepted"`
}

// CreateItem валидирует и сохраняет позицию
func (s *Store) CreateItem(ctx context.Context, item *models.ListingItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	var duration *int
	if item.ExchangeType == models.ExchangeTemporary {
		duration = &item.DurationDays
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listing_items (id, owner_id, direction, category, exchange_type, value, duration_days, description, created_at, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
	`, item.ID, item.OwnerID, item.Direction, item.Category, item.ExchangeType,
		item.Value, duration, item.Description, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения позиции: %w", err)
	}
	return nil
}

// ArchiveItem помечает позицию архивной и возвращает её
func (s *Store) ArchiveItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE listing_items SET archived = true
		WHERE id = $1
		RETURNING id, owner_id, direction, category, exchange_type, value, COALESCE(duration_days, 0), description, created_at, archived
	`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ListingItem{}, fmt.Errorf("позиция %s не найдена", itemID)
		}
		return models.ListingItem{}, fmt.Errorf("ошибка архивации позиции: %w", err)
	}
	return item, nil
}

// GetItem возвращает позицию по идентификатору
func (s *Store) GetItem(ctx context.Context, itemID uuid.UUID) (models.ListingItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, direction, category, exchange_type, value, COALESCE(duration_days, 0), description, created_at, archived
		FROM listing_items WHERE id = $1
	`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ListingItem{}, fmt.Errorf("позиция %s не найдена", itemID)
		}
		return models.ListingItem{}, fmt.Errorf("ошибка чтения позиции: %w", err)
	}
	return item, nil
}

// ListActiveItems возвращает активные позиции по фильтру
func (s *Store) ListActiveItems(ctx context.Context, filter matching.ItemFilter) ([]models.ListingItem, error) {
	query := `
		SELECT i.id, i.owner_id, i.direction, i.category, i.exchange_type, i.value, COALESCE(i.duration_days, 0), i.description, i.created_at, i.archived
		FROM listing_items i
		WHERE NOT i.archived
	`
	args := []interface{}{}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		query += fmt.Sprintf(" AND i.category = $%d", len(args))
	}
	if filter.ExchangeType != nil {
		args = append(args, *filter.ExchangeType)
		query += fmt.Sprintf(" AND i.exchange_type = $%d", len(args))
	}
	if filter.Location != nil {
		args = append(args, string(*filter.Location))
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM users u WHERE u.id = i.owner_id AND $%d = ANY(u.locations)
		)`, len(args))
	}
	query += " ORDER BY i.created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки позиций: %w", err)
	}
	defer rows.Close()

	items := make([]models.ListingItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения позиции: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (models.ListingItem, error) {
	var item models.ListingItem
	err := row.Scan(&item.ID, &item.OwnerID, &item.Direction, &item.Category,
		&item.ExchangeType, &item.Value, &item.DurationDays, &item.Description,
		&item.CreatedAt, &item.Archived)
	return item, err
}

// UserLocations возвращает города пользователя
func (s *Store) UserLocations(ctx context.Context, userID uuid.UUID) ([]models.Location, error) {
	var raw []string
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(locations, '{}') FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения городов пользователя: %w", err)
	}
	locs := make([]models.Location, 0, len(raw))
	for _, l := range raw {
		locs = append(locs, models.Location(l))
	}
	return locs, nil
}

// UserTrustScore возвращает репутацию пользователя
func (s *Store) UserTrustScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	var trust float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(trust_score, 0) FROM users WHERE id = $1`, userID).Scan(&trust)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка чтения репутации пользователя: %w", err)
	}
	return trust, nil
}

// SaveMatch сохраняет матч. Уникальность активной пары держит
// частичный индекс по pair_key: конфликт означает, что такой матч уже
// есть, и наружу уходит matching.ErrDuplicateMatch.
func (s *Store) SaveMatch(ctx context.Context, match *models.Match) error {
	payload, err := json.Marshal(matchPayload{
		Pairs:              match.Pairs,
		MatchingCategories: match.MatchingCategories,
		CategoryScores:     match.CategoryScores,
		ItemsA:             match.ItemsA,
		ItemsB:             match.ItemsB,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации матча: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO matches (id, user_a, user_b, pair_key, overall_score, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (pair_key) WHERE status <> 'rejected' DO NOTHING
	`, match.ID, match.UserA, match.UserB, match.PairKey(), match.OverallScore,
		payload, match.Status, match.CreatedAt)
	if err != nil {
		// Конкурентный запуск мог вставить пару первее
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return matching.ErrDuplicateMatch
		}
		return fmt.Errorf("ошибка сохранения матча: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return matching.ErrDuplicateMatch
	}
	return nil
}

// SaveChain сохраняет цепочку с той же защитой от дубликатов
func (s *Store) SaveChain(ctx context.Context, chain *models.ExchangeChain) error {
	payload, err := json.Marshal(chainPayload{
		Participants: chain.Participants,
		Edges:        chain.Edges,
		Accepted:     chain.Accepted,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации цепочки: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO exchange_chains (id, chain_key, score, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (chain_key) WHERE status <> 'declined' DO NOTHING
	`, chain.ID, chain.ChainKey(), chain.Score, payload, chain.Status, chain.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return matching.ErrDuplicateMatch
		}
		return fmt.Errorf("ошибка сохранения цепочки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return matching.ErrDuplicateMatch
	}
	return nil
}

// GetMatch возвращает матч по идентификатору
func (s *Store) GetMatch(ctx context.Context, matchID uuid.UUID) (models.Match, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_a, user_b, overall_score, payload, status, created_at, updated_at
		FROM matches WHERE id = $1
	`, matchID)
	match, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Match{}, fmt.Errorf("матч %s не найден", matchID)
		}
		return models.Match{}, fmt.Errorf("ошибка чтения матча: %w", err)
	}
	return match, nil
}

// GetChain возвращает цепочку по идентификатору
func (s *Store) GetChain(ctx context.Context, chainID uuid.UUID) (models.ExchangeChain, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, score, payload, status, created_at, updated_at
		FROM exchange_chains WHERE id = $1
	`, chainID)
	chain, err := scanChain(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ExchangeChain{}, fmt.Errorf("цепочка %s не найдена", chainID)
		}
		return models.ExchangeChain{}, fmt.Errorf("ошибка чтения цепочки: %w", err)
	}
	return chain, nil
}

// UpdateMatchStatus записывает новый статус матча
func (s *Store) UpdateMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches SET status = $2, updated_at = now() WHERE id = $1
	`, matchID, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса матча: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("матч %s не найден", matchID)
	}
	return nil
}

// UpdateChainStatus записывает статус цепочки и список подтвердивших
func (s *Store) UpdateChainStatus(ctx context.Context, chainID uuid.UUID, status models.ChainStatus, accepted []uuid.UUID) error {
	acceptedJSON, err := json.Marshal(accepted)
	if err != nil {
		return fmt.Errorf("ошибка сериализации подтверждений: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE exchange_chains
		SET status = $2, payload = jsonb_set(payload, '{accepted}', $3::jsonb), updated_at = now()
		WHERE id = $1
	`, chainID, status, string(acceptedJSON))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса цепочки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("цепочка %s не найдена", chainID)
	}
	return nil
}

// MatchesForUser возвращает матчи пользователя: действующие первыми,
// дальше по убыванию балла
func (s *Store) MatchesForUser(ctx context.Context, userID uuid.UUID) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_a, user_b, overall_score, payload, status, created_at, updated_at
		FROM matches
		WHERE user_a = $1 OR user_b = $1
		ORDER BY (status = 'rejected'), overall_score DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки матчей: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения матча: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// ChainsForUser возвращает цепочки с участием пользователя
func (s *Store) ChainsForUser(ctx context.Context, userID uuid.UUID) ([]models.ExchangeChain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, score, payload, status, created_at, updated_at
		FROM exchange_chains
		WHERE payload->'participants' @> to_jsonb($1::text)
		ORDER BY score DESC
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки цепочек: %w", err)
	}
	defer rows.Close()

	chains := make([]models.ExchangeChain, 0)
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения цепочки: %w", err)
		}
		chains = append(chains, chain)
	}
	return chains, rows.Err()
}

// InvalidateByItem отклоняет матчи и цепочки, опирающиеся на позицию.
// Каждое обновление идёт своей транзакцией относительно запуска
// подбора: сбой здесь не откатывает уже сохранённые записи.
func (s *Store) InvalidateByItem(ctx context.Context, itemID uuid.UUID) error {
	ref, err := json.Marshal(itemID)
	if err != nil {
		return fmt.Errorf("ошибка сериализации идентификатора: %w", err)
	}

	// Состоявшиеся обмены (matched / accepted_all) не трогаем:
	// инвалидация снимает только ещё не завершённые предложения.
	// Матч опирается на позицию и через лучшие пары, и через витрины
	// сторон: категория могла пройти по агрегатам без единой пары, и
	// тогда позиция видна только в items_a/items_b.
	_, err = s.pool.Exec(ctx, `
		UPDATE matches SET status = 'rejected', updated_at = now()
		WHERE status IN ('proposed', 'accepted_a', 'accepted_b')
		  AND (payload->'pairs' @> jsonb_build_array(jsonb_build_object('want_item_id', $1::jsonb))
		   OR payload->'pairs' @> jsonb_build_array(jsonb_build_object('offer_item_id', $1::jsonb))
		   OR payload->'items_a' @> jsonb_build_array(jsonb_build_object('id', $1::jsonb))
		   OR payload->'items_b' @> jsonb_build_array(jsonb_build_object('id', $1::jsonb)))
	`, string(ref))
	if err != nil {
		return fmt.Errorf("ошибка инвалидации матчей: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE exchange_chains SET status = 'declined', updated_at = now()
		WHERE status IN ('pending', 'accepted_partial')
		  AND (payload->'edges' @> jsonb_build_array(jsonb_build_object('want_item_id', $1::jsonb))
		   OR payload->'edges' @> jsonb_build_array(jsonb_build_object('offer_item_id', $1::jsonb)))
	`, string(ref))
	if err != nil {
		return fmt.Errorf("ошибка инвалидации цепочек: %w", err)
	}
	return nil
}

func scanMatch(row pgx.Row) (models.Match, error) {
	var match models.Match
	var payload []byte
	err := row.Scan(&match.ID, &match.UserA, &match.UserB, &match.OverallScore,
		&payload, &match.Status, &match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		return models.Match{}, err
	}
	var p matchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Match{}, err
	}
	match.Pairs = p.Pairs
	match.MatchingCategories = p.MatchingCategories
	match.CategoryScores = p.CategoryScores
	match.ItemsA = p.ItemsA
	match.ItemsB = p.ItemsB
	return match, nil
}

func scanChain(row pgx.Row) (models.ExchangeChain, error) {
	var chain models.ExchangeChain
	var payload []byte
	err := row.Scan(&chain.ID, &chain.Score, &payload, &chain.Status,
		&chain.CreatedAt, &chain.UpdatedAt)
	if err != nil {
		return models.ExchangeChain{}, err
	}
	var p chainPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.ExchangeChain{}, err
	}
	chain.Participants = p.Participants
	chain.Edges = p.Edges
	chain.Accepted = p.Accepted
	return chain, nil
}

// UpsertTelegramUser создаёт или обновляет пользователя по данным
// Telegram и возвращает его идентификатор
func (s *Store) UpsertTelegramUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE telegram_id = $1`, telegramID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		userID = uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO users (id, telegram_id, username, first_name, last_name, locations, trust_score)
			VALUES ($1, $2, $3, $4, $5, $6, 0)
		`, userID, telegramID, username, firstName, lastName, []string{string(models.DefaultLocation)})
		if err != nil {
			return uuid.Nil, fmt.Errorf("ошибка создания пользователя: %w", err)
		}
	} else if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE users SET username = $2, first_name = $3, last_name = $4, updated_at = now()
			WHERE id = $1
		`, userID, username, firstName, lastName)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ошибка обновления пользователя: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return userID, nil
}
