package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	Matching         MatchingConfig
	AppEnv           string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// MatchingConfig содержит параметры алгоритма подбора обменов.
// Все пороги из формул подбора вынесены сюда, чтобы их можно было
// крутить без правки самого алгоритма.
type MatchingConfig struct {
	// ValueTolerance — максимальная относительная разница стоимостей,
	// при которой две позиции считаются равноценными.
	ValueTolerance float64
	// CategoryThreshold — минимальный балл категории, чтобы она попала
	// в список совпавших категорий матча.
	CategoryThreshold float64
	// TextWeight — вес усреднённого балла категорий в итоговом score.
	TextWeight float64
	// LocationBonus — надбавка за общий город.
	LocationBonus float64
	// TrustBonusCap — потолок надбавки за репутацию партнёра.
	TrustBonusCap float64
	// MinChainParticipants и MaxChainParticipants ограничивают длину
	// цепочки обмена (двусторонние обмены ищутся отдельно).
	MinChainParticipants int
	MaxChainParticipants int
	// CycleEdgeBudget — сколько рёбер графа можно обойти за один запуск
	// поиска цепочек, защита от плотных графов.
	CycleEdgeBudget int
}

// DefaultMatching возвращает параметры подбора по умолчанию
func DefaultMatching() MatchingConfig {
	return MatchingConfig{
		ValueTolerance:       0.15,
		CategoryThreshold:    0.70,
		TextWeight:           0.7,
		LocationBonus:        0.1,
		TrustBonusCap:        0.2,
		MinChainParticipants: 3,
		MaxChainParticipants: 10,
		CycleEdgeBudget:      50000,
	}
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "swaploop_user"),
		Password: getEnv("PGPASSWORD", "swaploop_pass"),
		Name:     getEnv("PGDATABASE", "swaploop"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	matching := DefaultMatching()
	matching.ValueTolerance = getEnvFloat("MATCH_VALUE_TOLERANCE", matching.ValueTolerance)
	matching.CategoryThreshold = getEnvFloat("MATCH_CATEGORY_THRESHOLD", matching.CategoryThreshold)
	matching.TextWeight = getEnvFloat("MATCH_TEXT_WEIGHT", matching.TextWeight)
	matching.LocationBonus = getEnvFloat("MATCH_LOCATION_BONUS", matching.LocationBonus)
	matching.TrustBonusCap = getEnvFloat("MATCH_TRUST_BONUS_CAP", matching.TrustBonusCap)
	matching.MinChainParticipants = getEnvInt("CHAIN_MIN_PARTICIPANTS", matching.MinChainParticipants)
	matching.MaxChainParticipants = getEnvInt("CHAIN_MAX_PARTICIPANTS", matching.MaxChainParticipants)
	matching.CycleEdgeBudget = getEnvInt("CHAIN_EDGE_BUDGET", matching.CycleEdgeBudget)

	cfg := &Config{
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		Matching:         matching,
		AppEnv:           getEnv("APP_ENV", "production"),
	}

	if cfg.TelegramBotToken == "" || cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не заданы обязательные переменные окружения")
	}

	return cfg
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("⚠️ Неверное значение %s=%q, используем %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Неверное значение %s=%q, используем %v", key, value, defaultValue)
		return defaultValue
	}
	return n
}
