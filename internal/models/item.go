package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction определяет, ищет пользователь позицию или предлагает её
type Direction string

const (
	DirectionWant  Direction = "want"
	DirectionOffer Direction = "offer"
)

// ExchangeType определяет вид обмена: насовсем или на время
type ExchangeType string

const (
	ExchangePermanent ExchangeType = "permanent"
	ExchangeTemporary ExchangeType = "temporary"
)

// Category — закрытый набор категорий. Внутри ядра категории никогда
// не бывают произвольными строками: всё, что пришло снаружи, проходит
// через ValidCategory.
type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryTools       Category = "tools"
	CategoryFurniture   Category = "furniture"
	CategoryClothing    Category = "clothing"
	CategoryBooks       Category = "books"
	CategorySport       Category = "sport"
	CategoryAutoParts   Category = "auto_parts"
	CategoryHomeGoods   Category = "home_goods"
	CategoryVehicles    Category = "vehicles"
	CategoryHousing     Category = "housing"
	CategoryEquipment   Category = "equipment"
)

// permanentCategories и temporaryCategories — допустимые наборы
// категорий для каждого вида обмена. Часть категорий (инструменты,
// электроника, спорт) имеет смысл и как обмен насовсем, и как аренда.
var permanentCategories = map[Category]bool{
	CategoryElectronics: true,
	CategoryTools:       true,
	CategoryFurniture:   true,
	CategoryClothing:    true,
	CategoryBooks:       true,
	CategorySport:       true,
	CategoryAutoParts:   true,
	CategoryHomeGoods:   true,
}

var temporaryCategories = map[Category]bool{
	CategoryElectronics: true,
	CategoryTools:       true,
	CategorySport:       true,
	CategoryVehicles:    true,
	CategoryHousing:     true,
	CategoryEquipment:   true,
}

// ValidCategory проверяет, что категория входит в допустимый набор
// для данного вида обмена
func ValidCategory(category Category, exchangeType ExchangeType) bool {
	switch exchangeType {
	case ExchangePermanent:
		return permanentCategories[category]
	case ExchangeTemporary:
		return temporaryCategories[category]
	}
	return false
}

// Location — закрытый набор городов
type Location string

const (
	LocationAlmaty    Location = "almaty"
	LocationAstana    Location = "astana"
	LocationShymkent  Location = "shymkent"
	LocationKaraganda Location = "karaganda"
	LocationAktobe    Location = "aktobe"
	LocationTaraz     Location = "taraz"
	LocationPavlodar  Location = "pavlodar"
)

// DefaultLocation используется, когда у пользователя не задан город:
// набор городов пользователя никогда не бывает пустым
const DefaultLocation = LocationAlmaty

var validLocations = map[Location]bool{
	LocationAlmaty:    true,
	LocationAstana:    true,
	LocationShymkent:  true,
	LocationKaraganda: true,
	LocationAktobe:    true,
	LocationTaraz:     true,
	LocationPavlodar:  true,
}

// ValidLocation проверяет, что город входит в известный набор
func ValidLocation(loc Location) bool {
	return validLocations[loc]
}

// MaxUserLocations — сколько городов может указать один пользователь
const MaxUserLocations = 3

// MaxDurationDays — верхняя граница срока временного обмена
const MaxDurationDays = 365

// ListingItem представляет позицию объявления: что пользователь ищет
// или предлагает, с оценкой стоимости в тенге
type ListingItem struct {
	ID           uuid.UUID    `json:"id"`
	OwnerID      uuid.UUID    `json:"owner_id"`
	Direction    Direction    `json:"direction"`
	Category     Category     `json:"category"`
	ExchangeType ExchangeType `json:"exchange_type"`
	// Value — заявленная стоимость в базовых единицах валюты, всегда ≥ 1
	Value int64 `json:"value"`
	// DurationDays заполнен только для временного обмена, 1..365
	DurationDays int       `json:"duration_days,omitempty"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	Archived     bool      `json:"archived"`
}

// Validate проверяет инварианты позиции на границе системы.
// Ядро подбора считает, что все позиции уже прошли эту проверку.
func (i *ListingItem) Validate() error {
	if i.Direction != DirectionWant && i.Direction != DirectionOffer {
		return fmt.Errorf("неизвестное направление %q", i.Direction)
	}
	if i.ExchangeType != ExchangePermanent && i.ExchangeType != ExchangeTemporary {
		return fmt.Errorf("неизвестный вид обмена %q", i.ExchangeType)
	}
	if !ValidCategory(i.Category, i.ExchangeType) {
		return fmt.Errorf("категория %q недопустима для обмена %q", i.Category, i.ExchangeType)
	}
	if i.Value < 1 {
		return fmt.Errorf("стоимость должна быть положительной, получено %d", i.Value)
	}
	switch i.ExchangeType {
	case ExchangeTemporary:
		if i.DurationDays < 1 || i.DurationDays > MaxDurationDays {
			return fmt.Errorf("срок должен быть в пределах 1..%d дней, получено %d", MaxDurationDays, i.DurationDays)
		}
	case ExchangePermanent:
		if i.DurationDays != 0 {
			return fmt.Errorf("срок указывается только для временного обмена")
		}
	}
	return nil
}

// DailyRate возвращает стоимость, приведённую к суткам: для временного
// обмена — тариф за день, для постоянного — саму стоимость.
// DurationDays ≥ 1 гарантирован Validate, деление на ноль невозможно.
func (i *ListingItem) DailyRate() float64 {
	if i.ExchangeType == ExchangeTemporary {
		return float64(i.Value) / float64(i.DurationDays)
	}
	return float64(i.Value)
}

// CategoryKey — единица сравнения при подборе: категория в рамках
// конкретного вида обмена. Аренда инструментов и обмен инструментов
// насовсем не смешиваются.
type CategoryKey struct {
	Category     Category     `json:"category"`
	ExchangeType ExchangeType `json:"exchange_type"`
}

// Key возвращает ключ категории позиции
func (i *ListingItem) Key() CategoryKey {
	return CategoryKey{Category: i.Category, ExchangeType: i.ExchangeType}
}

// String возвращает строковое представление вида "tools/permanent"
func (k CategoryKey) String() string {
	return string(k.Category) + "/" + string(k.ExchangeType)
}

// MarshalText позволяет использовать ключ категории как ключ JSON-объекта
func (k CategoryKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText разбирает ключ категории из текста
func (k *CategoryKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCategoryKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCategoryKey разбирает строку вида "tools/permanent"
func ParseCategoryKey(s string) (CategoryKey, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			k := CategoryKey{Category: Category(s[:i]), ExchangeType: ExchangeType(s[i+1:])}
			if !ValidCategory(k.Category, k.ExchangeType) {
				return CategoryKey{}, fmt.Errorf("неизвестный ключ категории %q", s)
			}
			return k, nil
		}
	}
	return CategoryKey{}, fmt.Errorf("неизвестный ключ категории %q", s)
}
