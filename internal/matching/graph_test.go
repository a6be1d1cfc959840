package matching

import (
	"testing"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

func findEdge(g *Graph, from, to uuid.UUID) (models.ChainEdge, bool) {
	for _, edge := range g.Adj[from] {
		if edge.ToUser == to {
			return edge, true
		}
	}
	return models.ChainEdge{}, false
}

func TestGraphUnilateralEdge(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	want := makeItem(alice, models.DirectionWant, models.CategoryTools, 50000)
	offer := makeItem(bob, models.DirectionOffer, models.CategoryTools, 52000)
	snap := makeSnapshot([]models.ListingItem{want, offer}, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	g := NewChainGraphBuilder(0.15).Build(snap)

	edge, ok := findEdge(g, alice, bob)
	if !ok {
		t.Fatal("ожидалось ребро Алиса→Боб")
	}
	if edge.WantItemID != want.ID || edge.OfferItemID != offer.ID {
		t.Fatal("ребро должно нести исходную пару позиций")
	}
	if edge.Score <= 0 {
		t.Fatal("ребро должно нести балл равноценности")
	}

	// Ребро одностороннее: обратного нет
	if _, ok := findEdge(g, bob, alice); ok {
		t.Fatal("обратное ребро Боб→Алиса не подразумевается")
	}
	if g.EdgeCount != 1 {
		t.Fatalf("ожидалось одно ребро, получено %d", g.EdgeCount)
	}
}

func TestGraphLocationExclusivity(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 50000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   shymkent(),
	})

	g := NewChainGraphBuilder(0.15).Build(snap)
	if g.EdgeCount != 0 {
		t.Fatalf("без общего города рёбер быть не должно, получено %d", g.EdgeCount)
	}
}

func TestGraphToleranceFilter(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(bob, models.DirectionOffer, models.CategoryTools, 90000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	g := NewChainGraphBuilder(0.15).Build(snap)
	if g.EdgeCount != 0 {
		t.Fatalf("неравноценная пара не даёт ребра, получено %d", g.EdgeCount)
	}
}

func TestGraphKeepsBestPair(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	far := makeItem(bob, models.DirectionOffer, models.CategoryTools, 56000)
	near := makeItem(bob, models.DirectionOffer, models.CategoryTools, 50500)
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		far, near,
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{
		alice: almaty(),
		bob:   almaty(),
	})

	g := NewChainGraphBuilder(0.15).Build(snap)
	edge, ok := findEdge(g, alice, bob)
	if !ok {
		t.Fatal("ожидалось ребро Алиса→Боб")
	}
	if edge.OfferItemID != near.ID {
		t.Fatal("между парой пользователей остаётся самая близкая по стоимости пара")
	}
}

// Локальный подграф покрывает окрестность затронутых пользователей,
// не вычисляя рёбра несвязанных с ними компонент
func TestGraphBuildAround(t *testing.T) {
	snap, users := triangle()

	// Несвязанная пара в том же городе: в окрестность треугольника
	// не попадает
	carol, dave := uuid.New(), uuid.New()
	outside := []models.ListingItem{
		makeItem(carol, models.DirectionWant, models.CategoryFurniture, 40000),
		makeItem(dave, models.DirectionOffer, models.CategoryFurniture, 40000),
	}
	for i := range outside {
		snap.Index.Add(&outside[i])
	}
	snap.Locations.Set(carol, almaty())
	snap.Locations.Set(dave, almaty())

	g := NewChainGraphBuilder(0.15).BuildAround(snap, []uuid.UUID{users[0]}, 10)

	for i, from := range users {
		to := users[(i+1)%len(users)]
		if _, ok := findEdge(g, from, to); !ok {
			t.Fatalf("ребро цикла %s→%s потеряно в подграфе", from, to)
		}
	}
	if len(g.Adj[carol]) != 0 {
		t.Fatal("рёбра несвязанной компоненты не должны вычисляться")
	}
	if g.EdgeCount != 3 {
		t.Fatalf("в подграфе ожидались только рёбра цикла, получено %d", g.EdgeCount)
	}

	full := NewChainGraphBuilder(0.15).Build(snap)
	if full.EdgeCount != 4 {
		t.Fatalf("полный граф несёт и несвязанную пару, получено %d", full.EdgeCount)
	}
}

// Глубина подграфа ограничивает длину достижимых циклов
func TestGraphBuildAroundDepthLimit(t *testing.T) {
	snap, users := triangle()

	g := NewChainGraphBuilder(0.15).BuildAround(snap, []uuid.UUID{users[0]}, 1)
	if len(g.Adj[users[0]]) == 0 {
		t.Fatal("рёбра самого затронутого пользователя должны вычисляться")
	}
	if g.EdgeCount >= 3 {
		t.Fatalf("с глубиной 1 цикл целиком не достижим, получено %d рёбер", g.EdgeCount)
	}
}

func TestGraphNoSelfEdges(t *testing.T) {
	alice := uuid.New()
	items := []models.ListingItem{
		makeItem(alice, models.DirectionWant, models.CategoryTools, 50000),
		makeItem(alice, models.DirectionOffer, models.CategoryTools, 50000),
	}
	snap := makeSnapshot(items, map[uuid.UUID][]models.Location{alice: almaty()})

	g := NewChainGraphBuilder(0.15).Build(snap)
	if g.EdgeCount != 0 {
		t.Fatalf("собственные позиции не образуют рёбер, получено %d", g.EdgeCount)
	}
}
