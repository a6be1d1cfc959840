package matching

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// Graph — направленный граф односторонних совпадений. Ребро A→B
// означает, что какая-то хотелка A закрывается предложением B.
// Взаимное ребро B→A при этом не подразумевается: взаимный случай —
// это двусторонний матч, и поиском цепочек он не дублируется.
type Graph struct {
	// Nodes — пользователи с активными позициями, отсортированы для
	// детерминированного обхода
	Nodes []uuid.UUID
	// Adj — исходящие рёбра по пользователям
	Adj map[uuid.UUID][]models.ChainEdge
	// EdgeCount — всего рёбер в графе
	EdgeCount int
}

// ChainGraphBuilder строит граф односторонних совпадений по снимку
type ChainGraphBuilder struct {
	engine *EquivalenceEngine
}

// NewChainGraphBuilder создаёт построитель с заданным допуском
func NewChainGraphBuilder(tolerance float64) *ChainGraphBuilder {
	return &ChainGraphBuilder{engine: NewEquivalenceEngine(tolerance)}
}

// Build строит полный граф по всем пользователям снимка
func (b *ChainGraphBuilder) Build(snap *Snapshot) *Graph {
	g := &Graph{
		Nodes: snap.Index.Users(),
		Adj:   make(map[uuid.UUID][]models.ChainEdge),
	}
	for _, from := range g.Nodes {
		edges := b.edgesFrom(snap, from)
		if len(edges) == 0 {
			continue
		}
		g.Adj[from] = edges
		g.EdgeCount += len(edges)
	}
	return g
}

// BuildAround строит подграф вокруг затронутых пользователей: рёбра
// вычисляются только для вершин, достижимых из них не дальше чем за
// maxDepth шагов. Любой цикл длиной до maxDepth через затронутого
// пользователя целиком лежит в таком подграфе, поэтому локальный
// пересчёт не требует полного построения графа.
func (b *ChainGraphBuilder) BuildAround(snap *Snapshot, seeds []uuid.UUID, maxDepth int) *Graph {
	g := &Graph{Adj: make(map[uuid.UUID][]models.ChainEdge)}

	depth := make(map[uuid.UUID]int)
	queue := make([]uuid.UUID, 0, len(seeds))
	for _, seed := range seeds {
		if _, ok := depth[seed]; ok {
			continue
		}
		depth[seed] = 0
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		if depth[from] >= maxDepth {
			continue
		}
		edges := b.edgesFrom(snap, from)
		if len(edges) == 0 {
			continue
		}
		g.Adj[from] = edges
		g.EdgeCount += len(edges)
		for _, edge := range edges {
			if _, ok := depth[edge.ToUser]; !ok {
				depth[edge.ToUser] = depth[from] + 1
				queue = append(queue, edge.ToUser)
			}
		}
	}

	nodes := make([]uuid.UUID, 0, len(depth))
	for userID := range depth {
		nodes = append(nodes, userID)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].String() < nodes[j].String()
	})
	g.Nodes = nodes
	return g
}

// edgesFrom перебирает хотелки пользователя против предложений в той же
// категории и виде обмена. Ребро к каждому пользователю одно — с самой
// близкой по стоимости парой позиций. Пары без общего города отсекаются
// до оценки стоимости.
func (b *ChainGraphBuilder) edgesFrom(snap *Snapshot, from uuid.UUID) []models.ChainEdge {
	best := make(map[uuid.UUID]models.ChainEdge)

	for _, want := range snap.Index.OwnerItems(from) {
		if want.Direction != models.DirectionWant {
			continue
		}
		for _, offer := range snap.Index.Items(want.Key(), models.DirectionOffer) {
			to := offer.OwnerID
			if to == from {
				continue
			}
			if !snap.Locations.SharesLocation(from, to) {
				continue
			}
			score := b.engine.ScoreItems(want, offer)
			if score <= 0 {
				continue
			}
			if prev, ok := best[to]; ok && prev.Score >= score {
				continue
			}
			best[to] = models.ChainEdge{
				FromUser:    from,
				ToUser:      to,
				WantItemID:  want.ID,
				OfferItemID: offer.ID,
				Key:         want.Key(),
				Score:       score,
			}
		}
	}

	edges := make([]models.ChainEdge, 0, len(best))
	for _, edge := range best {
		edges = append(edges, edge)
	}
	// Детерминированный порядок рёбер для воспроизводимого поиска
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		return edges[i].ToUser.String() < edges[j].ToUser.String()
	})
	return edges
}
