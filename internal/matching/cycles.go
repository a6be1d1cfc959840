package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/swaploop-api/internal/models"
)

// CycleDiscoverer ищет замкнутые цепочки обмена длиной от
// MinParticipants до MaxParticipants в графе односторонних совпадений.
//
// Поиск — итеративный DFS с ограничением глубины и явной отметкой
// вершин текущего пути. Чтобы один и тот же цикл не находился из
// каждой его вершины, путь разрешается строить только через вершины
// не меньше стартовой: цикл обнаруживается ровно из своей минимальной
// вершины.
type CycleDiscoverer struct {
	MinParticipants int
	MaxParticipants int
	// EdgeBudget — сколько рёбер можно обойти за запуск; при
	// исчерпании поиск обрывается и возвращает найденное
	EdgeBudget int
}

// NewCycleDiscoverer создаёт поисковик с заданными границами
func NewCycleDiscoverer(minParticipants, maxParticipants, edgeBudget int) *CycleDiscoverer {
	return &CycleDiscoverer{
		MinParticipants: minParticipants,
		MaxParticipants: maxParticipants,
		EdgeBudget:      edgeBudget,
	}
}

// frame — кадр итеративного DFS: вершина и номер следующего ребра
type frame struct {
	node uuid.UUID
	next int
}

// FindChains возвращает цепочки, отсортированные по убыванию балла.
// truncated=true означает, что бюджет рёбер кончился и результат
// неполный — это не ошибка, а штатное усечение поиска.
func (d *CycleDiscoverer) FindChains(g *Graph) (chains []models.ExchangeChain, truncated bool) {
	budget := d.EdgeBudget

	for _, start := range g.Nodes {
		if budget <= 0 {
			truncated = true
			break
		}

		stack := []frame{{node: start}}
		path := make([]models.ChainEdge, 0, d.MaxParticipants)
		onPath := map[uuid.UUID]bool{start: true}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := g.Adj[top.node]

			if top.next >= len(edges) {
				// Ветка исчерпана; путь, который не замкнулся, просто
				// бросается — цепочки из него не будет
				stack = stack[:len(stack)-1]
				delete(onPath, top.node)
				if len(path) > 0 {
					path = path[:len(path)-1]
				}
				continue
			}

			edge := edges[top.next]
			top.next++

			if budget <= 0 {
				truncated = true
				break
			}
			budget--

			if edge.ToUser == start {
				length := len(path) + 1
				if length >= d.MinParticipants && length <= d.MaxParticipants {
					cycle := append(append([]models.ChainEdge{}, path...), edge)
					chains = d.addChain(chains, cycle)
				}
				continue
			}
			if onPath[edge.ToUser] || edge.ToUser.String() < start.String() {
				continue
			}
			if len(path)+1 >= d.MaxParticipants {
				// Дальше путь уже не замкнётся в лимит участников
				continue
			}
			path = append(path, edge)
			onPath[edge.ToUser] = true
			stack = append(stack, frame{node: edge.ToUser})
		}

		if truncated {
			break
		}
	}

	sort.Slice(chains, func(i, j int) bool {
		if chains[i].Score != chains[j].Score {
			return chains[i].Score > chains[j].Score
		}
		return len(chains[i].Participants) < len(chains[j].Participants)
	})
	return chains, truncated
}

// addChain оформляет найденный цикл и выполняет дедупликацию:
// цикл, делящий сверхбольшинство участников (больше 2/3 меньшего из
// двух) с уже найденным, считается его вариантом — остаётся тот, у
// кого балл выше.
func (d *CycleDiscoverer) addChain(chains []models.ExchangeChain, cycle []models.ChainEdge) []models.ExchangeChain {
	chain := buildChain(cycle)

	for i := range chains {
		if !supermajorityOverlap(chains[i].Participants, chain.Participants) {
			continue
		}
		if chain.Score > chains[i].Score {
			chains[i] = chain
		}
		return chains
	}
	return append(chains, chain)
}

// buildChain собирает запись цепочки из рёбер цикла; балл — среднее
// по рёбрам
func buildChain(cycle []models.ChainEdge) models.ExchangeChain {
	participants := make([]uuid.UUID, 0, len(cycle))
	sum := 0.0
	for _, edge := range cycle {
		participants = append(participants, edge.FromUser)
		sum += edge.Score
	}
	return models.ExchangeChain{
		ID:           uuid.New(),
		Participants: participants,
		Edges:        cycle,
		Score:        sum / float64(len(cycle)),
		Status:       models.ChainPending,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

// supermajorityOverlap сообщает, делят ли два набора участников больше
// двух третей меньшего набора
func supermajorityOverlap(a, b []uuid.UUID) bool {
	set := make(map[uuid.UUID]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	shared := 0
	for _, p := range b {
		if set[p] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return shared*3 > smaller*2
}
