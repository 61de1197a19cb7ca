package query

import (
	"sort"

	"github.com/coccobas/agent-memory/internal/store"
)

// rrfK is the k constant in reciprocal-rank fusion, per spec.md §4.2.3.
const rrfK = 60

// producerPriority breaks ties when fused scores are equal: lexical beats
// vector beats relational, per spec.md §4.2.3.
var producerPriority = map[string]int{"lexical": 0, "vector": 1, "relational": 2}

// producerWeight is the w_p producer-weight factor in spec.md §4.2.3's
// fused score Σ_p w_p / (k + rank_p(id)); the spec leaves concrete values
// unspecified beyond the tie-break ordering above, so every producer
// carries the same neutral weight and the query-variant weight (below)
// does the actual differentiation.
var producerWeight = map[string]float64{"lexical": 1.0, "vector": 1.0, "relational": 1.0}

// Fused is one (id, kind) after reciprocal-rank fusion across producers.
type Fused struct {
	ID          string
	Kind        store.EntryKind
	Score       float64
	LexicalRank int
	bestPriority int
}

// Fuse combines per-producer ranked candidate lists with reciprocal-rank
// fusion: score(id) = Σ_p (producer weight × query weight) / (k +
// rank_p(id)) over producers p that returned id, per spec.md §4.2.3.
func Fuse(cands []Candidate) []Fused {
	byKey := map[string]*Fused{}
	order := make([]string, 0)

	for _, c := range cands {
		k := string(c.Kind) + ":" + c.ID
		f, ok := byKey[k]
		if !ok {
			f = &Fused{ID: c.ID, Kind: c.Kind, bestPriority: 99}
			byKey[k] = f
			order = append(order, k)
		}
		rank := c.Rank
		if rank <= 0 {
			rank = 1
		}
		weight := c.Weight
		if weight <= 0 {
			weight = 1.0
		}
		if pw, ok := producerWeight[c.Producer]; ok {
			weight *= pw
		}
		f.Score += weight / float64(rrfK+rank)
		if c.Producer == "lexical" && (f.LexicalRank == 0 || rank < f.LexicalRank) {
			f.LexicalRank = rank
		}
		if pr, ok := producerPriority[c.Producer]; ok && pr < f.bestPriority {
			f.bestPriority = pr
		}
	}

	out := make([]Fused, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].bestPriority != out[j].bestPriority {
			return out[i].bestPriority < out[j].bestPriority
		}
		return false
	})
	return out
}
