package retrieval

import (
	"sort"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Normalize min-max scales values into [0, 1]. A single value, or a set
// where every value is equal, maps to 1.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, v := range values {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// orderKey is the relational ranking key for a record; larger is better.
func orderKey(r domain.FloatRecord, order domain.Order) float64 {
	switch order {
	case domain.OrderDeepest:
		if r.Pressure != nil {
			return *r.Pressure
		}
		return 0
	case domain.OrderShallowest:
		if r.Pressure != nil {
			return -*r.Pressure
		}
		return 0
	}
	return float64(r.Time.Unix())
}

// Merge scores records and neighbors and returns them in rank order, capped
// at opts.MaxItems. A neighbor whose refs name a retrieved record lends its
// semantic score to that record; other neighbors become snippet items.
func Merge(records []domain.FloatRecord, neighbors []domain.Neighbor, order domain.Order, opts Options) []domain.Item {
	keys := make([]float64, len(records))
	for i, r := range records {
		keys[i] = orderKey(r, order)
	}
	structured := Normalize(keys)

	items := make([]domain.Item, 0, len(records)+len(neighbors))
	byID := make(map[string]int, len(records))
	for i := range records {
		rec := records[i]
		if _, dup := byID[rec.ID]; dup {
			continue
		}
		byID[rec.ID] = len(items)
		items = append(items, domain.Item{
			Kind:            domain.KindRecord,
			Record:          &rec,
			StructuredScore: structured[i],
			Time:            rec.Time,
		})
	}

	sims := make([]float64, len(neighbors))
	for i, n := range neighbors {
		sims[i] = n.Score
	}
	semantic := Normalize(sims)

	for i, n := range neighbors {
		matched := false
		for _, ref := range n.Refs {
			if idx, ok := byID[ref]; ok {
				items[idx].SemanticScore = max(items[idx].SemanticScore, semantic[i])
				matched = true
			}
		}
		if matched {
			continue
		}
		items = append(items, domain.Item{
			Kind: domain.KindSnippet,
			Snippet: &domain.Snippet{
				ID:       n.ID,
				Text:     n.Text,
				Refs:     n.Refs,
				Platform: n.Platform,
				Cycle:    n.Cycle,
			},
			SemanticScore: semantic[i],
			Time:          n.Time,
		})
	}

	for i := range items {
		items[i].Score = opts.StructuredWeight*items[i].StructuredScore + opts.SemanticWeight*items[i].SemanticScore
	}
	Rank(items)
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	return items
}

// Rank sorts by score descending, then time descending, then key ascending.
func Rank(items []domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		return a.Key() < b.Key()
	})
}
