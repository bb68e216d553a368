package policy

import (
	"context"
	"sort"

	"github.com/i2y/mcpforge/internal/usecase"
)

// GreedySelection implements usecase.SelectionPolicy by keeping as many
// tools as fit the budget, smallest first. The result keeps the candidates'
// input order.
type GreedySelection struct{}

// ProposeSelection implements usecase.SelectionPolicy.
func (GreedySelection) ProposeSelection(ctx context.Context, candidates []usecase.ToolCandidate, contextBudget int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := candidates[order[a]], candidates[order[b]]
		if ca.TokenCount != cb.TokenCount {
			return ca.TokenCount < cb.TokenCount
		}
		return ca.Name < cb.Name
	})

	keep := make([]bool, len(candidates))
	total := 0
	for _, idx := range order {
		if total+candidates[idx].TokenCount > contextBudget {
			continue
		}
		total += candidates[idx].TokenCount
		keep[idx] = true
	}

	var names []string
	for i, c := range candidates {
		if keep[i] {
			names = append(names, c.Name)
		}
	}
	return names, nil
}
