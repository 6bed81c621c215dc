package smartfilter

import "github.com/bridgeway/qualify/core/domain"

// Engine runs the Smart Filter Engine over a full clean-address set.
type Engine struct {
	cfg *CompiledConfig
}

// NewEngine builds an Engine from an already-compiled config.
func NewEngine(cfg *CompiledConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Run scores every address and groups the results by priority tier, each
// sorted by final_score descending then address ascending.
func (e *Engine) Run(addrs []domain.Address, metadata map[domain.Address]*domain.Metadata) map[domain.Priority][]domain.ScoreResult {
	tiers := map[domain.Priority][]domain.ScoreResult{
		domain.PriorityHigh:     nil,
		domain.PriorityMedium:   nil,
		domain.PriorityLow:      nil,
		domain.PriorityExcluded: nil,
	}

	for _, addr := range addrs {
		result := e.cfg.Score(addr, metadata[addr])
		tiers[result.Priority] = append(tiers[result.Priority], result)
	}

	for tier := range tiers {
		sortResults(tiers[tier])
	}
	return tiers
}

// ScoreOne scores a single address, for callers (e.g. a future interactive
// surface) that don't need a full batch run.
func (e *Engine) ScoreOne(addr domain.Address, meta *domain.Metadata) domain.ScoreResult {
	return e.cfg.Score(addr, meta)
}
