// Package verification plans, runs, and reconciles the LLM
// verification pass: provisions with screening candidates are grouped
// into priority-ordered batches, each batch is handed to a tool-using
// agent under a step budget, and reconciliation guarantees every
// provision ends with exactly one finding.
package verification

import (
	"sort"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// Partition splits provisions by whether screening produced enough
// candidates to justify an LLM look. Provisions below the threshold
// get a deterministic no-candidates verdict with no model call.
func Partition(provisions []types.Provision, candidates types.CandidateMap, minCandidates int) (with, without []types.Provision) {
	if minCandidates <= 0 {
		minCandidates = 1
	}
	for _, p := range provisions {
		if candidates.Count(p.ID) >= minCandidates {
			with = append(with, p)
		} else {
			without = append(without, p)
		}
	}
	logging.Batch("Partitioned %d provisions: %d with candidates, %d without", len(provisions), len(with), len(without))
	return with, without
}

// GroupBatches groups provisions into single-tier batches in strict
// priority order critical, high, medium, low, each holding at most
// maxPerBatch provisions. Tiers are never mixed because step budgets
// are tier-specific, and the ordering means an interrupted analysis
// attempted the most important provisions first.
func GroupBatches(provisions []types.Provision, maxPerBatch int) []types.Batch {
	if maxPerBatch <= 0 {
		maxPerBatch = 15
	}

	byTier := make(map[types.Priority][]types.Provision)
	for _, p := range provisions {
		byTier[p.Priority] = append(byTier[p.Priority], p)
	}

	var batches []types.Batch
	for _, tier := range types.PriorityOrder {
		tierProvs := byTier[tier]
		// Stable ordering inside a tier keeps prompts reproducible.
		sort.Slice(tierProvs, func(i, j int) bool { return tierProvs[i].ID < tierProvs[j].ID })
		for start := 0; start < len(tierProvs); start += maxPerBatch {
			end := start + maxPerBatch
			if end > len(tierProvs) {
				end = len(tierProvs)
			}
			batches = append(batches, types.Batch{
				Index:      len(batches),
				Priority:   tier,
				Provisions: tierProvs[start:end],
			})
		}
	}

	logging.Batch("Planned %d batches from %d provisions", len(batches), len(provisions))
	return batches
}
