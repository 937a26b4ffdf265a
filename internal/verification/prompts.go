package verification

import (
	"fmt"
	"strings"

	"clausecheck/internal/types"
)

// =============================================================================
// VERIFICATION PROMPTS
// =============================================================================

// systemInstructions is the fixed role prompt for every batch agent.
const systemInstructions = `You are a construction contract analyst. You verify whether specific contractual provisions are present in a contract.

For EVERY provision listed in the task you must call record_finding (or record_findings) exactly once with your verdict:
- matched=true only when the contract contains language that actually operates as the provision described, not merely similar vocabulary.
- Check the false-positive traps listed for each provision before concluding matched=true.
- Assign confidence using the provision's rubric.
- Cite evidence: chunk ids, page numbers, and short verbatim excerpts.
- A provision with no promising candidate text defaults to matched=false unless your own searches surface real evidence.

Use search_document, get_chunk, and get_adjacent_chunks to read beyond the excerpts when the candidate text is ambiguous or truncated. Record every verdict before finishing.`

// BuildBatchPrompt renders the user prompt for one batch: contract
// context, then each provision with its definition, traps, rubric, and
// screened candidates annotated with match signal and score.
func BuildBatchPrompt(batch types.Batch, candidates types.CandidateMap, cctx types.ContractContext, excerptMaxChars int) string {
	if excerptMaxChars <= 0 {
		excerptMaxChars = 2000
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Verify the following %d provisions (priority: %s).\n", len(batch.Provisions), batch.Priority)

	if cctx.ContractorName != "" || cctx.ProjectName != "" || cctx.State != "" {
		b.WriteString("\nContract context:\n")
		if cctx.ContractorName != "" {
			fmt.Fprintf(&b, "- Contractor: %s\n", cctx.ContractorName)
		}
		if cctx.ProjectName != "" {
			fmt.Fprintf(&b, "- Project: %s\n", cctx.ProjectName)
		}
		if cctx.State != "" {
			fmt.Fprintf(&b, "- Governing state: %s\n", cctx.State)
		}
	}

	for i, p := range batch.Provisions {
		fmt.Fprintf(&b, "\n=== Provision %d: %s ===\n", i+1, p.ID)
		fmt.Fprintf(&b, "Definition: %s\n", p.Definition)
		fmt.Fprintf(&b, "Canonical wording: %s\n", p.CanonicalWording)
		if len(p.FalsePositiveTraps) > 0 {
			b.WriteString("False-positive traps:\n")
			for _, trap := range p.FalsePositiveTraps {
				fmt.Fprintf(&b, "- %s\n", trap)
			}
		}
		if p.Rubric.High != "" || p.Rubric.Medium != "" || p.Rubric.Low != "" {
			b.WriteString("Confidence rubric:\n")
			if p.Rubric.High != "" {
				fmt.Fprintf(&b, "- high: %s\n", p.Rubric.High)
			}
			if p.Rubric.Medium != "" {
				fmt.Fprintf(&b, "- medium: %s\n", p.Rubric.Medium)
			}
			if p.Rubric.Low != "" {
				fmt.Fprintf(&b, "- low: %s\n", p.Rubric.Low)
			}
		}

		cands := candidates[p.ID]
		if len(cands) == 0 {
			b.WriteString("Candidates: none found during screening. Default to matched=false unless your own search finds evidence.\n")
			continue
		}
		fmt.Fprintf(&b, "Candidates (%d):\n", len(cands))
		for _, c := range cands {
			fmt.Fprintf(&b, "- chunk %s (pages %d-%d, %s match, score %.2f", c.ChunkID, c.PageStart, c.PageEnd, c.MatchType, c.Score)
			if len(c.MatchedKeywords) > 0 {
				fmt.Fprintf(&b, ", keywords: %s", strings.Join(c.MatchedKeywords, ", "))
			}
			b.WriteString(")\n")
			text := c.Text
			if len(text) > excerptMaxChars {
				text = text[:excerptMaxChars] + " [truncated]"
			}
			fmt.Fprintf(&b, "  %s\n", text)
		}
	}

	b.WriteString("\nRecord a finding for every provision above, then summarize what you concluded.")
	return b.String()
}
