package privacy

import "sort"

// ResolveOverlaps keeps a non-overlapping subset of findings. Findings are
// ordered by start, longest first on ties, and swept left to right; a finding
// survives only if it starts at or after the end of the last kept one. The
// input slice is not modified.
func ResolveOverlaps(findings []Finding) []Finding {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Len() > sorted[j].Len()
	})

	kept := make([]Finding, 0, len(sorted))
	lastEnd := -1
	for _, f := range sorted {
		if f.Start >= lastEnd {
			kept = append(kept, f)
			lastEnd = f.End
		}
	}
	return kept
}
