package privacy

import (
	"encoding/json"
	"strings"
)

// NoFindingsText is the rendering of an empty report.
const NoFindingsText = "No PII detected"

const reportHeader = "PII DETECTED:"

// Report accumulates the findings of one scan in insertion order.
type Report struct {
	findings []Finding
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{findings: make([]Finding, 0)}
}

// Add appends a finding.
func (r *Report) Add(f Finding) {
	r.findings = append(r.findings, f)
}

// HasFindings reports whether anything was found.
func (r *Report) HasFindings() bool {
	return len(r.findings) > 0
}

// Len returns the number of findings.
func (r *Report) Len() int {
	return len(r.findings)
}

// Findings returns a copy of the findings in stored order.
func (r *Report) Findings() []Finding {
	out := make([]Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

// Replace swaps the stored findings for a new set, e.g. the output of
// ResolveOverlaps, before the report is rendered.
func (r *Report) Replace(findings []Finding) {
	r.findings = make([]Finding, len(findings))
	copy(r.findings, findings)
}

// Types returns the distinct PII types in order of first appearance.
func (r *Report) Types() []string {
	seen := make(map[string]bool)
	var types []string
	for _, f := range r.findings {
		if !seen[f.PIIType] {
			seen[f.PIIType] = true
			types = append(types, f.PIIType)
		}
	}
	return types
}

// Text renders the report as a summary block.
func (r *Report) Text() string {
	if !r.HasFindings() {
		return NoFindingsText
	}

	var b strings.Builder
	b.WriteString(reportHeader)
	b.WriteByte('\n')
	for _, f := range r.findings {
		b.WriteString("- ")
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Report) String() string {
	return r.Text()
}

// MarshalJSON encodes the report as its list of findings.
func (r *Report) MarshalJSON() ([]byte, error) {
	if len(r.findings) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(r.findings)
}
