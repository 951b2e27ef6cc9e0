// Package audit merges findings from parallel review lenses or a roundtable
// vetting pass into one final list.
package audit

import (
	"fmt"
	"sort"
)

// MaxFindings caps the synthesized list; lower-priority findings beyond the
// cap are dropped.
const MaxFindings = 100

// Severity levels, ordered. Lower ordinal wins a dedup collision.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Rank returns the severity's ordinal, with unknown severities ranked last.
func (s Severity) Rank() int {
	rank, ok := severityRank[s]
	if !ok {
		return len(severityRank)
	}

	return rank
}

// Finding is one issue raised during audit.
type Finding struct {
	ID          string   `json:"id,omitempty"`
	File        string   `json:"file"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
}

type dedupKey struct {
	file  string
	title string
}

// Synthesize merges findings from all sources into the final list:
// duplicates (same file and title) collapse to the higher severity, the
// result is sorted by severity then file, sequential AUDIT-NNN identifiers
// are assigned after sorting, and the list is capped at MaxFindings.
func Synthesize(sources ...[]Finding) []Finding {
	merged := make(map[dedupKey]Finding)

	for _, findings := range sources {
		for _, finding := range findings {
			key := dedupKey{file: finding.File, title: finding.Title}

			existing, seen := merged[key]
			if !seen || finding.Severity.Rank() < existing.Severity.Rank() {
				merged[key] = finding
			}
		}
	}

	final := make([]Finding, 0, len(merged))
	for _, finding := range merged {
		final = append(final, finding)
	}

	sort.Slice(final, func(i, j int) bool {
		if final[i].Severity.Rank() != final[j].Severity.Rank() {
			return final[i].Severity.Rank() < final[j].Severity.Rank()
		}

		return final[i].File < final[j].File
	})

	if len(final) > MaxFindings {
		final = final[:MaxFindings]
	}

	for i := range final {
		final[i].ID = fmt.Sprintf("AUDIT-%03d", i+1)
	}

	return final
}
