package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeMergesSources(t *testing.T) {
	lensA := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityHigh},
	}
	lensB := []Finding{
		{File: "db/queries.go", Title: "unparameterized query", Severity: SeverityCritical},
	}

	final := Synthesize(lensA, lensB)

	require.Len(t, final, 2)
	assert.Equal(t, "unparameterized query", final[0].Title)
	assert.Equal(t, "missing input validation", final[1].Title)
}

func TestSynthesizeDedupKeepsHigherSeverity(t *testing.T) {
	lensA := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityMedium, Source: "security"},
	}
	lensB := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityCritical, Source: "correctness"},
	}

	final := Synthesize(lensA, lensB)

	require.Len(t, final, 1)
	assert.Equal(t, SeverityCritical, final[0].Severity)
	assert.Equal(t, "correctness", final[0].Source)
}

func TestSynthesizeDedupKeepsFirstOnEqualSeverity(t *testing.T) {
	lensA := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityHigh, Source: "first"},
	}
	lensB := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityHigh, Source: "second"},
	}

	final := Synthesize(lensA, lensB)

	require.Len(t, final, 1)
	assert.Equal(t, "first", final[0].Source)
}

func TestSynthesizeSameTitleDifferentFilesAreDistinct(t *testing.T) {
	findings := []Finding{
		{File: "api/handler.go", Title: "missing input validation", Severity: SeverityHigh},
		{File: "api/webhooks.go", Title: "missing input validation", Severity: SeverityHigh},
	}

	final := Synthesize(findings)

	assert.Len(t, final, 2)
}

func TestSynthesizeSortsBySeverityThenFile(t *testing.T) {
	findings := []Finding{
		{File: "b.go", Title: "low issue", Severity: SeverityLow},
		{File: "z.go", Title: "high issue", Severity: SeverityHigh},
		{File: "a.go", Title: "another high issue", Severity: SeverityHigh},
		{File: "m.go", Title: "critical issue", Severity: SeverityCritical},
	}

	final := Synthesize(findings)

	require.Len(t, final, 4)
	assert.Equal(t, "m.go", final[0].File)
	assert.Equal(t, "a.go", final[1].File)
	assert.Equal(t, "z.go", final[2].File)
	assert.Equal(t, "b.go", final[3].File)
}

func TestSynthesizeAssignsSequentialIDsAfterSorting(t *testing.T) {
	findings := []Finding{
		{File: "b.go", Title: "low issue", Severity: SeverityLow},
		{File: "a.go", Title: "critical issue", Severity: SeverityCritical},
	}

	final := Synthesize(findings)

	require.Len(t, final, 2)
	assert.Equal(t, "AUDIT-001", final[0].ID)
	assert.Equal(t, "AUDIT-002", final[1].ID)
	assert.Equal(t, SeverityCritical, final[0].Severity)
}

func TestSynthesizeCapsAtMaxFindings(t *testing.T) {
	findings := make([]Finding, 0, MaxFindings+20)
	for i := 0; i < MaxFindings+20; i++ {
		severity := SeverityLow
		if i < 10 {
			severity = SeverityCritical
		}

		findings = append(findings, Finding{
			File:     fmt.Sprintf("pkg/file_%03d.go", i),
			Title:    fmt.Sprintf("finding %d", i),
			Severity: severity,
		})
	}

	final := Synthesize(findings)

	require.Len(t, final, MaxFindings)
	assert.Equal(t, SeverityCritical, final[0].Severity)
	assert.Equal(t, fmt.Sprintf("AUDIT-%03d", MaxFindings), final[len(final)-1].ID)
}

func TestSynthesizeUnknownSeveritySortsLast(t *testing.T) {
	findings := []Finding{
		{File: "a.go", Title: "odd one", Severity: Severity("bogus")},
		{File: "b.go", Title: "low issue", Severity: SeverityLow},
	}

	final := Synthesize(findings)

	require.Len(t, final, 2)
	assert.Equal(t, SeverityLow, final[0].Severity)
}

func TestSynthesizeEmptyInput(t *testing.T) {
	assert.Empty(t, Synthesize())
	assert.Empty(t, Synthesize(nil, []Finding{}))
}
