package models

import (
	"fmt"
	"reflect"
	"sort"
)

// DiffKind classifies a single property difference.
type DiffKind string

const (
	DiffAdded   DiffKind = "added"
	DiffChanged DiffKind = "changed"
	DiffRemoved DiffKind = "removed"
)

// PropertyDiff describes one difference between two graph states.
type PropertyDiff struct {
	Property string   `json:"property"`
	Kind     DiffKind `json:"kind"`
	Before   any      `json:"before,omitempty"`
	After    any      `json:"after,omitempty"`
}

// DiffGraphState produces a per-property diff between two states, used for
// audit logging and for diff-based save skipping. Timestamps are excluded:
// two states that differ only in UpdatedAt are considered equal.
func DiffGraphState(a, b *GraphState) []PropertyDiff {
	diffs := []PropertyDiff{}

	if a == nil && b == nil {
		return diffs
	}

	if a == nil {
		a = &GraphState{}
	}

	if b == nil {
		b = &GraphState{}
	}

	if a.StoryID != b.StoryID {
		diffs = append(diffs, PropertyDiff{Property: "story_id", Kind: DiffChanged, Before: a.StoryID, After: b.StoryID})
	}

	if a.Phase != b.Phase {
		diffs = append(diffs, PropertyDiff{Property: "phase", Kind: DiffChanged, Before: a.Phase, After: b.Phase})
	}

	diffs = append(diffs, diffMap("artifact_paths", toAnyMap(a.ArtifactPaths), toAnyMap(b.ArtifactPaths))...)
	diffs = append(diffs, diffMap("gate_decisions", toAnyMap(a.GateDecisions), toAnyMap(b.GateDecisions))...)
	diffs = append(diffs, diffMap("routing_flags", toAnyMap(a.RoutingFlags), toAnyMap(b.RoutingFlags))...)
	diffs = append(diffs, diffMap("node_results", a.NodeResults, b.NodeResults)...)

	if len(a.Errors) != len(b.Errors) {
		diffs = append(diffs, PropertyDiff{Property: "errors", Kind: DiffChanged, Before: len(a.Errors), After: len(b.Errors)})
	}

	if len(a.EvidenceRefs) != len(b.EvidenceRefs) {
		diffs = append(diffs, PropertyDiff{Property: "evidence_refs", Kind: DiffChanged, Before: len(a.EvidenceRefs), After: len(b.EvidenceRefs)})
	}

	return diffs
}

// StatesEqual reports whether two states carry the same content, ignoring
// timestamps.
func StatesEqual(a, b *GraphState) bool {
	return len(DiffGraphState(a, b)) == 0
}

func toAnyMap[K ~string, V any](m map[K]V) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[string(k)] = v
	}

	return out
}

func diffMap(property string, before, after map[string]any) []PropertyDiff {
	diffs := []PropertyDiff{}

	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}

	for k := range after {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}

	sort.Strings(sorted)

	for _, k := range sorted {
		beforeVal, inBefore := before[k]
		afterVal, inAfter := after[k]

		path := fmt.Sprintf("%s.%s", property, k)

		switch {
		case !inBefore:
			diffs = append(diffs, PropertyDiff{Property: path, Kind: DiffAdded, After: afterVal})
		case !inAfter:
			diffs = append(diffs, PropertyDiff{Property: path, Kind: DiffRemoved, Before: beforeVal})
		case !reflect.DeepEqual(beforeVal, afterVal):
			diffs = append(diffs, PropertyDiff{Property: path, Kind: DiffChanged, Before: beforeVal, After: afterVal})
		}
	}

	return diffs
}
