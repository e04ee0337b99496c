// Package policy provides decision policies for the navigation loop: an
// LLM-backed reasoner and a deterministic heuristic. Both share the same
// candidate ranking rules.
package policy

import (
	"strings"

	"github.com/v0xg/webduel/internal/vision"
)

// DefaultConfidenceEpsilon treats candidate confidences within this distance
// as equal, handing the tie to lexical overlap with the goal.
const DefaultConfidenceEpsilon = 0.05

// Best picks the most promising candidate: highest confidence wins, and when
// confidences are within epsilon of the leader, the description with the
// greatest word overlap with the goal text wins. Returns -1 for an empty set.
func Best(candidates []vision.DetectedElement, goal string, epsilon float64) int {
	if len(candidates) == 0 {
		return -1
	}
	if epsilon <= 0 {
		epsilon = DefaultConfidenceEpsilon
	}

	maxConf := candidates[0].Confidence
	for _, c := range candidates[1:] {
		if c.Confidence > maxConf {
			maxConf = c.Confidence
		}
	}

	best := -1
	bestOverlap := -1
	for i, c := range candidates {
		if maxConf-c.Confidence > epsilon {
			continue
		}
		overlap := wordOverlap(c.Description, goal)
		switch {
		case overlap > bestOverlap:
			best = i
			bestOverlap = overlap
		case overlap == bestOverlap && c.Confidence > candidates[best].Confidence:
			// Equal overlap inside the band still prefers raw confidence.
			best = i
		}
	}
	return best
}

// wordOverlap counts goal words appearing in the description,
// case-insensitive, ignoring one- and two-letter words.
func wordOverlap(description, goal string) int {
	desc := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(description)) {
		desc[strings.Trim(w, ".,!?:;\"'()")] = struct{}{}
	}
	n := 0
	for _, w := range strings.Fields(strings.ToLower(goal)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) < 3 {
			continue
		}
		if _, ok := desc[w]; ok {
			n++
		}
	}
	return n
}
