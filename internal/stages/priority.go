package stages

import "strings"

// UnknownPriorityScore is used for empty or unrecognized labels.
const UnknownPriorityScore = 50

var priorityScores = map[string]int{
	"low":    40,
	"medium": 70,
	"high":   90,
	"urgent": 100,
}

// NormalizePriority trims and lowercases a priority label.
func NormalizePriority(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// PriorityScore maps a priority label to its numeric score, case-insensitively.
// Empty and unrecognized labels fall back to UnknownPriorityScore rather than failing.
func PriorityScore(label string) int {
	if score, ok := priorityScores[NormalizePriority(label)]; ok {
		return score
	}
	return UnknownPriorityScore
}
