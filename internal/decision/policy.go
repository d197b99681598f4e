// Package decision holds the branching rule of the Decide stage.
package decision

import "github.com/spec-kit/ticket-agent/internal/domain"

// Threshold is the lowest score that auto-resolves a ticket.
const Threshold = 90

// Evaluate maps a solution score to a decision record. Scores below Threshold
// escalate; everything else auto-resolves.
func Evaluate(score int) domain.Decision {
	if score < Threshold {
		return domain.Decision{Escalated: true, Score: score}
	}
	return domain.Decision{AutoResolved: true, Score: score}
}
