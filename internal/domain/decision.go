package domain

// Decision is the tagged outcome of the Decide stage. Exactly one of
// Escalated and AutoResolved is true.
type Decision struct {
	Escalated    bool `json:"escalated,omitempty"`
	AutoResolved bool `json:"auto_resolved,omitempty"`
	Score        int  `json:"score"`
}

// Outcome returns a short label for logs and metrics.
func (d Decision) Outcome() string {
	if d.Escalated {
		return "escalated"
	}
	return "auto_resolved"
}
