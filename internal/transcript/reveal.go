package transcript

import "time"

// DefaultRevealInterval is the delay between two revealed workflow steps.
const DefaultRevealInterval = 300 * time.Millisecond

// Reveal shows the agent steps of a thinking message one at a time. It is a
// plain counter; the caller advances it from its own ticker.
type Reveal struct {
	shown int
}

// Advance reveals one more step, up to total. It reports whether anything
// changed.
func (r *Reveal) Advance(total int) bool {
	if r.shown >= total {
		return false
	}
	r.shown++
	return true
}

// Visible is the number of steps to draw. Finished messages show all steps.
func (r *Reveal) Visible(total int, active bool) int {
	if !active || r.shown > total {
		return total
	}
	return r.shown
}

func (r *Reveal) Reset() {
	r.shown = 0
}
