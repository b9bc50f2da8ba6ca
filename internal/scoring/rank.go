package scoring

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Standing is the part of a completed attempt ranking looks at.
type Standing struct {
	AttemptID        uuid.UUID
	Score            float64
	TimeTakenSeconds int
	CompletedAt      time.Time
}

// Placement is an attempt's position among the completed attempts of a test.
type Placement struct {
	AttemptID  uuid.UUID
	Rank       int
	Percentile float64
}

// less orders by score desc, time taken asc, completion asc, then id.
func less(a, b Standing) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.TimeTakenSeconds != b.TimeTakenSeconds {
		return a.TimeTakenSeconds < b.TimeTakenSeconds
	}
	if !a.CompletedAt.Equal(b.CompletedAt) {
		return a.CompletedAt.Before(b.CompletedAt)
	}
	return a.AttemptID.String() < b.AttemptID.String()
}

// Rank places every standing. Rank is the 1-based position in the total order;
// percentile is the share of attempts with a strictly lower score, 0 to 100.
// The input slice is not modified.
func Rank(standings []Standing) []Placement {
	n := len(standings)
	if n == 0 {
		return nil
	}

	sorted := make([]Standing, n)
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	out := make([]Placement, n)
	// Walking from the bottom, lower counts the attempts strictly below the
	// current score group.
	lower := 0
	for i := n - 1; i >= 0; {
		j := i
		for j >= 0 && sorted[j].Score == sorted[i].Score {
			j--
		}
		pct := 100 * float64(lower) / float64(n)
		for k := i; k > j; k-- {
			out[k] = Placement{AttemptID: sorted[k].AttemptID, Rank: k + 1, Percentile: pct}
		}
		lower += i - j
		i = j
	}
	return out
}

// PlacementOf ranks standings and returns the placement of attemptID.
func PlacementOf(standings []Standing, attemptID uuid.UUID) (Placement, bool) {
	for _, p := range Rank(standings) {
		if p.AttemptID == attemptID {
			return p, true
		}
	}
	return Placement{}, false
}

// WithStanding returns peers with self replacing any entry for the same attempt.
func WithStanding(peers []Standing, self Standing) []Standing {
	out := make([]Standing, 0, len(peers)+1)
	for _, p := range peers {
		if p.AttemptID != self.AttemptID {
			out = append(out, p)
		}
	}
	return append(out, self)
}
