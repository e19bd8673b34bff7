package lottery

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
)

// Shuffler permutes count elements in place through swap.
// Implementations must produce a uniform permutation (Fisher-Yates).
type Shuffler func(count int, swap func(i, j int))

// DefaultShuffler returns the process-wide random Fisher-Yates shuffle.
func DefaultShuffler() Shuffler {
	return rand.Shuffle
}

// NewSeededShuffler returns a reproducible Fisher-Yates shuffle.
func NewSeededShuffler(seed uint64) Shuffler {
	source := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return source.Shuffle
}

// Placement is the draw position of one applicant.
type Placement struct {
	Applicant  Applicant
	Rank       int
	IsWinner   bool
	Ineligible bool
}

// DrawPlan is the in-memory outcome of a draw before persistence.
type DrawPlan struct {
	Placements           []Placement
	Winners              int
	Losers               int
	Ineligible           int
	NoEligibleApplicants bool
}

// Draw ranks eligible applicants in random order and flags the first capacity entries as winners.
// Ineligible applicants follow in submission order and never win.
func Draw(eligible []Applicant, ineligible []Applicant, capacity int, shuffle Shuffler) (DrawPlan, error) {
	if capacity < 1 {
		return DrawPlan{}, fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidCapacity, capacity)
	}
	if shuffle == nil {
		shuffle = DefaultShuffler()
	}

	pool := slices.Clone(eligible)
	shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	winnerCount := min(capacity, len(pool))

	placements := make([]Placement, 0, len(pool)+len(ineligible))
	for index, applicant := range pool {
		placements = append(placements, Placement{
			Applicant: applicant,
			Rank:      index + 1,
			IsWinner:  index < winnerCount,
		})
	}

	disqualified := slices.Clone(ineligible)
	slices.SortStableFunc(disqualified, compareBySubmission)
	for index, applicant := range disqualified {
		placements = append(placements, Placement{
			Applicant:  applicant,
			Rank:       len(pool) + index + 1,
			Ineligible: true,
		})
	}

	return DrawPlan{
		Placements:           placements,
		Winners:              winnerCount,
		Losers:               len(pool) - winnerCount,
		Ineligible:           len(disqualified),
		NoEligibleApplicants: len(pool) == 0,
	}, nil
}

func compareBySubmission(left Applicant, right Applicant) int {
	if byTime := left.Application.AppliedAt.Compare(right.Application.AppliedAt); byTime != 0 {
		return byTime
	}
	return cmp.Compare(left.Application.ID.String(), right.Application.ID.String())
}

func partitionApplicants(applicants []Applicant, verdicts []Verdict) (eligible []Applicant, ineligible []Applicant, degraded int) {
	for index, applicant := range applicants {
		verdict := verdicts[index]
		if verdict.Degraded {
			degraded++
		}
		if verdict.Blocked {
			ineligible = append(ineligible, applicant)
			continue
		}
		eligible = append(eligible, applicant)
	}
	return eligible, ineligible, degraded
}
