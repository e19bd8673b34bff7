package lottery

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

const uniformityTrials = 30000

func newApplicants(test *testing.T, prefix string, count int, firstAppliedAt time.Time) []Applicant {
	test.Helper()
	applicants := make([]Applicant, 0, count)
	for index := 0; index < count; index++ {
		employeeID := mustEmployeeID(test, fmt.Sprintf("%s-emp-%d", prefix, index+1))
		applicants = append(applicants, Applicant{
			Application: Application{
				ID:         mustApplicationIDValue(fmt.Sprintf("%s-app-%d", prefix, index+1)),
				EmployeeID: employeeID,
				Status:     ApplicationStatusPending,
				AppliedAt:  firstAppliedAt.Add(time.Duration(index) * time.Minute),
			},
			Employee: Employee{ID: employeeID},
		})
	}
	return applicants
}

func reverseShuffler(count int, swap func(i, j int)) {
	for index := 0; index < count/2; index++ {
		swap(index, count-1-index)
	}
}

func TestDrawAssignsDenseRanksAndCapacityWinners(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name            string
		eligible        int
		ineligible      int
		capacity        int
		wantWinners     int
		wantLosers      int
		wantNoEligibles bool
	}{
		{name: "oversubscribed", eligible: 5, ineligible: 0, capacity: 2, wantWinners: 2, wantLosers: 3},
		{name: "undersubscribed", eligible: 2, ineligible: 0, capacity: 3, wantWinners: 2, wantLosers: 0},
		{name: "exact fit", eligible: 3, ineligible: 1, capacity: 3, wantWinners: 3, wantLosers: 0},
		{name: "nobody eligible", eligible: 0, ineligible: 2, capacity: 1, wantWinners: 0, wantLosers: 0, wantNoEligibles: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			eligible := newApplicants(test, "eligible", testCase.eligible, fixedNow)
			ineligible := newApplicants(test, "blocked", testCase.ineligible, fixedNow)

			plan, err := Draw(eligible, ineligible, testCase.capacity, NewSeededShuffler(7))
			if err != nil {
				test.Fatalf("draw: %v", err)
			}
			if plan.Winners != testCase.wantWinners || plan.Losers != testCase.wantLosers {
				test.Fatalf("expected %d winners and %d losers, got %d and %d", testCase.wantWinners, testCase.wantLosers, plan.Winners, plan.Losers)
			}
			if plan.Ineligible != testCase.ineligible {
				test.Fatalf("expected %d ineligible, got %d", testCase.ineligible, plan.Ineligible)
			}
			if plan.NoEligibleApplicants != testCase.wantNoEligibles {
				test.Fatalf("expected no-eligible flag %v", testCase.wantNoEligibles)
			}
			total := testCase.eligible + testCase.ineligible
			if len(plan.Placements) != total {
				test.Fatalf("expected %d placements, got %d", total, len(plan.Placements))
			}
			seenRanks := make(map[int]bool, total)
			for index, placement := range plan.Placements {
				if placement.Rank != index+1 {
					test.Fatalf("expected rank %d at position %d, got %d", index+1, index, placement.Rank)
				}
				seenRanks[placement.Rank] = true
				if placement.IsWinner != (placement.Rank <= testCase.wantWinners) {
					test.Fatalf("rank %d winner flag %v", placement.Rank, placement.IsWinner)
				}
				if placement.Ineligible && placement.IsWinner {
					test.Fatalf("ineligible applicant won at rank %d", placement.Rank)
				}
			}
			if len(seenRanks) != total {
				test.Fatalf("expected %d distinct ranks, got %d", total, len(seenRanks))
			}
		})
	}
}

func TestDrawRejectsInvalidCapacity(test *testing.T) {
	test.Parallel()
	for _, capacity := range []int{0, -1} {
		_, err := Draw(newApplicants(test, "eligible", 2, fixedNow), nil, capacity, NewSeededShuffler(1))
		if err == nil {
			test.Fatalf("expected capacity %d to be rejected", capacity)
		}
		if !errors.Is(err, ErrInvalidCapacity) {
			test.Fatalf("expected ErrInvalidCapacity, got %v", err)
		}
	}
}

func TestDrawRanksIneligibleBySubmissionAfterPool(test *testing.T) {
	test.Parallel()
	eligible := newApplicants(test, "eligible", 2, fixedNow)
	ineligible := newApplicants(test, "blocked", 3, fixedNow)
	ineligible[0], ineligible[2] = ineligible[2], ineligible[0]

	plan, err := Draw(eligible, ineligible, 1, NewSeededShuffler(3))
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	expected := []string{"blocked-app-1", "blocked-app-2", "blocked-app-3"}
	for index, applicationID := range expected {
		placement := plan.Placements[len(eligible)+index]
		if !placement.Ineligible {
			test.Fatalf("expected ineligible placement at rank %d", placement.Rank)
		}
		if placement.Applicant.Application.ID.String() != applicationID {
			test.Fatalf("expected %s at rank %d, got %s", applicationID, placement.Rank, placement.Applicant.Application.ID.String())
		}
	}
}

func TestDrawUsesInjectedShuffler(test *testing.T) {
	test.Parallel()
	eligible := newApplicants(test, "eligible", 3, fixedNow)

	plan, err := Draw(eligible, nil, 1, reverseShuffler)
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	if plan.Placements[0].Applicant.Application.ID.String() != "eligible-app-3" {
		test.Fatalf("expected reversed order, got %s first", plan.Placements[0].Applicant.Application.ID.String())
	}
	if eligible[0].Application.ID.String() != "eligible-app-1" {
		test.Fatalf("expected input slice to stay untouched")
	}
}

func TestDrawFirstRankIsUniform(test *testing.T) {
	test.Parallel()
	eligible := newApplicants(test, "eligible", 3, fixedNow)
	shuffle := NewSeededShuffler(42)
	firstPlace := make(map[string]int, len(eligible))

	for trial := 0; trial < uniformityTrials; trial++ {
		plan, err := Draw(eligible, nil, 1, shuffle)
		if err != nil {
			test.Fatalf("draw: %v", err)
		}
		firstPlace[plan.Placements[0].Applicant.Application.ID.String()]++
	}

	expected := uniformityTrials / len(eligible)
	tolerance := expected / 10
	for _, applicant := range eligible {
		count := firstPlace[applicant.Application.ID.String()]
		if count < expected-tolerance || count > expected+tolerance {
			test.Fatalf("%s won %d of %d trials, expected about %d", applicant.Application.ID.String(), count, uniformityTrials, expected)
		}
	}
}

func TestSeededShufflerIsReproducible(test *testing.T) {
	test.Parallel()
	eligible := newApplicants(test, "eligible", 6, fixedNow)

	first, err := Draw(eligible, nil, 2, NewSeededShuffler(99))
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	second, err := Draw(eligible, nil, 2, NewSeededShuffler(99))
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	for index := range first.Placements {
		if first.Placements[index].Applicant.Application.ID != second.Placements[index].Applicant.Application.ID {
			test.Fatalf("placement %d differs between seeded draws", index)
		}
	}
}
