package lottery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Verdict is the cooldown decision for one employee and property.
type Verdict struct {
	EmployeeID EmployeeID
	Blocked    bool
	// Degraded is set when the history lookup failed and the check failed open.
	Degraded bool
	Err      error
}

// EligibilityFilter decides whether a prior win blocks an employee from a property.
type EligibilityFilter struct {
	store       Store
	nowFn       func() time.Time
	logger      OperationLogger
	concurrency int
}

// NewEligibilityFilter wires an EligibilityFilter.
func NewEligibilityFilter(store Store, now func() time.Time, logger OperationLogger, concurrency int) *EligibilityFilter {
	if concurrency <= 0 {
		concurrency = defaultEligibilityConcurrency
	}
	return &EligibilityFilter{store: store, nowFn: now, logger: logger, concurrency: concurrency}
}

// Cutoff returns the earliest check-in date that still counts against the employee.
func (filter *EligibilityFilter) Cutoff(accommodation Accommodation) time.Time {
	return filter.nowFn().UTC().AddDate(-accommodation.RestrictionYears, 0, 0)
}

// Check looks up the win history. Lookup failures fail open and are logged as degraded.
func (filter *EligibilityFilter) Check(ctx context.Context, employeeID EmployeeID, accommodation Accommodation) Verdict {
	if accommodation.RestrictionYears <= 0 {
		return Verdict{EmployeeID: employeeID}
	}
	blocked, err := filter.store.HasRecentWin(ctx, employeeID, accommodation.ID, filter.Cutoff(accommodation))
	if err != nil {
		degradedError := fmt.Errorf("%w: %w", ErrEligibilityDegraded, err)
		logOperation(ctx, filter.logger, OperationLog{
			Operation:       operationEligibilityCheck,
			EmployeeID:      employeeID,
			AccommodationID: accommodation.ID,
			Status:          operationStatusDegraded,
			Error:           degradedError,
		})
		return Verdict{EmployeeID: employeeID, Degraded: true, Err: degradedError}
	}
	return Verdict{EmployeeID: employeeID, Blocked: blocked}
}

// CheckAll evaluates applicants concurrently; verdicts keep the applicant order.
func (filter *EligibilityFilter) CheckAll(ctx context.Context, applicants []Applicant, accommodation Accommodation) []Verdict {
	verdicts := make([]Verdict, len(applicants))
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(filter.concurrency)
	for index := range applicants {
		group.Go(func() error {
			verdicts[index] = filter.Check(groupContext, applicants[index].Application.EmployeeID, accommodation)
			return nil
		})
	}
	_ = group.Wait()
	return verdicts
}
