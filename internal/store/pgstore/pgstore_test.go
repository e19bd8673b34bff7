package pgstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	err    error
	values []any
}

func (row fakeRow) Scan(dest ...any) error {
	if row.err != nil {
		return row.err
	}
	if len(dest) != len(row.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row.values))
	}
	for index, target := range dest {
		switch typed := target.(type) {
		case *string:
			*typed = row.values[index].(string)
		case *int:
			*typed = row.values[index].(int)
		case *bool:
			*typed = row.values[index].(bool)
		case *time.Time:
			*typed = row.values[index].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", target)
		}
	}
	return nil
}

type fakeBatchResults struct {
	execErrors []error
	index      int
	closed     bool
}

func (results *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	var err error
	if results.index < len(results.execErrors) {
		err = results.execErrors[results.index]
	}
	results.index++
	return pgconn.NewCommandTag("INSERT 0 1"), err
}

func (results *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (results *fakeBatchResults) QueryRow() pgx.Row {
	return fakeRow{err: errors.New("not supported")}
}

func (results *fakeBatchResults) Close() error {
	results.closed = true
	return nil
}

type fakeQuerier struct {
	execTag      pgconn.CommandTag
	execErr      error
	execArgs     []any
	rowErr       error
	rowValues    []any
	batchResults *fakeBatchResults
	queued       int
}

func (querier *fakeQuerier) Exec(_ context.Context, _ string, arguments ...any) (pgconn.CommandTag, error) {
	querier.execArgs = arguments
	return querier.execTag, querier.execErr
}

func (querier *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (querier *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: querier.rowErr, values: querier.rowValues}
}

func (querier *fakeQuerier) SendBatch(_ context.Context, batch *pgx.Batch) pgx.BatchResults {
	querier.queued = batch.Len()
	if querier.batchResults == nil {
		querier.batchResults = &fakeBatchResults{}
	}
	return querier.batchResults
}

func mustPeriodID(test *testing.T) lottery.ReservationPeriodID {
	test.Helper()
	periodID, err := lottery.NewReservationPeriodID("period-1")
	if err != nil {
		test.Fatalf("period id: %v", err)
	}
	return periodID
}

func mustApplicationIDs(test *testing.T, count int) []lottery.ApplicationID {
	test.Helper()
	ids := make([]lottery.ApplicationID, 0, count)
	for index := 0; index < count; index++ {
		applicationID, err := lottery.NewApplicationID(fmt.Sprintf("application-%d", index+1))
		if err != nil {
			test.Fatalf("application id: %v", err)
		}
		ids = append(ids, applicationID)
	}
	return ids
}

func TestGetPeriodMapsNoRowsToUnknownPeriod(test *testing.T) {
	test.Parallel()
	store := queries{db: &fakeQuerier{rowErr: pgx.ErrNoRows}}

	_, err := store.GetPeriod(context.Background(), mustPeriodID(test))
	if !errors.Is(err, lottery.ErrUnknownPeriod) || errors.Is(err, lottery.ErrPersistence) {
		test.Fatalf("expected ErrUnknownPeriod, got %v", err)
	}
}

func periodRow(restrictionYears int) []any {
	return []any{
		"period-1",
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC),
		2,
		true,
		true,
		"acc-1",
		"Seaside Resort",
		restrictionYears,
	}
}

func TestGetPeriodMapsRow(test *testing.T) {
	test.Parallel()
	store := queries{db: &fakeQuerier{rowValues: periodRow(3)}}

	period, err := store.GetPeriod(context.Background(), mustPeriodID(test))
	if err != nil {
		test.Fatalf("get period: %v", err)
	}
	if period.ID.String() != "period-1" || period.Accommodation.ID.String() != "acc-1" || period.Accommodation.RestrictionYears != 3 || period.AvailableRooms != 2 {
		test.Fatalf("unexpected period %+v", period)
	}
}

func TestGetPeriodRejectsNegativeRestriction(test *testing.T) {
	test.Parallel()
	store := queries{db: &fakeQuerier{rowValues: periodRow(-1)}}

	_, err := store.GetPeriod(context.Background(), mustPeriodID(test))
	if !errors.Is(err, lottery.ErrInvalidRestrictionYears) || errors.Is(err, lottery.ErrPersistence) {
		test.Fatalf("expected ErrInvalidRestrictionYears, got %v", err)
	}
}

func TestDriverErrorsAreMarkedAsPersistence(test *testing.T) {
	test.Parallel()
	driverError := errors.New("connection refused")
	store := queries{db: &fakeQuerier{rowErr: driverError, execErr: driverError}}

	if _, err := store.HasRecentWin(context.Background(), lottery.EmployeeID{}, lottery.AccommodationID{}, time.Now()); !errors.Is(err, lottery.ErrPersistence) || !errors.Is(err, driverError) {
		test.Fatalf("expected persistence error, got %v", err)
	}
	if err := store.ResetApplicationStatuses(context.Background(), mustPeriodID(test)); !errors.Is(err, lottery.ErrPersistence) {
		test.Fatalf("expected persistence error, got %v", err)
	}
}

func TestUpdateApplicationStatusesChecksRowCount(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		tag     string
		wantErr error
	}{
		{name: "all rows moved", tag: "UPDATE 3"},
		{name: "row changed concurrently", tag: "UPDATE 2", wantErr: lottery.ErrApplicationsChanged},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			querier := &fakeQuerier{execTag: pgconn.NewCommandTag(testCase.tag)}
			store := queries{db: querier}

			err := store.UpdateApplicationStatuses(context.Background(), mustApplicationIDs(test, 3), lottery.ApplicationStatusPending, lottery.ApplicationStatusSelected)
			if testCase.wantErr == nil {
				if err != nil {
					test.Fatalf("unexpected error: %v", err)
				}
				ids, ok := querier.execArgs[0].([]string)
				if !ok || len(ids) != 3 || querier.execArgs[1] != "pending" || querier.execArgs[2] != "selected" {
					test.Fatalf("unexpected exec args %v", querier.execArgs)
				}
				return
			}
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestEmptyBatchesAreNoOps(test *testing.T) {
	test.Parallel()
	querier := &fakeQuerier{}
	store := queries{db: querier}

	if err := store.UpdateApplicationStatuses(context.Background(), nil, lottery.ApplicationStatusPending, lottery.ApplicationStatusSelected); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if err := store.InsertWinnerHistory(context.Background(), nil); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if stored, err := store.InsertLotteryResults(context.Background(), nil); err != nil || stored != nil {
		test.Fatalf("unexpected insert result %v, %v", stored, err)
	}
	if querier.queued != 0 || querier.execArgs != nil {
		test.Fatalf("expected no statements sent")
	}
}

func TestInsertLotteryResultsAssignsIDsAndMapsConflicts(test *testing.T) {
	test.Parallel()
	periodID := mustPeriodID(test)
	applicationIDs := mustApplicationIDs(test, 2)
	results := []lottery.LotteryResult{
		{PeriodID: periodID, ApplicationID: applicationIDs[0], Rank: 1, IsWinner: true},
		{PeriodID: periodID, ApplicationID: applicationIDs[1], Rank: 2},
	}

	querier := &fakeQuerier{}
	stored, err := queries{db: querier}.InsertLotteryResults(context.Background(), results)
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	if querier.queued != 2 || !querier.batchResults.closed {
		test.Fatalf("expected one batch of 2 statements, got %d", querier.queued)
	}
	if stored[0].ID == "" || stored[1].ID == "" || stored[0].ID == stored[1].ID {
		test.Fatalf("expected distinct generated ids, got %q and %q", stored[0].ID, stored[1].ID)
	}
	if results[0].ID != "" {
		test.Fatalf("expected input results untouched")
	}

	conflict := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintResultPeriodRank}
	conflicting := &fakeQuerier{batchResults: &fakeBatchResults{execErrors: []error{nil, conflict}}}
	_, err = queries{db: conflicting}.InsertLotteryResults(context.Background(), results)
	if !errors.Is(err, lottery.ErrAlreadyDrawn) || errors.Is(err, lottery.ErrPersistence) {
		test.Fatalf("expected ErrAlreadyDrawn, got %v", err)
	}
	if !conflicting.batchResults.closed {
		test.Fatalf("expected batch closed after failure")
	}
}

func TestCreateApplicationMapsDuplicate(test *testing.T) {
	test.Parallel()
	conflict := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintApplicationEmployeePeriod}
	store := queries{db: &fakeQuerier{execErr: conflict}}

	_, err := store.CreateApplication(context.Background(), lottery.Application{Status: lottery.ApplicationStatusPending})
	if !errors.Is(err, lottery.ErrDuplicateApplication) {
		test.Fatalf("expected ErrDuplicateApplication, got %v", err)
	}
}

func TestIsUniqueConflict(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil},
		{name: "matching constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintResultPeriodApplication}, want: true},
		{name: "wrapped", err: fmt.Errorf("batch: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintResultPeriodRank}), want: true},
		{name: "other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "employees_pkey"}},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: constraintResultPeriodRank}},
		{name: "plain error", err: errors.New("boom")},
	}
	for _, testCase := range testCases {
		if got := isUniqueConflict(testCase.err, constraintResultPeriodApplication, constraintResultPeriodRank); got != testCase.want {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.want, got)
		}
	}
}
