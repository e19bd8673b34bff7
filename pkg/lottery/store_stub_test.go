package lottery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

var (
	fixedNow        = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	errStoreFailure = errors.New("store error")
)

const (
	defaultPeriodIDValue        = "period-1"
	defaultAccommodationIDValue = "acc-1"
	defaultActorIDValue         = "admin-1"
)

type stubStore struct {
	transactionMutex sync.Mutex
	mutex            sync.Mutex

	periods      map[ReservationPeriodID]ReservationPeriod
	employees    map[EmployeeID]Employee
	applications []Application
	results      []LotteryResult
	history      []WinnerHistory
	auditLogs    []AuditLog
	sequence     int

	getPeriodError        error
	listPendingError      error
	hasRecentWinError     error
	insertResultsError    error
	insertHistoryError    error
	insertAuditError      error
	createApplicationErr  error
	failTransitionTo      ApplicationStatus
	hasRecentWinCallCount int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		periods:   make(map[ReservationPeriodID]ReservationPeriod),
		employees: make(map[EmployeeID]Employee),
	}
}

type stubSnapshot struct {
	applications []Application
	results      []LotteryResult
	history      []WinnerHistory
	auditLogs    []AuditLog
}

func (store *stubStore) snapshot() stubSnapshot {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return stubSnapshot{
		applications: slices.Clone(store.applications),
		results:      slices.Clone(store.results),
		history:      slices.Clone(store.history),
		auditLogs:    slices.Clone(store.auditLogs),
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.applications = snapshot.applications
	store.results = snapshot.results
	store.history = snapshot.history
	store.auditLogs = snapshot.auditLogs
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transactionMutex.Lock()
	defer store.transactionMutex.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) GetPeriod(_ context.Context, periodID ReservationPeriodID) (ReservationPeriod, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getPeriodError != nil {
		return ReservationPeriod{}, store.getPeriodError
	}
	period, ok := store.periods[periodID]
	if !ok {
		return ReservationPeriod{}, WrapStoreError("period", "get", ErrUnknownPeriod)
	}
	return period, nil
}

func (store *stubStore) ListPendingApplications(_ context.Context, periodID ReservationPeriodID) ([]Applicant, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.listPendingError != nil {
		return nil, store.listPendingError
	}
	applicants := make([]Applicant, 0)
	for _, application := range store.applications {
		if application.PeriodID != periodID || application.Status != ApplicationStatusPending {
			continue
		}
		applicants = append(applicants, Applicant{Application: application, Employee: store.employees[application.EmployeeID]})
	}
	slices.SortStableFunc(applicants, compareBySubmission)
	return applicants, nil
}

func (store *stubStore) CountApplications(_ context.Context, periodID ReservationPeriodID) (ApplicationCounts, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	counts := ApplicationCounts{}
	for _, application := range store.applications {
		if application.PeriodID != periodID {
			continue
		}
		switch application.Status {
		case ApplicationStatusPending:
			counts.Pending++
		case ApplicationStatusSelected:
			counts.Selected++
		case ApplicationStatusNotSelected:
			counts.NotSelected++
		}
	}
	return counts, nil
}

func (store *stubStore) CountLotteryResults(_ context.Context, periodID ReservationPeriodID) (int, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	count := 0
	for _, result := range store.results {
		if result.PeriodID == periodID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) InsertLotteryResults(_ context.Context, results []LotteryResult) ([]LotteryResult, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertResultsError != nil {
		return nil, store.insertResultsError
	}
	stored := make([]LotteryResult, 0, len(results))
	for _, result := range results {
		for _, existing := range store.results {
			if existing.PeriodID == result.PeriodID && (existing.ApplicationID == result.ApplicationID || existing.Rank == result.Rank) {
				return nil, WrapStoreError("result", "duplicate", ErrAlreadyDrawn)
			}
		}
		store.sequence++
		result.ID = fmt.Sprintf("result-%d", store.sequence)
		store.results = append(store.results, result)
		stored = append(stored, result)
	}
	return stored, nil
}

func (store *stubStore) ListLotteryResults(_ context.Context, periodID ReservationPeriodID) ([]ResultDetail, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	details := make([]ResultDetail, 0)
	for _, result := range store.results {
		if result.PeriodID == periodID {
			details = append(details, ResultDetail{Result: result, Employee: store.employees[result.EmployeeID]})
		}
	}
	slices.SortFunc(details, func(left ResultDetail, right ResultDetail) int {
		return left.Result.Rank - right.Result.Rank
	})
	return details, nil
}

func (store *stubStore) UpdateApplicationStatuses(_ context.Context, applicationIDs []ApplicationID, from, to ApplicationStatus) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if len(applicationIDs) == 0 {
		return nil
	}
	if store.failTransitionTo != "" && store.failTransitionTo == to {
		return WrapStoreError("application", "update_status", errStoreFailure)
	}
	matched := 0
	for _, application := range store.applications {
		if slices.Contains(applicationIDs, application.ID) && application.Status == from {
			matched++
		}
	}
	if matched != len(applicationIDs) {
		return WrapStoreError("application", "update_status", ErrApplicationsChanged)
	}
	for index := range store.applications {
		if slices.Contains(applicationIDs, store.applications[index].ID) {
			store.applications[index].Status = to
		}
	}
	return nil
}

func (store *stubStore) InsertWinnerHistory(_ context.Context, entries []WinnerHistory) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if len(entries) == 0 {
		return nil
	}
	if store.insertHistoryError != nil {
		return store.insertHistoryError
	}
	store.history = append(store.history, entries...)
	return nil
}

func (store *stubStore) DeleteLotteryResults(_ context.Context, periodID ReservationPeriodID) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	before := len(store.results)
	store.results = slices.DeleteFunc(store.results, func(result LotteryResult) bool {
		return result.PeriodID == periodID
	})
	return int64(before - len(store.results)), nil
}

func (store *stubStore) ResetApplicationStatuses(_ context.Context, periodID ReservationPeriodID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for index := range store.applications {
		if store.applications[index].PeriodID == periodID {
			store.applications[index].Status = ApplicationStatusPending
		}
	}
	return nil
}

func (store *stubStore) DeleteWinnerHistory(_ context.Context, periodID ReservationPeriodID, accommodationID AccommodationID, checkInDate time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	before := len(store.history)
	store.history = slices.DeleteFunc(store.history, func(entry WinnerHistory) bool {
		if entry.PeriodID == periodID {
			return true
		}
		return entry.PeriodID == (ReservationPeriodID{}) && entry.AccommodationID == accommodationID && entry.CheckInDate.Equal(checkInDate)
	})
	return int64(before - len(store.history)), nil
}

func (store *stubStore) HasRecentWin(_ context.Context, employeeID EmployeeID, accommodationID AccommodationID, cutoff time.Time) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.hasRecentWinCallCount++
	if store.hasRecentWinError != nil {
		return false, store.hasRecentWinError
	}
	for _, entry := range store.history {
		if entry.EmployeeID == employeeID && entry.AccommodationID == accommodationID && entry.CheckInDate.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) CreateApplication(_ context.Context, application Application) (Application, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.createApplicationErr != nil {
		return Application{}, store.createApplicationErr
	}
	for _, existing := range store.applications {
		if existing.EmployeeID == application.EmployeeID && existing.PeriodID == application.PeriodID {
			return Application{}, WrapStoreError("application", "duplicate", ErrDuplicateApplication)
		}
	}
	store.sequence++
	application.ID = mustApplicationIDValue(fmt.Sprintf("application-%d", store.sequence))
	store.applications = append(store.applications, application)
	return application, nil
}

func (store *stubStore) InsertAuditLog(_ context.Context, entry AuditLog) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertAuditError != nil {
		return store.insertAuditError
	}
	store.auditLogs = append(store.auditLogs, entry)
	return nil
}

func (store *stubStore) addPeriod(period ReservationPeriod) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.periods[period.ID] = period
}

func (store *stubStore) addApplicant(test *testing.T, periodID ReservationPeriodID, employeeIDValue string, appliedAt time.Time) Application {
	test.Helper()
	employeeID := mustEmployeeID(test, employeeIDValue)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.employees[employeeID] = Employee{
		ID:    employeeID,
		Name:  "Employee " + employeeIDValue,
		Email: employeeIDValue + "@example.com",
	}
	store.sequence++
	application := Application{
		ID:         mustApplicationIDValue(fmt.Sprintf("application-%d", store.sequence)),
		EmployeeID: employeeID,
		PeriodID:   periodID,
		Status:     ApplicationStatusPending,
		AppliedAt:  appliedAt,
	}
	store.applications = append(store.applications, application)
	return application
}

func (store *stubStore) addHistory(entry WinnerHistory) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.history = append(store.history, entry)
}

func (store *stubStore) applicationStatuses(periodID ReservationPeriodID) map[EmployeeID]ApplicationStatus {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	statuses := make(map[EmployeeID]ApplicationStatus)
	for _, application := range store.applications {
		if application.PeriodID == periodID {
			statuses[application.EmployeeID] = application.Status
		}
	}
	return statuses
}

func (store *stubStore) resultsFor(periodID ReservationPeriodID) []LotteryResult {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	results := make([]LotteryResult, 0)
	for _, result := range store.results {
		if result.PeriodID == periodID {
			results = append(results, result)
		}
	}
	return results
}

func (store *stubStore) historyCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.history)
}

func mustApplicationIDValue(raw string) ApplicationID {
	applicationID, err := NewApplicationID(raw)
	if err != nil {
		panic(err)
	}
	return applicationID
}

func mustEmployeeID(test *testing.T, raw string) EmployeeID {
	test.Helper()
	employeeID, err := NewEmployeeID(raw)
	if err != nil {
		test.Fatalf("employee id: %v", err)
	}
	return employeeID
}

func mustPeriodID(test *testing.T, raw string) ReservationPeriodID {
	test.Helper()
	periodID, err := NewReservationPeriodID(raw)
	if err != nil {
		test.Fatalf("period id: %v", err)
	}
	return periodID
}

func mustAccommodationID(test *testing.T, raw string) AccommodationID {
	test.Helper()
	accommodationID, err := NewAccommodationID(raw)
	if err != nil {
		test.Fatalf("accommodation id: %v", err)
	}
	return accommodationID
}

func mustActorID(test *testing.T, raw string) ActorID {
	test.Helper()
	actorID, err := NewActorID(raw)
	if err != nil {
		test.Fatalf("actor id: %v", err)
	}
	return actorID
}

func fixedClock() time.Time {
	return fixedNow
}

func newTestPeriod(test *testing.T, periodIDValue string, capacity int, restrictionYears int) ReservationPeriod {
	test.Helper()
	return ReservationPeriod{
		ID: mustPeriodID(test, periodIDValue),
		Accommodation: Accommodation{
			ID:               mustAccommodationID(test, defaultAccommodationIDValue),
			Name:             "Seaside Resort",
			RestrictionYears: restrictionYears,
		},
		StartDate:        time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2024, time.February, 3, 0, 0, 0, 0, time.UTC),
		ApplicationStart: time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC),
		ApplicationEnd:   time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC),
		AvailableRooms:   capacity,
		IsOpen:           true,
		IsActive:         true,
	}
}

// newDrawFixture seeds a period with applicantCount pending applications submitted a minute apart.
func newDrawFixture(test *testing.T, capacity int, applicantCount int, restrictionYears int) (*stubStore, ReservationPeriod, []Application) {
	test.Helper()
	store := newStubStore(test)
	period := newTestPeriod(test, defaultPeriodIDValue, capacity, restrictionYears)
	store.addPeriod(period)
	applications := make([]Application, 0, applicantCount)
	for index := 0; index < applicantCount; index++ {
		appliedAt := period.ApplicationStart.Add(time.Duration(index) * time.Minute)
		applications = append(applications, store.addApplicant(test, period.ID, fmt.Sprintf("emp-%d", index+1), appliedAt))
	}
	return store, period, applications
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) byOperation(operation string) []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	matched := make([]OperationLog, 0)
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

type recordingNotifier struct {
	mutex      sync.Mutex
	winners    []WinnerNotice
	nonWinners []NonWinnerNotice
	failFor    map[EmployeeID]bool
}

func (notifier *recordingNotifier) NotifyWinner(_ context.Context, notice WinnerNotice) error {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if notifier.failFor[notice.Recipient.ID] {
		return errors.New("smtp unavailable")
	}
	notifier.winners = append(notifier.winners, notice)
	return nil
}

func (notifier *recordingNotifier) NotifyNonWinner(_ context.Context, notice NonWinnerNotice) error {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if notifier.failFor[notice.Recipient.ID] {
		return errors.New("smtp unavailable")
	}
	notifier.nonWinners = append(notifier.nonWinners, notice)
	return nil
}

func waitForSummary(test *testing.T, outcome DrawOutcome) NotificationSummary {
	test.Helper()
	select {
	case summary := <-outcome.Notifications:
		return summary
	case <-time.After(5 * time.Second):
		test.Fatalf("notification summary not delivered")
		return NotificationSummary{}
	}
}
