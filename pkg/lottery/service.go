package lottery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the allocation logic over a Store.
type Service struct {
	store                  Store
	nowFn                  func() time.Time
	logger                 OperationLogger
	shuffle                Shuffler
	notifier               Notifier
	eligibilityConcurrency int
	notificationTimeout    time.Duration
}

// DrawEligibility is the read-only pre-check shown before drawing.
type DrawEligibility struct {
	PeriodID            ReservationPeriodID
	Eligible            bool
	Reason              DrawBlockReason
	State               DrawState
	PendingApplications int
	AvailableRooms      int
	ApplicationDeadline time.Time
}

// DrawOutcome is the committed result of RunDraw.
type DrawOutcome struct {
	PeriodID             ReservationPeriodID
	Results              []LotteryResult
	Winners              int
	Losers               int
	Ineligible           int
	NoEligibleApplicants bool
	DegradedChecks       int
	// Notifications delivers exactly one summary once the detached dispatch finishes.
	Notifications <-chan NotificationSummary
}

// ResetOutcome reports what a reset removed.
type ResetOutcome struct {
	PeriodID       ReservationPeriodID
	DeletedResults int64
	DeletedHistory int64
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:                  store,
		nowFn:                  now,
		shuffle:                DefaultShuffler(),
		eligibilityConcurrency: defaultEligibilityConcurrency,
		notificationTimeout:    defaultNotificationTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CheckDrawEligibility reports whether a draw can run now and why not.
func (service *Service) CheckDrawEligibility(ctx context.Context, periodID ReservationPeriodID) (DrawEligibility, error) {
	period, err := service.store.GetPeriod(ctx, periodID)
	if err != nil {
		return DrawEligibility{}, err
	}
	if err := period.Validate(); err != nil {
		return DrawEligibility{}, err
	}
	return service.evaluateDrawEligibility(ctx, service.store, period)
}

func (service *Service) evaluateDrawEligibility(ctx context.Context, store Store, period ReservationPeriod) (DrawEligibility, error) {
	eligibility := DrawEligibility{
		PeriodID:            period.ID,
		State:               DrawStateNotStarted,
		AvailableRooms:      period.AvailableRooms,
		ApplicationDeadline: period.ApplicationEnd,
	}
	resultCount, err := store.CountLotteryResults(ctx, period.ID)
	if err != nil {
		return DrawEligibility{}, err
	}
	if resultCount > 0 {
		eligibility.State = DrawStateDrawn
	}
	counts, err := store.CountApplications(ctx, period.ID)
	if err != nil {
		return DrawEligibility{}, err
	}
	eligibility.PendingApplications = counts.Pending

	switch {
	case service.nowFn().Before(period.ApplicationEnd):
		eligibility.Reason = DrawBlockApplicationWindowOpen
	case resultCount > 0:
		eligibility.Reason = DrawBlockAlreadyDrawn
	case counts.Pending == 0:
		eligibility.Reason = DrawBlockNoApplicants
	default:
		eligibility.Eligible = true
	}
	return eligibility, nil
}

// RunDraw executes the lottery for a period at most once.
// Results, status transitions and win history are committed in one transaction;
// notifications are dispatched afterwards and never fail the draw.
func (service *Service) RunDraw(ctx context.Context, periodID ReservationPeriodID, actor ActorID) (DrawOutcome, error) {
	outcome, period, plan, operationError := service.runDraw(ctx, periodID, actor)
	logOperation(ctx, service.logger, OperationLog{
		Operation:  operationDraw,
		PeriodID:   periodID,
		Actor:      actor,
		Winners:    outcome.Winners,
		Losers:     outcome.Losers,
		Ineligible: outcome.Ineligible,
		Error:      operationError,
	})
	if operationError != nil {
		return DrawOutcome{}, operationError
	}
	outcome.Notifications = service.dispatchNotifications(ctx, period, plan)
	return outcome, nil
}

func (service *Service) runDraw(ctx context.Context, periodID ReservationPeriodID, actor ActorID) (DrawOutcome, ReservationPeriod, DrawPlan, error) {
	period, err := service.store.GetPeriod(ctx, periodID)
	if err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}
	if err := period.Validate(); err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}
	eligibility, err := service.evaluateDrawEligibility(ctx, service.store, period)
	if err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}
	if !eligibility.Eligible {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, newPreconditionError(eligibility.Reason)
	}

	applicants, err := service.store.ListPendingApplications(ctx, period.ID)
	if err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}
	if len(applicants) == 0 {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, newPreconditionError(DrawBlockNoApplicants)
	}

	filter := NewEligibilityFilter(service.store, service.nowFn, service.logger, service.eligibilityConcurrency)
	verdicts := filter.CheckAll(ctx, applicants, period.Accommodation)
	if err := ctx.Err(); err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}
	eligible, ineligible, degraded := partitionApplicants(applicants, verdicts)

	plan, err := Draw(eligible, ineligible, period.AvailableRooms, service.shuffle)
	if err != nil {
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, err
	}

	drawnAt := service.nowFn().UTC()
	pendingResults := buildResults(period.ID, plan, drawnAt, actor)
	var stored []LotteryResult
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.CountLotteryResults(ctx, period.ID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyDrawn
		}
		stored, err = transactionStore.InsertLotteryResults(ctx, pendingResults)
		if err != nil {
			return err
		}
		selected, notSelected := splitByOutcome(plan)
		if err := transactionStore.UpdateApplicationStatuses(ctx, selected, ApplicationStatusPending, ApplicationStatusSelected); err != nil {
			return err
		}
		if err := transactionStore.UpdateApplicationStatuses(ctx, notSelected, ApplicationStatusPending, ApplicationStatusNotSelected); err != nil {
			return err
		}
		if err := transactionStore.InsertWinnerHistory(ctx, buildWinnerHistory(period, plan)); err != nil {
			return err
		}
		return transactionStore.InsertAuditLog(ctx, AuditLog{
			PeriodID:    period.ID,
			Action:      auditActionExecuted,
			PerformedBy: actor,
			Details: map[string]any{
				"winners":         plan.Winners,
				"losers":          plan.Losers,
				"ineligible":      plan.Ineligible,
				"degraded_checks": degraded,
				"available_rooms": period.AvailableRooms,
			},
			CreatedAt: drawnAt,
		})
	})
	if transactionError != nil {
		if errors.Is(transactionError, ErrAlreadyDrawn) && !errors.Is(transactionError, ErrDrawPrecondition) {
			transactionError = &PreconditionError{Reason: DrawBlockAlreadyDrawn, cause: transactionError}
		}
		return DrawOutcome{}, ReservationPeriod{}, DrawPlan{}, transactionError
	}

	return DrawOutcome{
		PeriodID:             period.ID,
		Results:              stored,
		Winners:              plan.Winners,
		Losers:               plan.Losers,
		Ineligible:           plan.Ineligible,
		NoEligibleApplicants: plan.NoEligibleApplicants,
		DegradedChecks:       degraded,
	}, period, plan, nil
}

// Reset reverses a completed draw: results, statuses and the draw's win history.
func (service *Service) Reset(ctx context.Context, periodID ReservationPeriodID, actor ActorID) (ResetOutcome, error) {
	outcome := ResetOutcome{PeriodID: periodID}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		period, err := transactionStore.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		existing, err := transactionStore.CountLotteryResults(ctx, period.ID)
		if err != nil {
			return err
		}
		if existing == 0 {
			return ErrNotDrawn
		}
		deletedResults, err := transactionStore.DeleteLotteryResults(ctx, period.ID)
		if err != nil {
			return err
		}
		if err := transactionStore.ResetApplicationStatuses(ctx, period.ID); err != nil {
			return err
		}
		deletedHistory, err := transactionStore.DeleteWinnerHistory(ctx, period.ID, period.Accommodation.ID, period.StartDate)
		if err != nil {
			return err
		}
		outcome.DeletedResults = deletedResults
		outcome.DeletedHistory = deletedHistory
		return transactionStore.InsertAuditLog(ctx, AuditLog{
			PeriodID:    period.ID,
			Action:      auditActionReset,
			PerformedBy: actor,
			Details: map[string]any{
				"deleted_results": deletedResults,
				"deleted_history": deletedHistory,
			},
			CreatedAt: service.nowFn().UTC(),
		})
	})
	logOperation(ctx, service.logger, OperationLog{
		Operation: operationReset,
		PeriodID:  periodID,
		Actor:     actor,
		Error:     operationError,
	})
	if operationError != nil {
		return ResetOutcome{}, operationError
	}
	return outcome, nil
}

// Apply submits a pending application for an open period.
func (service *Service) Apply(ctx context.Context, employeeID EmployeeID, periodID ReservationPeriodID, formData FormData) (Application, error) {
	application, operationError := service.apply(ctx, employeeID, periodID, formData)
	logOperation(ctx, service.logger, OperationLog{
		Operation:  operationApply,
		PeriodID:   periodID,
		EmployeeID: employeeID,
		Error:      operationError,
	})
	return application, operationError
}

func (service *Service) apply(ctx context.Context, employeeID EmployeeID, periodID ReservationPeriodID, formData FormData) (Application, error) {
	period, err := service.store.GetPeriod(ctx, periodID)
	if err != nil {
		return Application{}, err
	}
	if err := period.Validate(); err != nil {
		return Application{}, err
	}
	if !period.IsOpen || !period.IsActive {
		return Application{}, ErrPeriodClosed
	}
	now := service.nowFn().UTC()
	if now.Before(period.ApplicationStart) || now.After(period.ApplicationEnd) {
		return Application{}, ErrApplicationWindowClosed
	}
	filter := NewEligibilityFilter(service.store, service.nowFn, service.logger, 1)
	if verdict := filter.Check(ctx, employeeID, period.Accommodation); verdict.Blocked {
		return Application{}, fmt.Errorf("%w: %d year(s) for %s", ErrRecentWinRestriction, period.Accommodation.RestrictionYears, period.Accommodation.Name)
	}
	return service.store.CreateApplication(ctx, Application{
		EmployeeID: employeeID,
		PeriodID:   period.ID,
		Status:     ApplicationStatusPending,
		AppliedAt:  now,
		FormData:   formData,
	})
}

func (service *Service) dispatchNotifications(ctx context.Context, period ReservationPeriod, plan DrawPlan) <-chan NotificationSummary {
	summaries := make(chan NotificationSummary, 1)
	if service.notifier == nil {
		summaries <- NotificationSummary{}
		close(summaries)
		return summaries
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.notificationTimeout)
	go func() {
		defer close(summaries)
		defer cancel()
		summary := notifyPlacements(detached, service.notifier, period, plan)
		status := operationStatusOK
		if summary.Failed > 0 {
			status = operationStatusDegraded
		}
		logOperation(detached, service.logger, OperationLog{
			Operation: operationNotify,
			PeriodID:  period.ID,
			Winners:   plan.Winners,
			Losers:    plan.Losers + plan.Ineligible,
			Status:    status,
			Error:     summary.Err(),
		})
		summaries <- summary
	}()
	return summaries
}

func buildResults(periodID ReservationPeriodID, plan DrawPlan, drawnAt time.Time, actor ActorID) []LotteryResult {
	results := make([]LotteryResult, 0, len(plan.Placements))
	for _, placement := range plan.Placements {
		results = append(results, LotteryResult{
			PeriodID:      periodID,
			ApplicationID: placement.Applicant.Application.ID,
			EmployeeID:    placement.Applicant.Application.EmployeeID,
			Rank:          placement.Rank,
			IsWinner:      placement.IsWinner,
			Ineligible:    placement.Ineligible,
			DrawnAt:       drawnAt,
			DrawnBy:       actor,
		})
	}
	return results
}

func splitByOutcome(plan DrawPlan) (selected []ApplicationID, notSelected []ApplicationID) {
	for _, placement := range plan.Placements {
		if placement.IsWinner {
			selected = append(selected, placement.Applicant.Application.ID)
			continue
		}
		notSelected = append(notSelected, placement.Applicant.Application.ID)
	}
	return selected, notSelected
}

func buildWinnerHistory(period ReservationPeriod, plan DrawPlan) []WinnerHistory {
	history := make([]WinnerHistory, 0, plan.Winners)
	for _, placement := range plan.Placements {
		if !placement.IsWinner {
			continue
		}
		history = append(history, WinnerHistory{
			EmployeeID:      placement.Applicant.Application.EmployeeID,
			AccommodationID: period.Accommodation.ID,
			PeriodID:        period.ID,
			CheckInDate:     period.StartDate,
		})
	}
	return history
}
