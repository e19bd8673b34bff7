package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintApplicationEmployeePeriod = "uniq_applications_employee_period"
	constraintResultPeriodApplication   = "uniq_lottery_results_period_application"
	constraintResultPeriodRank          = "uniq_lottery_results_period_rank"
	defaultFormDataJSON                 = "{}"
	pgUniqueViolationCode               = "23505"
	sqliteConstraintCode                = 19
	insertBatchSize                     = 200
	errorSubjectApplication             = "application"
	errorSubjectAudit                   = "audit"
	errorSubjectHistory                 = "history"
	errorSubjectPeriod                  = "period"
	errorSubjectResult                  = "result"
	errorCodeCount                      = "count"
	errorCodeCreate                     = "create"
	errorCodeDelete                     = "delete"
	errorCodeDuplicate                  = "duplicate"
	errorCodeGet                        = "get"
	errorCodeInsert                     = "insert"
	errorCodeInvalid                    = "invalid"
	errorCodeList                       = "list"
	errorCodeLookup                     = "lookup"
	errorCodeReset                      = "reset"
	errorCodeUpdateStatus               = "update_status"
)

// Store implements lottery.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore lottery.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetPeriod(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.ReservationPeriod, error) {
	var model ReservationPeriod
	err := store.db.WithContext(ctx).
		Preload("Accommodation").
		Where("id = ?", periodID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeGet, lottery.ErrUnknownPeriod)
		}
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeGet, err)
	}
	period, err := mapReservationPeriod(model)
	if err != nil {
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeInvalid, err)
	}
	return period, nil
}

func (store *Store) ListPendingApplications(ctx context.Context, periodID lottery.ReservationPeriodID) ([]lottery.Applicant, error) {
	var rows []Application
	err := store.db.WithContext(ctx).
		Preload("Employee").
		Where("reservation_period_id = ? AND status = ?", periodID.String(), lottery.ApplicationStatusPending.String()).
		Order("applied_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	applicants := make([]lottery.Applicant, 0, len(rows))
	for _, row := range rows {
		application, err := mapApplication(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		employee, err := mapEmployee(row.Employee)
		if err != nil {
			return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		applicants = append(applicants, lottery.Applicant{Application: application, Employee: employee})
	}
	return applicants, nil
}

func (store *Store) CountApplications(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.ApplicationCounts, error) {
	var rows []statusCount
	err := store.db.WithContext(ctx).
		Model(&Application{}).
		Select("status, count(*) as total").
		Where("reservation_period_id = ?", periodID.String()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeCount, err)
	}
	counts := lottery.ApplicationCounts{}
	for _, row := range rows {
		status, err := lottery.ParseApplicationStatus(row.Status)
		if err != nil {
			return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		switch status {
		case lottery.ApplicationStatusPending:
			counts.Pending = int(row.Total)
		case lottery.ApplicationStatusSelected:
			counts.Selected = int(row.Total)
		case lottery.ApplicationStatusNotSelected:
			counts.NotSelected = int(row.Total)
		}
	}
	return counts, nil
}

func (store *Store) CountLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LotteryResult{}).
		Where("reservation_period_id = ?", periodID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectResult, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) InsertLotteryResults(ctx context.Context, results []lottery.LotteryResult) ([]lottery.LotteryResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	rows := make([]LotteryResult, 0, len(results))
	for _, result := range results {
		rows = append(rows, LotteryResult{
			ResultID:            result.ID,
			ReservationPeriodID: result.PeriodID.String(),
			ApplicationID:       result.ApplicationID.String(),
			EmployeeID:          result.EmployeeID.String(),
			Rank:                result.Rank,
			IsWinner:            result.IsWinner,
			Ineligible:          result.Ineligible,
			DrawnAt:             result.DrawnAt.UTC(),
			DrawnBy:             result.DrawnBy.String(),
		})
	}
	err := store.db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(&rows, insertBatchSize).Error
	if isUniqueConflict(err, constraintResultPeriodApplication, constraintResultPeriodRank) {
		return nil, wrapStoreError(errorSubjectResult, errorCodeDuplicate, lottery.ErrAlreadyDrawn)
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectResult, errorCodeInsert, err)
	}
	stored := make([]lottery.LotteryResult, 0, len(rows))
	for index, row := range rows {
		result := results[index]
		result.ID = row.ResultID
		stored = append(stored, result)
	}
	return stored, nil
}

func (store *Store) ListLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) ([]lottery.ResultDetail, error) {
	var rows []LotteryResult
	err := store.db.WithContext(ctx).
		Preload("Employee").
		Where("reservation_period_id = ?", periodID.String()).
		Order("rank ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectResult, errorCodeList, err)
	}
	details := make([]lottery.ResultDetail, 0, len(rows))
	for _, row := range rows {
		result, err := mapLotteryResult(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectResult, errorCodeInvalid, err)
		}
		employee, err := mapEmployee(row.Employee)
		if err != nil {
			return nil, wrapStoreError(errorSubjectResult, errorCodeInvalid, err)
		}
		details = append(details, lottery.ResultDetail{Result: result, Employee: employee})
	}
	return details, nil
}

func (store *Store) UpdateApplicationStatuses(ctx context.Context, applicationIDs []lottery.ApplicationID, from, to lottery.ApplicationStatus) error {
	if len(applicationIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(applicationIDs))
	for _, applicationID := range applicationIDs {
		ids = append(ids, applicationID.String())
	}
	result := store.db.WithContext(ctx).
		Model(&Application{}).
		Where("id IN ? AND status = ?", ids, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected != int64(len(ids)) {
		return wrapStoreError(errorSubjectApplication, errorCodeUpdateStatus, lottery.ErrApplicationsChanged)
	}
	return nil
}

func (store *Store) InsertWinnerHistory(ctx context.Context, entries []lottery.WinnerHistory) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]WinnerHistory, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, WinnerHistory{
			EmployeeID:          entry.EmployeeID.String(),
			AccommodationID:     entry.AccommodationID.String(),
			ReservationPeriodID: optionalString(entry.PeriodID.String()),
			CheckInDate:         entry.CheckInDate.UTC(),
		})
	}
	if err := store.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		return wrapStoreError(errorSubjectHistory, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) DeleteLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("reservation_period_id = ?", periodID.String()).
		Delete(&LotteryResult{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectResult, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) ResetApplicationStatuses(ctx context.Context, periodID lottery.ReservationPeriodID) error {
	err := store.db.WithContext(ctx).
		Model(&Application{}).
		Where("reservation_period_id = ?", periodID.String()).
		Update("status", lottery.ApplicationStatusPending.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeReset, err)
	}
	return nil
}

func (store *Store) DeleteWinnerHistory(ctx context.Context, periodID lottery.ReservationPeriodID, accommodationID lottery.AccommodationID, checkInDate time.Time) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("reservation_period_id = ?", periodID.String()).
		Or("reservation_period_id IS NULL AND accommodation_id = ? AND check_in_date = ?", accommodationID.String(), checkInDate.UTC()).
		Delete(&WinnerHistory{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectHistory, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) HasRecentWin(ctx context.Context, employeeID lottery.EmployeeID, accommodationID lottery.AccommodationID, cutoff time.Time) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&WinnerHistory{}).
		Where("employee_id = ? AND accommodation_id = ? AND check_in_date > ?", employeeID.String(), accommodationID.String(), cutoff.UTC()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectHistory, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) CreateApplication(ctx context.Context, application lottery.Application) (lottery.Application, error) {
	model := Application{
		EmployeeID:          application.EmployeeID.String(),
		ReservationPeriodID: application.PeriodID.String(),
		Status:              application.Status.String(),
		AppliedAt:           application.AppliedAt.UTC(),
		FormData:            datatypesJSON(application.FormData.JSON()),
	}
	err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if isUniqueConflict(err, constraintApplicationEmployeePeriod) {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeDuplicate, lottery.ErrDuplicateApplication)
	}
	if err != nil {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeCreate, err)
	}
	created, err := mapApplication(model)
	if err != nil {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) InsertAuditLog(ctx context.Context, entry lottery.AuditLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	model := LotteryLog{
		ReservationPeriodID: entry.PeriodID.String(),
		Action:              entry.Action,
		PerformedBy:         entry.PerformedBy.String(),
		Details:             datatypes.NewJSONType(details),
		CreatedAt:           entry.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return lottery.WrapStoreError(subject, code, err)
}

type statusCount struct {
	Status string
	Total  int64
}

func mapReservationPeriod(model ReservationPeriod) (lottery.ReservationPeriod, error) {
	periodID, err := lottery.NewReservationPeriodID(model.PeriodID)
	if err != nil {
		return lottery.ReservationPeriod{}, err
	}
	accommodationID, err := lottery.NewAccommodationID(model.Accommodation.AccommodationID)
	if err != nil {
		return lottery.ReservationPeriod{}, err
	}
	if model.Accommodation.RestrictionYears < 0 {
		return lottery.ReservationPeriod{}, lottery.ErrInvalidRestrictionYears
	}
	return lottery.ReservationPeriod{
		ID: periodID,
		Accommodation: lottery.Accommodation{
			ID:               accommodationID,
			Name:             model.Accommodation.Name,
			RestrictionYears: model.Accommodation.RestrictionYears,
		},
		StartDate:        model.StartDate.UTC(),
		EndDate:          model.EndDate.UTC(),
		ApplicationStart: model.ApplicationStart.UTC(),
		ApplicationEnd:   model.ApplicationEnd.UTC(),
		AvailableRooms:   model.AvailableRooms,
		IsOpen:           model.IsOpen,
		IsActive:         model.IsActive,
	}, nil
}

func mapApplication(row Application) (lottery.Application, error) {
	applicationID, err := lottery.NewApplicationID(row.ApplicationID)
	if err != nil {
		return lottery.Application{}, err
	}
	employeeID, err := lottery.NewEmployeeID(row.EmployeeID)
	if err != nil {
		return lottery.Application{}, err
	}
	periodID, err := lottery.NewReservationPeriodID(row.ReservationPeriodID)
	if err != nil {
		return lottery.Application{}, err
	}
	status, err := lottery.ParseApplicationStatus(row.Status)
	if err != nil {
		return lottery.Application{}, err
	}
	formData, err := lottery.ParseFormDataJSON(string(row.FormData))
	if err != nil {
		return lottery.Application{}, err
	}
	return lottery.Application{
		ID:         applicationID,
		EmployeeID: employeeID,
		PeriodID:   periodID,
		Status:     status,
		AppliedAt:  row.AppliedAt.UTC(),
		FormData:   formData,
	}, nil
}

func mapEmployee(row Employee) (lottery.Employee, error) {
	employeeID, err := lottery.NewEmployeeID(row.EmployeeID)
	if err != nil {
		return lottery.Employee{}, err
	}
	return lottery.Employee{
		ID:         employeeID,
		Name:       row.Name,
		Email:      row.Email,
		Department: row.Department,
	}, nil
}

func mapLotteryResult(row LotteryResult) (lottery.LotteryResult, error) {
	periodID, err := lottery.NewReservationPeriodID(row.ReservationPeriodID)
	if err != nil {
		return lottery.LotteryResult{}, err
	}
	applicationID, err := lottery.NewApplicationID(row.ApplicationID)
	if err != nil {
		return lottery.LotteryResult{}, err
	}
	employeeID, err := lottery.NewEmployeeID(row.EmployeeID)
	if err != nil {
		return lottery.LotteryResult{}, err
	}
	drawnBy, err := lottery.NewActorID(row.DrawnBy)
	if err != nil {
		return lottery.LotteryResult{}, err
	}
	return lottery.LotteryResult{
		ID:            row.ResultID,
		PeriodID:      periodID,
		ApplicationID: applicationID,
		EmployeeID:    employeeID,
		Rank:          row.Rank,
		IsWinner:      row.IsWinner,
		Ineligible:    row.Ineligible,
		DrawnAt:       row.DrawnAt.UTC(),
		DrawnBy:       drawnBy,
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultFormDataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueConflict(err error, constraints ...string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		for _, constraint := range constraints {
			if pgErr.ConstraintName == constraint {
				return true
			}
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
