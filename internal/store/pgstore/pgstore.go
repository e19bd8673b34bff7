package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintApplicationEmployeePeriod = "uniq_applications_employee_period"
	constraintResultPeriodApplication   = "uniq_lottery_results_period_application"
	constraintResultPeriodRank          = "uniq_lottery_results_period_rank"
	pgUniqueViolationCode               = "23505"
	errorSubjectApplication             = "application"
	errorSubjectAudit                   = "audit"
	errorSubjectHistory                 = "history"
	errorSubjectPeriod                  = "period"
	errorSubjectResult                  = "result"
	errorSubjectTransaction             = "transaction"
	errorCodeBegin                      = "begin"
	errorCodeCommit                     = "commit"
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

	sqlSelectPeriod = `
		select
			p.id, p.start_date, p.end_date, p.application_start, p.application_end,
			p.available_rooms, p.is_open, p.is_active,
			a.id, a.name, a.restriction_years
		from reservation_periods p
		join accommodations a on a.id = p.accommodation_id
		where p.id = $1
	`

	sqlListPendingApplications = `
		select
			ap.id, ap.employee_id, ap.reservation_period_id, ap.status, ap.applied_at,
			coalesce(ap.form_data::text, '{}'),
			e.name, e.email, coalesce(e.department, '')
		from applications ap
		join employees e on e.id = ap.employee_id
		where ap.reservation_period_id = $1 and ap.status = 'pending'
		order by ap.applied_at asc, ap.id asc
	`

	sqlCountApplications = `
		select status, count(*) from applications
		where reservation_period_id = $1
		group by status
	`

	sqlCountResults = `
		select count(*) from lottery_results where reservation_period_id = $1
	`

	sqlInsertResult = `
		insert into lottery_results(
			id, reservation_period_id, application_id, employee_id, rank, is_winner, ineligible, drawn_at, drawn_by
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	sqlListResults = `
		select
			r.id, r.reservation_period_id, r.application_id, r.employee_id, r.rank,
			r.is_winner, r.ineligible, r.drawn_at, r.drawn_by,
			e.name, e.email, coalesce(e.department, '')
		from lottery_results r
		join employees e on e.id = r.employee_id
		where r.reservation_period_id = $1
		order by r.rank asc
	`

	sqlUpdateApplicationStatuses = `
		update applications set status = $3
		where id = any($1) and status = $2
	`

	sqlInsertHistory = `
		insert into winners_history(id, employee_id, accommodation_id, reservation_period_id, check_in_date, created_at)
		values ($1, $2, $3, nullif($4, ''), $5, now())
	`

	sqlDeleteResults = `
		delete from lottery_results where reservation_period_id = $1
	`

	sqlResetApplicationStatuses = `
		update applications set status = 'pending' where reservation_period_id = $1
	`

	sqlDeleteHistory = `
		delete from winners_history
		where reservation_period_id = $1
		or (reservation_period_id is null and accommodation_id = $2 and check_in_date = $3)
	`

	sqlHasRecentWin = `
		select exists(
			select 1 from winners_history
			where employee_id = $1 and accommodation_id = $2 and check_in_date > $3
		)
	`

	sqlInsertApplication = `
		insert into applications(id, employee_id, reservation_period_id, status, applied_at, form_data)
		values ($1, $2, $3, $4, $5, $6::jsonb)
	`

	sqlInsertAuditLog = `
		insert into lottery_logs(id, reservation_period_id, action, performed_by, details, created_at)
		values ($1, $2, $3, $4, $5::jsonb, $6)
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

// Store implements lottery.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	queries
}

// TxStore implements lottery.Store for an active transaction.
type TxStore struct {
	queries
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: queries{db: pool}}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore lottery.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueConflict(err, constraintResultPeriodApplication, constraintResultPeriodRank) {
			return wrapStoreError(errorSubjectTransaction, errorCodeCommit, lottery.ErrAlreadyDrawn)
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore lottery.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	db querier
}

func (q queries) GetPeriod(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.ReservationPeriod, error) {
	var (
		periodValue        string
		accommodationValue string
		period             lottery.ReservationPeriod
	)
	err := q.db.QueryRow(ctx, sqlSelectPeriod, periodID.String()).Scan(
		&periodValue,
		&period.StartDate,
		&period.EndDate,
		&period.ApplicationStart,
		&period.ApplicationEnd,
		&period.AvailableRooms,
		&period.IsOpen,
		&period.IsActive,
		&accommodationValue,
		&period.Accommodation.Name,
		&period.Accommodation.RestrictionYears,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeGet, lottery.ErrUnknownPeriod)
		}
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeGet, err)
	}
	if period.ID, err = lottery.NewReservationPeriodID(periodValue); err != nil {
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeInvalid, err)
	}
	if period.Accommodation.ID, err = lottery.NewAccommodationID(accommodationValue); err != nil {
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeInvalid, err)
	}
	if period.Accommodation.RestrictionYears < 0 {
		return lottery.ReservationPeriod{}, wrapStoreError(errorSubjectPeriod, errorCodeInvalid, lottery.ErrInvalidRestrictionYears)
	}
	period.StartDate = period.StartDate.UTC()
	period.EndDate = period.EndDate.UTC()
	period.ApplicationStart = period.ApplicationStart.UTC()
	period.ApplicationEnd = period.ApplicationEnd.UTC()
	return period, nil
}

func (q queries) ListPendingApplications(ctx context.Context, periodID lottery.ReservationPeriodID) ([]lottery.Applicant, error) {
	rows, err := q.db.Query(ctx, sqlListPendingApplications, periodID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	defer rows.Close()
	applicants, err := scanApplicants(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
	}
	return applicants, nil
}

func (q queries) CountApplications(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.ApplicationCounts, error) {
	rows, err := q.db.Query(ctx, sqlCountApplications, periodID.String())
	if err != nil {
		return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeCount, err)
	}
	defer rows.Close()
	counts := lottery.ApplicationCounts{}
	for rows.Next() {
		var (
			statusValue string
			total       int64
		)
		if err := rows.Scan(&statusValue, &total); err != nil {
			return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeCount, err)
		}
		status, err := lottery.ParseApplicationStatus(statusValue)
		if err != nil {
			return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		switch status {
		case lottery.ApplicationStatusPending:
			counts.Pending = int(total)
		case lottery.ApplicationStatusSelected:
			counts.Selected = int(total)
		case lottery.ApplicationStatusNotSelected:
			counts.NotSelected = int(total)
		}
	}
	if err := rows.Err(); err != nil {
		return lottery.ApplicationCounts{}, wrapStoreError(errorSubjectApplication, errorCodeCount, err)
	}
	return counts, nil
}

func (q queries) CountLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) (int, error) {
	var count int64
	if err := q.db.QueryRow(ctx, sqlCountResults, periodID.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectResult, errorCodeCount, err)
	}
	return int(count), nil
}

func (q queries) InsertLotteryResults(ctx context.Context, results []lottery.LotteryResult) ([]lottery.LotteryResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	stored := assignResultIDs(results)
	batch := &pgx.Batch{}
	for _, result := range stored {
		batch.Queue(sqlInsertResult,
			result.ID,
			result.PeriodID.String(),
			result.ApplicationID.String(),
			result.EmployeeID.String(),
			result.Rank,
			result.IsWinner,
			result.Ineligible,
			result.DrawnAt.UTC(),
			result.DrawnBy.String(),
		)
	}
	err := execBatch(ctx, q.db, batch)
	if isUniqueConflict(err, constraintResultPeriodApplication, constraintResultPeriodRank) {
		return nil, wrapStoreError(errorSubjectResult, errorCodeDuplicate, lottery.ErrAlreadyDrawn)
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectResult, errorCodeInsert, err)
	}
	return stored, nil
}

func (q queries) ListLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) ([]lottery.ResultDetail, error) {
	rows, err := q.db.Query(ctx, sqlListResults, periodID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectResult, errorCodeList, err)
	}
	defer rows.Close()
	details, err := scanResultDetails(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectResult, errorCodeInvalid, err)
	}
	return details, nil
}

func (q queries) UpdateApplicationStatuses(ctx context.Context, applicationIDs []lottery.ApplicationID, from, to lottery.ApplicationStatus) error {
	if len(applicationIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(applicationIDs))
	for _, applicationID := range applicationIDs {
		ids = append(ids, applicationID.String())
	}
	tag, err := q.db.Exec(ctx, sqlUpdateApplicationStatuses, ids, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return wrapStoreError(errorSubjectApplication, errorCodeUpdateStatus, lottery.ErrApplicationsChanged)
	}
	return nil
}

func (q queries) InsertWinnerHistory(ctx context.Context, entries []lottery.WinnerHistory) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(sqlInsertHistory,
			uuid.NewString(),
			entry.EmployeeID.String(),
			entry.AccommodationID.String(),
			entry.PeriodID.String(),
			entry.CheckInDate.UTC(),
		)
	}
	if err := execBatch(ctx, q.db, batch); err != nil {
		return wrapStoreError(errorSubjectHistory, errorCodeInsert, err)
	}
	return nil
}

func (q queries) DeleteLotteryResults(ctx context.Context, periodID lottery.ReservationPeriodID) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlDeleteResults, periodID.String())
	if err != nil {
		return 0, wrapStoreError(errorSubjectResult, errorCodeDelete, err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) ResetApplicationStatuses(ctx context.Context, periodID lottery.ReservationPeriodID) error {
	if _, err := q.db.Exec(ctx, sqlResetApplicationStatuses, periodID.String()); err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeReset, err)
	}
	return nil
}

func (q queries) DeleteWinnerHistory(ctx context.Context, periodID lottery.ReservationPeriodID, accommodationID lottery.AccommodationID, checkInDate time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, sqlDeleteHistory, periodID.String(), accommodationID.String(), checkInDate.UTC())
	if err != nil {
		return 0, wrapStoreError(errorSubjectHistory, errorCodeDelete, err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) HasRecentWin(ctx context.Context, employeeID lottery.EmployeeID, accommodationID lottery.AccommodationID, cutoff time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, sqlHasRecentWin, employeeID.String(), accommodationID.String(), cutoff.UTC()).Scan(&exists)
	if err != nil {
		return false, wrapStoreError(errorSubjectHistory, errorCodeLookup, err)
	}
	return exists, nil
}

func (q queries) CreateApplication(ctx context.Context, application lottery.Application) (lottery.Application, error) {
	applicationID, err := lottery.NewApplicationID(uuid.NewString())
	if err != nil {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
	}
	application.ID = applicationID
	application.AppliedAt = application.AppliedAt.UTC()
	_, err = q.db.Exec(ctx, sqlInsertApplication,
		application.ID.String(),
		application.EmployeeID.String(),
		application.PeriodID.String(),
		application.Status.String(),
		application.AppliedAt,
		application.FormData.JSON(),
	)
	if isUniqueConflict(err, constraintApplicationEmployeePeriod) {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeDuplicate, lottery.ErrDuplicateApplication)
	}
	if err != nil {
		return lottery.Application{}, wrapStoreError(errorSubjectApplication, errorCodeCreate, err)
	}
	return application, nil
}

func (q queries) InsertAuditLog(ctx context.Context, entry lottery.AuditLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	createdAt := entry.CreatedAt.UTC()
	if entry.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, sqlInsertAuditLog,
		uuid.NewString(),
		entry.PeriodID.String(),
		entry.Action,
		entry.PerformedBy.String(),
		details,
		createdAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func execBatch(ctx context.Context, db querier, batch *pgx.Batch) error {
	results := db.SendBatch(ctx, batch)
	for index := 0; index < batch.Len(); index++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func assignResultIDs(results []lottery.LotteryResult) []lottery.LotteryResult {
	stored := make([]lottery.LotteryResult, 0, len(results))
	for _, result := range results {
		if result.ID == "" {
			result.ID = uuid.NewString()
		}
		stored = append(stored, result)
	}
	return stored
}

func scanApplicants(rows pgx.Rows) ([]lottery.Applicant, error) {
	applicants := make([]lottery.Applicant, 0)
	for rows.Next() {
		var (
			applicationValue string
			employeeValue    string
			periodValue      string
			statusValue      string
			formDataValue    string
			applicant        lottery.Applicant
		)
		if err := rows.Scan(
			&applicationValue,
			&employeeValue,
			&periodValue,
			&statusValue,
			&applicant.Application.AppliedAt,
			&formDataValue,
			&applicant.Employee.Name,
			&applicant.Employee.Email,
			&applicant.Employee.Department,
		); err != nil {
			return nil, err
		}
		applicationID, err := lottery.NewApplicationID(applicationValue)
		if err != nil {
			return nil, err
		}
		employeeID, err := lottery.NewEmployeeID(employeeValue)
		if err != nil {
			return nil, err
		}
		periodID, err := lottery.NewReservationPeriodID(periodValue)
		if err != nil {
			return nil, err
		}
		status, err := lottery.ParseApplicationStatus(statusValue)
		if err != nil {
			return nil, err
		}
		formData, err := lottery.ParseFormDataJSON(formDataValue)
		if err != nil {
			return nil, err
		}
		applicant.Application.ID = applicationID
		applicant.Application.EmployeeID = employeeID
		applicant.Application.PeriodID = periodID
		applicant.Application.Status = status
		applicant.Application.AppliedAt = applicant.Application.AppliedAt.UTC()
		applicant.Application.FormData = formData
		applicant.Employee.ID = employeeID
		applicants = append(applicants, applicant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applicants, nil
}

func scanResultDetails(rows pgx.Rows) ([]lottery.ResultDetail, error) {
	details := make([]lottery.ResultDetail, 0)
	for rows.Next() {
		var (
			periodValue      string
			applicationValue string
			employeeValue    string
			drawnByValue     string
			detail           lottery.ResultDetail
		)
		if err := rows.Scan(
			&detail.Result.ID,
			&periodValue,
			&applicationValue,
			&employeeValue,
			&detail.Result.Rank,
			&detail.Result.IsWinner,
			&detail.Result.Ineligible,
			&detail.Result.DrawnAt,
			&drawnByValue,
			&detail.Employee.Name,
			&detail.Employee.Email,
			&detail.Employee.Department,
		); err != nil {
			return nil, err
		}
		periodID, err := lottery.NewReservationPeriodID(periodValue)
		if err != nil {
			return nil, err
		}
		applicationID, err := lottery.NewApplicationID(applicationValue)
		if err != nil {
			return nil, err
		}
		employeeID, err := lottery.NewEmployeeID(employeeValue)
		if err != nil {
			return nil, err
		}
		drawnBy, err := lottery.NewActorID(drawnByValue)
		if err != nil {
			return nil, err
		}
		detail.Result.PeriodID = periodID
		detail.Result.ApplicationID = applicationID
		detail.Result.EmployeeID = employeeID
		detail.Result.DrawnAt = detail.Result.DrawnAt.UTC()
		detail.Result.DrawnBy = drawnBy
		detail.Employee.ID = employeeID
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return lottery.WrapStoreError(subject, code, err)
}

func isUniqueConflict(err error, constraints ...string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolationCode {
		return false
	}
	for _, constraint := range constraints {
		if pgErr.ConstraintName == constraint {
			return true
		}
	}
	return false
}
