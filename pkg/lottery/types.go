package lottery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EmployeeID identifies an employee.
type EmployeeID struct {
	value string
}

// AccommodationID identifies a property.
type AccommodationID struct {
	value string
}

// ReservationPeriodID identifies a bookable date range.
type ReservationPeriodID struct {
	value string
}

// ApplicationID identifies an application.
type ApplicationID struct {
	value string
}

// ActorID identifies the verified admin that executed an operation.
type ActorID struct {
	value string
}

// NewEmployeeID validates and normalizes an employee id.
func NewEmployeeID(raw string) (EmployeeID, error) {
	trimmed, err := normalizeIdentifier(raw, ErrInvalidEmployeeID)
	if err != nil {
		return EmployeeID{}, err
	}
	return EmployeeID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EmployeeID) String() string {
	return id.value
}

// NewAccommodationID validates and normalizes an accommodation id.
func NewAccommodationID(raw string) (AccommodationID, error) {
	trimmed, err := normalizeIdentifier(raw, ErrInvalidAccommodationID)
	if err != nil {
		return AccommodationID{}, err
	}
	return AccommodationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccommodationID) String() string {
	return id.value
}

// NewReservationPeriodID validates and normalizes a reservation period id.
func NewReservationPeriodID(raw string) (ReservationPeriodID, error) {
	trimmed, err := normalizeIdentifier(raw, ErrInvalidPeriodID)
	if err != nil {
		return ReservationPeriodID{}, err
	}
	return ReservationPeriodID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationPeriodID) String() string {
	return id.value
}

// NewApplicationID validates and normalizes an application id.
func NewApplicationID(raw string) (ApplicationID, error) {
	trimmed, err := normalizeIdentifier(raw, ErrInvalidApplicationID)
	if err != nil {
		return ApplicationID{}, err
	}
	return ApplicationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ApplicationID) String() string {
	return id.value
}

// NewActorID validates and normalizes an actor id.
func NewActorID(raw string) (ActorID, error) {
	trimmed, err := normalizeIdentifier(raw, ErrInvalidActorID)
	if err != nil {
		return ActorID{}, err
	}
	return ActorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActorID) String() string {
	return id.value
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// ApplicationStatus defines the application lifecycle.
type ApplicationStatus string

const (
	ApplicationStatusPending     ApplicationStatus = "pending"
	ApplicationStatusSelected    ApplicationStatus = "selected"
	ApplicationStatusNotSelected ApplicationStatus = "not_selected"
)

// ParseApplicationStatus validates a stored status value.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	switch ApplicationStatus(strings.TrimSpace(raw)) {
	case ApplicationStatusPending:
		return ApplicationStatusPending, nil
	case ApplicationStatusSelected:
		return ApplicationStatusSelected, nil
	case ApplicationStatusNotSelected:
		return ApplicationStatusNotSelected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidApplicationStatus, raw)
	}
}

// String returns the status value.
func (status ApplicationStatus) String() string {
	return string(status)
}

// DrawState is derived from the presence of results for a period.
type DrawState string

const (
	DrawStateNotStarted DrawState = "not_started"
	DrawStateDrawn      DrawState = "drawn"
)

// DrawBlockReason explains why a draw cannot run right now.
type DrawBlockReason string

const (
	DrawBlockNone                  DrawBlockReason = ""
	DrawBlockApplicationWindowOpen DrawBlockReason = "application_window_open"
	DrawBlockAlreadyDrawn          DrawBlockReason = "already_drawn"
	DrawBlockNoApplicants          DrawBlockReason = "no_applicants"
)

func (reason DrawBlockReason) sentinel() error {
	switch reason {
	case DrawBlockApplicationWindowOpen:
		return ErrApplicationWindowOpen
	case DrawBlockAlreadyDrawn:
		return ErrAlreadyDrawn
	case DrawBlockNoApplicants:
		return ErrNoPendingApplications
	default:
		return ErrDrawPrecondition
	}
}

// FormData is the presentation-defined payload attached to an application.
// Values are limited to JSON primitives.
type FormData struct {
	values map[string]any
}

// NewFormData validates a schema-less map of primitives.
func NewFormData(raw map[string]any) (FormData, error) {
	values := make(map[string]any, len(raw))
	for key, value := range raw {
		if strings.TrimSpace(key) == "" {
			return FormData{}, fmt.Errorf("%w: empty key", ErrInvalidFormData)
		}
		switch typed := value.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, json.Number:
			values[key] = typed
		default:
			return FormData{}, fmt.Errorf("%w: key %q holds %T", ErrInvalidFormData, key, value)
		}
	}
	return FormData{values: values}, nil
}

// ParseFormDataJSON decodes and validates a JSON object (empty input yields empty form data).
func ParseFormDataJSON(raw string) (FormData, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" || normalized == "null" {
		return FormData{values: map[string]any{}}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(normalized), &decoded); err != nil {
		return FormData{}, fmt.Errorf("%w: %v", ErrInvalidFormData, err)
	}
	return NewFormData(decoded)
}

// Values returns a copy of the form values.
func (formData FormData) Values() map[string]any {
	values := make(map[string]any, len(formData.values))
	for key, value := range formData.values {
		values[key] = value
	}
	return values
}

// JSON returns the encoded form data ("{}" when empty).
func (formData FormData) JSON() string {
	if len(formData.values) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(formData.values)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// MarshalJSON encodes the form values as an object.
func (formData FormData) MarshalJSON() ([]byte, error) {
	return []byte(formData.JSON()), nil
}

// Accommodation is a property with its re-application cooldown.
type Accommodation struct {
	ID               AccommodationID
	Name             string
	RestrictionYears int
}

// Employee is the applicant's directory entry.
type Employee struct {
	ID         EmployeeID
	Name       string
	Email      string
	Department string
}

// ReservationPeriod is a bookable date range of one accommodation.
type ReservationPeriod struct {
	ID               ReservationPeriodID
	Accommodation    Accommodation
	StartDate        time.Time
	EndDate          time.Time
	ApplicationStart time.Time
	ApplicationEnd   time.Time
	AvailableRooms   int
	IsOpen           bool
	IsActive         bool
}

// Validate checks the period invariants.
func (period ReservationPeriod) Validate() error {
	if period.AvailableRooms < 1 {
		return fmt.Errorf("%w: available rooms must be at least 1, got %d", ErrInvalidCapacity, period.AvailableRooms)
	}
	if period.Accommodation.RestrictionYears < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRestrictionYears, period.Accommodation.RestrictionYears)
	}
	if !period.ApplicationEnd.Before(period.StartDate) {
		return fmt.Errorf("%w: application window must close before the stay starts", ErrInvalidPeriod)
	}
	return nil
}

// Application is one employee's request for one period.
type Application struct {
	ID         ApplicationID
	EmployeeID EmployeeID
	PeriodID   ReservationPeriodID
	Status     ApplicationStatus
	AppliedAt  time.Time
	FormData   FormData
}

// Applicant joins an application with its employee.
type Applicant struct {
	Application Application
	Employee    Employee
}

// LotteryResult is one ranked row of a completed draw.
type LotteryResult struct {
	ID            string
	PeriodID      ReservationPeriodID
	ApplicationID ApplicationID
	EmployeeID    EmployeeID
	Rank          int
	IsWinner      bool
	Ineligible    bool
	DrawnAt       time.Time
	DrawnBy       ActorID
}

// ResultDetail is a result enriched for display.
type ResultDetail struct {
	Result   LotteryResult
	Employee Employee
}

// WinnerHistory records a win used for cooldown checks.
type WinnerHistory struct {
	EmployeeID      EmployeeID
	AccommodationID AccommodationID
	PeriodID        ReservationPeriodID
	CheckInDate     time.Time
}

// AuditLog records a draw or reset for a period.
type AuditLog struct {
	PeriodID    ReservationPeriodID
	Action      string
	PerformedBy ActorID
	Details     map[string]any
	CreatedAt   time.Time
}

// ApplicationCounts aggregates applications of a period by status.
type ApplicationCounts struct {
	Pending     int
	Selected    int
	NotSelected int
}

// Total returns the number of applications across all statuses.
func (counts ApplicationCounts) Total() int {
	return counts.Pending + counts.Selected + counts.NotSelected
}

// Store is the persistence contract used by Service.
// Batch writes receiving an empty slice are no-ops.
// (gormstore and pgstore implement this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetPeriod(ctx context.Context, periodID ReservationPeriodID) (ReservationPeriod, error)
	ListPendingApplications(ctx context.Context, periodID ReservationPeriodID) ([]Applicant, error)
	CountApplications(ctx context.Context, periodID ReservationPeriodID) (ApplicationCounts, error)
	CountLotteryResults(ctx context.Context, periodID ReservationPeriodID) (int, error)
	InsertLotteryResults(ctx context.Context, results []LotteryResult) ([]LotteryResult, error)
	ListLotteryResults(ctx context.Context, periodID ReservationPeriodID) ([]ResultDetail, error)
	UpdateApplicationStatuses(ctx context.Context, applicationIDs []ApplicationID, from, to ApplicationStatus) error
	InsertWinnerHistory(ctx context.Context, entries []WinnerHistory) error
	DeleteLotteryResults(ctx context.Context, periodID ReservationPeriodID) (int64, error)
	ResetApplicationStatuses(ctx context.Context, periodID ReservationPeriodID) error
	DeleteWinnerHistory(ctx context.Context, periodID ReservationPeriodID, accommodationID AccommodationID, checkInDate time.Time) (int64, error)
	HasRecentWin(ctx context.Context, employeeID EmployeeID, accommodationID AccommodationID, cutoff time.Time) (bool, error)
	CreateApplication(ctx context.Context, application Application) (Application, error)
	InsertAuditLog(ctx context.Context, entry AuditLog) error
}
