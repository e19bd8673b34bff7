package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Accommodation represents the accommodations table.
type Accommodation struct {
	AccommodationID  string    `gorm:"column:id;primaryKey"`
	Name             string    `gorm:"not null"`
	RestrictionYears int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (Accommodation) TableName() string { return "accommodations" }

func (accommodation *Accommodation) BeforeCreate(tx *gorm.DB) error {
	if accommodation.AccommodationID == "" {
		accommodation.AccommodationID = uuid.NewString()
	}
	return nil
}

// Employee represents the employees table.
type Employee struct {
	EmployeeID string    `gorm:"column:id;primaryKey"`
	Name       string    `gorm:"not null"`
	Email      string    `gorm:"not null;index:uniq_employees_email,unique"`
	Department string    `gorm:""`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Employee) TableName() string { return "employees" }

func (employee *Employee) BeforeCreate(tx *gorm.DB) error {
	if employee.EmployeeID == "" {
		employee.EmployeeID = uuid.NewString()
	}
	return nil
}

// ReservationPeriod mirrors the reservation_periods table.
type ReservationPeriod struct {
	PeriodID         string        `gorm:"column:id;primaryKey"`
	AccommodationID  string        `gorm:"not null;index:idx_periods_accommodation_start,priority:1"`
	Accommodation    Accommodation `gorm:"foreignKey:AccommodationID;references:AccommodationID"`
	StartDate        time.Time     `gorm:"not null;index:idx_periods_accommodation_start,priority:2"`
	EndDate          time.Time     `gorm:"not null"`
	ApplicationStart time.Time     `gorm:"not null"`
	ApplicationEnd   time.Time     `gorm:"not null"`
	AvailableRooms   int           `gorm:"not null"`
	IsOpen           bool          `gorm:"not null"`
	IsActive         bool          `gorm:"not null"`
	CreatedAt        time.Time     `gorm:"not null"`
}

func (ReservationPeriod) TableName() string { return "reservation_periods" }

func (period *ReservationPeriod) BeforeCreate(tx *gorm.DB) error {
	if period.PeriodID == "" {
		period.PeriodID = uuid.NewString()
	}
	return nil
}

// Application mirrors the applications table.
type Application struct {
	ApplicationID       string         `gorm:"column:id;primaryKey"`
	EmployeeID          string         `gorm:"not null;index:uniq_applications_employee_period,unique,priority:1"`
	Employee            Employee       `gorm:"foreignKey:EmployeeID;references:EmployeeID"`
	ReservationPeriodID string         `gorm:"not null;index:uniq_applications_employee_period,unique,priority:2;index:idx_applications_period_status,priority:1"`
	Status              string         `gorm:"not null;default:'pending';index:idx_applications_period_status,priority:2"`
	AppliedAt           time.Time      `gorm:"not null"`
	FormData            datatypes.JSON `gorm:"not null"`
}

func (Application) TableName() string { return "applications" }

func (application *Application) BeforeCreate(tx *gorm.DB) error {
	if application.ApplicationID == "" {
		application.ApplicationID = uuid.NewString()
	}
	return nil
}

// LotteryResult mirrors the lottery_results table.
// The unique indexes gate a period to a single committed draw.
type LotteryResult struct {
	ResultID            string    `gorm:"column:id;primaryKey"`
	ReservationPeriodID string    `gorm:"not null;index:uniq_lottery_results_period_application,unique,priority:1;index:uniq_lottery_results_period_rank,unique,priority:1"`
	ApplicationID       string    `gorm:"not null;index:uniq_lottery_results_period_application,unique,priority:2"`
	EmployeeID          string    `gorm:"not null"`
	Employee            Employee  `gorm:"foreignKey:EmployeeID;references:EmployeeID"`
	Rank                int       `gorm:"not null;index:uniq_lottery_results_period_rank,unique,priority:2"`
	IsWinner            bool      `gorm:"not null"`
	Ineligible          bool      `gorm:"not null"`
	DrawnAt             time.Time `gorm:"not null"`
	DrawnBy             string    `gorm:"not null"`
}

func (LotteryResult) TableName() string { return "lottery_results" }

func (result *LotteryResult) BeforeCreate(tx *gorm.DB) error {
	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	return nil
}

// WinnerHistory mirrors the winners_history table.
// Rows written before period tracking carry a null period id.
type WinnerHistory struct {
	HistoryID           string    `gorm:"column:id;primaryKey"`
	EmployeeID          string    `gorm:"not null;index:idx_winners_employee_accommodation,priority:1"`
	AccommodationID     string    `gorm:"not null;index:idx_winners_employee_accommodation,priority:2"`
	ReservationPeriodID *string   `gorm:"index:idx_winners_period"`
	CheckInDate         time.Time `gorm:"not null;index:idx_winners_employee_accommodation,priority:3"`
	CreatedAt           time.Time `gorm:"not null"`
}

func (WinnerHistory) TableName() string { return "winners_history" }

func (history *WinnerHistory) BeforeCreate(tx *gorm.DB) error {
	if history.HistoryID == "" {
		history.HistoryID = uuid.NewString()
	}
	return nil
}

// LotteryLog mirrors the lottery_logs audit table.
type LotteryLog struct {
	LogID               string                             `gorm:"column:id;primaryKey"`
	ReservationPeriodID string                             `gorm:"not null;index:idx_lottery_logs_period"`
	Action              string                             `gorm:"not null"`
	PerformedBy         string                             `gorm:"not null"`
	Details             datatypes.JSONType[map[string]any] `gorm:"not null"`
	CreatedAt           time.Time                          `gorm:"not null"`
}

func (LotteryLog) TableName() string { return "lottery_logs" }

func (entry *LotteryLog) BeforeCreate(tx *gorm.DB) error {
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}
	return nil
}

// Models lists every table in migration order.
func Models() []any {
	return []any{
		&Accommodation{},
		&Employee{},
		&ReservationPeriod{},
		&Application{},
		&LotteryResult{},
		&WinnerHistory{},
		&LotteryLog{},
	}
}

// AutoMigrate creates or updates the lottery schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
