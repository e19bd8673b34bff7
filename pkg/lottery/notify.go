package lottery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Notifier informs applicants about a completed draw.
type Notifier interface {
	NotifyWinner(ctx context.Context, notice WinnerNotice) error
	NotifyNonWinner(ctx context.Context, notice NonWinnerNotice) error
}

// WinnerNotice carries the data of a winning notification.
type WinnerNotice struct {
	PeriodID          ReservationPeriodID
	Recipient         Employee
	AccommodationName string
	CheckInDate       time.Time
	CheckOutDate      time.Time
	Rank              int
}

// NonWinnerNotice carries the data of a non-winning notification.
type NonWinnerNotice struct {
	PeriodID          ReservationPeriodID
	Recipient         Employee
	AccommodationName string
	CheckInDate       time.Time
	CheckOutDate      time.Time
	Rank              int
	Ineligible        bool
	TotalApplicants   int
	AvailableRooms    int
	CompetitionRate   float64
}

// NotificationSummary counts the outcome of a notification dispatch.
type NotificationSummary struct {
	Attempted int
	Sent      int
	Failed    int
	Errors    []error
}

// Err joins every failure into one error wrapped with ErrNotification, or nil.
func (summary NotificationSummary) Err() error {
	if summary.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d failed: %w", ErrNotification, summary.Failed, summary.Attempted, errors.Join(summary.Errors...))
}

func notifyPlacements(ctx context.Context, notifier Notifier, period ReservationPeriod, plan DrawPlan) NotificationSummary {
	summary := NotificationSummary{}
	totalApplicants := len(plan.Placements)
	rate := competitionRate(totalApplicants, period.AvailableRooms)
	for _, placement := range plan.Placements {
		if err := ctx.Err(); err != nil {
			remaining := totalApplicants - summary.Attempted
			summary.Attempted += remaining
			summary.Failed += remaining
			summary.Errors = append(summary.Errors, err)
			return summary
		}
		summary.Attempted++
		var err error
		if placement.IsWinner {
			err = notifier.NotifyWinner(ctx, WinnerNotice{
				PeriodID:          period.ID,
				Recipient:         placement.Applicant.Employee,
				AccommodationName: period.Accommodation.Name,
				CheckInDate:       period.StartDate,
				CheckOutDate:      period.EndDate,
				Rank:              placement.Rank,
			})
		} else {
			err = notifier.NotifyNonWinner(ctx, NonWinnerNotice{
				PeriodID:          period.ID,
				Recipient:         placement.Applicant.Employee,
				AccommodationName: period.Accommodation.Name,
				CheckInDate:       period.StartDate,
				CheckOutDate:      period.EndDate,
				Rank:              placement.Rank,
				Ineligible:        placement.Ineligible,
				TotalApplicants:   totalApplicants,
				AvailableRooms:    period.AvailableRooms,
				CompetitionRate:   rate,
			})
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Errorf("%s: %w", placement.Applicant.Employee.ID.String(), err))
			continue
		}
		summary.Sent++
	}
	return summary
}

// competitionRate is applicants per room, rounded to two decimals.
func competitionRate(applicants int, rooms int) float64 {
	if applicants == 0 {
		return 0
	}
	rate := float64(applicants) / float64(max(rooms, 1))
	return math.Round(rate*competitionRatePrecision) / competitionRatePrecision
}
