package lottery

import "context"

const ineligibleReasonRecentWin = "recent_win"

// LotteryStats summarizes a period for dashboards.
type LotteryStats struct {
	PeriodID          ReservationPeriodID
	TotalApplications int
	TotalResults      int
	Winners           int
	Losers            int
	AvailableRooms    int
	CompetitionRate   float64
}

// IneligibleApplicant is an applicant excluded by the cooldown.
type IneligibleApplicant struct {
	Employee Employee
	Reason   string
}

// DrawPreview estimates a draw without running it.
type DrawPreview struct {
	PeriodID             ReservationPeriodID
	EligibleCount        int
	IneligibleCount      int
	DegradedChecks       int
	IneligibleApplicants []IneligibleApplicant
	EstimatedWinners     int
	CompetitionRate      float64
}

// Results returns the ranked results of a period.
func (service *Service) Results(ctx context.Context, periodID ReservationPeriodID) ([]ResultDetail, error) {
	if _, err := service.store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return service.store.ListLotteryResults(ctx, periodID)
}

// Stats counts applications and results of a period.
func (service *Service) Stats(ctx context.Context, periodID ReservationPeriodID) (LotteryStats, error) {
	period, err := service.store.GetPeriod(ctx, periodID)
	if err != nil {
		return LotteryStats{}, err
	}
	counts, err := service.store.CountApplications(ctx, periodID)
	if err != nil {
		return LotteryStats{}, err
	}
	results, err := service.store.ListLotteryResults(ctx, periodID)
	if err != nil {
		return LotteryStats{}, err
	}
	stats := LotteryStats{
		PeriodID:          periodID,
		TotalApplications: counts.Total(),
		TotalResults:      len(results),
		AvailableRooms:    period.AvailableRooms,
		CompetitionRate:   competitionRate(counts.Total(), period.AvailableRooms),
	}
	for _, detail := range results {
		if detail.Result.IsWinner {
			stats.Winners++
		}
	}
	stats.Losers = stats.TotalResults - stats.Winners
	return stats, nil
}

// Preview runs the eligibility filter over pending applicants without drawing.
func (service *Service) Preview(ctx context.Context, periodID ReservationPeriodID) (DrawPreview, error) {
	period, err := service.store.GetPeriod(ctx, periodID)
	if err != nil {
		return DrawPreview{}, err
	}
	applicants, err := service.store.ListPendingApplications(ctx, periodID)
	if err != nil {
		return DrawPreview{}, err
	}
	filter := NewEligibilityFilter(service.store, service.nowFn, service.logger, service.eligibilityConcurrency)
	verdicts := filter.CheckAll(ctx, applicants, period.Accommodation)
	if err := ctx.Err(); err != nil {
		return DrawPreview{}, err
	}
	eligible, ineligible, degraded := partitionApplicants(applicants, verdicts)

	preview := DrawPreview{
		PeriodID:             periodID,
		EligibleCount:        len(eligible),
		IneligibleCount:      len(ineligible),
		DegradedChecks:       degraded,
		IneligibleApplicants: make([]IneligibleApplicant, 0, len(ineligible)),
		EstimatedWinners:     min(len(eligible), period.AvailableRooms),
		CompetitionRate:      competitionRate(len(eligible), period.AvailableRooms),
	}
	for _, applicant := range ineligible {
		preview.IneligibleApplicants = append(preview.IneligibleApplicants, IneligibleApplicant{
			Employee: applicant.Employee,
			Reason:   ineligibleReasonRecentWin,
		})
	}
	return preview, nil
}
