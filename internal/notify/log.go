package notify

import (
	"context"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// LogNotifier records every notice through zap. It never fails.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier; a nil logger discards notices.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// NotifyWinner implements lottery.Notifier.
func (notifier *LogNotifier) NotifyWinner(_ context.Context, notice lottery.WinnerNotice) error {
	notifier.logger.Info("winner notice",
		zap.String("period_id", notice.PeriodID.String()),
		zap.String("employee_id", notice.Recipient.ID.String()),
		zap.String("email", notice.Recipient.Email),
		zap.String("accommodation", notice.AccommodationName),
		zap.String("check_in", notice.CheckInDate.Format(dateLayout)),
		zap.String("check_out", notice.CheckOutDate.Format(dateLayout)),
		zap.Int("rank", notice.Rank),
	)
	return nil
}

// NotifyNonWinner implements lottery.Notifier.
func (notifier *LogNotifier) NotifyNonWinner(_ context.Context, notice lottery.NonWinnerNotice) error {
	notifier.logger.Info("non-winner notice",
		zap.String("period_id", notice.PeriodID.String()),
		zap.String("employee_id", notice.Recipient.ID.String()),
		zap.String("email", notice.Recipient.Email),
		zap.String("accommodation", notice.AccommodationName),
		zap.Int("rank", notice.Rank),
		zap.Bool("ineligible", notice.Ineligible),
		zap.Int("total_applicants", notice.TotalApplicants),
		zap.Int("available_rooms", notice.AvailableRooms),
		zap.Float64("competition_rate", notice.CompetitionRate),
	)
	return nil
}
