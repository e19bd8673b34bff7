package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// ZapLogger writes lottery operation logs through zap.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger; a nil logger discards entries.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("lottery")}
}

// LogOperation implements lottery.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry lottery.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if value := entry.PeriodID.String(); value != "" {
		fields = append(fields, zap.String("period_id", value))
	}
	if value := entry.EmployeeID.String(); value != "" {
		fields = append(fields, zap.String("employee_id", value))
	}
	if value := entry.AccommodationID.String(); value != "" {
		fields = append(fields, zap.String("accommodation_id", value))
	}
	if value := entry.Actor.String(); value != "" {
		fields = append(fields, zap.String("actor", value))
	}
	if entry.Winners != 0 || entry.Losers != 0 || entry.Ineligible != 0 {
		fields = append(fields,
			zap.Int("winners", entry.Winners),
			zap.Int("losers", entry.Losers),
			zap.Int("ineligible", entry.Ineligible),
		)
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	zapLogger.logger.Log(levelFor(entry.Status), "lottery operation", fields...)
}

func levelFor(status string) zapcore.Level {
	switch status {
	case statusOK:
		return zapcore.InfoLevel
	case statusDegraded:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
