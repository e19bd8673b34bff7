package lottery

import "time"

const (
	operationDraw             = "draw"
	operationReset            = "reset"
	operationApply            = "apply"
	operationEligibilityCheck = "eligibility_check"
	operationNotify           = "notify"
	operationStore            = "store"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusDegraded = "degraded"

	auditActionExecuted = "executed"
	auditActionReset    = "reset"

	defaultEligibilityConcurrency = 8
	defaultNotificationTimeout    = 2 * time.Minute
	competitionRatePrecision      = 100
)
