package adminapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
)

const (
	claimsContextKey = "auth_claims"
	periodIDParam    = "periodID"

	notificationsComplete = "complete"
	notificationsPending  = "pending"
)

// LotteryService is the allocation core the admin API drives.
type LotteryService interface {
	CheckDrawEligibility(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.DrawEligibility, error)
	RunDraw(ctx context.Context, periodID lottery.ReservationPeriodID, actor lottery.ActorID) (lottery.DrawOutcome, error)
	Reset(ctx context.Context, periodID lottery.ReservationPeriodID, actor lottery.ActorID) (lottery.ResetOutcome, error)
	Results(ctx context.Context, periodID lottery.ReservationPeriodID) ([]lottery.ResultDetail, error)
	Stats(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.LotteryStats, error)
	Preview(ctx context.Context, periodID lottery.ReservationPeriodID) (lottery.DrawPreview, error)
	Apply(ctx context.Context, employeeID lottery.EmployeeID, periodID lottery.ReservationPeriodID, formData lottery.FormData) (lottery.Application, error)
}

// Run serves the admin API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service LotteryService, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if service == nil {
		return fmt.Errorf("lottery service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.Use(handler.requireAdmin)

	periods := api.Group("/periods/:" + periodIDParam)
	periods.GET("/eligibility", handler.handleEligibility)
	periods.GET("/preview", handler.handlePreview)
	periods.GET("/results", handler.handleResults)
	periods.GET("/stats", handler.handleStats)
	periods.POST("/draw", handler.handleDraw)
	periods.POST("/reset", handler.handleReset)
	periods.POST("/applications", handler.handleApply)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service LotteryService
	cfg     Config
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !handler.cfg.isAdmin(claims.GetUserID()) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "administrator role required"))
		return
	}
	ctx.Next()
}

func (handler *httpHandler) handleEligibility(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	eligibility, err := handler.service.CheckDrawEligibility(requestCtx, periodID)
	if err != nil {
		handler.respondError(ctx, "eligibility check failed", err)
		return
	}
	ctx.JSON(http.StatusOK, eligibilityPayload{
		PeriodID:            eligibility.PeriodID.String(),
		Eligible:            eligibility.Eligible,
		Reason:              string(eligibility.Reason),
		State:               string(eligibility.State),
		PendingApplications: eligibility.PendingApplications,
		AvailableRooms:      eligibility.AvailableRooms,
		ApplicationDeadline: eligibility.ApplicationDeadline.UTC(),
	})
}

func (handler *httpHandler) handlePreview(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	preview, err := handler.service.Preview(requestCtx, periodID)
	if err != nil {
		handler.respondError(ctx, "preview failed", err)
		return
	}
	ineligible := make([]ineligiblePayload, 0, len(preview.IneligibleApplicants))
	for _, applicant := range preview.IneligibleApplicants {
		ineligible = append(ineligible, ineligiblePayload{
			Employee: newEmployeePayload(applicant.Employee),
			Reason:   applicant.Reason,
		})
	}
	ctx.JSON(http.StatusOK, previewPayload{
		PeriodID:             preview.PeriodID.String(),
		EligibleCount:        preview.EligibleCount,
		IneligibleCount:      preview.IneligibleCount,
		DegradedChecks:       preview.DegradedChecks,
		IneligibleApplicants: ineligible,
		EstimatedWinners:     preview.EstimatedWinners,
		CompetitionRate:      preview.CompetitionRate,
	})
}

func (handler *httpHandler) handleResults(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	details, err := handler.service.Results(requestCtx, periodID)
	if err != nil {
		handler.respondError(ctx, "results fetch failed", err)
		return
	}
	results := make([]resultPayload, 0, len(details))
	for _, detail := range details {
		results = append(results, resultPayload{
			ID:            detail.Result.ID,
			ApplicationID: detail.Result.ApplicationID.String(),
			Employee:      newEmployeePayload(detail.Employee),
			Rank:          detail.Result.Rank,
			IsWinner:      detail.Result.IsWinner,
			Ineligible:    detail.Result.Ineligible,
			DrawnAt:       detail.Result.DrawnAt.UTC(),
			DrawnBy:       detail.Result.DrawnBy.String(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"period_id": periodID.String(), "results": results})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	stats, err := handler.service.Stats(requestCtx, periodID)
	if err != nil {
		handler.respondError(ctx, "stats fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, statsPayload{
		PeriodID:          stats.PeriodID.String(),
		TotalApplications: stats.TotalApplications,
		TotalResults:      stats.TotalResults,
		Winners:           stats.Winners,
		Losers:            stats.Losers,
		AvailableRooms:    stats.AvailableRooms,
		CompetitionRate:   stats.CompetitionRate,
	})
}

func (handler *httpHandler) handleDraw(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	actor, ok := actorFromClaims(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	outcome, err := handler.service.RunDraw(requestCtx, periodID, actor)
	if err != nil {
		handler.respondError(ctx, "draw failed", err)
		return
	}
	ctx.JSON(http.StatusOK, drawPayload{
		PeriodID:             outcome.PeriodID.String(),
		Winners:              outcome.Winners,
		Losers:               outcome.Losers,
		Ineligible:           outcome.Ineligible,
		NoEligibleApplicants: outcome.NoEligibleApplicants,
		DegradedChecks:       outcome.DegradedChecks,
		Notifications:        handler.awaitNotifications(outcome.Notifications),
	})
}

// awaitNotifications waits up to NotificationWait; the dispatch keeps running past it.
func (handler *httpHandler) awaitNotifications(summaries <-chan lottery.NotificationSummary) notificationsPayload {
	if summaries == nil {
		return notificationsPayload{Status: notificationsComplete}
	}
	timer := time.NewTimer(handler.cfg.NotificationWait)
	defer timer.Stop()
	select {
	case summary := <-summaries:
		if err := summary.Err(); err != nil {
			handler.logger.Warn("draw notifications failed", zap.Int("failed", summary.Failed), zap.Error(err))
		}
		return notificationsPayload{
			Status:    notificationsComplete,
			Attempted: summary.Attempted,
			Sent:      summary.Sent,
			Failed:    summary.Failed,
		}
	case <-timer.C:
		return notificationsPayload{Status: notificationsPending}
	}
}

func (handler *httpHandler) handleReset(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	actor, ok := actorFromClaims(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	outcome, err := handler.service.Reset(requestCtx, periodID, actor)
	if err != nil {
		handler.respondError(ctx, "reset failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"period_id":       outcome.PeriodID.String(),
		"deleted_results": outcome.DeletedResults,
		"deleted_history": outcome.DeletedHistory,
	})
}

func (handler *httpHandler) handleApply(ctx *gin.Context) {
	periodID, ok := periodFromPath(ctx)
	if !ok {
		return
	}
	var request applyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	employeeID, err := lottery.NewEmployeeID(request.EmployeeID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_employee_id", err.Error()))
		return
	}
	formData, err := lottery.NewFormData(request.FormData)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_form_data", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	application, err := handler.service.Apply(requestCtx, employeeID, periodID, formData)
	if err != nil {
		handler.respondError(ctx, "apply failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, applicationPayload{
		ID:         application.ID.String(),
		EmployeeID: application.EmployeeID.String(),
		PeriodID:   application.PeriodID.String(),
		Status:     application.Status.String(),
		AppliedAt:  application.AppliedAt.UTC(),
		FormData:   application.FormData.Values(),
	})
}

func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.String("period_id", ctx.Param(periodIDParam)), zap.Error(err))
		ctx.JSON(status, errorResponse(code, message))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	var preconditionError *lottery.PreconditionError
	switch {
	case errors.As(err, &preconditionError):
		return http.StatusConflict, string(preconditionError.Reason)
	case errors.Is(err, lottery.ErrUnknownPeriod):
		return http.StatusNotFound, "unknown_period"
	case errors.Is(err, lottery.ErrAlreadyDrawn):
		return http.StatusConflict, "already_drawn"
	case errors.Is(err, lottery.ErrNotDrawn):
		return http.StatusConflict, "not_drawn"
	case errors.Is(err, lottery.ErrApplicationsChanged):
		return http.StatusConflict, "applications_changed"
	case errors.Is(err, lottery.ErrDuplicateApplication):
		return http.StatusConflict, "duplicate_application"
	case errors.Is(err, lottery.ErrPeriodClosed):
		return http.StatusConflict, "period_closed"
	case errors.Is(err, lottery.ErrApplicationWindowClosed):
		return http.StatusConflict, "application_window_closed"
	case errors.Is(err, lottery.ErrRecentWinRestriction):
		return http.StatusConflict, "recent_win"
	case errors.Is(err, lottery.ErrInvalidCapacity):
		return http.StatusUnprocessableEntity, "invalid_capacity"
	case errors.Is(err, lottery.ErrInvalidRestrictionYears):
		return http.StatusUnprocessableEntity, "invalid_restriction_years"
	case errors.Is(err, lottery.ErrInvalidPeriod):
		return http.StatusUnprocessableEntity, "invalid_period"
	case errors.Is(err, lottery.ErrInvalidPeriodID),
		errors.Is(err, lottery.ErrInvalidEmployeeID),
		errors.Is(err, lottery.ErrInvalidActorID),
		errors.Is(err, lottery.ErrInvalidFormData):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, lottery.ErrPersistence):
		return http.StatusBadGateway, "storage_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func periodFromPath(ctx *gin.Context) (lottery.ReservationPeriodID, bool) {
	periodID, err := lottery.NewReservationPeriodID(ctx.Param(periodIDParam))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_period_id", err.Error()))
		return lottery.ReservationPeriodID{}, false
	}
	return periodID, true
}

func actorFromClaims(ctx *gin.Context) (lottery.ActorID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return lottery.ActorID{}, false
	}
	actor, err := lottery.NewActorID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user id"))
		return lottery.ActorID{}, false
	}
	return actor, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func newEmployeePayload(employee lottery.Employee) employeePayload {
	return employeePayload{
		ID:         employee.ID.String(),
		Name:       employee.Name,
		Email:      employee.Email,
		Department: employee.Department,
	}
}

type applyRequest struct {
	EmployeeID string         `json:"employee_id"`
	FormData   map[string]any `json:"form_data"`
}

type employeePayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
}

type eligibilityPayload struct {
	PeriodID            string    `json:"period_id"`
	Eligible            bool      `json:"eligible"`
	Reason              string    `json:"reason,omitempty"`
	State               string    `json:"state"`
	PendingApplications int       `json:"pending_applications"`
	AvailableRooms      int       `json:"available_rooms"`
	ApplicationDeadline time.Time `json:"application_deadline"`
}

type ineligiblePayload struct {
	Employee employeePayload `json:"employee"`
	Reason   string          `json:"reason"`
}

type previewPayload struct {
	PeriodID             string              `json:"period_id"`
	EligibleCount        int                 `json:"eligible_count"`
	IneligibleCount      int                 `json:"ineligible_count"`
	DegradedChecks       int                 `json:"degraded_checks"`
	IneligibleApplicants []ineligiblePayload `json:"ineligible_applicants"`
	EstimatedWinners     int                 `json:"estimated_winners"`
	CompetitionRate      float64             `json:"competition_rate"`
}

type resultPayload struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Employee      employeePayload `json:"employee"`
	Rank          int             `json:"rank"`
	IsWinner      bool            `json:"is_winner"`
	Ineligible    bool            `json:"ineligible"`
	DrawnAt       time.Time       `json:"drawn_at"`
	DrawnBy       string          `json:"drawn_by"`
}

type statsPayload struct {
	PeriodID          string  `json:"period_id"`
	TotalApplications int     `json:"total_applications"`
	TotalResults      int     `json:"total_results"`
	Winners           int     `json:"winners"`
	Losers            int     `json:"losers"`
	AvailableRooms    int     `json:"available_rooms"`
	CompetitionRate   float64 `json:"competition_rate"`
}

type notificationsPayload struct {
	Status    string `json:"status"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

type drawPayload struct {
	PeriodID             string               `json:"period_id"`
	Winners              int                  `json:"winners"`
	Losers               int                  `json:"losers"`
	Ineligible           int                  `json:"ineligible"`
	NoEligibleApplicants bool                 `json:"no_eligible_applicants"`
	DegradedChecks       int                  `json:"degraded_checks"`
	Notifications        notificationsPayload `json:"notifications"`
}

type applicationPayload struct {
	ID         string         `json:"id"`
	EmployeeID string         `json:"employee_id"`
	PeriodID   string         `json:"period_id"`
	Status     string         `json:"status"`
	AppliedAt  time.Time      `json:"applied_at"`
	FormData   map[string]any `json:"form_data"`
}
