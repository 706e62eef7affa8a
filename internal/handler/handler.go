package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/auth"
	"cold-outreach-go/internal/drafting"
	"cold-outreach-go/internal/gmail"
	"cold-outreach-go/internal/model"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/repository"
	"cold-outreach-go/internal/scheduler"
	"cold-outreach-go/internal/service"
	"cold-outreach-go/internal/vault"
)

// Credentials is the Gmail connect flow.
type Credentials interface {
	AuthorizationURL(userID string) (string, error)
	Connect(ctx context.Context, userID, code string) (*service.ConnectionStatus, error)
	ConnectWithState(ctx context.Context, state, code, expectedUserID string) (*service.ConnectionStatus, error)
	Status(ctx context.Context, userID string) (*service.ConnectionStatus, error)
}

// Dispatcher sends emails.
type Dispatcher interface {
	Send(ctx context.Context, userID string, req service.SendRequest) (*service.SendResult, error)
}

// Drafter generates email drafts.
type Drafter interface {
	Generate(ctx context.Context, userID string, req service.DraftRequest) (*drafting.Draft, error)
}

// Store is the read side used by the API.
type Store interface {
	Ping(ctx context.Context) error
	ListReplies(ctx context.Context, userID, campaignID string) ([]model.InboundReply, error)
	TagReply(ctx context.Context, userID string, replyID uint, tag string) (*model.InboundReply, error)
	ListRuns(ctx context.Context, page, limit int) ([]model.ReconcileRun, int64, error)
	GetRun(ctx context.Context, id uint) (*model.ReconcileRun, error)
}

// SchedulerControl drives the reconciliation scheduler.
type SchedulerControl interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (*model.ReconcileRun, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	credentials Credentials
	dispatch    Dispatcher
	drafts      Drafter
	store       Store
	scheduler   SchedulerControl
	verifier    *auth.Verifier
	gatherer    prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(credentials Credentials, dispatch Dispatcher, drafts Drafter, store Store, sched SchedulerControl, verifier *auth.Verifier, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		credentials: credentials,
		dispatch:    dispatch,
		drafts:      drafts,
		store:       store,
		scheduler:   sched,
		verifier:    verifier,
		gatherer:    gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	router.GET("/auth/callback/google", h.OAuthCallback)

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(h.verifier))
	{
		api.GET("/gmail/auth-url", h.GetAuthURL)
		api.POST("/gmail/token", h.ExchangeToken)
		api.GET("/gmail/status", h.GetGmailStatus)

		api.POST("/emails/send", h.SendEmail)
		api.POST("/drafts", h.GenerateDraft)

		api.GET("/replies", h.GetReplies)
		api.PATCH("/replies/:id/tag", h.TagReply)

		api.GET("/runs", h.GetRuns)
		api.GET("/runs/:id", h.GetRun)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["status"] = "running"
		response.Scheduler["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Scheduler["status"] = "stopped"
	}
	if last := h.scheduler.GetLastRun(); !last.IsZero() {
		response.Scheduler["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func currentUser(c *gin.Context) string {
	id, _ := auth.UserID(c)
	return id
}

func respondError(c *gin.Context, status int, kind, message string) {
	c.JSON(status, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    status,
	})
}

// writeError maps typed errors from the services to HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		dispatchFailure *gmail.DispatchFailure
		unrecorded      *service.UnrecordedDeliveryError
		oauthTransport  *oauth.TransportError
		gmailTransport  *gmail.TransportError
		draftingAPI     *drafting.APIError
	)

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, auth.ErrInvalidState):
		respondError(c, http.StatusBadRequest, "invalid_state", "OAuth state is invalid or expired, start the connection again")
	case errors.Is(err, oauth.ErrMissingRefreshToken):
		respondError(c, http.StatusBadRequest, "missing_refresh_token", "Google did not return a refresh token, reconnect and grant consent again")
	case errors.Is(err, service.ErrGmailNotConnected):
		respondError(c, http.StatusConflict, "gmail_not_connected", err.Error())
	case errors.Is(err, oauth.ErrRefreshRevoked), errors.Is(err, vault.ErrDecryptionFailure):
		respondError(c, http.StatusConflict, "gmail_reconnect_required", "Stored Gmail access is no longer usable, reconnect your Gmail account")
	case errors.Is(err, repository.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, scheduler.ErrRunInProgress):
		respondError(c, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, oauth.ErrMissingClientConfig), errors.Is(err, vault.ErrMissingKey),
		errors.Is(err, auth.ErrMissingSecret), errors.Is(err, drafting.ErrMissingAPIKey):
		logrus.WithError(err).Error("Configuration error")
		respondError(c, http.StatusInternalServerError, "configuration_error", err.Error())
	case errors.As(err, &unrecorded):
		respondError(c, http.StatusInternalServerError, "unrecorded_delivery",
			fmt.Sprintf("Email was sent (message %s, thread %s) but could not be saved", unrecorded.MessageID, unrecorded.ThreadID))
	case errors.As(err, &dispatchFailure):
		respondError(c, http.StatusBadGateway, "send_failed", fmt.Sprintf("Failed to send email: %d", dispatchFailure.StatusCode))
	case errors.As(err, &oauthTransport), errors.As(err, &gmailTransport), errors.As(err, &draftingAPI):
		respondError(c, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		logrus.WithError(err).Error("Request failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
