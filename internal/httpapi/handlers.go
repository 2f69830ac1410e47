package httpapi

import (
	"context"
	"errors"
	"net/http"

	"phone-agent/internal/audit"
	"phone-agent/internal/auth"
	"phone-agent/internal/calls"
	"phone-agent/internal/orchestrator"
	"phone-agent/internal/reporting"
	"phone-agent/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallDispatcher is satisfied by *orchestrator.Dispatcher.
type CallDispatcher interface {
	Dispatch(ctx context.Context, req orchestrator.OutboundRequest) (calls.Call, error)
}

// CallController is satisfied by *orchestrator.Controller.
type CallController interface {
	Control(ctx context.Context, callID, action, actor string) (orchestrator.ControlResult, error)
}

// Handlers groups dashboard HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store      calls.Store
	Dispatcher CallDispatcher
	Controller CallController
	Reports    *reporting.Service
	// Audit is optional; failures are logged and never fail the request.
	Audit *audit.Service
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, calls.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func actorFrom(c *gin.Context) audit.Actor {
	sub, _ := auth.Subject(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{Subject: sub, Role: role, IP: c.ClientIP()}
}

func (h Handlers) recordAudit(c *gin.Context, fn func(*audit.Service) error) {
	if h.Audit == nil {
		return
	}
	if err := fn(h.Audit); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}
