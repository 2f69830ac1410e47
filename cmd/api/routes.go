package main

import (
	"net/http"

	"phone-agent/internal/auth"
	"phone-agent/internal/config"
	"phone-agent/internal/httpapi"
	"phone-agent/internal/rbac"
	"phone-agent/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, d *deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks.
	{
		h := telephony.TwilioWebhookHandler{Processor: d.orch, Renderer: d.renderer}
		twilio := r.Group("/api/twilio")
		if cfg.Twilio.ValidateSignature {
			twilio.Use(telephony.RequireTwilioSignature(
				telephony.NewSignatureValidator(cfg.Twilio.AuthToken),
				cfg.App.PublicBaseURL,
			))
		}
		twilio.POST("/voice", h.Voice)
		twilio.POST("/status", h.Status)
	}

	// Dashboard session.
	{
		limiter := auth.NewRateLimiter(cfg.Auth.SessionRatePerMin)
		h := auth.SessionHandler{
			Manager:       d.auth,
			AccessKeyHash: cfg.Auth.AccessKeyHash,
			Role:          rbac.RoleOperator,
			Audit:         d.audit,
		}
		r.POST("/api/session", limiter.Middleware(), h.Create)
	}

	// protected API group
	api := r.Group("/api")
	api.Use(auth.RequireAccessToken(d.auth))
	{
		h := httpapi.Handlers{
			Store:      d.store,
			Dispatcher: d.dispatcher,
			Controller: d.controller,
			Reports:    d.reports,
			Audit:      d.audit,
		}

		read := rbac.RequireAnyRole(rbac.RoleViewer, rbac.RoleOperator)
		write := rbac.RequireControl()

		calls := api.Group("/calls")
		{
			calls.GET("", read, h.ListCalls)
			calls.GET("/:id", read, h.GetCall)
			calls.POST("", write, h.DispatchCall)
			calls.POST("/:id/control", write, h.ControlCall)
		}

		api.GET("/reports/calls", read, h.CallsReport)
	}
}
