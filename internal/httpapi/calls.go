package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"phone-agent/internal/audit"
	"phone-agent/internal/calls"
	"phone-agent/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// DispatchCall places an outbound call.
// RBAC: operator or super_admin.
func (h Handlers) DispatchCall(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	var req orchestrator.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	call, err := h.Dispatcher.Dispatch(c.Request.Context(), req)
	if call.ID != "" {
		target := req.PhoneNumber
		if target == "" {
			target = "contact:" + req.ContactID
		}
		h.recordAudit(c, func(a *audit.Service) error {
			return a.LogDispatch(c.Request.Context(), actorFrom(c), call.ID, target)
		})
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrProvider) && call.ID != "" {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "call": call})
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

// ListCalls returns the newest calls with contact, summary and intent.
func (h Handlers) ListCalls(c *gin.Context) {
	f := calls.ListFilter{Limit: calls.DefaultListLimit}
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st := calls.Status(strings.ToUpper(s))
		if !st.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		f.Status = st
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	rows, err := h.Store.ListCalls(c.Request.Context(), f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

type callDetail struct {
	Call    calls.Call       `json:"call"`
	Logs    []calls.LogEntry `json:"logs"`
	Summary *calls.Summary   `json:"summary,omitempty"`
	Intent  *calls.Intent    `json:"intent,omitempty"`
}

// GetCall returns one call with its ordered log, summary and intent.
func (h Handlers) GetCall(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	call, logs, err := h.Store.LoadCallWithHistory(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := callDetail{Call: call, Logs: logs}
	if s, ok, err := h.Store.GetSummary(ctx, id); err != nil {
		abortWithError(c, err)
		return
	} else if ok {
		out.Summary = &s
	}
	if in, ok, err := h.Store.GetIntent(ctx, id); err != nil {
		abortWithError(c, err)
		return
	} else if ok {
		out.Intent = &in
	}
	if out.Logs == nil {
		out.Logs = []calls.LogEntry{}
	}
	c.JSON(http.StatusOK, out)
}

type controlRequest struct {
	Action string `json:"action" binding:"required"`
}

// ControlCall applies a manual action to a live call.
// RBAC: operator or super_admin.
func (h Handlers) ControlCall(c *gin.Context) {
	if h.Controller == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "controller not configured"})
		return
	}
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	who := actorFrom(c)
	res, err := h.Controller.Control(c.Request.Context(), c.Param("id"), req.Action, who.Subject)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.recordAudit(c, func(a *audit.Service) error {
		return a.LogControl(c.Request.Context(), who, res.CallID, string(res.Action), res.Applied)
	})
	c.JSON(http.StatusOK, res)
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
