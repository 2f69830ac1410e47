package telephony

import (
	"context"
	"net/http"

	"phone-agent/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TurnProcessor owns the call state machine behind the webhooks.
type TurnProcessor interface {
	HandleTurn(ctx context.Context, ev TurnEvent) Directive
	HandleStatus(ctx context.Context, ev StatusEvent) error
}

// apologyDirective is spoken when the request cannot be tied to a call.
var apologyDirective = Directive{Say: "We could not locate your call record. Goodbye.", Hangup: true}

// TwilioWebhookHandler converts Twilio webhooks to internal events,
// delegates to the processor, and writes TwiML or JSON.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Processor TurnProcessor
	Renderer  Renderer
}

// Voice always answers 200 with TwiML; Twilio plays an error tone otherwise.
func (h TwilioWebhookHandler) Voice(c *gin.Context) {
	log := logger.FromGin(c)

	d := apologyDirective
	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
	} else {
		ev := form.TurnEvent(c.Query("callId"), c.GetHeader(HeaderIdempotencyToken))
		d = h.Processor.HandleTurn(c.Request.Context(), ev)
	}

	twiml, err := h.Renderer.Render(d)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		twiml, _ = h.Renderer.Render(apologyDirective)
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) Status(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil {
		log.Warn("twilio status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if err := h.Processor.HandleStatus(c.Request.Context(), form.StatusEvent(c.Query("callId"))); err != nil {
		log.Error("status callback failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
