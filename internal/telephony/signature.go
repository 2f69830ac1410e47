package telephony

import (
	"net/http"
	"strings"

	"phone-agent/pkg/logger"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// SignatureValidator checks an X-Twilio-Signature value.
type SignatureValidator interface {
	Validate(url string, params map[string]string, expectedSignature string) bool
}

// NewSignatureValidator returns the twilio-go validator for authToken.
func NewSignatureValidator(authToken string) SignatureValidator {
	v := twclient.NewRequestValidator(authToken)
	return &v
}

// RequireTwilioSignature rejects webhook requests whose signature does not
// match. The signed URL is rebuilt from publicBaseURL because the service
// usually sits behind a proxy that rewrites scheme and host.
func RequireTwilioSignature(v SignatureValidator, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, vals := range c.Request.PostForm {
			if len(vals) > 0 {
				params[k] = vals[0]
			}
		}

		fullURL := base + c.Request.URL.RequestURI()
		if !v.Validate(fullURL, params, sig) {
			log.Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
