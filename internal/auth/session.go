package auth

import (
	"net/http"
	"time"

	"phone-agent/internal/audit"
	"phone-agent/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionHandler exchanges the shared dashboard access key for an access token.
type SessionHandler struct {
	Manager       *Manager
	AccessKeyHash string
	// Role is granted to every session.
	Role string
	// Audit is optional.
	Audit *audit.Service
}

type sessionRequest struct {
	AccessKey string `json:"accessKey" binding:"required"`
}

type sessionResponse struct {
	AccessToken
	Role string `json:"role"`
}

func (h SessionHandler) Create(c *gin.Context) {
	log := logger.FromGin(c)

	if h.AccessKeyHash == "" || h.Manager == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dashboard access is not configured"})
		return
	}

	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "accessKey is required"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.AccessKeyHash), []byte(req.AccessKey)); err != nil {
		log.Warn("dashboard access key rejected", "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
		return
	}

	subject := "session:" + uuid.NewString()
	tok, err := h.Manager.IssueAccess(time.Now(), subject, h.Role)
	if err != nil {
		log.Error("issue access token failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	if h.Audit != nil {
		who := audit.Actor{Subject: subject, Role: h.Role, IP: c.ClientIP()}
		if err := h.Audit.LogSession(c.Request.Context(), who); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, sessionResponse{AccessToken: tok, Role: h.Role})
}
