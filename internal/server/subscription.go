package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
)

func (s *Server) Subscribe(c *gin.Context) {
	var req subscriptiondomain.SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.Subscribe(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"email":  sub.Email,
		"status": sub.Status,
	}})
}

func (s *Server) ConfirmSubscription(c *gin.Context) {
	token := strings.TrimSpace(c.Query("subscription_token"))
	if token == "" {
		AbortWithError(c, newValidationError("subscription_token", "required", "subscription_token is required"))
		return
	}

	if err := s.subscriptionSvc.Confirm(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}
