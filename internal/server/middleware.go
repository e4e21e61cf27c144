package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/newsletter/internal/auth/domain"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
)

const (
	contextUserIDKey = "user_id"
	contextRoleKey   = "user_role"
)

// BasicAuthRequired authenticates the request from HTTP Basic credentials and
// records the user as the request actor.
func (s *Server) BasicAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || strings.TrimSpace(username) == "" || s.authsvc == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.authsvc.Authenticate(c.Request.Context(), authdomain.Credentials{
			Username: username,
			Password: password,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		userID := user.ID.String()
		c.Set(contextUserIDKey, userID)
		c.Set(contextRoleKey, user.Role)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeUser, userID))
		c.Next()
	}
}

func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		userID := c.GetString(contextUserIDKey)
		role := c.GetString(contextRoleKey)
		if err := s.authzSvc.Authorize(c.Request.Context(), userID, role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
