package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	idempotencydomain "github.com/smallbiznis/newsletter/internal/idempotency/domain"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	obscontext "github.com/smallbiznis/newsletter/internal/observability/context"
	"github.com/smallbiznis/newsletter/internal/observability/logger"
	"github.com/smallbiznis/newsletter/internal/ratelimit"
	"github.com/smallbiznis/newsletter/pkg/db/pagination"
	"go.uber.org/zap"
)

const contextIdempotentReplayKey = obscontext.GinKeyIdempotentReplay

// ListNewsletters returns published issues, newest first, together with a
// fresh idempotency key for the next publish form.
func (s *Server) ListNewsletters(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.newsletterSvc.ListIssues(c.Request.Context(), newsletterdomain.ListIssuesRequest{Pagination: query})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"idempotency_key": uuid.NewString(),
		"data":            resp.Issues,
		"page_info":       resp.PageInfo,
	})
}

// PublishNewsletter publishes an issue. A resubmission with the same
// idempotency key receives the first attempt's response unchanged.
func (s *Server) PublishNewsletter(c *gin.Context) {
	var cmd newsletterdomain.PublishCommand
	if err := c.ShouldBind(&cmd); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.newsletterSvc.Publish(c.Request.Context(), c.GetString(contextUserIDKey), cmd)
	if err != nil {
		var exceeded *ratelimit.LimitExceededError
		if errors.As(err, &exceeded) {
			setRetryAfter(c, exceeded)
		} else if errors.Is(err, ratelimit.ErrLimiterUnavailable) {
			logger.FromContext(c.Request.Context()).Warn("publish rate limit check failed", zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}

	if result.Replayed {
		c.Set(contextIdempotentReplayKey, true)
	}
	writeStoredResponse(c, result.Response)
}

func (s *Server) GetNewsletter(c *gin.Context) {
	view, err := s.newsletterSvc.GetIssue(c.Request.Context(), c.Param("issue_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func setRetryAfter(c *gin.Context, exceeded *ratelimit.LimitExceededError) {
	retryAfter := int(math.Ceil(exceeded.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	logger.FromContext(c.Request.Context()).Warn("publish rate limit exceeded",
		zap.String("reason", exceeded.Reason),
		zap.Int("retry_after_seconds", retryAfter),
	)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header(obscontext.HeaderRateLimitedReason, exceeded.Reason)
}

func writeStoredResponse(c *gin.Context, resp idempotencydomain.StoredResponse) {
	header := c.Writer.Header()
	for _, h := range resp.Headers {
		header.Add(h.Name, string(h.Value))
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}
