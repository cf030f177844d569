package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/kirana/internal/actorcontext"
	"github.com/smallbiznis/kirana/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-ID"

	checkoutEndpoint = "/api/checkout"
)

// RequestContext propagates or mints the request id and captures the
// caller's network identity for the audit trail.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		ctx := actorcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = actorcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = actorcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AdminActorContext attributes admin mutations to the operator identified
// by the actor headers. Defaults to "admin" when no identity arrives; the
// production deployment sits behind a gateway that injects these.
func AdminActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorType := strings.TrimSpace(c.GetHeader(headerActorType))
		if actorType == "" {
			actorType = "admin"
		}
		actorID := strings.TrimSpace(c.GetHeader(headerActorID))

		ctx := actorcontext.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CheckoutRateLimit applies the per-user token bucket ahead of checkout.
// The user id lives in the JSON body, so the body is peeked and restored
// for the handler.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID, err := readCheckoutUserID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("checkout rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if userID == "" {
			c.Next()
			return
		}

		result, err := s.checkoutLimiter.Allow(ctx, userID)
		if err != nil {
			// Redis trouble must not take checkout down with it.
			logger.FromContext(ctx).Warn("checkout rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, checkoutEndpoint, "user-rate")
			}
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many checkout attempts",
			}})
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, checkoutEndpoint)
		}
		c.Next()
	}
}

// adminActor renders the acting operator for movement and timeline logs.
func adminActor(c *gin.Context) string {
	actorType, actorID := actorcontext.ActorFromContext(c.Request.Context())
	if actorID != "" {
		return actorType + ":" + actorID
	}
	if actorType != "" {
		return actorType
	}
	return "admin"
}

func readCheckoutUserID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var peek struct {
		UserID string `json:"user_id"`
	}
	if len(body) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return "", err
	}
	return strings.TrimSpace(peek.UserID), nil
}
