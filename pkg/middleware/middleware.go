package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hookgate/internal/constants"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/logging"
)

// quietPaths are polled constantly and only logged when they fail.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// LoggerMiddleware writes one line per request. Query strings are left out:
// some senders append tokens to the callback URL.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		if _, quiet := quietPaths[path]; quiet && status < http.StatusInternalServerError {
			return
		}

		fields := []interface{}{
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"bytes_in", c.Request.ContentLength,
		}
		if route := c.FullPath(); route != "" && route != path {
			fields = append(fields, "route", route)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "error", errs)
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.WarnwCtx(ctx, "HTTP request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware answers 500 with the standard error body when a handler
// panics. Webhook senders treat that as retryable and resend.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"stack", apperrors.StackTrace(err),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(apperrors.ErrInternal))
	})
}

// RequestIDMiddleware tags operator requests with an id for log correlation.
// Webhook endpoints mint their own id, which also keys the ledger row, so
// /webhooks/ paths are skipped.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, constants.WebhookPathPrefix) {
			c.Next()
			return
		}

		requestID := strings.TrimSpace(c.GetHeader(constants.HeaderRequestID))
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		c.Header(constants.HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
