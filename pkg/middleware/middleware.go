// Package middleware 提供 Gin 通用中间件（请求日志、trace 标识）
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kaenozu/Ult-sub007/pkg/logger"
)

// RequestIDKey gin context 中的 request ID 键
const RequestIDKey = "request_id"

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestLogging 请求日志中间件：为每个请求生成 request ID 并记录耗时与状态码
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), requestIDContextKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logger.Info(ctx, "HTTP request completed",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
