package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/shared/cache"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyHeader 客户端重试时携带的幂等键
const IdempotencyHeader = "Idempotency-Key"

const replayedHeader = "Idempotent-Replayed"

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency 幂等中间件：同一用户同一路径的同一幂等键只执行一次，重试回放首个响应
// 未携带幂等键的请求直接放行；5xx 响应不缓存，允许重试
func Idempotency(store cache.IdempotencyStore, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(IdempotencyHeader)
		if idemKey == "" || store == nil {
			c.Next()
			return
		}
		key := c.GetString(CtxUserID) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + idemKey
		ctx := c.Request.Context()

		existing, acquired, err := store.Begin(ctx, key, ttl)
		if err != nil {
			logger.Warn("Idempotency store unavailable", zap.Error(err), zap.String("key", idemKey))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    50300,
				"message": "Idempotency store unavailable",
			})
			c.Abort()
			return
		}
		if !acquired {
			if existing == nil || existing.Pending {
				c.JSON(http.StatusConflict, gin.H{
					"code":    40903,
					"message": "Request with this Idempotency-Key is in progress",
				})
				c.Abort()
				return
			}
			c.Header(replayedHeader, "true")
			c.Data(existing.Status, existing.ContentType, existing.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= 500 {
			if err := store.Release(ctx, key); err != nil {
				logger.Warn("Idempotency release failed", zap.Error(err), zap.String("key", idemKey))
			}
			return
		}
		rec := cache.Record{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Complete(ctx, key, rec, ttl); err != nil {
			logger.Warn("Idempotency complete failed", zap.Error(err), zap.String("key", idemKey))
		}
	}
}
