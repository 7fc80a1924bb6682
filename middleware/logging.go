package middleware

import (
	"net/http"
	"time"

	"MotPad/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 每个请求一行
func RequestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

// Recovery panic 转成 500 CodeError
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				log.Error("handler panic", zap.String("path", c.Request.URL.Path), zap.Error(err), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errs.From(err))
			}
		}()
		c.Next()
	}
}
