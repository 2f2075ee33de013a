package main

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lzww0608/segid/reqid"
)

// requestIDHeader is the header inbound requests may already carry a
// correlation id under, and the one the response echoes it back on.
const requestIDHeader = "X-Request-Id"

// RequestID stamps every request with a correlation id, reusing one the
// caller already supplied when it parses, generating a fresh one otherwise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := reqid.Parse(c.GetHeader(requestIDHeader))
		if err != nil || id.IsNil() {
			id, err = reqid.New()
			if err != nil {
				// crypto/rand failure: extremely unlikely, but surface it
				// rather than silently logging requests with no id.
				c.AbortWithStatus(500)
				return
			}
		}
		c.Set("request_id", id.String())
		c.Header(requestIDHeader, id.String())
		c.Next()
	}
}

// ZapLogger logs each request through zap, grounded on zmux-server's
// request-logging middleware of the same name.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
