package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
)

// ErrorHandler logs errors attached with c.Error and answers 500 if the
// handler has not written a response yet. Stack traces never reach the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		log.Error().
			Str("request_id", c.GetString(RequestIDKey)).
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Err(err.Err).
			Msg("http: unhandled error")

		if !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apierror.New(apierror.MsgInternal))
		}
	}
}

// Recovery converts handler panics into 500 responses.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", c.GetString(RequestIDKey)).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Msg("http: panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, apierror.New(apierror.MsgInternal))
			}
		}()
		c.Next()
	}
}

// Logger logs each request with method, path, status, latency, and request_id.
// Health checks are logged at debug so they do not drown the cycle logs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		var ev *zerolog.Event
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			ev = log.Error()
		case c.Request.URL.Path == "/health":
			ev = log.Debug()
		default:
			ev = log.Info()
		}
		ev.Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http: request")
	}
}
