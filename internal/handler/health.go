package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/worker"
)

// CircuitReporter exposes the feed client's breaker state.
type CircuitReporter interface {
	CircuitState() infra.CBState
}

// CycleReporter exposes the scheduler's lifecycle.
type CycleReporter interface {
	State() worker.SchedulerState
	ChannelState() infra.ChannelState
	LastReport() *dto.CycleReport
}

// HealthDeps are the checks behind GET /health. Nil checks are skipped.
type HealthDeps struct {
	DB        func(ctx context.Context) error
	Redis     func(ctx context.Context) error
	DLQ       func(ctx context.Context) (map[string]int64, error)
	Feed      CircuitReporter
	Scheduler CycleReporter
}

// Health returns a JSON health check response.
// Only DB and Redis failures make the service unhealthy; an open feed breaker or a
// reconnecting realtime channel are reported but recover on their own.
func Health(deps HealthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		body := gin.H{}
		healthy := true

		check := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				body[name] = "error"
				healthy = false
				return
			}
			body[name] = "connected"
		}
		check("db", deps.DB)
		check("redis", deps.Redis)

		if deps.Feed != nil {
			body["feed_circuit"] = deps.Feed.CircuitState().String()
		}
		if deps.Scheduler != nil {
			body["scheduler"] = deps.Scheduler.State().String()
			body["realtime"] = deps.Scheduler.ChannelState().String()
			if rep := deps.Scheduler.LastReport(); rep != nil {
				body["last_cycle"] = rep
			}
		}
		if deps.DLQ != nil {
			if stats, err := deps.DLQ(ctx); err == nil {
				body["dead_letters"] = stats
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		body["ok"] = healthy
		c.JSON(status, body)
	}
}
