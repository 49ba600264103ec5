package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestIDHeader = "X-Request-ID"

func NewRouter(handler *handler.Handler, l logger.Logger, telemetryEnabled bool, serviceName string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware(serviceName))
	}

	r.Use(ginZapLogger(l))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", handler.Healthz)
	v1.GET("/stats", handler.Stats)
	v1.GET("/tile/:source/:z/:x/:y", handler.Tile)
	v1.PUT("/network", handler.SetNetwork)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// ginZapLogger tags every request with an id and hands handlers a logger
// carrying it.
func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		rl := &requestLogger{base: l, requestID: requestID}
		c.Set("logger", logger.Logger(rl))
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), rl))

		start := time.Now()

		c.Next()

		latency := time.Since(start)

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
			"request_id", requestID,
		)
	}
}

type requestLogger struct {
	base      logger.Logger
	requestID string
}

// with returns a new slice so the caller's backing array is never written.
func (r *requestLogger) with(kv []any) []any {
	out := make([]any, 0, len(kv)+2)
	out = append(out, kv...)
	return append(out, "request_id", r.requestID)
}

func (r *requestLogger) Debug(msg string, kv ...any) { r.base.Debug(msg, r.with(kv)...) }
func (r *requestLogger) Info(msg string, kv ...any)  { r.base.Info(msg, r.with(kv)...) }
func (r *requestLogger) Warn(msg string, kv ...any)  { r.base.Warn(msg, r.with(kv)...) }
func (r *requestLogger) Error(msg string, kv ...any) { r.base.Error(msg, r.with(kv)...) }
func (r *requestLogger) Fatal(msg string, kv ...any) { r.base.Fatal(msg, r.with(kv)...) }
