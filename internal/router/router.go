package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/careflow/careflow-api/internal/handler/health"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	ServiceName    string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateBurst      int
	MaxUploadBytes int64
	CORSConfig     middleware.CORSConfig
}

type Deps struct {
	Auth     *middleware.AuthMiddleware
	Health   *health.Handler
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
	Handlers []Handler
}

// New builds the engine: health and metrics at the root, everything else
// under /api/v1 behind authentication.
func New(cfg Config, deps Deps) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	if err := middleware.RegisterBindingValidators(); err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.Logger(deps.Log),
		middleware.Metrics(deps.Metrics),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.CORSConfig),
		middleware.ErrorHandler(),
	)

	deps.Health.RegisterRoutes(engine)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	limits := middleware.DefaultSizeLimitConfig()
	if cfg.MaxUploadBytes > 0 {
		limits.MaxUploadSize = cfg.MaxUploadBytes
	}

	api := engine.Group("/api/v1")
	api.Use(
		middleware.NewRateLimiter(middleware.RateLimiterConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateBurst}).RateLimit(),
		middleware.Timeout(cfg.RequestTimeout),
		middleware.SizeLimit(limits),
		deps.Auth.Authenticate(),
	)
	for _, h := range deps.Handlers {
		h.RegisterRoutes(api)
	}
	return engine, nil
}
