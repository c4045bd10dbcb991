package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Hub  *core.Hub
	Feed *store.Feed
	// Auth resolves join identities. Nil trusts the join payload.
	Auth auth.Provider
	// JWT protects /api when set.
	JWT     *auth.JWTConfig
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// NewServer builds the relay HTTP server.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers all routes on a gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))

	r.GET("/health", healthHandler)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	ws := NewWSHandler(deps.Hub, deps.Auth, WSOptions{
		SendQueueSize:      cfg.SendQueueSize,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxMessageBytes:    cfg.MaxMessageBytes,
	}, logger, deps.Metrics)
	r.GET("/ws", gin.WrapH(ws))

	conversations := NewConversationHandlers(deps.Feed, cfg.HistoryLimit, logger)
	api := r.Group("/api")
	if deps.JWT != nil {
		api.Use(AuthMiddleware(deps.JWT, logger))
	}
	api.GET("/conversations/:userA/:userB/messages", conversations.ListMessages)
	api.GET("/conversations/:userA/:userB/stream", conversations.Stream)

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
