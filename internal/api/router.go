package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/eventfaces/internal/api/handlers"
	"github.com/your-org/eventfaces/internal/api/ws"
	"github.com/your-org/eventfaces/internal/auth"
	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/internal/storage"
)

type RouterConfig struct {
	APIKey string
	Engine *faceindex.Engine
	Hub    *ws.Hub
	// Checks are probed by /readyz.
	Checks map[string]storage.Pinger
	// MaxUploadBytes caps an upload or search request. Zero disables the cap.
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	registry := cfg.Engine.Registry()

	eventH := handlers.NewEventHandler(registry)
	v1.GET("/events", eventH.List)
	v1.PUT("/events/:event", eventH.Put)
	v1.GET("/events/:event", eventH.Get)
	v1.DELETE("/events/:event", eventH.Delete)

	imageH := handlers.NewImageHandler(registry, cfg.MaxUploadBytes)
	v1.POST("/events/:event/images", imageH.Upload)
	v1.GET("/events/:event/images", imageH.List)
	v1.GET("/events/:event/images/:image", imageH.Get)
	v1.DELETE("/events/:event/images/:image", imageH.Delete)

	searchH := handlers.NewSearchHandler(cfg.Engine, cfg.MaxUploadBytes)
	v1.POST("/events/:event/search", searchH.Search)

	return r
}
