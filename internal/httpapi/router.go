// Package httpapi exposes the Generation Orchestrator over an
// OpenAI-compatible HTTP surface: chat completions, image generations, and
// a models listing, mounted on gin.Engine the way the teacher's
// setupRESTServer mounts its proxy routes, with rs/cors and a
// request-id middleware in place of the teacher's Firebase auth chain.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/orchestrator"
)

// RequestIDHeader is the header the request-id middleware echoes back,
// matching the teacher's request_tracking middleware convention.
const RequestIDHeader = "X-Request-ID"

// Server bundles the dependencies the HTTP handlers need.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	models       map[string]orchestrator.ModelDescriptor
	log          *logger.Logger
}

// NewServer constructs a Server. models is normally the same table the
// Orchestrator was built with.
func NewServer(o *orchestrator.Orchestrator, models map[string]orchestrator.ModelDescriptor, log *logger.Logger) *Server {
	return &Server{orchestrator: o, models: models, log: log.WithComponent("httpapi")}
}

// NewRouter builds the gin.Engine: request-id, logging, health/metrics, and
// the three OpenAI-compatible generation routes. CORS is applied by
// WithCORS, wrapping the returned engine at the net/http.Server boundary,
// since rs/cors is an http.Handler middleware and gin's own route matching
// must run inside it, not the other way around.
func NewRouter(s *Server, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.log))

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.GET("/models", s.handleListModels)
		v1.POST("/chat/completions", s.handleChatCompletions)
		v1.POST("/images/generations", s.handleImageGenerations)
	}

	return router
}

// WithCORS wraps router with rs/cors configured from allowedOrigins, the way
// the teacher's setupGraphQLServer wraps its chi.Mux before handing it to
// http.Server.
func WithCORS(router http.Handler, allowedOrigins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", RequestIDHeader},
		AllowCredentials: false,
	}).Handler(router)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
