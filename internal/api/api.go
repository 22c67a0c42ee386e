// Package api exposes the HTTP surface: rule and exclusion management,
// queue inspection, audit events, stats, and manual run triggers.
package api

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/scheduler"
	"github.com/sybethiesant/flexerr/internal/store"
)

// Deps collects the server's collaborators
type Deps struct {
	Rules      *store.Rules
	Exclusions *store.Exclusions
	Audit      *store.Audit
	Queue      *queue.Store
	Scheduler  *scheduler.Scheduler
	Logger     *logger.Logger
}

// Server represents the API server
type Server struct {
	router     *gin.Engine
	rules      *store.Rules
	exclusions *store.Exclusions
	audit      *store.Audit
	queue      *queue.Store
	scheduler  *scheduler.Scheduler
	logger     *logger.Logger
}

// NewServer creates a new API server instance
func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(errorHandlerMiddleware())
	router.Use(cors.Default())

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		router:     router,
		rules:      deps.Rules,
		exclusions: deps.Exclusions,
		audit:      deps.Audit,
		queue:      deps.Queue,
		scheduler:  deps.Scheduler,
		logger:     log,
	}

	s.setupRoutes()

	return s
}

// Run starts the API server on the specified port
func (s *Server) Run(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/rules", s.listRules)
		v1.POST("/rules", s.createRule)
		v1.GET("/rules/:id", s.getRule)
		v1.PUT("/rules/:id", s.updateRule)
		v1.DELETE("/rules/:id", s.deleteRule)

		v1.GET("/queue", s.listQueue)
		v1.GET("/queue/:id", s.getQueueItem)
		v1.POST("/queue/:id/cancel", s.cancelQueueItem)

		v1.GET("/exclusions", s.listExclusions)
		v1.POST("/exclusions", s.createExclusion)
		v1.DELETE("/exclusions/:id", s.deleteExclusion)

		v1.GET("/events", s.listEvents)
		v1.GET("/stats", s.listStats)

		v1.POST("/run", s.runNow)
		v1.GET("/status", s.status)
	}
}
