package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/ai"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/camera"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/detection"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/pipeline"
	"github.com/FortunoMaxime/tri-dechet-yolo/internal/service"
)

// Config contains configuration for the API server
type Config struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	MaxUploadBytes     int64
	StreamWriteTimeout time.Duration // per-frame write deadline for viewers
	DefaultConfidence  float64
}

// DeviceLister lists capture devices
type DeviceLister interface {
	Devices() []camera.Device
	Scan(ctx context.Context) ([]camera.Device, error)
}

// Dependencies are the components the API serves
type Dependencies struct {
	Detector  ai.Detector
	Detection *detection.Service
	Pipeline  *pipeline.Controller
	Devices   DeviceLister // optional
}

// Server represents the API server service
type Server struct {
	*service.ServiceBase
	cfg        Config
	deps       Dependencies
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	startTime  time.Time
}

// NewServer creates the API server and its routes
func NewServer(cfg Config, deps Dependencies, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.StreamWriteTimeout <= 0 {
		cfg.StreamWriteTimeout = 5 * time.Second
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.5
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(recovery(log))
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("api-server", log),
		cfg:         cfg,
		deps:        deps,
		logger:      log,
		router:      router,
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// WriteTimeout stays 0: streams set their own per-frame deadlines
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
	}

	go func() {
		s.LogInfo("Starting API server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("API server error", err, "address", addr)
		}
	}()
	return nil
}

// Stop stops the API server. Open streams end when their request
// context is cancelled.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping API server")
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		// streaming connections never go idle
		return s.httpServer.Close()
	}
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleIndex)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/model/info", s.handleModelInfo)

		detect := api.Group("/detect")
		{
			detect.POST("/image", s.handleDetectImage)
			detect.POST("/upload", s.handleDetectUpload)
		}

		webcam := api.Group("/webcam")
		{
			webcam.POST("/start", s.handleWebcamStart)
			webcam.POST("/stop", s.handleWebcamStop)
			webcam.GET("/status", s.handleWebcamStatus)
			webcam.GET("/stream", s.handleMJPEGStream)
			webcam.GET("/ws", s.handleWebSocketStream)
			webcam.GET("/frame", s.handleWebcamFrame)
			webcam.GET("/devices", s.handleListDevices)
		}

		videos := api.Group("/videos")
		{
			videos.GET("/list", s.handleListVideos)
			videos.POST("/detect/:name", s.handleDetectVideo)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// recovery turns a panic into the generic failure body
func recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec interface{}) {
		log.Error("Handler panic", "path", c.Request.URL.Path, "panic", fmt.Sprint(rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Internal server error",
		})
	})
}

// corsMiddleware allows the mobile and web clients on other origins
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
