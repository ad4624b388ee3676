package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/api/websocket"
	"github.com/whttlr/cnc-bridge/internal/auth"
	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(gin.Recovery())
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		// ==================== AUTH (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== MACHINE CONTROL ====================
		machine := v1.Group("/machine")
		machine.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Viewer+
			machine.GET("/status", auth.RequirePermission(auth.PermViewer), s.getMachineStatus)
			machine.GET("/health", auth.RequirePermission(auth.PermViewer), s.getMachineHealth)

			// Control operations: Operator+
			machine.POST("/unlock", auth.RequirePermission(auth.PermOperator), s.unlockMachine)
			machine.POST("/home", auth.RequirePermission(auth.PermOperator), s.homeMachine)
			machine.POST("/reset", auth.RequirePermission(auth.PermOperator), s.softResetMachine)
			machine.POST("/estop", auth.RequirePermission(auth.PermOperator), s.emergencyStop)
			machine.POST("/gcode", auth.RequirePermission(auth.PermOperator), s.sendGcode)
		}

		// ==================== DIAGNOSTICS ====================
		diagnostics := v1.Group("/diagnostics")
		diagnostics.Use(s.authService.AuthMiddleware())
		{
			diagnostics.POST("/run", auth.RequirePermission(auth.PermOperator), s.runDiagnostics)
			diagnostics.GET("/reports", auth.RequirePermission(auth.PermViewer), s.listDiagnosticsReports)
			diagnostics.GET("/reports/:id", auth.RequirePermission(auth.PermViewer), s.getDiagnosticsReport)
		}

		// ==================== EVENTS (VIEWER+) ====================
		events := v1.Group("/events")
		events.Use(s.authService.AuthMiddleware())
		events.Use(auth.RequirePermission(auth.PermViewer))
		{
			events.GET("", s.listEvents)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public). This is liveness only; the deep machine health
// snapshot lives under /api/v1/machine/health.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
