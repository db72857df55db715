// Package api exposes the paper-trading core over HTTP and websocket.
package api

import (
	"net/http"
	"time"

	"papertrade/internal/session"
	"papertrade/internal/strategy"
	"papertrade/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the session registry.
type Server struct {
	Router    *gin.Engine
	Queries   *db.UserQueries
	Registry  *session.Registry
	JWTSecret string
	Meta      SystemMeta
	Presets   map[string]strategy.Preset

	// InitialBalance seeds the wallet of newly registered users.
	InitialBalance float64
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Venue       string
	Version     string
	EvalMode    string
	UseMockFeed bool
}

func NewServer(queries *db.UserQueries, registry *session.Registry, presets map[string]strategy.Preset, meta SystemMeta, jwtSecret string, initialBalance float64) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:         r,
		Queries:        queries,
		Registry:       registry,
		JWTSecret:      jwtSecret,
		Meta:           meta,
		Presets:        presets,
		InitialBalance: initialBalance,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/paper/:user_id", s.paperWebsocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			paper := protected.Group("/paper")
			{
				paper.GET("/strategies", s.getStrategies)
				paper.POST("/start", s.startTrading)
				paper.POST("/stop", s.stopTrading)
				paper.GET("/status", s.getTradingStatus)
				paper.GET("/trading_state", s.getTradingState)
				paper.GET("/active_sessions", s.getActiveSessions)
				paper.GET("/portfolio", s.getPortfolio)
				paper.GET("/trades", s.getTrades)
			}

			walletRoutes := protected.Group("/wallet")
			{
				walletRoutes.GET("", s.getWallet)
				walletRoutes.POST("/create", s.createWallet)
				walletRoutes.POST("/deposit", s.depositFunds)
				walletRoutes.POST("/withdraw", s.withdrawFunds)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
