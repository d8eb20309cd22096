package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/logger"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Job event streams stay open until the job finishes, so only the request
// headers are bounded.
const readHeaderTimeout = 10 * time.Second

type Server struct {
	listenAddr      string
	shutdownTimeout time.Duration
	ginEngine       *gin.Engine
	inner           *http.Server
	logger          *zap.Logger
}

func NewServer(config *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(getGinMode(config.Environment))
	r := gin.New()

	// Access log lines go through the server's zap logger
	r.Use(logger.SetLogger(
		logger.WithWriter(zap.NewStdLog(log.Named("http")).Writer()),
		logger.WithUTC(true),
		logger.WithSkipPath([]string{"/healthz"}),
	))

	r.Use(cors.New(corsConfig(config.CORSOrigins)))

	// Serve the frontend, if there is one
	if config.PublicDir != "" {
		r.Use(static.Serve("/", static.LocalFile(config.PublicDir, true)))
	}
	r.Use(gin.Recovery())

	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 3 * time.Second
	}

	listenAddr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	return &Server{
		listenAddr:      listenAddr,
		shutdownTimeout: shutdownTimeout,
		ginEngine:       r,
		logger:          log,
		inner: &http.Server{
			Handler:           r,
			Addr:              listenAddr,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// corsConfig allows any origin unless origins names specific ones.
// Credentials are only allowed for named origins.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        5 * time.Minute,
	}

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}

	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

func (s *Server) Start() error {
	s.logger.Info("server started", zap.String("addr", s.listenAddr))
	return s.inner.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	s.logger.Info("stopping server", zap.Duration("timeout", s.shutdownTimeout))
	return s.inner.Shutdown(ctx)
}

func getGinMode(env string) string {
	switch env {
	case "dev":
		return gin.DebugMode
	case "test":
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}
