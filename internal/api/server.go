package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kashguard/go-threshold-signing/internal/config"
	"github.com/kashguard/go-threshold-signing/internal/threshold/session"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// Server keeps the HTTP surface and its dependencies together. Redis and DB
// handles are owned here so Shutdown can close them.
type Server struct {
	Config config.Server
	Echo   *echo.Echo

	DB             *sql.DB
	Redis          *redis.Client
	SessionManager *session.Manager
}

func NewServer(cfg config.Server, db *sql.DB, redisClient *redis.Client, manager *session.Manager) *Server {
	s := &Server{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		SessionManager: manager,
	}
	s.initRouter()
	return s
}

func (s *Server) Ready() bool {
	return s.Echo != nil && s.SessionManager != nil
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}
	return s.Echo.Start(s.Config.Echo.ListenAddress)
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Redis != nil {
		log.Debug().Msg("Closing redis connection")
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis connection")
			errs = append(errs, err)
		}
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")
		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}
