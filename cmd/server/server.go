package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kashguard/go-threshold-signing/internal/api"
	"github.com/kashguard/go-threshold-signing/internal/config"
	"github.com/kashguard/go-threshold-signing/internal/threshold/notify"
	"github.com/kashguard/go-threshold-signing/internal/threshold/protocol"
	"github.com/kashguard/go-threshold-signing/internal/threshold/session"
	"github.com/kashguard/go-threshold-signing/internal/threshold/storage"

	_ "github.com/lib/pq"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the signing session server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			initLogger(cfg.Logger)
			if err := runServer(cfg); err != nil {
				log.Fatal().Err(err).Msg("Server terminated")
			}
		},
	}
}

func initLogger(cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter())
	}
}

func runServer(cfg config.Server) error {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		return err
	}

	groupKeys, err := parseGroupKeys(cfg.Threshold.GroupKeys)
	if err != nil {
		return err
	}
	if len(groupKeys) == 0 {
		log.Warn().Msg("No group keys configured, every create request will be rejected")
	}

	var (
		redisClient *redis.Client
		cache       storage.Cache
		notifier    notify.Notifier
		publisher   notify.SignaturePublisher
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return err
		}
		cache = storage.NewRedisCache(redisClient)
		notifier = notify.NewRedisNotifier(redisClient)
		publisher = notify.NewRedisPublisher(redisClient)
		log.Info().Msg("Redis cache and pub/sub enabled")
	} else {
		log.Info().Msg("Redis not configured, running without cache and pub/sub")
	}

	manager := session.NewManager(
		storage.NewPostgresStore(db),
		cache,
		protocol.NewEngine(),
		groupKeys,
		notifier,
		publisher,
		cfg.Threshold.DefaultSessionTTL,
	)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := session.NewSweeper(manager, cfg.Threshold.SweepInterval, cfg.Threshold.RetentionPeriod)
	go sweeper.Run(sweepCtx)

	s := api.NewServer(cfg, db, redisClient, manager)

	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Str("address", cfg.Echo.ListenAddress).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSweeper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if errs := s.Shutdown(ctx); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func parseGroupKeys(encoded map[string]string) (session.StaticGroupKeys, error) {
	keys := make(session.StaticGroupKeys, len(encoded))
	for groupID, hexKey := range encoded {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			log.Error().Str("group_id", groupID).Msg("Group key is not valid hex")
			return nil, err
		}
		keys[groupID] = key
	}
	return keys, nil
}
