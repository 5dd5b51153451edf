package config

import (
	"fmt"
	"time"

	"github.com/kashguard/go-threshold-signing/internal/util"
)

// EchoServer configures the HTTP API listener.
type EchoServer struct {
	ListenAddress string
}

// Database configures the PostgreSQL connection.
type Database struct {
	Host     string
	Port     int
	Username string
	Password string `json:"-"` // never log it
	Database string
	SSLMode  string
}

// ConnectionString builds a lib/pq DSN.
func (d Database) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// Redis configures the optional cache and pub/sub connection. An empty URL
// disables Redis entirely.
type Redis struct {
	URL string
}

// Threshold configures the signing session service.
type Threshold struct {
	DefaultSessionTTL time.Duration
	SweepInterval     time.Duration
	RetentionPeriod   time.Duration

	// GroupKeys maps group identifiers to hex-encoded x-only public keys.
	GroupKeys map[string]string
}

// Logger configures zerolog.
type Logger struct {
	Level              string
	PrettyPrintConsole bool
}

// Server is the full service configuration.
type Server struct {
	Echo      EchoServer
	Database  Database
	Redis     Redis
	Threshold Threshold
	Logger    Logger
}

// DefaultServiceConfigFromEnv returns the server config as parsed from the
// environment, with development-friendly defaults.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Echo: EchoServer{
			ListenAddress: util.GetEnv("SERVER_ECHO_LISTEN_ADDRESS", ":8080"),
		},
		Database: Database{
			Host:     util.GetEnv("PGHOST", "postgres"),
			Port:     util.GetEnvAsInt("PGPORT", 5432),
			Username: util.GetEnv("PGUSER", "threshold"),
			Password: util.GetEnv("PGPASSWORD", ""),
			Database: util.GetEnv("PGDATABASE", "threshold_signing"),
			SSLMode:  util.GetEnv("PGSSLMODE", "disable"),
		},
		Redis: Redis{
			URL: util.GetEnv("REDIS_URL", ""),
		},
		Threshold: Threshold{
			DefaultSessionTTL: util.GetEnvAsDuration("THRESHOLD_DEFAULT_SESSION_TTL", 5*time.Minute),
			SweepInterval:     util.GetEnvAsDuration("THRESHOLD_SWEEP_INTERVAL", 30*time.Second),
			RetentionPeriod:   util.GetEnvAsDuration("THRESHOLD_RETENTION_PERIOD", 24*time.Hour),
			GroupKeys:         util.GetEnvAsStringMap("THRESHOLD_GROUP_KEYS", map[string]string{}),
		},
		Logger: Logger{
			Level:              util.GetEnv("LOGGER_LEVEL", "info"),
			PrettyPrintConsole: util.GetEnvAsBool("LOGGER_PRETTY_PRINT_CONSOLE", false),
		},
	}
}
