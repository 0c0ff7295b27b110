package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/danielhkuo/livepoll/db"
)

// Process modes.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	AdminKeySalt string
	VoterIDSalt  string
	Mode         string
	// TrustedProxies is how many reverse proxies sit in front of the API.
	// Their X-Forwarded-For entries are believed; the rest are not.
	TrustedProxies int
	Pipeline       Pipeline
}

// Pipeline holds the vote queue and worker tuning knobs.
type Pipeline struct {
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	MaxAttempts        int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase        time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"30s"`
	LockDuration       time.Duration `env:"QUEUE_LOCK_DURATION" envDefault:"30s"`
	TxTimeout          time.Duration `env:"VOTE_TX_TIMEOUT" envDefault:"5s"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"200ms"`
	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"1h"`
}

// DefaultPipeline returns the tuning used when nothing is set in the environment.
func DefaultPipeline() Pipeline {
	return Pipeline{
		WorkerConcurrency:  4,
		MaxAttempts:        5,
		BackoffBase:        500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		LockDuration:       30 * time.Second,
		TxTimeout:          5 * time.Second,
		PollInterval:       200 * time.Millisecond,
		CompletedRetention: time.Hour,
	}
}

// Validate checks the pipeline tuning for values the worker cannot run with.
func (p Pipeline) Validate() error {
	if p.WorkerConcurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be at least 1")
	}
	if p.MaxAttempts < 1 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if p.BackoffBase <= 0 || p.BackoffMax < p.BackoffBase {
		return errors.New("QUEUE_BACKOFF_MAX must be at least QUEUE_BACKOFF_BASE")
	}
	if p.TxTimeout <= 0 {
		return errors.New("VOTE_TX_TIMEOUT must be positive")
	}
	// A lock that expires before the transaction times out lets a second
	// worker claim a job that is still being applied.
	if p.LockDuration <= p.TxTimeout {
		return errors.New("QUEUE_LOCK_DURATION must exceed VOTE_TX_TIMEOUT")
	}
	if p.PollInterval <= 0 {
		return errors.New("QUEUE_POLL_INTERVAL must be positive")
	}
	return nil
}

// ParseFlags validates flags and sets port number
func ParseFlags(args []string) (Config, error) {
	var cfg Config

	// A missing .env file is fine; values already in the environment win.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("livepoll", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.Mode, "mode", "", "Process mode (api, worker or all)")
	fs.IntVar(&cfg.TrustedProxies, "trusted-proxies", 0, "Reverse proxy hops to trust in X-Forwarded-For")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")
	fs.StringVar(&cfg.VoterIDSalt, "voter-salt", "", "Voter identifier salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3318 // default
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "sqlite"
		}
	}
	dialect, err := db.ParseDialect(cfg.DatabaseType)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseType = string(dialect)

	if !flagSet(fs, "trusted-proxies") {
		if hops := os.Getenv("TRUSTED_PROXY_HOPS"); hops != "" {
			n, err := strconv.Atoi(hops)
			if err != nil {
				return Config{}, errors.New("invalid TRUSTED_PROXY_HOPS env variable")
			}
			cfg.TrustedProxies = n
		}
	}
	if cfg.TrustedProxies < 0 {
		return Config{}, errors.New("trusted proxy hops must not be negative")
	}

	if cfg.Mode == "" {
		cfg.Mode = os.Getenv("MODE")
		if cfg.Mode == "" {
			cfg.Mode = ModeAll
		}
	}
	switch cfg.Mode {
	case ModeAll:
	case ModeAPI, ModeWorker:
		// Split processes only meet through Postgres LISTEN/NOTIFY.
		if dialect == db.SQLite {
			return Config{}, fmt.Errorf("mode %q requires DATABASE_TYPE=postgres", cfg.Mode)
		}
	default:
		return Config{}, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	// Secrets - MUST be provided
	if cfg.AdminKeySalt == "" {
		cfg.AdminKeySalt = os.Getenv("ADMIN_KEY_SALT")
	}
	if cfg.AdminKeySalt == "" {
		return Config{}, errors.New("ADMIN_KEY_SALT required")
	}

	if cfg.VoterIDSalt == "" {
		cfg.VoterIDSalt = os.Getenv("VOTER_ID_SALT")
	}
	if cfg.VoterIDSalt == "" {
		return Config{}, errors.New("VOTER_ID_SALT required")
	}

	if err := env.Parse(&cfg.Pipeline); err != nil {
		return Config{}, fmt.Errorf("parse pipeline env: %w", err)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
