package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Store backends selectable with NOTARY_STORE.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultEnvFiles are loaded by LoadEnv when no files are named. Real
// environment variables always win.
var DefaultEnvFiles = []string{".env.local", ".env"}

// EnvConfig is the deployment configuration read from NOTARY_* variables.
type EnvConfig struct {
	Addr           string        `env:"NOTARY_ADDR" envDefault:":8443"`
	Authority      Identity      `env:"NOTARY_AUTHORITY"`
	ProgramID      Identity      `env:"NOTARY_PROGRAM_ID"`
	Namespace      string        `env:"NOTARY_NAMESPACE" envDefault:"notary"`
	Store          string        `env:"NOTARY_STORE" envDefault:"memory"`
	StorePath      string        `env:"NOTARY_STORE_PATH"`
	RedisURL       string        `env:"NOTARY_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Metered        bool          `env:"NOTARY_METERED"`
	InitialBalance uint64        `env:"NOTARY_INITIAL_BALANCE"`
	TreasuryPath   string        `env:"NOTARY_TREASURY_PATH"`
	RateLimit      float64       `env:"NOTARY_RATE_LIMIT" envDefault:"50"`
	RateBurst      int           `env:"NOTARY_RATE_BURST" envDefault:"100"`
	MaxRequestAge  time.Duration `env:"NOTARY_MAX_REQUEST_AGE" envDefault:"5m"`
	TLSCert        string        `env:"NOTARY_TLS_CERT"`
	TLSKey         string        `env:"NOTARY_TLS_KEY"`
	Secret         string        `env:"NOTARY_SECRET"`
	URL            string        `env:"NOTARY_URL"`
	LogLevel       slog.Level    `env:"NOTARY_LOG_LEVEL" envDefault:"info"`
}

// LoadEnv loads the first existing dotenv file, then parses NOTARY_* variables.
func LoadEnv(files ...string) (EnvConfig, error) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return EnvConfig{}, fmt.Errorf("load %s: %w", f, err)
		}
		break
	}
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Keypair parses NOTARY_SECRET. It fails when the secret is unset.
func (c EnvConfig) Keypair() (Keypair, error) {
	if c.Secret == "" {
		return Keypair{}, errors.New("NOTARY_SECRET is not set")
	}
	kp, err := ParseSecretKey(c.Secret)
	if err != nil {
		return Keypair{}, fmt.Errorf("parse NOTARY_SECRET: %w", err)
	}
	return kp, nil
}

// ResolveAuthority returns NOTARY_AUTHORITY, falling back to the public key of
// NOTARY_SECRET.
func (c EnvConfig) ResolveAuthority() (Identity, error) {
	if !c.Authority.IsZero() {
		return c.Authority, nil
	}
	kp, err := c.Keypair()
	if err != nil {
		return Identity{}, fmt.Errorf("no notary authority: set NOTARY_AUTHORITY or NOTARY_SECRET: %w", err)
	}
	return kp.Public(), nil
}

// OpenStore opens the configured backend.
func (c EnvConfig) OpenStore(ctx context.Context) (Store, error) {
	switch c.Store {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreFile:
		if c.StorePath == "" {
			return nil, errors.New("NOTARY_STORE_PATH is required for the file store")
		}
		return OpenFileStore(c.StorePath)
	case StoreSQLite:
		if c.StorePath == "" {
			return nil, errors.New("NOTARY_STORE_PATH is required for the sqlite store")
		}
		if err := os.MkdirAll(filepath.Dir(c.StorePath), 0o700); err != nil {
			return nil, err
		}
		return OpenSQLiteStore(c.StorePath)
	case StoreRedis:
		return OpenRedisStore(ctx, c.RedisURL, DefaultRedisPrefix)
	}
	return nil, fmt.Errorf("unknown store %q (want %s, %s, %s or %s)", c.Store, StoreMemory, StoreFile, StoreSQLite, StoreRedis)
}

// Treasury returns the allocation treasury. Unmetered deployments allocate
// for free. Metered ones keep balances in the NOTARY_TREASURY_PATH ledger,
// which starts out holding InitialBalance for the authority; without a ledger
// path the balances live in memory and reset with the process.
func (c EnvConfig) Treasury(authority Identity) (Treasury, error) {
	if !c.Metered {
		return FreeTreasury{}, nil
	}
	if c.TreasuryPath != "" {
		return c.OpenLedger(authority)
	}
	t := NewMemoryTreasury()
	if c.InitialBalance > 0 {
		t.Fund(authority, c.InitialBalance)
	}
	return t, nil
}

// OpenLedger opens the NOTARY_TREASURY_PATH ledger, seeding a new one with
// InitialBalance for authority.
func (c EnvConfig) OpenLedger(authority Identity) (*LedgerTreasury, error) {
	if c.TreasuryPath == "" {
		return nil, errors.New("NOTARY_TREASURY_PATH is not set")
	}
	var genesis map[Identity]uint64
	if c.InitialBalance > 0 {
		genesis = map[Identity]uint64{authority: c.InitialBalance}
	}
	return OpenLedgerTreasury(c.TreasuryPath, genesis)
}

// NotaryConfig builds the Notary configuration.
func (c EnvConfig) NotaryConfig(authority Identity, logger *slog.Logger, m *Metrics) Config {
	return Config{
		Authority:     authority,
		ProgramID:     c.ProgramID,
		Namespace:     c.Namespace,
		MaxRequestAge: c.MaxRequestAge,
		Logger:        logger,
		Metrics:       m,
	}
}

// ServerConfig builds the HTTP front end configuration.
func (c EnvConfig) ServerConfig(logger *slog.Logger, g prometheus.Gatherer) ServerConfig {
	return ServerConfig{
		RateLimit: rate.Limit(c.RateLimit),
		RateBurst: c.RateBurst,
		Gatherer:  g,
		Logger:    logger,
	}
}
