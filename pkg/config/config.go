// Package config loads application configuration from a YAML file and
// environment variables, following the same merge order throughout: defaults,
// then an optional file, then environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig controls the optional SSE replay-buffer backend.
type RedisConfig struct {
	Addr     string `json:"addr" env:"REDIS_ADDR"`
	Password string `json:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" env:"REDIS_DB"`
	Enabled  bool   `json:"enabled" env:"REDIS_ENABLED"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// QueueConfig controls the P2P matching queue (spec §4.3).
type QueueConfig struct {
	ReservationTTLMs    int     `json:"reservation_ttl_ms" yaml:"reservation_ttl_ms" env:"QUEUE_RESERVATION_TTL_MS"`
	MaxAttempts         int     `json:"max_attempts" yaml:"max_attempts" env:"QUEUE_MAX_ATTEMPTS"`
	MaxRiskDelta        float64 `json:"max_risk_delta" yaml:"max_risk_delta" env:"QUEUE_MAX_RISK_DELTA"`
	AllowCrossTier      bool    `json:"allow_cross_tier" yaml:"allow_cross_tier" env:"QUEUE_ALLOW_CROSS_TIER"`
	StarvationThreshold int     `json:"starvation_threshold" yaml:"starvation_threshold" env:"QUEUE_STARVATION_THRESHOLD"`
	TierWeight          float64 `json:"tier_weight" yaml:"tier_weight" env:"QUEUE_TIER_WEIGHT"`
	AgeWeight           float64 `json:"age_weight" yaml:"age_weight" env:"QUEUE_AGE_WEIGHT"`
	RiskWeight          float64 `json:"risk_weight" yaml:"risk_weight" env:"QUEUE_RISK_WEIGHT"`
}

// BusConfig controls the real-time event fabric (spec §4.4).
type BusConfig struct {
	BufferSize      int `json:"buffer_size" yaml:"buffer_size" env:"BUS_BUFFER_SIZE"`
	RingBufferSize  int `json:"ring_buffer_size" yaml:"ring_buffer_size" env:"BUS_RING_BUFFER_SIZE"`
}

// SSEConfig controls the server-sent-event gateway.
type SSEConfig struct {
	HeartbeatMs int `json:"heartbeat_ms" yaml:"heartbeat_ms" env:"SSE_HEARTBEAT_MS"`
}

// SchedulerConfig controls the background reconciliation loops (spec §4.8).
type SchedulerConfig struct {
	QueueSweepMs   int    `json:"queue_sweep_ms" yaml:"queue_sweep_ms" env:"SCHEDULER_QUEUE_SWEEP_MS"`
	SettleSweepMs  int    `json:"settle_sweep_ms" yaml:"settle_sweep_ms" env:"SCHEDULER_SETTLE_SWEEP_MS"`
	MetricsRollupMs int   `json:"metrics_rollup_ms" yaml:"metrics_rollup_ms" env:"SCHEDULER_METRICS_ROLLUP_MS"`
	CommissionCron string `json:"commission_cron" yaml:"commission_cron" env:"SCHEDULER_COMMISSION_CRON"`
}

// WagerConfig controls wager placement limits (spec §4.2).
type WagerConfig struct {
	SportMinStake  int64   `json:"sport_min_stake" yaml:"sport_min_stake" env:"WAGER_SPORT_MIN_STAKE"`
	BetTypeMaxOdds float64 `json:"bet_type_max_odds" yaml:"bet_type_max_odds" env:"WAGER_BET_TYPE_MAX_ODDS"`
}

// CommissionConfig controls the default commission structure (spec §4.1).
type CommissionConfig struct {
	DefaultStructure string `json:"default_structure" yaml:"default_structure" env:"COMMISSION_DEFAULT_STRUCTURE"`
}

// AgentGraphConfig bounds the agent hierarchy (spec §4.1).
type AgentGraphConfig struct {
	MaxHierarchyDepth int `json:"max_hierarchy_depth" yaml:"max_hierarchy_depth" env:"AGENTGRAPH_MAX_HIERARCHY_DEPTH"`
}

// LedgerConfig controls ledger checkpointing.
type LedgerConfig struct {
	CheckpointInterval int `json:"checkpoint_interval_s" yaml:"checkpoint_interval_s" env:"LEDGER_CHECKPOINT_INTERVAL_S"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
	AgentGraph AgentGraphConfig `json:"agent_graph" yaml:"agent_graph"`
	Ledger     LedgerConfig     `json:"ledger"`
	Queue      QueueConfig      `json:"queue"`
	Bus        BusConfig        `json:"bus"`
	SSE        SSEConfig        `json:"sse"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Wager      WagerConfig      `json:"wager"`
	Commission CommissionConfig `json:"commission"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		AgentGraph: AgentGraphConfig{
			MaxHierarchyDepth: 8,
		},
		Ledger: LedgerConfig{
			CheckpointInterval: 300,
		},
		Queue: QueueConfig{
			ReservationTTLMs:    30_000,
			MaxAttempts:         5,
			MaxRiskDelta:        0.25,
			AllowCrossTier:      true,
			StarvationThreshold: 10,
			TierWeight:          0.4,
			AgeWeight:           0.4,
			RiskWeight:          0.2,
		},
		Bus: BusConfig{
			BufferSize:     256,
			RingBufferSize: 1024,
		},
		SSE: SSEConfig{
			HeartbeatMs: 30_000,
		},
		Scheduler: SchedulerConfig{
			QueueSweepMs:    1_000,
			SettleSweepMs:   5_000,
			MetricsRollupMs: 10_000,
			CommissionCron:  "0 0 * * *",
		},
		Wager: WagerConfig{
			SportMinStake:  100,
			BetTypeMaxOdds: 1000,
		},
		Commission: CommissionConfig{
			DefaultStructure: "flat",
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN, so
// container deployments only need to set one variable.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
