package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "aopguard.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("AOPGUARD_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AOPGUARD_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "AOPGUARD_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "AOPGUARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AOPGUARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AOPGUARD_LOG_ASYNC")

	setString(&cfg.Audit.StorageDir, "AOPGUARD_AUDIT_DIR")
	setString(&cfg.Audit.SchemaDir, "AOPGUARD_SCHEMA_DIR")
	setString(&cfg.Audit.Orchestrator, "AOPGUARD_ORCHESTRATOR")
	setInt(&cfg.Audit.SinkMaxFailures, "AOPGUARD_SINK_MAX_FAILURES")
	setDuration(&cfg.Audit.SinkCooldown, "AOPGUARD_SINK_COOLDOWN")

	setInt64(&cfg.Cache.L1MaxSizeMB, "AOPGUARD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AOPGUARD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AOPGUARD_CACHE_L2_TTL")

	setBool(&cfg.NATS.Enabled, "AOPGUARD_NATS_ENABLED")
	setString(&cfg.NATS.URL, "AOPGUARD_NATS_URL")

	setBool(&cfg.Postgres.Enabled, "AOPGUARD_PG_ENABLED")
	setString(&cfg.Postgres.DSN, "AOPGUARD_DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AOPGUARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AOPGUARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AOPGUARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AOPGUARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AOPGUARD_PG_HEALTH_CHECK")

	setBool(&cfg.OTEL.Enabled, "AOPGUARD_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "AOPGUARD_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "AOPGUARD_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "AOPGUARD_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "AOPGUARD_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "AOPGUARD_MCP_ENABLED")
	setString(&cfg.MCP.Path, "AOPGUARD_MCP_PATH")
	setString(&cfg.MCP.APIKey, "AOPGUARD_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Audit.StorageDir == "" {
		return errors.New("audit.storage_dir is required")
	}
	if cfg.Audit.SinkMaxFailures < 1 {
		return errors.New("audit.sink_max_failures must be >= 1")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Postgres.Enabled {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required when postgres is enabled")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		return errors.New("mcp.path must start with /")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
