package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. A nil field means the flag was not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	AuditDir   *string
	SchemaDir  *string
}

// ParseFlags parses serve-mode flags. Both long and short forms are accepted
// for the config path and port.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("aopguard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath, port, logLevel, auditDir, schemaDir string
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "HTTP listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&auditDir, "audit-dir", "", "audit trail storage directory")
	fs.StringVar(&schemaDir, "schema-dir", "", "JSON Schema document directory")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "audit-dir":
			out.AuditDir = &auditDir
		case "schema-dir":
			out.SchemaDir = &schemaDir
		}
	})
	return out, nil
}

// LoadWithCLI loads configuration with the full hierarchy:
// defaults < YAML < ENV < CLI. It returns the resolved YAML path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.AuditDir != nil {
		cfg.Audit.StorageDir = *flags.AuditDir
	}
	if flags.SchemaDir != nil {
		cfg.Audit.SchemaDir = *flags.SchemaDir
	}
}
