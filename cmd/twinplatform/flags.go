package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	SeedPath        string
	Lookup          string
	Query           QueryFlags
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("TWINPLATFORM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: TWINPLATFORM_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("TWINPLATFORM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: TWINPLATFORM_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error; overrides service.log_level")

	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text; overrides service.log_format")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TWINPLATFORM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: TWINPLATFORM_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.SeedPath, "seed", "",
		"Load models, twins and relationships from a JSON file into the store before starting")

	fs.StringVar(&cfg.Lookup, "lookup", "",
		"Print a twin and its relationships as JSON and exit")

	fs.BoolVar(&cfg.Query.Enabled, "query", false,
		"Print the twins query for the -query-* filters and exit")
	fs.StringVar(&cfg.Query.TwinIDs, "query-ids", "", "Comma separated twin ids")
	fs.StringVar(&cfg.Query.ModelIDs, "query-models", "", "Comma separated model ids")
	fs.BoolVar(&cfg.Query.ExactModel, "query-exact", false, "Match models exactly instead of by ancestry")
	fs.StringVar(&cfg.Query.LocationID, "query-location", "", "Location twin id the twins must be under")
	fs.StringVar(&cfg.Query.Search, "query-search", "", "Search text matched against twin id and name")
	fs.StringVar(&cfg.Query.Filter, "query-filter", "", "Extra filter appended to the where clause")
	fs.BoolVar(&cfg.Query.Count, "query-count", false, "Build a count query")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs.Output(), fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - twin graph cache and batched ingestion

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a configuration file
  %s --config=/etc/twinplatform/config.yaml

  # Seed the store, then serve
  %s --seed=twins.json

  # Resolve one twin through the cache
  %s --lookup=ahu-1

  # Print the query for air handlers under a floor
  %s --query --query-location=floor-1 --query-models=dtmi:com:willowinc:AirHandlingUnit;1

  # Override any setting from the environment
  export TWINPLATFORM_NATS_URL=nats://nats:4222
  export TWINPLATFORM_KUSTO_ENDPOINT=https://adx.example.com

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
