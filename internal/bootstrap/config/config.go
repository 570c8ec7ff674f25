package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// TransactionConfig holds the engine policies. Synchronization is one of
// always, on_actual_transaction or never.
type TransactionConfig struct {
	Synchronization                      string `mapstructure:"synchronization"`
	NestedTransactionAllowed             bool   `mapstructure:"nested_transaction_allowed"`
	ValidateExistingTransaction          bool   `mapstructure:"validate_existing_transaction"`
	GlobalRollbackOnParticipationFailure bool   `mapstructure:"global_rollback_on_participation_failure"`
	FailEarlyOnGlobalRollbackOnly        bool   `mapstructure:"fail_early_on_global_rollback_only"`
	RollbackOnCommitFailure              bool   `mapstructure:"rollback_on_commit_failure"`
	DefaultTimeoutSeconds                int    `mapstructure:"default_timeout_seconds"`
}

type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ServiceName      string  `mapstructure:"service_name"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("TXF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if cfg.Database.MaxOpenConns == 1 || cfg.Database.MaxOpenConns < 0 {
		// A suspended transaction keeps its connection while REQUIRES_NEW opens another.
		return Config{}, errors.New("database.max_open_conns must be 0 (unlimited) or at least 2")
	}
	if cfg.Transaction.DefaultTimeoutSeconds < -1 {
		return Config{}, errors.New("transaction.default_timeout_seconds must be -1 or greater")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("synchronization", cfg.Transaction.Synchronization),
		slog.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	return cfg, nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "txflow")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".txflow/journal.sqlite")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("transaction.synchronization", "always")
	v.SetDefault("transaction.nested_transaction_allowed", true)
	v.SetDefault("transaction.validate_existing_transaction", false)
	v.SetDefault("transaction.global_rollback_on_participation_failure", true)
	v.SetDefault("transaction.fail_early_on_global_rollback_only", false)
	v.SetDefault("transaction.rollback_on_commit_failure", false)
	v.SetDefault("transaction.default_timeout_seconds", -1)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "txflow")
	v.SetDefault("telemetry.trace_sample_ratio", 1.0)
}
