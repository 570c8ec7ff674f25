package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"txflow/internal/bootstrap/config"
	"txflow/internal/bootstrap/database"
	"txflow/internal/bootstrap/logging"
	"txflow/internal/errs"
	cacheinfra "txflow/internal/infrastructure/cache"
	sqliterepo "txflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "txflow/internal/infrastructure/persistence/sqlite/uow"
	"txflow/internal/infrastructure/telemetry"
	"txflow/internal/ports"
	"txflow/internal/usecase/journal"
	"txflow/internal/usecase/txengine"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(provideTelemetry),
	fx.Provide(provideEngine),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewProvider,
			fx.As(new(ports.ResourceProvider)),
		),
	),
	fx.Provide(provideUnitOfWork),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewJournalRepository,
			fx.As(new(ports.JournalRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(journal.NewService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	cfg, err := config.Load(ctx, p.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideTelemetry(lc fx.Lifecycle, cfg config.Config) (*telemetry.Telemetry, error) {
	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ServiceName:      cfg.Telemetry.ServiceName,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return nil, errs.Wrap(err, "init telemetry")
	}
	lc.Append(fx.Hook{
		OnStop: shutdown,
	})
	return tel, nil
}

func provideEngine(provider ports.ResourceProvider, cfg config.Config, tel *telemetry.Telemetry) (*txengine.Engine, error) {
	engineCfg, err := EngineConfig(cfg.Transaction)
	if err != nil {
		return nil, err
	}

	var opts []txengine.Option
	if tel.Enabled() {
		metrics, err := txengine.NewMetrics(tel.Meter)
		if err != nil {
			return nil, errs.Wrap(err, "init engine metrics")
		}
		opts = append(opts, txengine.WithMetrics(metrics))
	}
	return txengine.New(provider, engineCfg, opts...)
}

// provideUnitOfWork exposes the engine as the callback-style boundary used by usecases.
func provideUnitOfWork(engine *txengine.Engine, tel *telemetry.Telemetry) ports.UnitOfWork {
	return txengine.NewTemplate(engine).WithTracer(tel.Tracer)
}

// EngineConfig converts the transaction config section into engine policies.
func EngineConfig(tc config.TransactionConfig) (txengine.Config, error) {
	policy, err := txengine.ParseSynchronizationPolicy(tc.Synchronization)
	if err != nil {
		return txengine.Config{}, errs.Wrap(err, "parse transaction.synchronization")
	}
	cfg := txengine.Config{
		Synchronization:                      policy,
		NestedTransactionAllowed:             tc.NestedTransactionAllowed,
		ValidateExistingTransaction:          tc.ValidateExistingTransaction,
		GlobalRollbackOnParticipationFailure: tc.GlobalRollbackOnParticipationFailure,
		FailEarlyOnGlobalRollbackOnly:        tc.FailEarlyOnGlobalRollbackOnly,
		RollbackOnCommitFailure:              tc.RollbackOnCommitFailure,
		DefaultTimeout:                       tc.DefaultTimeoutSeconds,
	}
	if err := cfg.Validate(); err != nil {
		return txengine.Config{}, errs.Wrap(err, "validate transaction config")
	}
	return cfg, nil
}
