package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/application/service"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/lock"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/storage"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/worker"
	"github.com/garyjia/employee-lifecycle/internal/observability"
	"github.com/garyjia/employee-lifecycle/pkg/database"
	"github.com/garyjia/employee-lifecycle/pkg/utils"
)

// StoreBundle holds the storage port and whatever must be closed with it.
type StoreBundle struct {
	Repositories port.Repositories
	Transactions port.TransactionManager

	// ping and close are nil for the memory driver
	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the backing database
func (b *StoreBundle) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the backing database
func (b *StoreBundle) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Audit     service.AuditRecorder
	Templates service.TemplateService
	Employees service.EmployeeService
	Queries   service.QueryService
}

// ProvideStore opens the configured storage backend and, when asked,
// applies pending migrations.
func ProvideStore(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case DriverMemory:
		store := memory.NewStore()
		return &StoreBundle{Repositories: store.Repositories(), Transactions: store}, nil

	case DriverPostgres:
		store, err := postgres.New(ctx, cfg.DSN, int32(cfg.MaxOpenConns), logger)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if _, err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return &StoreBundle{
			Repositories: store.Repositories(),
			Transactions: store,
			ping:         store.Ping,
			close:        store.Close,
		}, nil

	case DriverSQLite:
		raw, err := database.New(database.Config{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			BusyTimeout:     cfg.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if _, err := database.NewMigrator(raw, logger).RunMigrations(); err != nil {
				_ = raw.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		db := sqlite.NewDB(raw.DB, logger)
		return &StoreBundle{
			Repositories: repository.NewRepositories(db, logger),
			Transactions: db,
			ping:         raw.PingContext,
			close:        raw.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// ProvideLocker creates the per-instance lock backend.
// The returned close func is never nil.
func ProvideLocker(ctx context.Context, cfg *LockConfig, engineCfg *EngineConfig, logger *zap.Logger) (port.InstanceLocker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case LockNone:
		return nil, noop, nil
	case LockMemory, "":
		return lock.NewMemoryLocker(), noop, nil
	case LockRedis:
		locker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			Prefix:        cfg.KeyPrefix,
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
			WaitTimeout:   engineCfg.LockTimeout,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return locker, locker.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideGate builds the access policy gate with configured task categories.
func ProvideGate(cfg *PolicyConfig) *policy.Gate {
	var opts []policy.Option
	for role, types := range cfg.RoleTaskTypes {
		opts = append(opts, policy.WithRoleTaskTypes(role, types...))
	}
	return policy.NewGate(opts...)
}

// ProvideServices creates the application services over one store.
func ProvideServices(store *StoreBundle, gate port.Authorizer, logger *zap.Logger) *ServiceBundle {
	serviceLogger := utils.NewKVLogger(logger.Named("service"))
	repos := store.Repositories

	audit := service.NewAuditRecorder(repos.Audit, serviceLogger)
	return &ServiceBundle{
		Audit:     audit,
		Templates: service.NewTemplateService(repos.Templates, store.Transactions, gate, audit, serviceLogger),
		Employees: service.NewEmployeeService(repos.Employees, store.Transactions, gate, audit, serviceLogger),
		Queries:   service.NewQueryService(repos, gate, audit),
	}
}

// ProvideDispatcher creates the post-commit event dispatcher with the
// logging and metrics subscribers attached.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	named := logger.Named("dispatcher")
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(named)))

	d.SubscribeAll("event_logger", func(ctx context.Context, evt *event.Event) error {
		named.Info("Domain event",
			zap.String("event_type", evt.Type.String()),
			zap.String("event_id", evt.ID),
			zap.String("instance_id", evt.InstanceID),
			zap.String("task_id", evt.TaskID),
			zap.String("actor_id", evt.ActorID))
		return nil
	})
	observability.CountEvents(d)

	return d
}

// ProvideEngine creates the instrumented workflow engine.
func ProvideEngine(
	store *StoreBundle,
	gate port.Authorizer,
	audit service.AuditRecorder,
	d dispatcher.Dispatcher,
	locker port.InstanceLocker,
	cfg *EngineConfig,
	logger *zap.Logger,
) workflow.WorkflowEngine {
	opts := []workflow.EngineOption{
		workflow.WithDispatcher(d),
		workflow.WithMaxRetries(cfg.MaxRetries),
		workflow.WithLogger(utils.NewKVLogger(logger.Named("engine"))),
	}
	if locker != nil {
		opts = append(opts, workflow.WithLocker(locker))
	}

	engine := workflow.NewEngine(store.Repositories, store.Transactions, gate, audit, opts...)
	return observability.Instrument(engine)
}

// ProvideWorkers registers the background workers enabled in cfg.
// The manager is returned stopped.
func ProvideWorkers(cfg *WorkersConfig, store *StoreBundle, d dispatcher.Dispatcher, logger *zap.Logger) *worker.Manager {
	named := logger.Named("worker")
	m := worker.NewManager(named)

	if cfg.OverdueEnabled {
		m.Register(worker.NewOverdueScanner(worker.OverdueScannerConfig{
			PollInterval: cfg.OverdueInterval,
		}, store.Repositories.Tasks, d, named))
	}
	return m
}

// ProvideArchiver subscribes the report archiver when enabled; it returns
// nil otherwise.
func ProvideArchiver(
	cfg *ArchiveConfig,
	engine workflow.WorkflowEngine,
	services *ServiceBundle,
	reports *report.WorkbookWriter,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
) *worker.ReportArchiver {
	if !cfg.Enabled {
		return nil
	}
	named := logger.Named("archive")
	archiver := worker.NewReportArchiver(
		report.NewCollector(engine, services.Queries, services.Employees),
		reports,
		storage.NewLocalFileStorage(cfg.Dir, named),
		named,
	)
	archiver.Subscribe(d)
	return archiver
}
