package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/worker"
	httpapi "github.com/garyjia/employee-lifecycle/internal/interfaces/http"
	"github.com/garyjia/employee-lifecycle/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	store       *StoreBundle
	locker      port.InstanceLocker
	closeLocker func() error
	reports     *report.WorkbookWriter

	// Application
	gate       *policy.Gate
	services   *ServiceBundle
	dispatcher dispatcher.Dispatcher
	engine     workflow.WorkflowEngine
	workers    *worker.Manager
	archiver   *worker.ReportArchiver

	// Interfaces
	server *httpapi.Server

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Storage (and migrations)
// 2. Instance lock backend
// 3. Policy gate and application services
// 4. Event dispatcher and workflow engine
// 5. Report archiver and background workers (not yet running)
// 6. HTTP adapter (not yet listening)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	store, err := ProvideStore(ctx, &c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.store = store
	c.logger.Info("Storage initialized", zap.String("driver", c.config.Database.Driver))

	locker, closeLocker, err := ProvideLocker(ctx, &c.config.Lock, &c.config.Engine, c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize lock backend: %w", err)
	}
	c.locker, c.closeLocker = locker, closeLocker
	c.logger.Info("Lock backend initialized", zap.String("backend", c.config.Lock.Backend))

	c.gate = ProvideGate(&c.config.Policy)
	c.services = ProvideServices(c.store, c.gate, c.logger)
	c.reports = report.NewWorkbookWriter(c.logger.Named("report"))
	c.logger.Info("Application services initialized")

	c.dispatcher = ProvideDispatcher(c.logger)
	c.engine = ProvideEngine(c.store, c.gate, c.services.Audit, c.dispatcher, c.locker, &c.config.Engine, c.logger)
	c.logger.Info("Dispatcher and workflow engine initialized", zap.Int("max_retries", c.config.Engine.MaxRetries))

	c.archiver = ProvideArchiver(&c.config.Archive, c.engine, c.services, c.reports, c.dispatcher, c.logger)
	c.workers = ProvideWorkers(&c.config.Workers, c.store, c.dispatcher, c.logger)
	c.logger.Info("Background workers registered",
		zap.Int("count", c.workers.Count()),
		zap.Bool("archive_enabled", c.archiver != nil))

	c.server = httpapi.NewServer(httpapi.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            c.config.Server.Port,
		ReadTimeout:     c.config.Server.ReadTimeout,
		WriteTimeout:    c.config.Server.WriteTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
	}, httpapi.Services{
		Engine:    c.engine,
		Templates: c.services.Templates,
		Employees: c.services.Employees,
		Queries:   c.services.Queries,
		Reports:   c.reports,
	}, utils.NewKVLogger(c.logger.Named("http")))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever Start managed to build, newest first
func (c *Container) teardown() []error {
	var errs []error

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Dispatcher waits for in-flight handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.closeLocker != nil {
		if err := c.closeLocker(); err != nil {
			c.logger.Error("Failed to close lock backend", zap.Error(err))
			errs = append(errs, fmt.Errorf("close lock backend: %w", err))
		}
	}

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("Failed to close storage", zap.Error(err))
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		} else {
			c.logger.Info("Storage closed")
		}
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.store == nil {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else if err := c.store.Ping(ctx); err != nil {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
		status.Overall = false
	} else {
		status.Components["database"] = ComponentHealth{Healthy: true}
	}

	if c.dispatcher == nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("%d registered, running=%t", c.workers.Count(), c.workers.IsRunning()),
		}
	}

	if c.engine == nil {
		status.Components["engine"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else {
		status.Components["engine"] = ComponentHealth{Healthy: true}
	}

	return status
}

// Transactions returns the transaction manager.
func (c *Container) Transactions() port.TransactionManager {
	return c.store.Transactions
}

// Repositories returns the storage port.
func (c *Container) Repositories() port.Repositories {
	return c.store.Repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the instrumented workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.engine
}

// Services returns the application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Reports returns the workbook writer.
func (c *Container) Reports() *report.WorkbookWriter {
	return c.reports
}

// Workers returns the background worker manager. Callers start it once
// the container is ready.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// HTTPServer returns the HTTP adapter.
func (c *Container) HTTPServer() *httpapi.Server {
	return c.server
}

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container configuration.
func (c *Container) Config() *Config {
	return c.config
}
