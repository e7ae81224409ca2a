package relationaldb

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// DefaultLogger provides a basic logger implementation
type DefaultLogger struct {
	logger *log.Logger
}

func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: log.Default(),
	}
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Printf("[DEBUG] "+msg, fields...)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Printf("[INFO] "+msg, fields...)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Printf("[WARN] "+msg, fields...)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Printf("[ERROR] "+msg, fields...)
}

// Metrics interface for monitoring
type Metrics interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// NoOpMetrics provides a no-op metrics implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) IncrementCounter(name string, tags map[string]string)                       {}
func (m *NoOpMetrics) RecordDuration(name string, duration time.Duration, tags map[string]string) {}
func (m *NoOpMetrics) SetGauge(name string, value float64, tags map[string]string)                {}

// Manager provides lifecycle management and utilities for database operations
type Manager struct {
	repoManager RepositoryManager
	config      *Config
	logger      Logger
	metrics     Metrics

	// Health checking
	healthCheckInterval time.Duration
	healthCtx           context.Context
	healthCancel        context.CancelFunc
	healthWg            sync.WaitGroup

	// Connection state
	mu        sync.RWMutex
	connected bool
	lastError error

	// Maintenance
	maintenanceInterval time.Duration
	maintenanceCtx      context.Context
	maintenanceCancel   context.CancelFunc
	maintenanceWg       sync.WaitGroup
}

// ManagerOption defines functional options for Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collector for the manager
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithHealthCheckInterval sets the health check interval
func WithHealthCheckInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.healthCheckInterval = interval
	}
}

// WithMaintenanceInterval sets the maintenance interval
func WithMaintenanceInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maintenanceInterval = interval
	}
}

// NewManager creates a new database manager
func NewManager(repoManager RepositoryManager, config *Config, options ...ManagerOption) *Manager {
	manager := &Manager{
		repoManager:         repoManager,
		config:              config,
		logger:              NewDefaultLogger(),
		metrics:             &NoOpMetrics{},
		healthCheckInterval: time.Minute,
		maintenanceInterval: time.Hour,
	}

	for _, option := range options {
		option(manager)
	}

	return manager
}

// Open opens the database connection and starts background services
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	if err := m.repoManager.Open(ctx); err != nil {
		m.lastError = err
		m.logger.Error("Failed to open database connection: %v", err)
		m.metrics.IncrementCounter("db.connection.failed", map[string]string{
			"driver": m.config.Driver,
		})
		return WrapError(err, "open_database")
	}

	if err := m.repoManager.Ping(ctx); err != nil {
		m.lastError = err
		m.logger.Error("Database health check failed: %v", err)
		return WrapError(err, "initial_health_check")
	}

	m.connected = true
	m.lastError = nil

	m.startHealthChecker()
	m.startMaintenance()

	m.logger.Info("Database manager opened: driver=%s database=%s",
		m.config.Driver, m.config.Database)
	m.metrics.IncrementCounter("db.connection.opened", map[string]string{
		"driver": m.config.Driver,
	})

	return nil
}

// Close closes the database connection and stops background services
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.stopHealthChecker()
	m.stopMaintenance()

	if err := m.repoManager.Close(ctx); err != nil {
		m.logger.Error("Failed to close database connection: %v", err)
		return WrapError(err, "close_database")
	}

	m.connected = false
	m.lastError = nil

	m.logger.Info("Database manager closed")
	return nil
}

// IsConnected returns whether the database is connected
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// LastError returns the last error encountered
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// HealthCheck performs a manual health check
func (m *Manager) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		m.metrics.RecordDuration("db.health_check.duration", time.Since(start), map[string]string{
			"driver": m.config.Driver,
		})
	}()

	if !m.IsConnected() {
		return ErrDatabaseClosed
	}

	if err := m.repoManager.Ping(ctx); err != nil {
		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()

		m.logger.Error("Health check failed: %v", err)
		m.metrics.IncrementCounter("db.health_check.failed", map[string]string{
			"driver": m.config.Driver,
		})
		return WrapError(err, "health_check")
	}

	return nil
}

// ExecuteWithRetry executes a function with retry logic
func (m *Manager) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff capped at RetryMaxDelay.
			delay := time.Duration(attempt) * m.config.RetryDelay
			if delay > m.config.RetryMaxDelay {
				delay = m.config.RetryMaxDelay
			}

			m.logger.Debug("Retrying operation: attempt=%d delay=%s last_error=%v",
				attempt, delay, lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := operation()
		m.metrics.RecordDuration("db.operation.duration", time.Since(start), map[string]string{
			"driver":  m.config.Driver,
			"attempt": fmt.Sprintf("%d", attempt),
		})

		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			m.logger.Debug("Operation failed with non-retryable error: %v", err)
			break
		}

		m.metrics.IncrementCounter("db.operation.retryable_error", map[string]string{
			"driver": m.config.Driver,
		})
	}

	return WrapError(lastErr, "execute_with_retry")
}

// ExecuteInTransaction executes a function within a transaction with retry logic
func (m *Manager) ExecuteInTransaction(ctx context.Context, operation func(TransactionContext) error) error {
	return m.ExecuteWithRetry(ctx, func() error {
		return m.repoManager.WithTransaction(ctx, operation)
	})
}

// GetRepositoryManager returns the underlying repository manager
func (m *Manager) GetRepositoryManager() RepositoryManager {
	return m.repoManager
}

// GetConfig returns the configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) startHealthChecker() {
	m.healthCtx, m.healthCancel = context.WithCancel(context.Background())

	m.healthWg.Add(1)
	go func() {
		defer m.healthWg.Done()

		ticker := time.NewTicker(m.healthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.healthCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(m.healthCtx, time.Second*10)
				if err := m.HealthCheck(ctx); err != nil {
					m.logger.Error("Background health check failed: %v", err)
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) stopHealthChecker() {
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthWg.Wait()
	}
}

func (m *Manager) startMaintenance() {
	m.maintenanceCtx, m.maintenanceCancel = context.WithCancel(context.Background())

	m.maintenanceWg.Add(1)
	go func() {
		defer m.maintenanceWg.Done()

		ticker := time.NewTicker(m.maintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.maintenanceCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(m.maintenanceCtx, time.Minute*5)
				m.performMaintenance(ctx)
				cancel()
			}
		}
	}()
}

func (m *Manager) stopMaintenance() {
	if m.maintenanceCancel != nil {
		m.maintenanceCancel()
		m.maintenanceWg.Wait()
	}
}

// performMaintenance prunes expired access tokens.
func (m *Manager) performMaintenance(ctx context.Context) {
	start := time.Now()

	pruned, err := m.repoManager.Users().DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("Token pruning failed: %v", err)
		return
	}
	if pruned > 0 {
		m.logger.Info("Pruned %d expired access tokens in %s", pruned, time.Since(start))
	}
	m.metrics.SetGauge("db.maintenance.tokens_pruned", float64(pruned), map[string]string{
		"driver": m.config.Driver,
	})
}
