package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultStartConcurrency is how many tool processes StartAll brings up
// at once when no limit is configured.
const DefaultStartConcurrency = 4

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// StartGrace, CallTimeout, and StopTimeout apply to every handle.
	StartGrace  time.Duration
	CallTimeout time.Duration
	StopTimeout time.Duration

	// StartConcurrency bounds parallel starts. Default: 4.
	StartConcurrency int

	// Condenser, if set, shortens successful tool results.
	Condenser Condenser

	Logger *slog.Logger
}

// HandleStatus is a point-in-time summary of one handle.
type HandleStatus struct {
	Name      string
	Command   string
	State     State
	Alive     bool
	ToolCount int
	Err       error
}

// Manager owns a named set of tool processes, drives them through their
// lifecycle together, and presents their tools as one [Registry].
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	mu       sync.Mutex
	configs  []ServerConfig
	handles  []*Handle
	registry Registry
	started  bool

	// newHandle is swapped in tests.
	newHandle func(ServerConfig) *Handle
}

// NewManager creates a manager with no servers.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartConcurrency <= 0 {
		cfg.StartConcurrency = DefaultStartConcurrency
	}
	m := &Manager{
		config: cfg,
		logger: logger,
	}
	m.newHandle = func(sc ServerConfig) *Handle {
		return NewHandle(sc, HandleOptions{
			StartGrace:  cfg.StartGrace,
			CallTimeout: cfg.CallTimeout,
			StopTimeout: cfg.StopTimeout,
			Logger:      logger,
		})
	}
	return m
}

// AddServer registers a tool process configuration. Nothing is started.
// Servers added after StartAll are ignored.
func (m *Manager) AddServer(cfg ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.logger.Warn("tool server added after start, ignoring", "mcp_server", cfg.Name)
		return
	}
	m.configs = append(m.configs, cfg)
}

// StartAll starts every registered server and discovers its tools, a
// bounded number at a time. It returns once every server has either come
// up or failed; one server's failure never prevents the others from
// starting. The returned registry may be empty. Calling StartAll again
// returns the same registry.
func (m *Manager) StartAll(ctx context.Context) Registry {
	m.mu.Lock()
	if m.started {
		defer m.mu.Unlock()
		return m.registry
	}
	m.started = true
	configs := m.configs
	handles := make([]*Handle, len(configs))
	for i, sc := range configs {
		handles[i] = m.newHandle(sc)
	}
	m.handles = handles
	m.mu.Unlock()

	// One slot per server keeps the registry in registration order no
	// matter which start finishes first.
	results := make([]Registry, len(handles))
	sem := make(chan struct{}, m.config.StartConcurrency)
	var wg sync.WaitGroup

	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				m.logger.Warn("tool server not started", "mcp_server", h.Name(), "error", ctx.Err())
				return
			}
			defer func() { <-sem }()

			results[i] = m.startOne(ctx, h)
		}()
	}
	wg.Wait()

	var registry Registry
	for _, fns := range results {
		registry = append(registry, fns...)
	}

	ready := 0
	for _, h := range handles {
		if h.State() == StateReady {
			ready++
		}
	}
	switch {
	case len(handles) > 0 && ready == 0:
		m.logger.Error("no tool servers started", "configured", len(handles))
	default:
		m.logger.Info("tool servers started",
			"configured", len(handles),
			"ready", ready,
			"tools", len(registry),
		)
	}

	m.mu.Lock()
	m.registry = registry
	m.mu.Unlock()

	return registry
}

// startOne starts and discovers a single handle, logging any failure.
func (m *Manager) startOne(ctx context.Context, h *Handle) Registry {
	logger := m.logger.With("mcp_server", h.Name())

	if err := h.Start(ctx); err != nil {
		var spawnErr *SpawnError
		var earlyErr *ProcessExitedEarlyError
		switch {
		case errors.As(err, &spawnErr):
			logger.Error("failed to launch tool server", "command", spawnErr.Command, "error", spawnErr.Err)
		case errors.As(err, &earlyErr):
			logger.Error("tool server exited during startup", "status", earlyErr.Err, "stderr", earlyErr.Stderr)
		default:
			logger.Error("failed to start tool server", "error", err)
		}
		return nil
	}

	// Discovery failures are logged by the handle and leave zero tools.
	_, _ = h.Discover(ctx)

	return BridgeTools(h, m.config.Condenser)
}

// StopAll stops every handle that StartAll created, continuing past
// failures. Handles stop in parallel and in-flight calls are abandoned,
// so StopAll returns within about StopTimeout whatever CallTimeout is.
// The returned error joins every shutdown failure and is meant for
// logging. Calling StopAll more than once is safe.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	handles := m.handles
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(handles))
	)
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Stop(); err != nil {
				m.logger.Warn("tool server shutdown failed", "mcp_server", h.Name(), "error", err)
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Registry returns the registry built by StartAll, or nil before it.
func (m *Manager) Registry() Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// Handles reports the status of every server in registration order.
// Before StartAll every server is listed as unstarted.
func (m *Manager) Handles() []HandleStatus {
	m.mu.Lock()
	configs := m.configs
	handles := m.handles
	m.mu.Unlock()

	out := make([]HandleStatus, len(configs))
	for i, sc := range configs {
		st := HandleStatus{Name: sc.Name, Command: sc.Command, State: StateUnstarted}
		if i < len(handles) {
			h := handles[i]
			st.State = h.State()
			st.Alive = h.Alive()
			st.ToolCount = len(h.Tools())
			st.Err = h.StartErr()
		}
		out[i] = st
	}
	return out
}
