package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/talentscout/internal/agent"
	"github.com/nugget/talentscout/internal/config"
	"github.com/nugget/talentscout/internal/llm"
	"github.com/nugget/talentscout/internal/mcp"
	"github.com/nugget/talentscout/internal/playbook"
	"github.com/nugget/talentscout/internal/recruiter"
	"github.com/nugget/talentscout/internal/runlog"
	"github.com/nugget/talentscout/internal/summarizer"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

const dbFile = "talentscout.db"

// sqliteDriver is the database/sql driver used for the run history.
// Tests swap in the pure-Go driver.
var sqliteDriver = "sqlite3"

// openStore opens the run history database under the data directory.
func openStore(cfg *config.Config) (*sql.DB, *runlog.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	path := filepath.Join(cfg.DataDir, dbFile)
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// One writer at a time; the scheduler never overlaps cycles anyway.
	db.SetMaxOpenConns(1)

	store, err := runlog.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open run history %s: %w", path, err)
	}
	return db, store, nil
}

// newLLMClient builds the Anthropic client from config. An API key is
// required for anything that talks to the model.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.AnthropicClient, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, errors.New("anthropic API key is not set (anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	return llm.NewAnthropicClient(llm.AnthropicOptions{
		APIKey:      cfg.Anthropic.APIKey,
		BaseURL:     cfg.Anthropic.BaseURL,
		MaxRetries:  cfg.Anthropic.MaxRetries,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		PingModel:   cfg.Models.Agent,
		Logger:      logger,
	}), nil
}

// newCondenser returns the tool result condenser, or nil when
// condensing is disabled.
func newCondenser(cfg *config.Config, client *llm.AnthropicClient, logger *slog.Logger) mcp.Condenser {
	if !cfg.Summarizer.IsEnabled() {
		return nil
	}
	return summarizer.New(
		client.WithSampling(cfg.Summarizer.MaxTokens, cfg.Summarizer.Temperature),
		summarizer.Config{
			Model:    cfg.Models.Summarizer,
			MinChars: cfg.Summarizer.MinChars,
			MaxWords: cfg.Summarizer.MaxWords,
			Timeout:  cfg.Summarizer.Timeout,
		},
		logger,
	)
}

// newManager registers every configured tool process on a new manager.
func newManager(cfg *config.Config, condenser mcp.Condenser, logger *slog.Logger) *mcp.Manager {
	m := mcp.NewManager(mcp.ManagerConfig{
		StartGrace:       cfg.MCP.StartGrace,
		CallTimeout:      cfg.MCP.CallTimeout,
		StopTimeout:      cfg.MCP.StopTimeout,
		StartConcurrency: cfg.MCP.StartConcurrency,
		Condenser:        condenser,
		Logger:           logger,
	})
	for _, s := range cfg.MCP.Servers {
		m.AddServer(mcp.ServerConfig{
			Name:         s.Name,
			Command:      s.Command,
			Args:         s.Args,
			Env:          s.Env,
			Handshake:    s.Handshake,
			IncludeTools: s.IncludeTools,
			ExcludeTools: s.ExcludeTools,
		})
	}
	return m
}

// stack is everything a recruiting cycle needs, started and ready.
type stack struct {
	client  *llm.AnthropicClient
	db      *sql.DB
	store   *runlog.Store
	manager *mcp.Manager
	runner  *recruiter.Runner
	logger  *slog.Logger
}

// startStack opens the run history, starts the tool processes, and
// builds the cycle runner. Close must be called to stop the tools.
func startStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	pb, err := playbook.Load(cfg.PlaybookFile)
	if err != nil {
		return nil, err
	}

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	manager := newManager(cfg, newCondenser(cfg, client, logger), logger)
	registry := manager.StartAll(ctx)
	logger.Info("tools ready", "servers", len(cfg.MCP.Servers), "tools", len(registry))

	loop := agent.New(client, registry, agent.Config{
		Model:         cfg.Models.Agent,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        logger,
	})
	runner := recruiter.NewRunner(loop, pb, store, recruiter.Config{
		TaskTimeout: cfg.Agent.TaskTimeout,
		ToolCount:   len(registry),
		Logger:      logger,
	})

	return &stack{
		client:  client,
		db:      db,
		store:   store,
		manager: manager,
		runner:  runner,
		logger:  logger,
	}, nil
}

// Close stops every tool process and closes the database.
func (s *stack) Close() {
	if err := s.manager.StopAll(); err != nil {
		s.logger.Warn("tool shutdown reported errors", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close database", "error", err)
	}
}
