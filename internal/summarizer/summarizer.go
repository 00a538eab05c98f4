// Package summarizer condenses long tool results before they reach the
// reasoning model. Data APIs return pages of JSON; the model only needs
// the names and figures in them.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/talentscout/internal/llm"
)

// Config controls condensing behavior.
type Config struct {
	// Model names the model used for condensing.
	Model string

	// MinChars is the shortest text that is condensed; shorter text is
	// returned unchanged. Default: 800.
	MinChars int

	// MaxWords is the word limit given to the model. Default: 100.
	MaxWords int

	// MaxInputBytes truncates text before it is sent. Default: 64 KiB.
	MaxInputBytes int

	// Timeout per condensing call. Default: 30 seconds.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for the condenser.
func DefaultConfig() Config {
	return Config{
		MinChars:      800,
		MaxWords:      100,
		MaxInputBytes: 64 << 10,
		Timeout:       30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.MaxWords <= 0 {
		c.MaxWords = d.MaxWords
	}
	if c.MaxInputBytes <= 0 {
		c.MaxInputBytes = d.MaxInputBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

const systemPrompt = "You are a helpful assistant that summarizes text to only the most relevant and essential details. " +
	"However rather than store a vague summary, you include a list of specific details such as company names or employee names."

// Condenser shortens tool results with a language model. It satisfies
// mcp.Condenser.
type Condenser struct {
	client llm.Client
	config Config
	logger *slog.Logger
}

// New creates a condenser that calls client.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Condenser {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Condenser{
		client: client,
		config: cfg,
		logger: logger.With("component", "summarizer"),
	}
}

// Condense returns a short version of text. Text under MinChars comes back
// unchanged. An error means text should be used as is.
func (c *Condenser) Condense(ctx context.Context, text string) (string, error) {
	if utf8.RuneCountInString(text) < c.config.MinChars {
		return text, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat(ctx, c.config.Model, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(text, c.config.MaxWords, c.config.MaxInputBytes)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("condense: %w", err)
	}

	short := strings.TrimSpace(resp.Message.Content)
	if short == "" {
		return "", errors.New("condense: model returned no text")
	}

	c.logger.Debug("tool result condensed",
		"input_len", len(text),
		"output_len", len(short),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return short, nil
}

// buildPrompt renders the user message, truncating text to maxBytes on a
// rune boundary.
func buildPrompt(text string, maxWords, maxBytes int) string {
	if len(text) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n[truncated]"
	}
	return fmt.Sprintf("Summarize this text to less than %d words:\n\n%s", maxWords, text)
}
