package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chat-bridge/internal/usecase"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	ParamPrefix   string
	StateTable    string
	ModelID       string
	SystemPrompt  string
	OpenAIBaseURL string
	StreamTimeout time.Duration
	ListenAddr    string
}

// Lookuper resolves optional parameters; ok is false when absent.
type Lookuper interface {
	Lookup(ctx context.Context, name string) (value string, ok bool, err error)
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	prefix := strings.TrimRight(strings.TrimSpace(os.Getenv("PARAM_PREFIX")), "/")
	if prefix == "" {
		return Config{}, errors.New("config: PARAM_PREFIX is required")
	}
	timeout, err := envIntOrDefault("STREAM_TIMEOUT_SECONDS", 120)
	if err != nil {
		return Config{}, err
	}
	if timeout <= 0 {
		return Config{}, fmt.Errorf("config: STREAM_TIMEOUT_SECONDS must be positive, got %d", timeout)
	}
	return Config{
		ParamPrefix:   prefix,
		StateTable:    strings.TrimSpace(os.Getenv("STATE_TABLE")),
		ModelID:       envOrDefault("MODEL_ID", usecase.DefaultModelID),
		SystemPrompt:  envOrDefault("SYSTEM_PROMPT", usecase.DefaultSystemPrompt),
		OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		StreamTimeout: time.Duration(timeout) * time.Second,
		ListenAddr:    envOrDefault("LISTEN_ADDR", ":8787"),
	}, nil
}

// ApplyParameterOverrides replaces the model and system prompt with the
// values stored under the parameter prefix, when present.
func (c *Config) ApplyParameterOverrides(ctx context.Context, params Lookuper) error {
	model, ok, err := params.Lookup(ctx, c.ParamPrefix+"/config/model")
	if err != nil {
		return fmt.Errorf("config: load model override: %w", err)
	}
	if ok {
		c.ModelID = strings.TrimSpace(model)
	}
	prompt, ok, err := params.Lookup(ctx, c.ParamPrefix+"/system_prompt")
	if err != nil {
		return fmt.Errorf("config: load system prompt override: %w", err)
	}
	if ok {
		c.SystemPrompt = strings.TrimSpace(prompt)
	}
	return nil
}

// ChatConfig projects the bridge settings.
func (c Config) ChatConfig() usecase.ChatConfig {
	return usecase.ChatConfig{
		ModelID:       c.ModelID,
		SystemPrompt:  c.SystemPrompt,
		StreamTimeout: c.StreamTimeout,
	}
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
