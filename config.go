package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/coursegen-core/server/internal/agent/model"
	"github.com/coursegen-core/server/internal/agent/pipeline"
	"github.com/coursegen-core/server/internal/agent/prompts"
	"github.com/coursegen-core/server/internal/agent/providers"
	"github.com/coursegen-core/server/internal/agent/repo"
	"github.com/coursegen-core/server/internal/core"
	"github.com/coursegen-core/server/internal/render"
	pkgredis "github.com/coursegen-core/server/pkg/redis"
	logx "github.com/coursegen-core/server/pkg/logger"
)

// AppConfig defines all configurable parameters of the generator,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM providers
	Keys  model.ProviderKeys
	Model model.ModelConfig
	Retry model.RetryConfig

	// Generator
	Checkpoint model.CheckpointConfig
	Library    model.LibraryConfig
	Branding   render.Branding

	Concurrency int `envconfig:"CONCURRENCY" default:"4"`
}

// LoadConfig reads envFile when present and binds the environment.
func LoadConfig(envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return AppConfig{}, fmt.Errorf("failed to process environment config: %w", err)
	}
	return c, nil
}

// openCheckpoints builds the configured checkpoint store. The returned close
// func is never nil.
func openCheckpoints(ctx context.Context, c AppConfig) (model.CheckpointStore, func(), error) {
	switch strings.ToLower(c.Checkpoint.Backend) {
	case "", "file":
		store, err := repo.NewFileCheckpointStore(c.Checkpoint.Dir)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil
	case "redis":
		rdb, err := c.Redis.New(ctx)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		logx.Debug().Str("backend", "redis").Msg("checkpoint store connected")
		return repo.NewRedisCheckpointStore(rdb, c.Checkpoint.TTL), func() { _ = rdb.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown CHECKPOINT_BACKEND %q (want file or redis)", c.Checkpoint.Backend)
	}
}

// resolveChoice picks the model: the flag wins, then the pipeline's own
// choice, then MODEL_CHOICE.
func resolveChoice(flag string, def *pipeline.Definition, c AppConfig) providers.Choice {
	name := c.Model.Choice
	if def != nil && def.Model != "" {
		name = def.Model
	}
	if flag != "" {
		name = flag
	}
	choice, ok := providers.Lookup(name)
	if !ok {
		logx.Warn().Str("model", name).Str("fallback", choice.Name).Msg("unknown model choice")
	}
	return choice
}

// newSequencer wires the sequencer for one command invocation.
func newSequencer(c AppConfig, choice providers.Choice, library *prompts.Library, store model.CheckpointStore) (*pipeline.Sequencer, error) {
	requester, err := providers.New(choice, providers.Options{
		Timeout:   c.Model.RequestTimeout,
		MaxTokens: c.Model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Prompts:     library,
		Requester:   requester,
		Choice:      choice,
		Credentials: c.Keys.Credentials(),
		Checkpoints: store,
		Retry:       c.Retry,
		Concurrency: c.Concurrency,
	})
}

// loadPipeline accepts either a definition file path or a name inside
// PIPELINE_DIR.
func loadPipeline(arg string, c AppConfig) (*pipeline.Definition, error) {
	path := arg
	if _, err := os.Stat(path); err != nil {
		ext := filepath.Ext(arg)
		if ext == ".yaml" || ext == ".yml" {
			return nil, fmt.Errorf("pipeline definition %s: %w", arg, err)
		}
		path = filepath.Join(c.Library.PipelineDir, arg+".yaml")
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(c.Library.PipelineDir, arg+".yml")
		}
	}
	return pipeline.LoadDefinition(path)
}
