package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"seagent/internal/atc"
	"seagent/internal/codegen"
	"seagent/internal/config"
	"seagent/internal/critic"
	"seagent/internal/cycle"
	"seagent/internal/dataset"
	"seagent/internal/embedding"
	"seagent/internal/ideator"
	"seagent/internal/llm"
	"seagent/internal/logging"
	"seagent/internal/patterns"
	"seagent/internal/promptstore"
	"seagent/internal/rubric"
	"seagent/internal/sandbox"
	"seagent/internal/solver"
	"seagent/internal/toolstore"
	"seagent/internal/traces"
	"seagent/internal/tuner"
	"seagent/internal/unified"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg       *config.Config
	workspace string
	log       *zap.SugaredLogger

	traceStore  *traces.Store
	promptStore *promptstore.Store
	toolStore   *toolstore.Store
	specIndex   *embedding.SpecIndex
}

// newApp loads config, sets up logging, and opens the stores. It does
// not build LLM-backed components; commands that need them call wire.
func newApp(workspace string, verbose bool) (*app, error) {
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = cwd
	}

	cfg, err := config.LoadWorkspace(workspace)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	zlog, err := newConsoleLogger(verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, workspace: workspace, log: zlog.Sugar()}

	traceStore, err := traces.NewStore(a.path(cfg.Traces.DatabasePath))
	if err != nil {
		return nil, err
	}
	a.traceStore = traceStore

	promptStore, err := promptstore.NewStore(
		a.path(filepath.Join(cfg.DataDir, "prompts.db")),
		a.path(filepath.Join(cfg.DataDir, "prompts")))
	if err != nil {
		return nil, err
	}
	a.promptStore = promptStore

	toolStore, err := toolstore.NewStore(a.path(cfg.Codegen.ToolsDir))
	if err != nil {
		return nil, err
	}
	if _, err := toolStore.LoadFromDir(); err != nil {
		return nil, err
	}
	a.toolStore = toolStore

	return a, nil
}

// newConsoleLogger builds the user-facing logger. Verbose gets the
// development console at debug level, otherwise warnings only.
func newConsoleLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// path resolves a config-relative path against the workspace.
func (a *app) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.workspace, p)
}

func (a *app) close() {
	if a.specIndex != nil {
		a.specIndex.Close()
	}
	if a.toolStore != nil {
		a.toolStore.Close()
	}
	if a.promptStore != nil {
		a.promptStore.Close()
	}
	if a.traceStore != nil {
		a.traceStore.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
	logging.CloseAll()
}

// client builds the completion client, failing fast without an API key.
func (a *app) client() (llm.Client, error) {
	if a.cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key: set %s or llm.api_key in config", a.cfg.LLM.APIKeyEnv)
	}
	timeout, err := a.cfg.LLMTimeout()
	if err != nil {
		return nil, err
	}
	return llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:          a.cfg.LLM.APIKey,
		BaseURL:         a.cfg.LLM.BaseURL,
		Model:           a.cfg.LLM.Model,
		Timeout:         timeout,
		MaxOutputTokens: a.cfg.LLM.MaxTokens,
		Temperature:     a.cfg.LLM.Temperature,
	}), nil
}

// wireCycle builds the critic-tuner cycle with the current prompt
// version loaded from the store.
func (a *app) wireCycle(client llm.Client) (*cycle.CriticTuner, error) {
	if err := a.promptStore.Seed(solver.DefaultPrompt); err != nil {
		return nil, err
	}
	current, err := a.promptStore.Current()
	if err != nil {
		return nil, err
	}

	r, err := a.loadRubric()
	if err != nil {
		return nil, err
	}

	s := solver.New(client, a.traceStore, current.Prompt, solver.Config{Concurrency: a.cfg.Evolution.Concurrency})
	c := critic.New(client, r, critic.Config{Concurrency: a.cfg.Evolution.Concurrency})
	t := tuner.New(client, tuner.Config{MaxSuggestions: a.cfg.Evolution.MaxSuggestions})

	return cycle.New(s, c, t, a.promptStore, cycle.Config{ScoreThreshold: a.cfg.Evolution.ScoreThreshold}), nil
}

// wireATC builds the tool creation pipeline, including the optional
// embedding index when enabled in config.
func (a *app) wireATC(client llm.Client) (*atc.Pipeline, error) {
	timeout, err := a.cfg.SandboxTimeout()
	if err != nil {
		return nil, err
	}

	var index *embedding.SpecIndex
	if a.cfg.Embedding.Enabled {
		engine, err := embedding.NewGenAIEngine(a.cfg.LLM.APIKey, a.cfg.Embedding.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to build embedding engine: %w", err)
		}
		index, err = embedding.NewSpecIndex(engine,
			a.path(filepath.Join(a.cfg.DataDir, "specs.db")),
			a.cfg.Embedding.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		a.specIndex = index
	}

	gen := codegen.New(client, sandbox.New(sandbox.Config{Timeout: timeout}), a.toolStore,
		codegen.Config{MaxTestAttempts: a.cfg.Codegen.MaxTestAttempts})

	return atc.New(a.traceStore,
		patterns.New(client, patterns.Config{MinFrequency: a.cfg.Traces.MinFrequency}),
		ideator.New(client, ideator.Config{DeterminismPolicy: a.cfg.Codegen.DeterminismPolicy}),
		gen, index,
		atc.Config{FetchLimit: a.cfg.Traces.FetchLimit, OpFilter: solver.OpName}), nil
}

// wireUnified builds both stages on one shared client.
func (a *app) wireUnified() (*unified.Runner, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	ct, err := a.wireCycle(client)
	if err != nil {
		return nil, err
	}
	pipeline, err := a.wireATC(client)
	if err != nil {
		return nil, err
	}
	return unified.New(ct, pipeline), nil
}

func (a *app) loadRubric() (*rubric.Rubric, error) {
	if a.cfg.Evolution.RubricPath == "" {
		return rubric.Default(), nil
	}
	return rubric.Load(a.path(a.cfg.Evolution.RubricPath))
}

// problems loads the configured dataset, or the built-in one, sampled
// down to the configured batch size.
func (a *app) problems(datasetPath string, n int, seed int64) ([]dataset.Problem, error) {
	var problems []dataset.Problem
	if datasetPath != "" {
		loaded, err := dataset.Load(datasetPath)
		if err != nil {
			return nil, err
		}
		problems = loaded
	} else {
		problems = dataset.Default()
	}

	if n <= 0 {
		n = a.cfg.Evolution.NumProblems
	}
	return dataset.Sample(problems, n, seed), nil
}
