package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jllopis/harness/pkg/agent"
	"github.com/jllopis/harness/pkg/builtin"
	"github.com/jllopis/harness/pkg/capability"
	"github.com/jllopis/harness/pkg/config"
	"github.com/jllopis/harness/pkg/errors"
	"github.com/jllopis/harness/pkg/indexer"
	"github.com/jllopis/harness/pkg/journal"
	"github.com/jllopis/harness/pkg/llm"
	"github.com/jllopis/harness/pkg/mcp"
	"github.com/jllopis/harness/pkg/memory"
	"github.com/jllopis/harness/pkg/memory/ollama"
	"github.com/jllopis/harness/pkg/memory/qdrant"
	"github.com/jllopis/harness/pkg/prompt"
	"github.com/jllopis/harness/pkg/telemetry"
)

const serviceName = "harness"

type appOptions struct {
	stdout      io.Writer
	stderr      io.Writer
	json        bool
	noTelemetry bool

	// provider replaces the configured model backend.
	provider llm.Provider
	// embedder replaces the configured embedding backend.
	embedder memory.Embedder
}

// app wires the configured collaborators around one agent.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
	json     bool
	agent    *agent.Agent
	registry *capability.Registry
	manager  *mcp.Manager
	journal  journal.Journal
	indexer  *indexer.Indexer
	renderer *renderer

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.stdout == nil {
		opts.stdout = os.Stdout
	}
	if opts.stderr == nil {
		opts.stderr = os.Stderr
	}
	a := &app{
		cfg:    cfg,
		stdout: opts.stdout,
		stderr: opts.stderr,
		json:   opts.json,
	}
	a.logger = telemetry.ConfigureSlog(opts.stderr, cfg.Log.Level, cfg.Log.Format)

	tcfg := cfg.Telemetry
	if opts.noTelemetry {
		tcfg.Exporter = telemetry.ExporterNone
	}
	tcfg.Writer = opts.stderr
	shutdown, err := telemetry.InitWithConfig(serviceName, version, tcfg)
	if err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
	} else {
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
	}
	metrics, err := telemetry.NewLoopMetrics()
	if err != nil {
		a.logger.Warn("metrics disabled", "error", err)
	}

	provider := opts.provider
	if provider == nil {
		provider, err = createProvider(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.registry = capability.NewRegistry(capability.WithLogger(a.logger))
	rules := prompt.Rules{FilesystemRoot: cfg.Agent.FilesystemRoot}
	if cfg.Memory.Enabled {
		if err := a.setupMemory(ctx, opts.embedder); err != nil {
			a.logger.Warn("semantic search disabled", "error", err)
		} else {
			rules.SearchCapability = builtin.SearchName
		}
	}

	a.manager = mcp.NewManager(
		mcp.WithManagerLogger(a.logger),
		mcp.WithManagerClientOptions(
			mcp.WithTimeout(cfg.MCP.Timeout()),
			mcp.WithRetry(cfg.MCP.Retries, 0),
		),
	)
	a.closers = append(a.closers, a.manager.Close)
	conns, err := a.manager.Connect(ctx, cfg.MCP.Servers)
	if err != nil {
		a.Close()
		return nil, errors.New(errors.CodeCancelled, "provider startup interrupted", err)
	}
	for _, conn := range conns {
		a.mergeProvider(conn)
	}

	a.journal = a.openJournal()
	a.closers = append(a.closers, a.journal.Close)

	a.renderer = newRenderer(a.stdout, a.json)
	a.agent, err = agent.New(
		agent.WithProvider(provider),
		agent.WithProviderName(cfg.LLM.Provider),
		agent.WithRegistry(a.registry),
		agent.WithModel(cfg.LLM.Model),
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
		agent.WithTokenBudget(cfg.Agent.MaxContextTokens),
		agent.WithRules(rules),
		agent.WithLogger(a.logger),
		agent.WithEventEmitter(a.renderer),
		agent.WithJournal(a.journal),
		agent.WithMetrics(metrics),
	)
	if err != nil {
		a.Close()
		return nil, errors.New(errors.CodeInvalidInput, "agent setup failed", err)
	}
	return a, nil
}

// mergeProvider publishes src's capabilities. They are withdrawn on close,
// before the provider sessions themselves shut down.
func (a *app) mergeProvider(src capability.Source) {
	n := a.registry.Merge(src)
	a.logger.Info("provider merged", "provider", src.Name(), "capabilities", n)
	name := src.Name()
	a.closers = append(a.closers, func() error {
		a.registry.Drop(name)
		return nil
	})
}

func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		var opts []llm.OllamaOption
		if cfg.TimeoutSeconds > 0 {
			opts = append(opts, llm.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
		}
		return llm.NewOllama(cfg.BaseURL, opts...), nil
	case "mock":
		return &llm.MockProvider{Response: "Mock response from harness"}, nil
	default:
		return nil, NewConfigError(fmt.Errorf("unknown llm provider %q", cfg.Provider), "")
	}
}

// setupMemory registers semantic_search over the configured vector store.
func (a *app) setupMemory(ctx context.Context, embedder memory.Embedder) error {
	mc := a.cfg.Memory
	var store memory.VectorStore
	switch mc.Backend {
	case "inmemory":
		store = memory.NewInMemory()
	default:
		qs, err := qdrant.New(mc.QdrantAddr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, qs.Close)
		store = qs
	}
	if embedder == nil {
		embedder = ollama.NewEmbedder(mc.EmbedderBaseURL, mc.EmbedderModel)
	}

	index := memory.NewIndex(store, embedder, mc.Collection, uint64(mc.VectorSize))
	ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := index.Initialize(ictx); err != nil {
		// The store may come up later; /index retries collection setup.
		a.logger.Warn("vector store not ready", "collection", mc.Collection, "error", err)
	}
	if err := builtin.RegisterSearch(a.registry, index); err != nil {
		return err
	}
	a.indexer = indexer.New(index, indexer.WithLogger(a.logger))
	return nil
}

func (a *app) openJournal() journal.Journal {
	if !a.cfg.Journal.Enabled || a.cfg.Journal.Path == "" {
		return journal.NewMemory()
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.Journal.Path), 0o755); err != nil {
		a.logger.Warn("journal unavailable, keeping runs in memory", "error", err)
		return journal.NewMemory()
	}
	j, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		a.logger.Warn("journal unavailable, keeping runs in memory", "path", a.cfg.Journal.Path, "error", err)
		return journal.NewMemory()
	}
	return j
}

// runSingle runs one task with a fresh transcript and prints the answer.
func (a *app) runSingle(ctx context.Context, task string) int {
	tr := agent.NewTranscript("")
	res, err := a.agent.Run(ctx, task, tr)
	if err != nil {
		return reportError(a.stderr, err, a.json)
	}
	a.printResult(task, res)
	if path := a.cfg.Output.OutputPath(); path != "" {
		if err := saveOutput(path, res.Answer); err != nil {
			a.logger.Warn("failed to save output", "path", path, "error", err)
		} else if !a.json {
			fmt.Fprintf(a.stderr, "Output saved to %s\n", path)
		}
	}
	return 0
}

type resultJSON struct {
	RunID  string `json:"run_id"`
	Task   string `json:"task"`
	Answer string `json:"answer"`
	Status string `json:"status"`
	Steps  int    `json:"steps"`
}

func (a *app) printResult(task string, res agent.Result) {
	if a.json {
		printJSON(a.stdout, resultJSON{
			RunID:  res.RunID,
			Task:   task,
			Answer: res.Answer,
			Status: string(res.Status),
			Steps:  res.Steps,
		})
		return
	}
	a.renderer.answer(res)
}

func saveOutput(path, answer string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(answer), 0o644)
}

// Close releases collaborators in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
	a.closers = nil
}
