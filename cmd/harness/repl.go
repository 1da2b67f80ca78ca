package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/jllopis/harness/pkg/agent"
	"github.com/jllopis/harness/pkg/config"
	"github.com/jllopis/harness/pkg/errors"
	"github.com/jllopis/harness/pkg/indexer"
	"github.com/jllopis/harness/pkg/journal"
	"github.com/jllopis/harness/pkg/llm"
)

const (
	historyTurns     = 10
	historyChars     = 100
	toolDescChars    = 60
	defaultRunsLimit = 10
)

// session is one conversation: tasks share a transcript until /clear.
type session struct {
	app         *app
	in          io.Reader
	out         io.Writer
	interactive bool
	transcript  *agent.Transcript

	pending atomic.Pointer[config.Config]

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newSession(a *app, in io.Reader, interactive bool) *session {
	return &session{
		app:         a,
		in:          in,
		out:         a.stdout,
		interactive: interactive,
		transcript:  agent.NewTranscript(""),
	}
}

// queueConfig stores a reloaded config. It takes effect before the next task.
func (s *session) queueConfig(cfg *config.Config) {
	s.pending.Store(cfg)
}

func (s *session) applyPending() {
	cfg := s.pending.Swap(nil)
	if cfg == nil {
		return
	}
	ag := s.app.agent
	changed := false
	if cfg.LLM.Model != "" && cfg.LLM.Model != ag.Model() {
		ag.SetModel(cfg.LLM.Model)
		changed = true
	}
	if cfg.Agent.MaxSteps > 0 && cfg.Agent.MaxSteps != ag.MaxSteps() {
		ag.SetMaxSteps(cfg.Agent.MaxSteps)
		changed = true
	}
	if changed {
		s.app.logger.Info("config reloaded", "model", ag.Model(), "max_steps", ag.MaxSteps())
		if s.interactive {
			color.New(color.Faint).Fprintf(s.out, "Config reloaded: model=%s max_steps=%d\n", ag.Model(), ag.MaxSteps())
		}
	}
}

// loop reads one task or command per line until EOF or /quit.
func (s *session) loop(ctx context.Context) int {
	if s.interactive {
		stop := s.watchInterrupts()
		defer stop()
		s.printBanner()
	}

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	status := 0
	for {
		if ctx.Err() != nil {
			return errors.ExitCode(errors.New(errors.CodeCancelled, "terminated", ctx.Err()))
		}
		if s.interactive {
			color.New(color.FgGreen, color.Bold).Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if s.handleCommand(ctx, line) {
				return status
			}
			continue
		}
		if code := s.runTask(ctx, line); code != 0 {
			status = code
		}
	}
	if err := scanner.Err(); err != nil {
		return reportError(s.app.stderr, errors.New(errors.CodeInvalidInput, "failed to read input", err), s.app.json)
	}
	if s.interactive {
		fmt.Fprintln(s.out)
	}
	return status
}

// runTask runs one task on the shared transcript. An interrupt ends the
// task only.
func (s *session) runTask(parent context.Context, task string) int {
	s.applyPending()

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	res, err := s.app.agent.Run(ctx, task, s.transcript)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeCancelled && s.interactive {
			s.app.renderer.warn.Fprintln(s.out, "Task interrupted.")
			return 0
		}
		return reportError(s.app.stderr, err, s.app.json)
	}
	s.app.printResult(task, res)
	return 0
}

// watchInterrupts routes SIGINT to the running task. While idle it only
// prints a reminder.
func (s *session) watchInterrupts() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				s.interrupt()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (s *session) interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	fmt.Fprintln(s.out, "\nInterrupted. Type /quit to exit.")
}

func (s *session) printBanner() {
	bold := color.New(color.Bold)
	bold.Fprintf(s.out, "Harness %s", version)
	fmt.Fprintf(s.out, " - model %s, %d capabilities\n", s.app.agent.Model(), s.app.registry.Snapshot().Len())
	color.New(color.Faint).Fprintln(s.out, "Type /help for commands, /quit to exit.")
}

// handleCommand runs a slash command. It reports whether the session should end.
func (s *session) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/clear":
		s.transcript.Reset()
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/context":
		s.printContext()
	case "/tools":
		s.printTools()
	case "/index":
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		s.index(ctx, dir)
	case "/history":
		s.printHistory()
	case "/config":
		s.printConfig()
	case "/runs":
		limit := defaultRunsLimit
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		s.printRuns(ctx, limit)
	case "/help":
		printCommands(s.out)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s. Type /help for commands.\n", cmd)
	}
	return false
}

func printCommands(w io.Writer) {
	fmt.Fprint(w, `Commands:
  /clear          Start a new conversation
  /context        Show conversation size
  /tools          List available capabilities
  /index [dir]    Index a directory for semantic search (default .)
  /history        Show recent turns
  /config         Show active settings and providers
  /runs [n]       Show recent runs
  /help           Show this help
  /quit           Exit (also /exit, /q)
`)
}

func (s *session) printContext() {
	st := s.transcript.Stats()
	fmt.Fprintf(s.out, "Messages:      %d\n", st.Messages)
	fmt.Fprintf(s.out, "User inputs:   %d\n", st.UserInputs)
	fmt.Fprintf(s.out, "Tool results:  %d\n", st.ToolResults)
	fmt.Fprintf(s.out, "Characters:    %d\n", st.Characters)
	fmt.Fprintf(s.out, "Est. tokens:   ~%d", st.EstimatedTokens)
	if budget := s.app.cfg.Agent.MaxContextTokens; budget > 0 {
		fmt.Fprintf(s.out, " of %d", budget)
	}
	fmt.Fprintln(s.out)
}

func (s *session) printTools() {
	descs := s.app.registry.Snapshot().Descriptors()
	if len(descs) == 0 {
		fmt.Fprintln(s.out, "No capabilities available.")
		return
	}
	name := s.app.renderer.action
	fmt.Fprintf(s.out, "%d capabilities:\n", len(descs))
	for _, d := range descs {
		fmt.Fprint(s.out, "  ")
		name.Fprint(s.out, d.Name)
		fmt.Fprintf(s.out, " [%s] %s\n", d.Origin, truncate(oneLine(d.Description), toolDescChars))
	}
}

func (s *session) index(ctx context.Context, dir string) {
	if s.app.indexer == nil {
		fmt.Fprintln(s.out, "Semantic search is disabled (memory.enabled=false or the store failed to start).")
		return
	}
	fmt.Fprintf(s.out, "Indexing %s...\n", dir)
	stats, err := s.app.indexer.IndexDirectory(ctx, dir)
	if err != nil {
		reportError(s.app.stderr, err, s.app.json)
		return
	}
	printIndexStats(s.out, stats)
}

func printIndexStats(w io.Writer, stats indexer.Stats) {
	fmt.Fprintf(w, "Indexed %d files (%d chunks)", stats.Files, stats.Chunks)
	if stats.Errors > 0 {
		color.New(color.FgYellow).Fprintf(w, ", %d files failed", stats.Errors)
	}
	fmt.Fprintln(w)
}

func (s *session) printHistory() {
	turns := s.transcript.Recent(historyTurns)
	if len(turns) == 0 {
		fmt.Fprintln(s.out, "No history yet.")
		return
	}
	for _, m := range turns {
		fmt.Fprintf(s.out, "%s %s\n", turnLabel(m), truncate(oneLine(m.Content), historyChars))
	}
}

func turnLabel(m llm.Message) string {
	switch {
	case agent.IsToolResult(m):
		return "[Tool]"
	case m.Role == llm.RoleUser:
		return "[You]"
	default:
		return "[Agent]"
	}
}

func (s *session) printConfig() {
	cfg := s.app.cfg
	ag := s.app.agent
	fmt.Fprintf(s.out, "Model:           %s (%s)\n", ag.Model(), cfg.LLM.Provider)
	fmt.Fprintf(s.out, "Max steps:       %d\n", ag.MaxSteps())
	fmt.Fprintf(s.out, "Filesystem root: %s\n", cfg.Agent.FilesystemRoot)
	fmt.Fprintf(s.out, "Semantic search: %v\n", s.app.indexer != nil)
	statuses := s.app.manager.Statuses()
	if len(statuses) == 0 {
		fmt.Fprintln(s.out, "Providers:       none")
		return
	}
	fmt.Fprintln(s.out, "Providers:")
	for _, st := range statuses {
		line := fmt.Sprintf("  %s: %s, %d capabilities", st.Name, st.State, st.Capabilities)
		if st.Err != nil {
			s.app.renderer.failed.Fprintf(s.out, "%s (%v)\n", line, st.Err)
			continue
		}
		fmt.Fprintln(s.out, line)
	}
}

func (s *session) printRuns(ctx context.Context, limit int) {
	runs, err := s.app.journal.List(ctx, journal.Filter{Limit: limit})
	if err != nil {
		reportError(s.app.stderr, err, s.app.json)
		return
	}
	if len(runs) == 0 {
		fmt.Fprintln(s.out, "No runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(s.out, "%s  %-9s %2d steps  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Steps, truncate(oneLine(r.Task), 60))
	}
}
