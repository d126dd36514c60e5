// ABOUTME: CLI entry point for hookstate, invoked once per hook operation
// ABOUTME: Maps subcommands onto the agent, batch, and failure trackers

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/hookstate/internal/config"
	"github.com/2389/hookstate/internal/failures"
	"github.com/2389/hookstate/internal/state"
	"github.com/2389/hookstate/internal/track"
)

// Version is set by goreleaser at build time.
var version = "dev"

// app bundles the trackers one invocation needs.
type app struct {
	cfg      *config.Config
	store    *state.SQLiteStore
	tracker  *track.Tracker
	failures *failures.Tracker
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "--version":
		fmt.Println(version)
		return
	case "is-test-command":
		// Pure classification, no store needed.
		runClassify(args)
		return
	}

	cfg := config.LoadOrDefault(config.Path())
	setupLogging(cfg.Logging.Level)

	store, err := state.NewSQLiteStore(cfg.Database.Path, state.RetryPolicy{
		Attempts:    cfg.Lock.Attempts,
		BackoffBase: cfg.Lock.BackoffBase,
		BackoffCap:  cfg.Lock.BackoffCap,
	})
	if err != nil {
		// Advisory subsystem: a broken store must not fail the hook.
		slog.Warn("opening state store", "error", err)
		return
	}
	defer store.Close()

	session := os.Getenv("HOOKSTATE_SESSION")
	if session == "" {
		session = "default"
	}

	a := &app{
		cfg:   cfg,
		store: store,
		tracker: track.New(store, session).
			WithTTL(cfg.Session.TTL).
			WithMaxDuration(cfg.Sanity.MaxDuration),
		failures: failures.New(store, session).
			WithTTL(cfg.Session.WarnTTL).
			WithThresholds(cfg.Failures.Thresholds).
			WithRingSize(cfg.Failures.RingSize),
	}

	ctx := context.Background()

	switch cmd {
	case "register-agent":
		a.cmdRegisterAgent(ctx, args)
	case "find-agent":
		a.cmdFindAgent(ctx, args)
	case "complete-agent":
		a.cmdCompleteAgent(ctx, args)
	case "agent-info":
		a.cmdAgentInfo(ctx, args)
	case "agent-count":
		fmt.Println(a.tracker.GetAgentCount(ctx))
	case "agent-batch":
		a.cmdAgentBatch(ctx, args)
	case "register-batch":
		a.cmdRegisterBatch(ctx, args)
	case "batch-complete":
		a.cmdBatchComplete(ctx, args)
	case "batch-summary":
		a.cmdBatchSummary(ctx, args)
	case "track-failure":
		a.cmdTrackFailure(ctx, args)
	case "clear-failures":
		a.cmdClearFailures(ctx, args)
	case "failure-count":
		a.cmdFailureCount(ctx, args)
	case "should-escalate":
		a.cmdShouldEscalate(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

// setupLogging routes slog to stderr at the configured level so stdout
// stays parseable by the hook scripts.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func runClassify(args []string) {
	fs := flag.NewFlagSet("is-test-command", flag.ContinueOnError)
	command := fs.String("command", "", "shell command to classify")
	if fs.Parse(args) != nil {
		return
	}

	if fw, ok := failures.IsTestCommand(*command); ok {
		fmt.Println(fw)
	}
}

func (a *app) cmdRegisterAgent(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("register-agent", flag.ContinueOnError)
	description := fs.String("description", "", "agent task description")
	subagentType := fs.String("type", "", "subagent type")
	model := fs.String("model", "", "model the agent runs on")
	batchID := fs.String("batch", "", "batch id for parallel dispatches")
	if fs.Parse(args) != nil {
		return
	}

	fmt.Println(a.tracker.RegisterAgent(ctx, *description, *subagentType, *model, *batchID))
}

func (a *app) cmdFindAgent(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("find-agent", flag.ContinueOnError)
	description := fs.String("description", "", "description to resolve")
	if fs.Parse(args) != nil {
		return
	}

	if id := a.tracker.FindAgentByDescription(ctx, *description); id != "" {
		fmt.Println(id)
	}
}

func (a *app) cmdCompleteAgent(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("complete-agent", flag.ContinueOnError)
	id := fs.String("id", "", "agent id")
	status := fs.String("status", track.StatusSuccess, "terminal status (success, error, timeout)")
	durationMS := fs.Int64("duration-ms", 0, "observed duration in milliseconds")
	preview := fs.String("preview", "", "result preview text")
	if fs.Parse(args) != nil {
		return
	}

	a.tracker.CompleteAgentTracking(ctx, *id, *status, *durationMS, *preview)
}

func (a *app) cmdAgentInfo(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("agent-info", flag.ContinueOnError)
	id := fs.String("id", "", "agent id")
	if fs.Parse(args) != nil {
		return
	}

	rec, ok := a.tracker.GetAgentInfo(ctx, *id)
	if !ok {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", rec.ID)
	fmt.Fprintf(w, "description\t%s\n", rec.Description)
	fmt.Fprintf(w, "type\t%s\n", rec.SubagentType)
	fmt.Fprintf(w, "model\t%s\n", rec.Model)
	fmt.Fprintf(w, "status\t%s\n", rec.Status)
	if rec.BatchID != "" {
		fmt.Fprintf(w, "batch\t%s\n", rec.BatchID)
	}
	if rec.DurationMS > 0 {
		fmt.Fprintf(w, "duration\t%s\n", formatDuration(rec.DurationMS))
	}
	w.Flush()
}

func (a *app) cmdAgentBatch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("agent-batch", flag.ContinueOnError)
	id := fs.String("id", "", "agent id")
	if fs.Parse(args) != nil {
		return
	}

	if batchID := a.tracker.GetAgentBatch(ctx, *id); batchID != "" {
		fmt.Println(batchID)
	}
}

func (a *app) cmdRegisterBatch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("register-batch", flag.ContinueOnError)
	expected := fs.Int("expected", 0, "number of agents dispatched together")
	if fs.Parse(args) != nil {
		return
	}

	fmt.Println(a.tracker.RegisterBatch(ctx, *expected))
}

func (a *app) cmdBatchComplete(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("batch-complete", flag.ContinueOnError)
	id := fs.String("id", "", "batch id")
	if fs.Parse(args) != nil {
		return
	}

	fmt.Println(a.tracker.IsBatchComplete(ctx, *id))
}

func (a *app) cmdBatchSummary(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("batch-summary", flag.ContinueOnError)
	id := fs.String("id", "", "batch id")
	if fs.Parse(args) != nil {
		return
	}

	summary, ok := a.tracker.GetBatchSummary(ctx, *id)
	if !ok {
		return
	}

	bold := color.New(color.Bold)
	bold.Printf("Batch %s: %d/%d complete\n", summary.BatchID, summary.CompletedCount, summary.ExpectedCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tDURATION\tDESCRIPTION")
	for _, agent := range summary.Agents {
		duration := "?"
		if agent.DurationMS > 0 {
			duration = formatDuration(agent.DurationMS)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", agent.ID, agent.Status, duration, agent.Description)
	}
	w.Flush()

	if summary.MaxDurationMS > 0 {
		fmt.Printf("wall clock: %s  sequential: %s  ", formatDuration(summary.MaxDurationMS), formatDuration(summary.SumDurationMS))
		color.Green("speedup: %.1fx", summary.Speedup)
	}
	if summary.Discarded > 0 {
		color.Yellow("%d duration reading(s) discarded as implausible", summary.Discarded)
	}
}

func (a *app) cmdTrackFailure(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("track-failure", flag.ContinueOnError)
	category := fs.String("category", "", "failure category (debug, test, ...)")
	command := fs.String("command", "", "failing command")
	exitCode := fs.Int("exit-code", 1, "exit code of the failing command")
	snippet := fs.String("snippet", "", "output snippet for context")
	if fs.Parse(args) != nil {
		return
	}

	a.failures.TrackFailure(ctx, *category, *command, *exitCode, *snippet)
}

func (a *app) cmdClearFailures(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("clear-failures", flag.ContinueOnError)
	category := fs.String("category", "", "failure category")
	if fs.Parse(args) != nil {
		return
	}

	a.failures.ClearFailures(ctx, *category)
}

func (a *app) cmdFailureCount(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("failure-count", flag.ContinueOnError)
	category := fs.String("category", "", "failure category")
	if fs.Parse(args) != nil {
		return
	}

	fmt.Println(a.failures.GetFailureCount(ctx, *category))
}

func (a *app) cmdShouldEscalate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("should-escalate", flag.ContinueOnError)
	category := fs.String("category", "", "failure category")
	if fs.Parse(args) != nil {
		return
	}

	fmt.Println(a.failures.ShouldEscalate(ctx, *category))
}

// formatDuration renders milliseconds the way the summaries read best:
// sub-second values in ms, everything else in seconds.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("hookstate - cross-process dispatch tracking for assistant hooks")
	fmt.Println()
	fmt.Println("Usage: hookstate <command> [flags]")
	fmt.Println()
	yellow.Println("Agent tracking:")
	fmt.Println("  register-agent --description D --type T --model M [--batch B]")
	fmt.Println("  find-agent --description D")
	fmt.Println("  complete-agent --id A --status S --duration-ms N [--preview P]")
	fmt.Println("  agent-info --id A")
	fmt.Println("  agent-count")
	fmt.Println("  agent-batch --id A")
	fmt.Println()
	yellow.Println("Batch tracking:")
	fmt.Println("  register-batch --expected N")
	fmt.Println("  batch-complete --id B")
	fmt.Println("  batch-summary --id B")
	fmt.Println()
	yellow.Println("Failure thresholds:")
	fmt.Println("  is-test-command --command C")
	fmt.Println("  track-failure --category C --command CMD --exit-code N [--snippet S]")
	fmt.Println("  clear-failures --category C")
	fmt.Println("  failure-count --category C")
	fmt.Println("  should-escalate --category C")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HOOKSTATE_SESSION   Session namespace for all state (default: default)")
	fmt.Println("  HOOKSTATE_CONFIG    Config file path (default: ~/.config/hookstate/hookstate.yaml)")
	fmt.Println()
}
