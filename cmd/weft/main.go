// Weft command line entry point.
//
// Usage:
//
//	weft run --plan plan.yaml                 # run a task plan
//	weft run --plan plan.yaml --config weft.yaml
//	weft version                              # show version info
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/weft-ai/weft/config"
	"github.com/weft-ai/weft/graph"
	"github.com/weft-ai/weft/internal/metrics"
	"github.com/weft-ai/weft/orchestrator"
	"github.com/weft-ai/weft/persistence"
	"github.com/weft-ai/weft/replan"
	"github.com/weft-ai/weft/types"
)

// Version info, injected at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPlan(os.Args[2:])
	case "audit":
		showAudit(os.Args[2:])
	case "version":
		fmt.Printf("weft %s (%s)\n", Version, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage:
  weft run --plan <plan.yaml> [--config <weft.yaml>] [--project <id>]
  weft audit [--config <weft.yaml>] [--limit <n>]
  weft version
  weft help`)
}

// planFile is the on-disk task plan format.
type planFile struct {
	Project string `yaml:"project"`
	Tasks   []struct {
		ID           string   `yaml:"id"`
		Description  string   `yaml:"description"`
		Kind         string   `yaml:"kind"`
		Command      string   `yaml:"command"`
		Dependencies []string `yaml:"dependencies"`
		MaxRetries   int      `yaml:"max_retries"`
	} `yaml:"tasks"`
}

func runPlan(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	planPath := fs.String("plan", "", "Path to the task plan file")
	configPath := fs.String("config", "", "Path to the config file")
	projectID := fs.String("project", "", "Project ID (defaults to the plan's project field)")
	fs.Parse(args)

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "run: --plan is required")
		os.Exit(1)
	}

	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	plan, commands, err := loadPlan(*planPath)
	if err != nil {
		logger.Fatal("failed to load plan", zap.String("path", *planPath), zap.Error(err))
	}

	id := *projectID
	if id == "" {
		id = plan.Project
	}
	if id == "" {
		id = "weft-run"
	}

	store, err := persistence.NewProjectStore(cfg.PersistenceConfig())
	if err != nil {
		logger.Fatal("failed to create project store", zap.Error(err))
	}
	defer store.Close()

	g := graph.New()
	for _, entry := range plan.Tasks {
		kind := types.TaskKind(entry.Kind)
		if entry.Kind == "" {
			kind = types.TaskKindGeneric
		}
		maxRetries := entry.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 3
		}
		g.AddTask(&types.Task{
			ID:           entry.ID,
			Description:  entry.Description,
			Kind:         kind,
			Status:       types.TaskStatusPending,
			Dependencies: entry.Dependencies,
			MaxRetries:   maxRetries,
		})
	}
	if g.HasCycle() {
		logger.Fatal("plan contains a dependency cycle")
	}

	executor := &shellExecutor{commands: commands, logger: logger}
	policy := replan.NewPolicy(logger, replan.WithMaxReplans(cfg.Orchestrator.MaxReplans))

	opts := []orchestrator.Option{
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
	}
	if cfg.Orchestrator.BatchMode {
		opts = append(opts, orchestrator.WithBatchMode())
	}
	if cfg.Orchestrator.DispatchRPS > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Orchestrator.DispatchRPS), 1)
		opts = append(opts, orchestrator.WithDispatchLimiter(limiter))
	}
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
		opts = append(opts, orchestrator.WithMetrics(collector))
	}

	o := orchestrator.New(id, g, executor, &exitCodeValidator{}, policy, store, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := o.Run(ctx)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	logger.Info("run finished",
		zap.String("status", string(report.Status)),
		zap.Int("completed", len(report.CompletedIDs)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("iterations", report.Iterations),
	)
	if report.Status != types.ProjectStatusCompleted {
		os.Exit(1)
	}
}

// showAudit prints recent handoff audit records from the configured store.
func showAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the config file")
	limit := fs.Int("limit", 20, "Maximum records to show")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := persistence.NewSQLiteAuditStore(cfg.Audit.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open audit store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	recs, err := store.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read audit history: %v\n", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("no handoff records")
		return
	}

	for _, rec := range recs {
		fmt.Printf("%s  %-20s %-12s %s -> %s  %dms",
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
			rec.Kind, rec.Status, rec.SenderID, rec.ReceiverID, rec.DurationMs)
		if rec.Error != "" {
			fmt.Printf("  (%s)", rec.Error)
		}
		fmt.Println()
	}
}

func loadPlan(path string) (*planFile, *planCommands, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, nil, fmt.Errorf("plan has no tasks")
	}

	commands := &planCommands{
		byID:          make(map[string]string, len(plan.Tasks)),
		byDescription: make(map[string]string, len(plan.Tasks)),
	}
	for _, task := range plan.Tasks {
		if task.ID == "" {
			return nil, nil, fmt.Errorf("plan task without an id")
		}
		if task.Command == "" {
			return nil, nil, fmt.Errorf("task %q has no command", task.ID)
		}
		commands.byID[task.ID] = task.Command
		commands.byDescription[task.Description] = task.Command
	}
	return &plan, commands, nil
}

// planCommands resolves a task to its plan command. Replanned substitutes
// carry generated IDs, so resolution falls back to the lineage root's
// description.
type planCommands struct {
	byID          map[string]string
	byDescription map[string]string
}

func (p *planCommands) lookup(task *types.Task) (string, bool) {
	if command, ok := p.byID[task.ID]; ok {
		return command, true
	}
	command, ok := p.byDescription[task.Root()]
	return command, ok
}

// shellExecutor runs each task's plan command through the shell.
type shellExecutor struct {
	commands *planCommands
	logger   *zap.Logger
}

func (e *shellExecutor) Execute(ctx context.Context, task *types.Task) (*types.ExecutionResult, error) {
	command, ok := e.commands.lookup(task)
	if !ok {
		return nil, fmt.Errorf("no command for task %q", task.ID)
	}

	e.logger.Info("executing task", zap.String("task_id", task.ID), zap.String("command", command))

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	stdout, err := cmd.Output()
	result := &types.ExecutionResult{Stdout: string(stdout)}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Stderr = string(exitErr.Stderr)
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// exitCodeValidator passes any attempt that exited zero.
type exitCodeValidator struct{}

func (v *exitCodeValidator) Validate(_ context.Context, _ *types.Task, result *types.ExecutionResult) (*types.ValidationResult, error) {
	if result.ExitCode == 0 {
		return &types.ValidationResult{Passed: true}, nil
	}
	return &types.ValidationResult{
		Passed: false,
		Issues: []string{fmt.Sprintf("command exited %d: %s", result.ExitCode, result.Stderr)},
	}, nil
}
