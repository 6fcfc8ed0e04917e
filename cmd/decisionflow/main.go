package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/creditkit/decisionflow/internal/actions"
	"github.com/creditkit/decisionflow/internal/datasource"
	"github.com/creditkit/decisionflow/internal/diagram"
	"github.com/creditkit/decisionflow/internal/engine"
	"github.com/creditkit/decisionflow/internal/expressions"
	"github.com/creditkit/decisionflow/internal/logging"
	"github.com/creditkit/decisionflow/internal/rules"
	"github.com/creditkit/decisionflow/internal/scheduler"
	"github.com/creditkit/decisionflow/internal/secrets"
	"github.com/creditkit/decisionflow/internal/store"
	"github.com/creditkit/decisionflow/internal/streaming"
	"github.com/creditkit/decisionflow/internal/validation"
	"github.com/creditkit/decisionflow/pkg/schema"
)

const usage = `decisionflow — loan decisioning workflow engine

Usage:
  decisionflow validate <workflow.json>
  decisionflow run <workflow.json> [-input <input.json>]
  decisionflow history <workflow-id>
  decisionflow events <execution-id>
  decisionflow diagram <workflow.json> [-execution <execution-id>]
  decisionflow secret set <key> <value> | list | delete <key>
  decisionflow serve

Secrets require DECISIONFLOW_VAULT_PASSPHRASE to be set.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "run":
		err = cmdRun(cfg, logger, os.Args[2:])
	case "history":
		err = cmdHistory(cfg, logger, os.Args[2:])
	case "events":
		err = cmdEvents(cfg, logger, os.Args[2:])
	case "diagram":
		err = cmdDiagram(cfg, logger, os.Args[2:])
	case "secret":
		err = cmdSecret(cfg, logger, os.Args[2:])
	case "serve":
		err = cmdServe(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
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
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// runtime bundles the wired components behind the CLI commands.
type runtime struct {
	store     store.Store
	engine    *engine.Engine
	validator *validation.WorkflowValidator
	actions   *actions.Registry
}

func newRuntime(cfg Config, logger *slog.Logger) (*runtime, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		st.Close()
		return nil, err
	}

	actionReg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(actionReg); err != nil {
		st.Close()
		return nil, err
	}
	sourceReg := datasource.NewRegistry()
	if err := datasource.RegisterMocks(sourceReg); err != nil {
		st.Close()
		return nil, err
	}

	validator, err := validation.NewWorkflowValidator(actionReg)
	if err != nil {
		st.Close()
		return nil, err
	}

	executors := engine.NewExecutorSet(
		cel,
		expressions.NewExprEngine(),
		expressions.NewGoJQEngine(),
		rules.NewEvaluator(),
		actionReg,
		sourceReg,
	)
	if vault, err := openVault(st); err == nil && vault != nil {
		executors.WithVault(vault)
	}
	eng := engine.New(st, executors, engine.NewConnectorResolver(cel), engine.NewAsyncRegistry(), streaming.NewMemoryHub(), logger, engine.Config{
		MaxIterations:    cfg.MaxIterations,
		DefaultTimeout:   cfg.timeout(),
		ParallelBranches: cfg.Parallel,
	})

	return &runtime{store: st, engine: eng, validator: validator, actions: actionReg}, nil
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

func loadWorkflowFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &def, nil
}

func cmdValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: decisionflow validate <workflow.json>")
	}
	def, err := loadWorkflowFile(args[0])
	if err != nil {
		return err
	}

	// Validation alone needs no store or engine.
	validator, err := validation.NewWorkflowValidator(nil)
	if err != nil {
		return err
	}
	result := validator.Validate(def)
	printJSON(result)
	if !result.Valid() {
		return fmt.Errorf("workflow %q is invalid", def.ID)
	}
	return nil
}

func cmdRun(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputPath := fs.String("input", "", "path to a JSON input file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: decisionflow run <workflow.json> [-input <input.json>]")
	}

	def, err := loadWorkflowFile(fs.Arg(0))
	if err != nil {
		return err
	}

	var input map[string]any
	if *inputPath != "" {
		data, err := os.ReadFile(*inputPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("parse %s: %w", *inputPath, err)
		}
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.validator.ValidateDefinition(def); err != nil {
		return err
	}

	ctx := context.Background()
	if err := rt.store.CreateWorkflow(ctx, &store.WorkflowRecord{
		ID:         def.ID,
		Name:       def.Name,
		Definition: *def,
	}); err != nil {
		return err
	}

	result, err := rt.engine.Execute(ctx, def.ID, input, engine.Options{})
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func cmdHistory(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: decisionflow history <workflow-id>")
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	records, err := rt.engine.History(context.Background(), args[0])
	if err != nil {
		return err
	}
	printJSON(records)
	return nil
}

func cmdEvents(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: decisionflow events <execution-id>")
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	events, err := rt.engine.Events(context.Background(), args[0])
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

// cmdDiagram renders a workflow as a Mermaid flowchart, optionally
// overlaying the path and failures of a past execution.
func cmdDiagram(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	executionID := fs.String("execution", "", "execution id to overlay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: decisionflow diagram <workflow.json> [-execution <execution-id>]")
	}

	def, err := loadWorkflowFile(fs.Arg(0))
	if err != nil {
		return err
	}

	var rec *store.ExecutionRecord
	if *executionID != "" {
		rt, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.close()
		rec, err = rt.engine.Execution(context.Background(), *executionID)
		if err != nil {
			return err
		}
	}

	fmt.Println(diagram.RenderMermaid(diagram.Build(def, rec)))
	return nil
}

// openVault builds the credentials vault when a passphrase is
// configured. Returns nil without error when secrets are disabled.
func openVault(st store.Store) (secrets.Vault, error) {
	passphrase := os.Getenv("DECISIONFLOW_VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil
	}
	salt, err := loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: passphrase,
		Salt:       salt,
	})
}

// loadOrCreateSalt reads the per-installation PBKDF2 salt, generating
// one on first use.
func loadOrCreateSalt() ([]byte, error) {
	path := filepath.Join(decisionflowDir(), "vault.salt")
	if salt, err := os.ReadFile(path); err == nil && len(salt) > 0 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(decisionflowDir(), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

func cmdSecret(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: decisionflow secret set <key> <value> | list | delete <key>")
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	vault, err := openVault(rt.store)
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("secrets disabled: set DECISIONFLOW_VAULT_PASSPHRASE")
	}

	ctx := context.Background()
	switch args[0] {
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: decisionflow secret set <key> <value>")
		}
		return vault.Store(ctx, args[1], []byte(args[2]))
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: decisionflow secret delete <key>")
		}
		return vault.Delete(ctx, args[1])
	case "list":
		keys, err := vault.List(ctx)
		if err != nil {
			return err
		}
		printJSON(keys)
		return nil
	default:
		return fmt.Errorf("unknown secret subcommand %q", args[0])
	}
}

// cmdServe runs the scheduler loop until interrupted. Workflows and
// scheduled jobs are managed through the store.
func cmdServe(cfg Config, logger *slog.Logger) error {
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(rt.store, rt.engine, rt.engine.Async(), logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("failed to recover missed jobs", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return sched.Stop()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
