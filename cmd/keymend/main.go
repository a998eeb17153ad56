// Package main is the CLI entry point for keymend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keymend/keymend/internal/config"
	"github.com/keymend/keymend/internal/domain"
	"github.com/keymend/keymend/internal/engine"
	"github.com/keymend/keymend/internal/probe"
	"github.com/keymend/keymend/internal/remedy"
	"github.com/keymend/keymend/internal/tui"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "keymend",
	Short: "Setup doctor for kanata keyboard remapping on macOS",
	Long: `keymend inspects a kanata keyboard remapping setup and repairs it.
It checks macOS input permissions, Homebrew components, the Karabiner
virtual keyboard driver, launchd services and conflicting keyboard
grabbers, then reports what is broken and fixes what is safe to fix.`,
	Version: Version,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the keyboard setup",
	Long: `Runs one reconciliation pass and reports the overall state, every
detected issue and the recommended fixes, without changing anything.
Use --json for machine-readable output.`,
	RunE: runDoctor,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which fixes would be applied",
	Long:  `Runs one reconciliation pass and lists the auto-fix actions 'keymend fix' would execute, without executing them.`,
	RunE:  runPlan,
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Apply the recommended fixes",
	Long: `Runs one reconciliation pass, executes every recommended auto-fix
action against the observed snapshot, then re-checks and reports the
resulting state. Only safe actions are ever recommended; anything that
needs a manual step (granting permissions, installing the driver) is
reported with instructions instead.`,
	RunE: runFix,
}

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long: `Walks through the keyboard setup interactively: permissions,
components, services. Re-checks the system after every step and moves
to the next unresolved page until the setup is active.`,
	RunE: runWizard,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default ~/.config/keymend/config.toml)")
	doctorCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full pass result as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(wizardCmd)
	rootCmd.AddCommand(versionCmd)
}

// toolkit bundles everything a command needs, wired once from the settings
// file.
type toolkit struct {
	cfg      config.Config
	engine   *engine.Engine
	executor domain.FixExecutor
	logger   *zap.Logger
}

func buildToolkit() (*toolkit, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := createLogger(cfg)

	checker := &probe.RealFileChecker{}
	kanataBinary := probe.DiscoverKanata(checker, cfg.KanataBinary)

	pm := probe.NewProcessManager()
	sm := probe.NewServiceManager(cfg, kanataBinary, logger)

	probes := engine.Probes{
		Conflicts:     probe.NewConflictProbe(pm, sm, true, logger),
		Permissions:   probe.NewTCCPermissionProbe(kanataBinary, logger),
		Components:    probe.NewComponentProbe(pm, sm, cfg.KanataBinary, cfg.KanataConfig, logger),
		Health:        probe.NewHealthProbe(pm, cfg.KanataStdoutLog(), cfg.TCPPort, logger),
		Compatibility: probe.NewCompatibilityProbe(logger),
		Orphans:       probe.NewOrphanProbe(pm, sm, cfg.KanataConfig, logger),
	}

	eng := engine.New(probes, engine.Options{}, logger)
	executor := remedy.NewExecutor(pm, sm, probe.NewBrewInstaller(logger), logger)

	return &toolkit{cfg: cfg, engine: eng, executor: executor, logger: logger}, nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	tk, err := buildToolkit()
	if err != nil {
		return err
	}
	defer func() { _ = tk.logger.Sync() }()

	result, err := tk.engine.Reconcile(context.Background())
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println("\n=== keymend Doctor ===")
	fmt.Printf("State: %s\n", result.State)
	printIssues(result.Issues)

	if len(result.Actions) > 0 {
		fmt.Printf("\nRecommended fixes (%d):\n", len(result.Actions))
		for _, a := range result.Actions {
			fmt.Printf("  - %s\n", a)
		}
		fmt.Println("\nRun 'keymend fix' to apply them.")
	} else if result.State.Blocked() {
		fmt.Println("\nNo automatic fix available; follow the manual steps above.")
	}

	fmt.Println("======================")
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	tk, err := buildToolkit()
	if err != nil {
		return err
	}
	defer func() { _ = tk.logger.Sync() }()

	result, err := tk.engine.Reconcile(context.Background())
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	fmt.Println("\n=== keymend Plan ===")
	fmt.Printf("State: %s\n", result.State)

	if len(result.Actions) == 0 {
		fmt.Println("\nNothing to do.")
	} else {
		fmt.Printf("\nWould apply %d fixes:\n", len(result.Actions))
		for _, a := range result.Actions {
			fmt.Printf("  - %s\n", a)
		}
	}

	fmt.Println("====================")
	return nil
}

func runFix(cmd *cobra.Command, args []string) error {
	tk, err := buildToolkit()
	if err != nil {
		return err
	}
	defer func() { _ = tk.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := tk.engine.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	fmt.Println("\n=== keymend Fix ===")
	fmt.Printf("State: %s\n", result.State)

	if len(result.Actions) == 0 {
		fmt.Println("\nNothing to fix.")
		printManualSteps(result.Issues)
		fmt.Println("===================")
		return nil
	}

	fmt.Printf("\nApplying %d fixes:\n", len(result.Actions))
	failed := 0
	for _, action := range result.Actions {
		outcome := tk.executor.Execute(ctx, action, &result.Snapshot)
		if outcome.Success {
			fmt.Printf("  %s ... ok\n", action)
		} else {
			failed++
			fmt.Printf("  %s ... failed: %s\n", action, outcome.Reason)
		}
	}

	fmt.Println("\nRe-checking...")
	after, err := tk.engine.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("re-check failed: %w", err)
	}
	fmt.Printf("State: %s\n", after.State)
	printManualSteps(after.Issues)

	fmt.Println("===================")
	if failed > 0 {
		return fmt.Errorf("%d of %d fixes failed", failed, len(result.Actions))
	}
	return nil
}

func runWizard(cmd *cobra.Command, args []string) error {
	tk, err := buildToolkit()
	if err != nil {
		return err
	}
	defer func() { _ = tk.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return tui.Run(ctx, tk.engine, tk.executor, tk.logger)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("keymend %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func printIssues(issues []domain.Issue) {
	if len(issues) == 0 {
		fmt.Println("\nNo issues found.")
		return
	}

	fmt.Printf("\nIssues (%d):\n", len(issues))
	for _, is := range issues {
		fmt.Printf("\n[%s] %s\n", is.Severity, is.Title)
		fmt.Printf("  %s\n", is.Description)
		if is.AutoFix != nil {
			fmt.Printf("  Auto-fix: %s\n", is.AutoFix)
		}
		if is.Instruction != "" {
			fmt.Printf("  Manual step: %s\n", is.Instruction)
		}
	}
}

// printManualSteps lists the issues that survived fixing because they need
// the user to act.
func printManualSteps(issues []domain.Issue) {
	var manual []domain.Issue
	for _, is := range issues {
		if is.AutoFix == nil && is.Instruction != "" {
			manual = append(manual, is)
		}
	}
	if len(manual) == 0 {
		return
	}
	fmt.Println("\nManual steps remaining:")
	for _, is := range manual {
		fmt.Printf("  - %s: %s\n", is.Title, is.Instruction)
	}
}

func createLogger(cfg config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{cfg.AppLogPath()}
	zc.ErrorOutputPaths = []string{cfg.AppLogPath()}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
