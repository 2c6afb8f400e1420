// Package main implements the opsloop CLI for operating the feedback
// loop stores: the review queue, the knowledge base, the self-heal rules
// and the directive dispatcher.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	"github.com/fyrsmithlabs/opsloop/internal/logging"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

var version = "dev"

// readOnlyAnnotation marks commands that never write to the data
// directory. They run against a registry whose stores were not
// initialized.
const readOnlyAnnotation = "opsloop/read-only"

func readOnly() map[string]string {
	return map[string]string{readOnlyAnnotation: "true"}
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	out        io.Writer
	configPath string
	dataDir    string
	asJSON     bool

	logger   *logging.Logger
	registry *services.Registry
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "opsloop",
		Short: "Operate the opsloop feedback loop",
		Long: `opsloop inspects and drives the feedback loop stores.

Facts extracted from sessions wait in the review queue until a human
approves them; approved facts are then injected into the knowledge base.
Failure events feed self-heal rules that agents read as instructions.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./opsloop.yaml if present)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "override storage.data_dir")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print JSON output")

	root.AddCommand(
		a.healthCmd(),
		a.statsCmd(),
		a.versionsCmd(),
		a.processApprovedCmd(),
		a.rollbackCmd(),
		a.processSessionCmd(),
		a.queueCmd(),
		a.reviewCmd(),
		a.archiveCmd(),
		a.analyzeCmd(),
		a.instructionsCmd(),
		a.dispatchCmd(),
		a.monitorCmd(),
		a.mcpCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}

	logCfg, err := logging.FromConfig(cfg.Logging, "cli")
	if err != nil {
		return err
	}
	logCfg.Caller = false
	a.logger, err = logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.registry, err = services.Open(cfg, a.logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if cmd.Annotations[readOnlyAnnotation] != "" {
		return nil
	}
	if err := a.registry.Init(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Underlying().Warn("closing services", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// print writes v as indented JSON when --json is set, otherwise calls
// human.
func (a *app) print(v any, human func(w io.Writer)) error {
	if a.asJSON || human == nil {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(a.out)
	return nil
}
