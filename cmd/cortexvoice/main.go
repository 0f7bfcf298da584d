// Package main is the entry point for the cortexvoice server.
// It loads configuration, wires providers and serves voice sessions over websocket.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/domain"
	"github.com/normanking/cortexvoice/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool

	cfg *config.Config
	log *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexvoice",
		Short: "Voice front-end for a local assistant",
		Long: `cortexvoice turns speech into commands or model replies and speaks the answer back.

Start the server:      cortexvoice serve
Check a command:       cortexvoice classify "add milk to my todo list"
Check domain routing:  cortexvoice route "what dose of ibuprofen is safe"`,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexvoice/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cortexvoice v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(routeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp loads the config and starts logging before any subcommand runs.
func initApp(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := logging.LogLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	log, err = logging.New(logging.Config{
		Dir:        cfg.Logging.Dir,
		Level:      level,
		MaxHistory: cfg.Logging.MaxHistory,
		Console:    cfg.Logging.Console && cmd.Name() == "serve",
	})
	if err != nil {
		return fmt.Errorf("failed to start logging: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DEBUG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func classifyCmd() *cobra.Command {
	var cascadeOnly bool
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the command a sentence resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disabled, err := command.ParseKinds(cfg.Commands.Disabled)
			if err != nil {
				return err
			}
			var primary command.Classifier
			if cfg.Classifier.Enabled && !cascadeOnly {
				primary = newClassifier(newOllama(cfg), cfg, disabled, log.Zerolog())
			}
			resolver := command.NewResolver(primary, command.NewCascade(), disabled, log.Zerolog())

			c, source := resolver.Resolve(cmd.Context(), strings.Join(args, " "))
			return printJSON(struct {
				Command command.Command `json:"command"`
				Source  command.Source  `json:"source"`
			}{c, source})
		},
	}
	cmd.Flags().BoolVar(&cascadeOnly, "cascade-only", false, "skip the model classifier")
	return cmd
}

func routeCmd() *cobra.Command {
	var breakdown bool
	cmd := &cobra.Command{
		Use:   "route <text>",
		Short: "Show which domain specialist a sentence routes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := domain.NewRouter(cfg.Router.Domains, domain.WithThreshold(cfg.Router.Threshold))
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if breakdown {
				return printJSON(router.Breakdown(text))
			}
			return printJSON(router.Score(text))
		},
	}
	cmd.Flags().BoolVar(&breakdown, "all", false, "show the score for every domain")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newClassifier(caller command.ToolCaller, cfg *config.Config, disabled []command.Kind, logger zerolog.Logger) *command.ModelClassifier {
	return command.NewModelClassifier(caller, cfg.Classifier.Model, cfg.Classifier.Timeout,
		command.EnabledKinds(disabled), logger)
}
