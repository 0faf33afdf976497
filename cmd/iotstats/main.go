package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/pkg/config"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	verbose    bool
	quiet      bool
}

// setup loads and validates the configuration and builds the logger.
func (f *rootFlags) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, wrapConfigError(err, f.configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, wrapConfigError(err, f.configPath)
	}
	logger, err := newLogger(cfg.Log, f.verbose, f.quiet)
	if err != nil {
		return nil, nil, wrapConfigError(err, f.configPath)
	}
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "iotstats",
		Short: "Statistical analysis of IoT DDoS flow datasets",
		Long: `iotstats analyses labelled IoT network flow datasets (Normal vs DDoS traffic).

It describes every continuous flow feature, tests normality, estimates confidence
intervals, compares DDoS and Normal traffic with Welch t-tests, compares device
types with ANOVA and Tukey HSD, and fits a logistic model of DDoS membership.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default: iotstats.yaml in . or $HOME/.iotstats)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "Disable logging")

	cmd.AddCommand(newGenerateCmd(flags))
	cmd.AddCommand(newAnalyzeCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newRunsCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		if errors.Is(err, errStepsFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
