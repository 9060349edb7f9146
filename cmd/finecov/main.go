package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/finecov/internal/migrate"
	"github.com/ethpandaops/finecov/internal/report"
	"github.com/ethpandaops/finecov/internal/session"
	"github.com/ethpandaops/finecov/internal/shim"
	"github.com/ethpandaops/finecov/internal/version"
)

type options struct {
	cfgFile  string
	logLevel string
	module   bool
	cov      string
	format   string
	output   string
	python   string
	profile  bool

	newMigrator migratorFunc
}

// exitCode is the status the process ends with after a successful run.
var exitCode int

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode)
}

func rootCmd() *cobra.Command {
	return newRootCmd(&options{newMigrator: migrate.New})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finecov [flags] <script.py | -m module> [args...]",
		Short: "Sub-line code coverage for Python programs",
		Long: `finecov runs a Python program under the interpreter's trace hooks and
counts how often every source range executes, down to individual
expressions on a line. Everything after the target name is passed to
the program unchanged.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	// Flags after the target belong to the target.
	cmd.Flags().SetInterspersed(false)

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"override log level (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&opts.module, "module", "m", false,
		"run the target as a module, like python -m")
	cmd.Flags().StringVar(&opts.cov, "cov", "",
		"only measure files in this package or directory")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "",
		fmt.Sprintf("report format %v", report.Formats))
	cmd.Flags().StringVarP(&opts.output, "output", "o", "",
		"write the report to a file instead of stdout")
	cmd.Flags().StringVar(&opts.python, "python", "", "interpreter to run the target with")
	cmd.Flags().BoolVar(&opts.profile, "profile", false,
		"also count calls, including native functions")

	cmd.AddCommand(versionCmd(), migrateCmd(opts))

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// applyFlags overrides config file values with explicitly set flags.
func applyFlags(cmd *cobra.Command, opts *options, cfg *session.Config) {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}

	if flags.Changed("cov") {
		cfg.Cov = opts.cov
	}

	if flags.Changed("format") {
		cfg.Report.Format = opts.format
	}

	if flags.Changed("output") {
		cfg.Report.Output = opts.output
	}

	if flags.Changed("python") {
		cfg.Shim.Python = opts.python
	}

	if flags.Changed("profile") {
		cfg.Shim.Profile = opts.profile
	}
}

// setup loads the config file, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, opts *options) (*session.Config, *logrus.Logger, io.Closer, error) {
	cfg, err := session.LoadConfig(opts.cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	applyFlags(cmd, opts, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("validating config: %w", err)
	}

	log, closer, err := session.NewLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, log, closer, nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, log, closer, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	s, err := session.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	target := shim.Target{
		Name:   args[0],
		Module: opts.module,
		Args:   args[1:],
	}

	log.WithField("version", version.Short()).Debug("Starting finecov")

	res, err := s.Run(ctx, target)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted")
		}

		return err
	}

	exitCode = res.ExitCode

	return nil
}
