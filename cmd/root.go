package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facescan/internal/config"
	"github.com/andresmejia3/facescan/internal/logging"
	"github.com/andresmejia3/facescan/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Command annotations read by the root command.
const (
	// annotationJSON marks commands whose failures are reported as a JSON payload on stdout.
	annotationJSON = "facescan/json"
	// annotationDB is "optional" or "required" for commands that use the results store.
	annotationDB = "facescan/db"

	dbOptional = "optional"
	dbRequired = "required"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Logger writes diagnostics to stderr
	Logger *zap.Logger
	// DB is the results store, nil when no database is configured
	DB *store.Store

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facescan",
	Short:         "Find known people in a video by face embedding",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	// Running without a command is a malformed invocation.
	RunE: func(cmd *cobra.Command, args []string) error {
		return &usageError{err: errors.New("no command given")}
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		if dbURL != "" {
			cfg.DatabaseURL = dbURL
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		Cfg, Logger = cfg, logger

		switch cmd.Annotations[annotationDB] {
		case dbRequired:
			if cfg.DatabaseURL == "" {
				return store.ErrNoDatabase
			}
		case dbOptional:
			if cfg.DatabaseURL == "" {
				return nil
			}
		default:
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			if cmd.Annotations[annotationDB] == dbOptional {
				logger.Warn("results store unavailable, run will not be recorded", zap.Error(err))
				DB = nil
				return nil
			}
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
		if Logger != nil {
			_ = Logger.Sync()
		}
	},
}

var errConfig = errors.New("invalid configuration")

// Execute runs the CLI and exits non-zero on any failure.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code. Commands
// annotated for JSON output always leave a payload on stdout.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	if cmd != nil && cmd.Annotations[annotationJSON] != "" {
		if werr := writeFailure(stdout, err); werr != nil {
			fmt.Fprintln(stderr, werr)
		}
	}
	fmt.Fprintln(stderr, "Error:", err)
	if cmd != nil && isUsageError(err) {
		fmt.Fprintln(stderr, cmd.UsageString())
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for recording runs (env FACESCAN_DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
}
