package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revy/internal/logging"
	"github.com/joescharf/revy/internal/output"
	"github.com/joescharf/revy/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "revy",
	Short: "Automated pull request reviews",
	Long: `revy reviews GitHub pull requests with an LLM.
It listens for pull request webhooks, analyzes each changed file,
stores the review and posts a summary comment back to the pull request.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/revy/config.yaml)")
}

func initConfig() {
	// .env in the working directory, if any; real environment wins.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default, rooted at dir.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", filepath.Join(dir, "revy.db"))
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.webhook_secret", "")
	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("github.timeout", "30s")
	viper.SetDefault("github.rate_limit", 10.0)
	viper.SetDefault("agent.concurrency", 4)
	viper.SetDefault("review.summary_max_chars", 500)
	viper.SetDefault("review.comment_max_issues", 10)
	viper.SetDefault("worker.count", 2)
	viper.SetDefault("worker.queue_size", 64)
	viper.SetDefault("store.timeout", "10s")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logging.New(level, viper.GetString("log.format"), os.Stderr)
	if err != nil {
		ui.Warning("Invalid logging config (%v), using defaults", err)
		l, _ = logging.New("info", "text", os.Stderr)
	}
	logger = l
	slog.SetDefault(logger)

	// Store is opened lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	ctx := context.Background()

	var s store.Store
	switch driver := viper.GetString("db.driver"); driver {
	case "", "sqlite":
		sq, err := store.NewSQLiteStore(viper.GetString("db.path"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s = sq
	case "postgres":
		dsn := viper.GetString("db.dsn")
		if dsn == "" {
			return nil, fmt.Errorf("db.dsn is required for the postgres driver")
		}
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s = pg
	default:
		return nil, fmt.Errorf("unknown db.driver %q (sqlite or postgres)", driver)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
