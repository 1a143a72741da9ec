package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/issuebot/internal/output"
	"github.com/joescharf/issuebot/internal/store"
	"github.com/joescharf/issuebot/internal/tracker"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	service   *tracker.Service

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "issuebot",
	Short: "Issue tracker for chat servers - projects, issues, statuses, tags",
	Long: `issuebot tracks issues for chat server (guild) communities.
Each guild has its own projects; each project numbers its issues
sequentially and carries its own status set, tags, and assignees.`,
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
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/issuebot/config.yaml)")
	rootCmd.PersistentFlags().String("guild", "", "Guild (chat server) ID, overrides the configured default")
	rootCmd.PersistentFlags().String("user", "", "Acting user ID, overrides the configured default")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "issuebot")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ISSUEBOT")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "issuebot")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "issuebot.db"))
	viper.SetDefault("guild", "")
	viper.SetDefault("user", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version commands run
	// without a database.
}

// getService returns the shared tracker service, opening the store on
// first call.
func getService() (*tracker.Service, error) {
	if service != nil {
		return service, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	service = tracker.New(s)
	return service, nil
}

// guildID resolves the guild for this invocation: the --guild flag if
// set, otherwise the configured default.
func guildID() (string, error) {
	if g, _ := rootCmd.PersistentFlags().GetString("guild"); g != "" {
		return g, nil
	}
	if g := viper.GetString("guild"); g != "" {
		return g, nil
	}
	return "", fmt.Errorf("no guild configured: pass --guild or set 'guild' in the config file")
}

// userID resolves the acting user: the --user flag if set, otherwise
// the configured default.
func userID() (string, error) {
	if u, _ := rootCmd.PersistentFlags().GetString("user"); u != "" {
		return u, nil
	}
	if u := viper.GetString("user"); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("no user configured: pass --user or set 'user' in the config file")
}
