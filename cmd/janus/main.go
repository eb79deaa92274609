package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LeeSinLiang/Janus-sub000/internal/app"
	"github.com/LeeSinLiang/Janus-sub000/internal/config"
	"github.com/LeeSinLiang/Janus-sub000/internal/db"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "janus",
	Short: "Janus - trigger-driven content pipeline",
	Long: `Janus plans social media campaigns as a graph of posts, publishes A/B
variants and regenerates content when engagement triggers fire.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and background workers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE:  runMigrate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("janus version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openApp builds the application for one-shot commands. Tasks they enqueue
// are picked up by the next serve process; the task store is locked while
// a server is running.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	fmt.Printf("%s database schema is up to date (%s)\n", color.New(color.FgGreen).Sprint("OK"), cfg.Database.Path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("%s %v\n", color.New(color.FgRed).Sprint("INVALID"), err)
		return fmt.Errorf("configuration is invalid")
	}

	llmMode := cfg.LLM.Endpoint
	if cfg.UseMockLLM() {
		llmMode = color.New(color.FgYellow).Sprint("mock")
	}

	fmt.Printf("%s configuration is valid\n", color.New(color.FgGreen).Sprint("OK"))
	fmt.Printf("  API:      %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Queue:    %s (%d workers)\n", cfg.Queue.Path, cfg.Queue.Workers)
	fmt.Printf("  LLM:      %s\n", llmMode)
	fmt.Printf("  Platform: %s\n", cfg.Platform.BaseURL)
	fmt.Printf("  Poller:   %s\n", enabledString(cfg.Poller.Enabled, cfg.Poller.Interval.String()))
	fmt.Printf("  Metrics:  %s\n", enabledString(cfg.Metrics.Enabled, cfg.Metrics.ListenAddr))
	fmt.Printf("  Notify:   %s\n", enabledString(cfg.Notify.Enabled, cfg.Notify.SMTPAddr))

	return nil
}

func enabledString(enabled bool, detail string) string {
	if !enabled {
		return color.New(color.FgYellow).Sprint("disabled")
	}
	return detail
}
