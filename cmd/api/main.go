package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"xhs-scraper/internal/api"
	"xhs-scraper/internal/config"
	"xhs-scraper/internal/database"
	"xhs-scraper/internal/monitoring"
	"xhs-scraper/internal/utils"
)

var (
	configFile string
	port       int
)

var rootCmd = &cobra.Command{
	Use:          "api",
	Short:        "Serves collected Xiaohongshu notes over HTTP.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "Configuration file path")
	rootCmd.Flags().IntVar(&port, "port", 0, "API server port (defaults to api.port from config)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return err
	}

	if port == 0 {
		port = cfg.API.Port
	}
	monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)
	server := api.NewServer(db, monitor, logger, strconv.Itoa(port))

	logger.Info("Available endpoints:")
	logger.Info("  GET  /api/notes - List notes with pagination (?keyword=&page=&page_size=)")
	logger.Info("  GET  /api/notes/:id - Get a single note")
	logger.Info("  GET  /api/stats - Get crawl statistics")
	logger.Info("  GET  /api/export/csv - Export notes to CSV")
	logger.Info("  GET  /api/health - Health check")

	return server.Start()
}
