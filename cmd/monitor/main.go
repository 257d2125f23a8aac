package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"xhs-scraper/internal/config"
	"xhs-scraper/internal/database"
	"xhs-scraper/internal/monitoring"
	"xhs-scraper/internal/utils"
)

var (
	configFile  string
	metricsFile string
	showReport  bool
	showAlerts  bool
)

var rootCmd = &cobra.Command{
	Use:          "monitor",
	Short:        "Shows crawler health, reports and alerts.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "Configuration file path")
	rootCmd.Flags().StringVar(&metricsFile, "metrics", "", "Metrics file path (defaults to monitoring.metrics_file)")
	rootCmd.Flags().BoolVar(&showReport, "report", false, "Generate and display monitoring report")
	rootCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Check and display alerts")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := utils.NewLogger("warn", "")
	if err != nil {
		return err
	}
	defer closeLog()

	if metricsFile == "" {
		metricsFile = cfg.Monitoring.MetricsFile
	}
	monitor := monitoring.NewMonitor(logger, metricsFile)

	switch {
	case showReport:
		fmt.Println(monitor.GenerateReport())
		if cfg.Database.Enabled {
			printDatabaseStats(ctx, cfg, logger)
		}

	case showAlerts:
		alertManager := monitoring.NewAlertManager(monitor, logger)
		alerts := alertManager.CheckAlerts()
		if len(alerts) == 0 {
			fmt.Println("✅ No alerts - system is healthy")
			return nil
		}
		fmt.Println("⚠️  Active Alerts:")
		for _, alert := range alerts {
			fmt.Printf("  - %s\n", alert)
		}

	default:
		health := monitor.GetHealthStatus()
		fmt.Println("Xiaohongshu Crawler Status:")
		fmt.Printf("- Status: %s\n", health.Status)
		fmt.Printf("- Last Run: %s\n", health.LastRun)
		fmt.Printf("- Total Runs: %d\n", health.TotalRuns)
		fmt.Printf("- Drop Rate: %s\n", health.ErrorRate)
		fmt.Printf("- Average Runtime: %s\n", health.AverageRuntime)
		for _, warning := range health.Warnings {
			fmt.Printf("- Warning: %s\n", warning)
		}
	}
	return nil
}

func printDatabaseStats(ctx context.Context, cfg *config.Config, logger *logrus.Logger) {
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		return
	}
	defer db.Close()

	stats, err := db.GetScrapingStats(ctx)
	if err != nil {
		logger.Errorf("Failed to get database stats: %v", err)
		return
	}

	lastScraped := "never"
	if stats.LastScrapedAt != nil {
		lastScraped = utils.FormatTimestamp(*stats.LastScrapedAt)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Database")
	t.AppendRows([]table.Row{
		{"Total notes", stats.TotalNotes},
		{"Keywords", stats.Keywords},
		{"Runs", stats.Runs},
		{"Last scraped", lastScraped},
	})
	for _, kw := range stats.TopKeywords {
		t.AppendRow(table.Row{"  " + kw.Keyword, kw.Notes})
	}
	t.Render()
}
