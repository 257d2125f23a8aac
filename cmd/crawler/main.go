package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"xhs-scraper/internal/config"
	"xhs-scraper/internal/database"
	"xhs-scraper/internal/monitoring"
	"xhs-scraper/internal/output"
	"xhs-scraper/internal/scraper"
	"xhs-scraper/internal/utils"
)

var (
	keyword    string
	pages      int
	configFile string
	engine     string
)

var rootCmd = &cobra.Command{
	Use:          "crawler --keyword <keyword> [--pages N]",
	Short:        "Searches Xiaohongshu for a keyword and saves the notes it finds.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&keyword, "keyword", "k", "", "Search keyword")
	rootCmd.Flags().IntVarP(&pages, "pages", "p", 1, "Number of result pages to crawl")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "Configuration file path")
	rootCmd.Flags().StringVar(&engine, "engine", "", "Browser engine override (chromedp, rod, selenium)")
	_ = rootCmd.MarkFlagRequired("keyword")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if engine != "" {
		cfg.Browser.Engine = engine
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, closeLog, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer closeLog()

	cookies := cfg.Cookies()
	if len(cookies) == 0 {
		scraper.PrintCookieInstructions()
		return fmt.Errorf("no session cookie configured (xiaohongshu.cookie or XHS_COOKIE): %w", scraper.ErrConfig)
	}

	sinks, cleanup, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	browser, err := scraper.NewBrowser(cfg.BrowserConfig(), logger)
	if err != nil {
		return err
	}
	defer browser.Close()

	pacer := scraper.NewPacer(cfg.Crawler.RequestsPerMinute)
	pageController := scraper.NewPageController(browser, pacer, cfg.PageControllerConfig(), logger)
	crawler := scraper.NewCrawler(pageController, pacer, cfg.CrawlerOptions(), logger, sinks...)

	report, runErr := crawler.Run(ctx, cookies, keyword, pages)
	if report == nil {
		return runErr
	}

	monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)
	if err := monitor.RecordRun(report); err != nil {
		logger.Warnf("Failed to record metrics: %v", err)
	}

	printSummary(report)
	return runErr
}

func openSinks(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ([]scraper.Sink, func(), error) {
	var sinks []scraper.Sink
	cleanup := func() {}

	if cfg.Output.CSV {
		sinks = append(sinks, output.NewCSVSink(cfg.DataDir(), logger))
	}

	if cfg.Database.Enabled {
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, cleanup, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, cleanup, err
		}
		sinks = append(sinks, db)
		cleanup = func() { db.Close() }
	}

	if len(sinks) == 0 {
		logger.Warn("No output configured; collected notes will only be counted")
	}
	return sinks, cleanup, nil
}

func printSummary(report *scraper.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Crawl " + report.RunID)
	t.AppendRows([]table.Row{
		{"Keyword", report.Keyword},
		{"Pages", report.Pages},
		{"Results found", report.StubsFound},
		{"Duplicates skipped", report.Duplicates},
		{"Retries", report.Retries},
		{"Notes saved", len(report.Notes)},
		{"Dropped", report.DroppedTotal()},
		{"Duration", utils.FormatDuration(report.Duration())},
		{"Interrupted", report.Interrupted},
	})
	for reason, n := range report.Dropped {
		t.AppendRow(table.Row{"  dropped: " + string(reason), n})
	}
	t.Render()
}
