package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"xhs-scraper/internal/config"
	"xhs-scraper/internal/scraper"
	"xhs-scraper/internal/utils"
)

var (
	configFile   string
	instructions bool
)

var rootCmd = &cobra.Command{
	Use:          "check-cookies",
	Short:        "Checks that the configured Xiaohongshu session cookie is still logged in.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if instructions {
			scraper.PrintCookieInstructions()
			return nil
		}
		return check(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "Configuration file path")
	rootCmd.Flags().BoolVar(&instructions, "instructions", false, "Show instructions for extracting cookies")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func check(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := utils.NewLogger("debug", "")
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Println("Parsing cookie header...")
	cookies := cfg.Cookies()
	if len(cookies) == 0 {
		scraper.PrintCookieInstructions()
		return fmt.Errorf("no session cookie configured: %w", scraper.ErrConfig)
	}
	fmt.Printf("Found %d cookies\n", len(cookies))

	if missing := scraper.MissingCookies(cookies, cfg.Xiaohongshu.RequiredCookies); len(missing) > 0 {
		return fmt.Errorf("required cookies missing: %s: %w", strings.Join(missing, ", "), scraper.ErrConfig)
	}

	fmt.Println("Validating session...")
	validator := scraper.NewSessionValidator(
		cfg.Xiaohongshu.BaseURL,
		cfg.Browser.UserAgent,
		time.Duration(cfg.Crawler.Timeout)*time.Second,
		logger,
	)
	if err := validator.Validate(ctx, cookies); err != nil {
		return fmt.Errorf("session check failed: %w", err)
	}

	fmt.Println("✅ Cookies are valid and the session is logged in!")
	return nil
}
