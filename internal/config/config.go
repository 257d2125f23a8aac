package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/andybalholm/cascadia"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
	"xhs-scraper/internal/scraper"
	"xhs-scraper/pkg/types"
)

type Config struct {
	Xiaohongshu XiaohongshuConfig `yaml:"xiaohongshu"`
	Browser     BrowserConfig     `yaml:"browser"`
	Crawler     CrawlerConfig     `yaml:"crawler"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Selectors   SelectorsConfig   `yaml:"selectors"`
	Output      OutputConfig      `yaml:"output"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	API         APIConfig         `yaml:"api"`
}

type XiaohongshuConfig struct {
	BaseURL         string   `yaml:"base_url"`
	CookieDomain    string   `yaml:"cookie_domain"`
	Cookie          string   `yaml:"cookie"`
	RequiredCookies []string `yaml:"required_cookies"`
	SearchType      string   `yaml:"search_type"`
}

type BrowserConfig struct {
	Engine         string         `yaml:"engine"`
	Headless       bool           `yaml:"headless"`
	ExecPath       string         `yaml:"exec_path"`
	UserAgent      string         `yaml:"user_agent"`
	ViewportWidth  int            `yaml:"viewport_width"`
	ViewportHeight int            `yaml:"viewport_height"`
	Selenium       SeleniumConfig `yaml:"selenium"`
}

type SeleniumConfig struct {
	DriverPath string `yaml:"driver_path"`
	Port       int    `yaml:"port"`
}

// CrawlerConfig timings are in seconds.
type CrawlerConfig struct {
	DelayMin              float64 `yaml:"delay_min"`
	DelayMax              float64 `yaml:"delay_max"`
	PageDelayMin          float64 `yaml:"page_delay_min"`
	PageDelayMax          float64 `yaml:"page_delay_max"`
	MaxRetries            int     `yaml:"max_retries"`
	Timeout               int     `yaml:"timeout"`
	SettleDelay           float64 `yaml:"settle_delay"`
	SelectorTimeout       int     `yaml:"selector_timeout"`
	DetailSelectorTimeout int     `yaml:"detail_selector_timeout"`
	RequestsPerMinute     int     `yaml:"requests_per_minute"`
}

type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	HTTP    string `yaml:"http"`
	HTTPS   string `yaml:"https"`
}

type SelectorsConfig struct {
	ResultCard  []string `yaml:"result_card"`
	Link        []string `yaml:"link"`
	Title       []string `yaml:"title"`
	Author      []string `yaml:"author"`
	DetailTitle []string `yaml:"detail_title"`
	DetailBody  []string `yaml:"detail_body"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
	CSV bool   `yaml:"csv"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	Path     string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MonitoringConfig struct {
	MetricsFile string `yaml:"metrics_file"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) Gecko/20100101 Firefox/120.0"

// Default returns the settings used for anything the config file leaves out.
func Default() Config {
	chains := scraper.DefaultChains()
	return Config{
		Xiaohongshu: XiaohongshuConfig{
			BaseURL:         scraper.DefaultBaseURL,
			CookieDomain:    scraper.DefaultCookieDomain,
			RequiredCookies: []string{"a1", "web_session"},
			SearchType:      "51",
		},
		Browser: BrowserConfig{
			Engine:         scraper.EngineChromedp,
			Headless:       true,
			UserAgent:      DefaultUserAgent,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Selenium:       SeleniumConfig{DriverPath: "geckodriver", Port: 4444},
		},
		Crawler: CrawlerConfig{
			DelayMin:              2,
			DelayMax:              5,
			PageDelayMin:          2,
			PageDelayMax:          5,
			MaxRetries:            3,
			Timeout:               30,
			SettleDelay:           2,
			SelectorTimeout:       5,
			DetailSelectorTimeout: 10,
		},
		Selectors: SelectorsConfig{
			ResultCard:  chains.ResultCard.Selectors,
			Link:        chains.Link.Selectors,
			Title:       chains.Title.Selectors,
			Author:      chains.Author.Selectors,
			DetailTitle: chains.DetailTitle.Selectors,
			DetailBody:  chains.DetailBody.Selectors,
		},
		Output: OutputConfig{Dir: "output", CSV: true},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Host:    "localhost",
			Port:    5432,
			Name:    "xhs_scraper",
			SSLMode: "disable",
			Path:    filepath.Join("output", "notes.db"),
		},
		Logging:    LoggingConfig{Level: "info", File: filepath.Join("output", "crawler.log")},
		Monitoring: MonitoringConfig{MetricsFile: filepath.Join("output", "metrics.json")},
		API:        APIConfig{Port: 8080},
	}
}

// Load reads configFile on top of the defaults, then merges
// <name>.local.yaml and environment overrides over it. Empty or false
// override values never replace a configured one.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s: %w", configFile, scraper.ErrConfig)
	}

	config := Default()
	if err := readYAML(configFile, &config); err != nil {
		return nil, err
	}

	localFile := localPath(configFile)
	if _, err := os.Stat(localFile); err == nil {
		var local Config
		if err := readYAML(localFile, &local); err != nil {
			return nil, err
		}
		if err := mergo.Merge(&config, local, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", localFile, err)
		}
	}

	env, err := fromEnv()
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&config, env, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v: %w", path, err, scraper.ErrConfig)
	}
	return nil
}

// localPath maps configs/config.yaml to configs/config.local.yaml.
func localPath(configFile string) string {
	ext := filepath.Ext(configFile)
	return strings.TrimSuffix(configFile, ext) + ".local" + ext
}

func fromEnv() (Config, error) {
	var env Config
	env.Xiaohongshu.Cookie = os.Getenv("XHS_COOKIE")
	env.Browser.Engine = os.Getenv("BROWSER_ENGINE")
	env.Database.Host = os.Getenv("DB_HOST")
	env.Database.User = os.Getenv("DB_USER")
	env.Database.Password = os.Getenv("DB_PASSWORD")
	env.Database.Name = os.Getenv("DB_NAME")
	env.Database.SSLMode = os.Getenv("DB_SSL_MODE")
	env.Database.Path = os.Getenv("DB_PATH")
	env.Database.Driver = os.Getenv("DB_DRIVER")

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return env, fmt.Errorf("invalid DB_PORT %q: %w", port, scraper.ErrConfig)
		}
		env.Database.Port = p
	}
	return env, nil
}

// Validate reports every problem found, each wrapping ErrConfig.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, scraper.ErrConfig)...))
	}

	switch c.Browser.Engine {
	case scraper.EngineChromedp, scraper.EngineRod, scraper.EngineSelenium:
	default:
		fail("unknown browser engine %q", c.Browser.Engine)
	}

	cr := c.Crawler
	if cr.DelayMin < 0 || cr.DelayMax < cr.DelayMin {
		fail("crawler delay range [%g, %g] is invalid", cr.DelayMin, cr.DelayMax)
	}
	if cr.PageDelayMin < 0 || cr.PageDelayMax < cr.PageDelayMin {
		fail("crawler page delay range [%g, %g] is invalid", cr.PageDelayMin, cr.PageDelayMax)
	}
	if cr.Timeout <= 0 {
		fail("crawler timeout must be positive")
	}
	if cr.MaxRetries < 0 {
		fail("crawler max_retries must not be negative")
	}

	for _, chain := range c.Chains().All() {
		if len(chain.Selectors) == 0 {
			fail("selector chain %s is empty", chain.Role)
			continue
		}
		for _, selector := range chain.Selectors {
			if _, err := cascadia.Parse(selector); err != nil {
				fail("selector %q for %s does not compile: %v", selector, chain.Role, err)
			}
		}
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			fail("unknown database driver %q", c.Database.Driver)
		}
	}

	return errors.Join(errs...)
}

// Cookies parses the configured cookie header.
func (c *Config) Cookies() []types.CookieRecord {
	return scraper.BuildCookies(c.Xiaohongshu.Cookie, c.Xiaohongshu.CookieDomain)
}

func (c *Config) Chains() scraper.Chains {
	s := c.Selectors
	return scraper.Chains{
		ResultCard:  scraper.NewChain(scraper.RoleResultCard, s.ResultCard...),
		Link:        scraper.NewChain(scraper.RoleLink, s.Link...),
		Title:       scraper.NewChain(scraper.RoleTitle, s.Title...),
		Author:      scraper.NewChain(scraper.RoleAuthor, s.Author...),
		DetailTitle: scraper.NewChain(scraper.RoleDetailTitle, s.DetailTitle...),
		DetailBody:  scraper.NewChain(scraper.RoleDetailBody, s.DetailBody...),
	}
}

// ProxyServer returns the proxy every engine should use, or "".
func (c *Config) ProxyServer() string {
	if !c.Proxy.Enabled {
		return ""
	}
	if c.Proxy.HTTPS != "" {
		return c.Proxy.HTTPS
	}
	return c.Proxy.HTTP
}

func (c *Config) BrowserConfig() scraper.BrowserConfig {
	return scraper.BrowserConfig{
		Engine:             c.Browser.Engine,
		Headless:           c.Browser.Headless,
		ExecPath:           c.Browser.ExecPath,
		UserAgent:          c.Browser.UserAgent,
		ProxyServer:        c.ProxyServer(),
		SeleniumDriverPath: c.Browser.Selenium.DriverPath,
		SeleniumPort:       c.Browser.Selenium.Port,
	}
}

func (c *Config) PageControllerConfig() scraper.PageControllerConfig {
	return scraper.PageControllerConfig{
		UserAgent:         c.Browser.UserAgent,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		CookieOrigin:      c.Xiaohongshu.BaseURL,
		NavigationTimeout: time.Duration(c.Crawler.Timeout) * time.Second,
	}
}

func (c *Config) CrawlerOptions() scraper.CrawlerOptions {
	cr := c.Crawler
	return scraper.CrawlerOptions{
		BaseURL:               c.Xiaohongshu.BaseURL,
		SearchType:            c.Xiaohongshu.SearchType,
		RequiredCookies:       c.Xiaohongshu.RequiredCookies,
		SettleDelay:           time.Duration(cr.SettleDelay * float64(time.Second)),
		SelectorTimeout:       time.Duration(cr.SelectorTimeout) * time.Second,
		DetailSelectorTimeout: time.Duration(cr.DetailSelectorTimeout) * time.Second,
		MaxRetries:            cr.MaxRetries,
		DetailDelay:           scraper.Seconds(cr.DelayMin, cr.DelayMax),
		PageDelay:             scraper.Seconds(cr.PageDelayMin, cr.PageDelayMax),
		Chains:                c.Chains(),
	}
}

// DataDir is where CSV results are written.
func (c *Config) DataDir() string {
	return filepath.Join(c.Output.Dir, "data")
}
