package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"xhs-scraper/internal/scraper"
	"xhs-scraper/internal/utils"
)

// Metrics accumulate over every crawl and are persisted as JSON.
type Metrics struct {
	Runs            int                      `json:"runs"`
	InterruptedRuns int                      `json:"interrupted_runs"`
	StubsFound      int                      `json:"stubs_found"`
	NotesSaved      int                      `json:"notes_saved"`
	Dropped         int                      `json:"dropped"`
	DroppedByReason map[string]int           `json:"dropped_by_reason"`
	ExhaustedByRole map[string]int           `json:"exhausted_by_role"`
	LastRun         time.Time                `json:"last_run"`
	LastRunID       string                   `json:"last_run_id"`
	LastRunSummary  RunSummary               `json:"last_run_summary"`
	AverageRunTime  time.Duration            `json:"average_run_time"`
	ErrorRate       float64                  `json:"error_rate"`
	KeywordMetrics  map[string]KeywordMetric `json:"keyword_metrics"`
}

type KeywordMetric struct {
	Runs           int           `json:"runs"`
	NotesSaved     int           `json:"notes_saved"`
	Dropped        int           `json:"dropped"`
	LastScraped    time.Time     `json:"last_scraped"`
	AverageRunTime time.Duration `json:"average_run_time"`
}

// RunSummary is the slice of the most recent run that alerts look at.
type RunSummary struct {
	Keyword    string         `json:"keyword"`
	StubsFound int            `json:"stubs_found"`
	NotesSaved int            `json:"notes_saved"`
	Exhausted  map[string]int `json:"exhausted"`
}

type Monitor struct {
	metrics     *Metrics
	logger      *logrus.Logger
	metricsFile string
}

func NewMonitor(logger *logrus.Logger, metricsFile string) *Monitor {
	monitor := &Monitor{
		metrics:     newMetrics(),
		logger:      logger,
		metricsFile: metricsFile,
	}
	monitor.loadMetrics()
	return monitor
}

func newMetrics() *Metrics {
	return &Metrics{
		DroppedByReason: make(map[string]int),
		ExhaustedByRole: make(map[string]int),
		KeywordMetrics:  make(map[string]KeywordMetric),
	}
}

// RecordRun folds a finished crawl into the metrics and saves them.
func (m *Monitor) RecordRun(report *scraper.RunReport) error {
	mt := m.metrics
	duration := report.Duration()
	saved := len(report.Notes)
	dropped := report.DroppedTotal()

	mt.Runs++
	if report.Interrupted {
		mt.InterruptedRuns++
	}
	mt.StubsFound += report.StubsFound
	mt.NotesSaved += saved
	mt.Dropped += dropped
	for reason, n := range report.Dropped {
		mt.DroppedByReason[string(reason)] += n
	}

	exhausted := make(map[string]int, len(report.Exhausted))
	for role, n := range report.Exhausted {
		mt.ExhaustedByRole[string(role)] += n
		exhausted[string(role)] = n
	}

	mt.LastRun = report.FinishedAt
	mt.LastRunID = report.RunID
	mt.LastRunSummary = RunSummary{
		Keyword:    report.Keyword,
		StubsFound: report.StubsFound,
		NotesSaved: saved,
		Exhausted:  exhausted,
	}
	mt.AverageRunTime = runningMean(mt.AverageRunTime, duration, mt.Runs)

	if attempts := mt.NotesSaved + mt.Dropped; attempts > 0 {
		mt.ErrorRate = float64(mt.Dropped) / float64(attempts) * 100
	}

	km := mt.KeywordMetrics[report.Keyword]
	km.Runs++
	km.NotesSaved += saved
	km.Dropped += dropped
	km.LastScraped = report.FinishedAt
	km.AverageRunTime = runningMean(km.AverageRunTime, duration, km.Runs)
	mt.KeywordMetrics[report.Keyword] = km

	m.logger.Infof("Recorded run %s for %q: %d notes, %d dropped, %v duration",
		report.RunID, report.Keyword, saved, dropped, duration.Round(time.Millisecond))

	return m.saveMetrics()
}

func runningMean(mean, sample time.Duration, n int) time.Duration {
	if n <= 1 {
		return sample
	}
	return mean + (sample-mean)/time.Duration(n)
}

func (m *Monitor) GetMetrics() *Metrics {
	return m.metrics
}

type HealthStatus struct {
	Status         string   `json:"status"`
	LastRun        string   `json:"last_run"`
	TotalRuns      int      `json:"total_runs"`
	ErrorRate      string   `json:"error_rate"`
	AverageRuntime string   `json:"average_runtime"`
	Warnings       []string `json:"warnings,omitempty"`
}

func (m *Monitor) GetHealthStatus() HealthStatus {
	mt := m.metrics
	status := HealthStatus{
		Status:         "healthy",
		LastRun:        utils.FormatTimestamp(mt.LastRun),
		TotalRuns:      mt.Runs,
		ErrorRate:      fmt.Sprintf("%.2f%%", mt.ErrorRate),
		AverageRuntime: utils.FormatDuration(mt.AverageRunTime),
	}

	if !utils.IsWithin(mt.LastRun, 24*time.Hour) {
		status.Warnings = append(status.Warnings, "No crawl runs in the last 24 hours")
	}
	if mt.ErrorRate > 10 {
		status.Warnings = append(status.Warnings, "High drop rate detected")
	}
	if len(status.Warnings) > 0 {
		status.Status = "warning"
	}
	return status
}

// GenerateReport renders the metrics as tables.
func (m *Monitor) GenerateReport() string {
	mt := m.metrics
	var b strings.Builder
	fmt.Fprintf(&b, "Xiaohongshu Crawler Monitoring Report\nGenerated: %s\n\n", utils.FormatTimestamp(time.Now()))

	overall := newTable()
	overall.SetTitle("Overall")
	overall.AppendRows([]table.Row{
		{"Runs", mt.Runs},
		{"Interrupted runs", mt.InterruptedRuns},
		{"Results found", mt.StubsFound},
		{"Notes saved", mt.NotesSaved},
		{"Dropped", mt.Dropped},
		{"Drop rate", fmt.Sprintf("%.2f%%", mt.ErrorRate)},
		{"Average run time", utils.FormatDuration(mt.AverageRunTime)},
		{"Last run", utils.FormatTimestamp(mt.LastRun)},
	})
	b.WriteString(overall.Render())
	b.WriteString("\n\n")

	if len(mt.DroppedByReason) > 0 || len(mt.ExhaustedByRole) > 0 {
		failures := newTable()
		failures.SetTitle("Failures")
		failures.AppendHeader(table.Row{"Kind", "Name", "Count"})
		for _, reason := range sortedKeys(mt.DroppedByReason) {
			failures.AppendRow(table.Row{"dropped", reason, mt.DroppedByReason[reason]})
		}
		for _, role := range sortedKeys(mt.ExhaustedByRole) {
			failures.AppendRow(table.Row{"selector chain", role, mt.ExhaustedByRole[role]})
		}
		b.WriteString(failures.Render())
		b.WriteString("\n\n")
	}

	keywords := newTable()
	keywords.SetTitle("Keywords")
	keywords.AppendHeader(table.Row{"Keyword", "Runs", "Notes", "Dropped", "Avg runtime", "Last scraped"})
	for _, kw := range sortedKeys(mt.KeywordMetrics) {
		km := mt.KeywordMetrics[kw]
		keywords.AppendRow(table.Row{kw, km.Runs, km.NotesSaved, km.Dropped, utils.FormatDuration(km.AverageRunTime), utils.FormatTimestamp(km.LastScraped)})
	}
	b.WriteString(keywords.Render())
	b.WriteString("\n")

	return b.String()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Monitor) loadMetrics() {
	if _, err := os.Stat(m.metricsFile); os.IsNotExist(err) {
		m.logger.Info("No existing metrics file found, starting fresh")
		return
	}

	data, err := os.ReadFile(m.metricsFile)
	if err != nil {
		m.logger.Warnf("Failed to read metrics file: %v", err)
		return
	}

	loaded := newMetrics()
	if err := json.Unmarshal(data, loaded); err != nil {
		m.logger.Warnf("Failed to parse metrics file: %v", err)
		return
	}
	// Old files may lack some maps.
	if loaded.DroppedByReason == nil {
		loaded.DroppedByReason = make(map[string]int)
	}
	if loaded.ExhaustedByRole == nil {
		loaded.ExhaustedByRole = make(map[string]int)
	}
	if loaded.KeywordMetrics == nil {
		loaded.KeywordMetrics = make(map[string]KeywordMetric)
	}
	m.metrics = loaded

	m.logger.Debug("Loaded existing metrics from file")
}

func (m *Monitor) saveMetrics() error {
	data, err := json.MarshalIndent(m.metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.metricsFile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := os.WriteFile(m.metricsFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// AlertManager turns metrics into actionable alerts.
type AlertManager struct {
	monitor *Monitor
	logger  *logrus.Logger
}

func NewAlertManager(monitor *Monitor, logger *logrus.Logger) *AlertManager {
	return &AlertManager{
		monitor: monitor,
		logger:  logger,
	}
}

func (am *AlertManager) CheckAlerts() []string {
	var alerts []string
	metrics := am.monitor.GetMetrics()

	if metrics.Runs == 0 {
		return []string{"ALERT: Crawler has never run"}
	}

	if !utils.IsWithin(metrics.LastRun, 25*time.Hour) {
		alerts = append(alerts, "ALERT: Crawler hasn't run in over 24 hours")
	}
	if metrics.ErrorRate > 15 {
		alerts = append(alerts, fmt.Sprintf("ALERT: High drop rate: %.2f%%", metrics.ErrorRate))
	}
	if metrics.NotesSaved == 0 {
		alerts = append(alerts, "ALERT: No notes have been saved")
	}

	last := metrics.LastRunSummary
	if last.Exhausted[string(scraper.RoleResultCard)] > 0 && last.StubsFound == 0 {
		alerts = append(alerts, fmt.Sprintf("ALERT: No result cards matched for %q; session may be logged out or result card selectors are stale", last.Keyword))
	}
	if last.StubsFound > 0 && last.NotesSaved == 0 {
		alerts = append(alerts, fmt.Sprintf("ALERT: %d results found for %q but no note bodies were read; check detail selectors", last.StubsFound, last.Keyword))
	}

	return alerts
}

func (am *AlertManager) SendAlerts(alerts []string) {
	for _, alert := range alerts {
		am.logger.Warn(alert)
	}
}
