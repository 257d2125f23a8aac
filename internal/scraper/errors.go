package scraper

import "errors"

var (
	// ErrConfig is fatal: missing or invalid session credential or settings.
	ErrConfig = errors.New("configuration error")
	// ErrBrowserStartup is fatal: the automation engine could not be started.
	ErrBrowserStartup = errors.New("browser startup failed")

	// The following are recovered locally and never abort a run.
	ErrNavigation        = errors.New("navigation failed")
	ErrSelectorExhausted = errors.New("selector chain exhausted")
	ErrParse             = errors.New("unrecognised link")
)
