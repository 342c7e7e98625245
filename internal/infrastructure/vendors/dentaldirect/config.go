// Package dentaldirect implements the storefront adapter for the Dental
// Direct supplier. Dental Direct serves a cookie-authenticated JSON API
// behind its web store, so the adapter runs on plain HTTP and never needs a
// browser.
package dentaldirect

import (
	"errors"
	"time"
)

// Config holds configuration for the Dental Direct adapter
type Config struct {
	// BaseURL is the storefront root, e.g. https://shop.dentaldirect.test
	BaseURL string
	// Timeout is the per-request HTTP timeout
	Timeout time.Duration
	// HistoryPageSize is how many order summaries one listing page carries
	HistoryPageSize int
	// DetailFanout bounds parallel order-detail fetches inside the history
	// iterator
	DetailFanout int
}

// Errors for Dental Direct configuration
var (
	ErrConfigMissingBaseURL = errors.New("dentaldirect: base URL is required")
)

// NewConfig creates a configuration with defaults.
func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		HistoryPageSize: 50,
		DetailFanout:    8,
	}
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 50
	}
	if c.DetailFanout < 2 {
		c.DetailFanout = 2
	}
	if c.DetailFanout > 50 {
		c.DetailFanout = 50
	}
	return nil
}
