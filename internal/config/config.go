// Package config loads service configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Opencast holds Sink endpoint and catalog filtering settings.
type Opencast struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// WorkflowFilter is a space-separated allowlist of workflow ids; empty keeps all.
	WorkflowFilter string `yaml:"workflow_filter"`
	// SeriesFilter is a regex applied to series titles; empty means ".*".
	SeriesFilter string `yaml:"series_filter"`
}

// Rabbit holds broker credentials. The queue name is fixed at "zoomhook".
type Rabbit struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Zoom holds Source API credentials and region routing.
type Zoom struct {
	JWTKey    string `yaml:"jwt_key"`
	JWTSecret string `yaml:"jwt_secret"`
	// GDPR selects the EU base URL when true.
	GDPR bool `yaml:"gdpr"`
}

// Webhook holds intake-only defaults and gates.
type Webhook struct {
	MinDuration       int    `yaml:"min_duration"`
	DefaultSeriesID   string `yaml:"default_series_id"`
	DefaultACLID      string `yaml:"default_acl_id"`
	DefaultWorkflowID string `yaml:"default_workflow_id"`
	Secret            string `yaml:"secret"`
}

// Email routes critical engine errors to a mail channel when enabled.
type Email struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
}

// Config is the full service configuration.
type Config struct {
	Listen         string   `yaml:"listen"`
	LogLevel       string   `yaml:"log_level"`
	Database       string   `yaml:"database"`
	TopicRegex     string   `yaml:"topic_regex"`
	InProgressRoot string   `yaml:"in_progress_root"`
	Workers        int      `yaml:"workers"`
	Opencast       Opencast `yaml:"opencast"`
	Rabbit         Rabbit   `yaml:"rabbit"`
	Zoom           Zoom     `yaml:"zoom"`
	Webhook        Webhook  `yaml:"webhook"`
	Email          Email    `yaml:"email"`
}

// DefaultDatabase is the fallback single-file store. Using it in production
// draws a warning at startup.
const DefaultDatabase = "zoom.db"

// Defaults returns the baseline configuration before file and env overlays.
func Defaults() Config {
	return Config{
		Listen:         ":8080",
		LogLevel:       "info",
		Database:       DefaultDatabase,
		TopicRegex:     "",
		InProgressRoot: "in-progress",
		Workers:        1,
		Webhook:        Webhook{MinDuration: 0},
	}
}

// WebhookEnabled reports whether webhook-driven ingest is globally enabled.
// It requires a default workflow plus a default series or ACL.
func (c Config) WebhookEnabled() bool {
	if c.Webhook.DefaultWorkflowID == "" {
		return false
	}
	return c.Webhook.DefaultSeriesID != "" || c.Webhook.DefaultACLID != ""
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Opencast.URL == "" {
		return fmt.Errorf("opencast url is empty")
	}
	u, err := url.Parse(c.Opencast.URL)
	if err != nil {
		return fmt.Errorf("invalid opencast url %q: %w", c.Opencast.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported opencast url scheme %q", u.Scheme)
	}
	if c.Opencast.User == "" || c.Opencast.Password == "" {
		return fmt.Errorf("opencast digest credentials are incomplete")
	}
	if c.Zoom.JWTKey == "" || c.Zoom.JWTSecret == "" {
		return fmt.Errorf("zoom jwt credentials are incomplete")
	}
	if c.Rabbit.Host == "" {
		return fmt.Errorf("rabbit host is empty")
	}
	if c.TopicRegex != "" {
		if _, err := regexp.Compile(c.TopicRegex); err != nil {
			return fmt.Errorf("invalid topic_regex: %w", err)
		}
	}
	if c.Opencast.SeriesFilter != "" {
		if _, err := regexp.Compile(c.Opencast.SeriesFilter); err != nil {
			return fmt.Errorf("invalid series_filter: %w", err)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return nil
}

// WorkflowAllowlist splits the configured workflow filter into ids.
func (c Config) WorkflowAllowlist() []string {
	f := strings.TrimSpace(c.Opencast.WorkflowFilter)
	if f == "" {
		return nil
	}
	return strings.Fields(f)
}
