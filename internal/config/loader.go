package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if non-empty), overlaid by ZINGEST_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = ParseString("ZINGEST_LISTEN", cfg.Listen)
	cfg.LogLevel = ParseString("ZINGEST_LOG_LEVEL", cfg.LogLevel)
	cfg.Database = ParseString("ZINGEST_DATABASE", cfg.Database)
	cfg.TopicRegex = ParseString("ZINGEST_TOPIC_REGEX", cfg.TopicRegex)
	cfg.InProgressRoot = ParseString("ZINGEST_IN_PROGRESS_ROOT", cfg.InProgressRoot)
	cfg.Workers = ParseInt("ZINGEST_WORKERS", cfg.Workers)

	cfg.Opencast.URL = ParseString("ZINGEST_OPENCAST_URL", cfg.Opencast.URL)
	cfg.Opencast.User = ParseString("ZINGEST_OPENCAST_USER", cfg.Opencast.User)
	cfg.Opencast.Password = ParseString("ZINGEST_OPENCAST_PASSWORD", cfg.Opencast.Password)
	cfg.Opencast.WorkflowFilter = ParseString("ZINGEST_OPENCAST_WORKFLOW_FILTER", cfg.Opencast.WorkflowFilter)
	cfg.Opencast.SeriesFilter = ParseString("ZINGEST_OPENCAST_SERIES_FILTER", cfg.Opencast.SeriesFilter)

	cfg.Rabbit.Host = ParseString("ZINGEST_RABBIT_HOST", cfg.Rabbit.Host)
	cfg.Rabbit.User = ParseString("ZINGEST_RABBIT_USER", cfg.Rabbit.User)
	cfg.Rabbit.Password = ParseString("ZINGEST_RABBIT_PASSWORD", cfg.Rabbit.Password)

	cfg.Zoom.JWTKey = ParseString("ZINGEST_ZOOM_JWT_KEY", cfg.Zoom.JWTKey)
	cfg.Zoom.JWTSecret = ParseString("ZINGEST_ZOOM_JWT_SECRET", cfg.Zoom.JWTSecret)
	cfg.Zoom.GDPR = ParseBool("ZINGEST_ZOOM_GDPR", cfg.Zoom.GDPR)

	cfg.Webhook.MinDuration = ParseInt("ZINGEST_WEBHOOK_MIN_DURATION", cfg.Webhook.MinDuration)
	cfg.Webhook.DefaultSeriesID = ParseString("ZINGEST_WEBHOOK_DEFAULT_SERIES_ID", cfg.Webhook.DefaultSeriesID)
	cfg.Webhook.DefaultACLID = ParseString("ZINGEST_WEBHOOK_DEFAULT_ACL_ID", cfg.Webhook.DefaultACLID)
	cfg.Webhook.DefaultWorkflowID = ParseString("ZINGEST_WEBHOOK_DEFAULT_WORKFLOW_ID", cfg.Webhook.DefaultWorkflowID)
	cfg.Webhook.Secret = ParseString("ZINGEST_WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Email.Enabled = ParseBool("ZINGEST_EMAIL_ENABLED", cfg.Email.Enabled)
	cfg.Email.Host = ParseString("ZINGEST_EMAIL_HOST", cfg.Email.Host)
	cfg.Email.From = ParseString("ZINGEST_EMAIL_FROM", cfg.Email.From)
	cfg.Email.To = ParseString("ZINGEST_EMAIL_TO", cfg.Email.To)
}
