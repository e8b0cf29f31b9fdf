package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Opencast.URL = "https://oc.example.org"
	cfg.Opencast.User = "admin"
	cfg.Opencast.Password = "secret"
	cfg.Zoom.JWTKey = "key"
	cfg.Zoom.JWTSecret = "secret"
	cfg.Rabbit.Host = "mq.example.org"
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing opencast url", func(c *Config) { c.Opencast.URL = "" }, "opencast url"},
		{"bad scheme", func(c *Config) { c.Opencast.URL = "ftp://oc" }, "scheme"},
		{"missing digest password", func(c *Config) { c.Opencast.Password = "" }, "digest credentials"},
		{"missing jwt", func(c *Config) { c.Zoom.JWTSecret = "" }, "jwt credentials"},
		{"missing rabbit host", func(c *Config) { c.Rabbit.Host = "" }, "rabbit host"},
		{"bad topic regex", func(c *Config) { c.TopicRegex = "(" }, "topic_regex"},
		{"bad series filter", func(c *Config) { c.Opencast.SeriesFilter = "[" }, "series_filter"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestWebhookEnabled(t *testing.T) {
	cfg := Defaults()
	assert.False(t, cfg.WebhookEnabled())

	cfg.Webhook.DefaultWorkflowID = "fast"
	assert.False(t, cfg.WebhookEnabled(), "workflow alone is not enough")

	cfg.Webhook.DefaultACLID = "42"
	assert.True(t, cfg.WebhookEnabled())

	cfg.Webhook.DefaultACLID = ""
	cfg.Webhook.DefaultSeriesID = "series-1"
	assert.True(t, cfg.WebhookEnabled())
}

func TestWorkflowAllowlist(t *testing.T) {
	cfg := Defaults()
	assert.Nil(t, cfg.WorkflowAllowlist())
	cfg.Opencast.WorkflowFilter = " fast  schedule-and-upload "
	assert.Equal(t, []string{"fast", "schedule-and-upload"}, cfg.WorkflowAllowlist())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9999"
database: "postgres://db/zingest"
opencast:
  url: "https://oc.example.org"
  user: file-user
webhook:
  min_duration: 5
`), 0o600))

	t.Setenv("ZINGEST_OPENCAST_USER", "env-user")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "postgres://db/zingest", cfg.Database)
	assert.Equal(t, "env-user", cfg.Opencast.User, "env wins over file")
	assert.Equal(t, 5, cfg.Webhook.MinDuration)
	assert.Equal(t, "in-progress", cfg.InProgressRoot, "default survives overlays")
}
