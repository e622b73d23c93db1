package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sitemirror/internal/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	writeFile(t, path, `
seeds:
  - https://example.test/root
allowed_domains:
  - " https://example.test/root "
extensions: [".PDF", "Zip"]
workers: 3
retry_delay: 250ms
`)

	cfg, err := LoadConfigWithViper(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.test/root"}, cfg.Seeds)
	assert.Equal(t, []string{"https://example.test/root"}, cfg.AllowedDomains)
	assert.Equal(t, []string{"pdf", "zip"}, cfg.Extensions)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, "file_tree.json", cfg.TreeFile)
	assert.Equal(t, []string{"/search"}, cfg.SkipPatterns)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	writeFile(t, path, "workers: 3\nrenderer: http\n")
	t.Setenv("SITEMIRROR_WORKERS", "9")
	t.Setenv("SITEMIRROR_RENDERER", "chrome")

	cfg, err := LoadConfigWithViper(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, RendererChrome, cfg.Renderer)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfigWithViper(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfigWithViper(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, 30, cfg.Timeout)
	assert.Equal(t, 10, cfg.ValidateTimeout)
	assert.Equal(t, DefaultExtensions, cfg.Extensions)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 10*time.Second, cfg.ValidationTimeout())
}

func TestFlagsTakePrecedence(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("workers", 6, "")
	cmd.Flags().StringSlice("seed", nil, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "2", "--seed", "https://a.test/x"}))

	v := viper.New()
	require.NoError(t, BindFlags(v, cmd, map[string]string{"workers": "workers", "seed": "seeds"}))
	t.Setenv("SITEMIRROR_WORKERS", "9")

	t.Chdir(t.TempDir())
	cfg, err := LoadConfigWithViper(v, "")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"https://a.test/x"}, cfg.Seeds)

	assert.Error(t, BindFlags(v, cmd, map[string]string{"missing": "x"}))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Seeds = []string{"https://example.test/root"}
		cfg.AllowedDomains = []string{"https://example.test/root"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr errors.ErrorType
	}{
		{"no seeds or folders", func(c *Config) { c.Seeds = nil }, errors.ValidationError},
		{"seeds without domains", func(c *Config) { c.AllowedDomains = nil }, errors.ValidationError},
		{"empty output", func(c *Config) { c.Output = "" }, errors.ValidationError},
		{"zero workers", func(c *Config) { c.Workers = 0 }, errors.ConfigurationError},
		{"negative retries", func(c *Config) { c.Retries = -1 }, errors.ConfigurationError},
		{"unknown renderer", func(c *Config) { c.Renderer = "lynx" }, errors.ConfigurationError},
		{"folders without endpoint", func(c *Config) { c.Folders = []string{"abc"} }, errors.ConfigurationError},
		{"tree file with separator", func(c *Config) { c.TreeFile = "a/b.json" }, errors.ConfigurationError},
		{"telemetry without collector", func(c *Config) { c.TelemetryEnabled = true }, errors.ConfigurationError},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestFolderOnlyRunIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Folders = []string{"folder-1"}
	cfg.FolderEndpoint = "https://drive.test/api"
	assert.NoError(t, cfg.Validate())
}

func TestWriteDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.yaml")
	require.NoError(t, WriteDefaultConfigFile(path))

	cfg, err := LoadConfigWithViper(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers)

	// existing file is left untouched
	writeFile(t, path, "workers: 4\n")
	require.NoError(t, WriteDefaultConfigFile(path))
	cfg, err = LoadConfigWithViper(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
}
