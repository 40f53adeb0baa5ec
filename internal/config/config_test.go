package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "mudd.db", cfg.DBPath)
	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, "hmc.edu", cfg.Crawler.Domain)
	assert.Equal(t, 4, cfg.Crawler.Workers)
	assert.Equal(t, 30000, cfg.Crawler.MaxContentChars)
	assert.Equal(t, 30*time.Second, cfg.Crawler.FetchTimeout)
	assert.Equal(t, "llama3-groq-8b-8192-tool-use-preview", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 8, cfg.LLM.GenerateAttempts)
	assert.Equal(t, 5, cfg.Search.Limit)
	assert.Equal(t, 1.0, cfg.Search.TimeBias)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("RAGCOURSE_CRAWLER_WORKERS", "9")
	t.Setenv("RAGCOURSE_DB", "other.db")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "gsk_test", cfg.LLM.APIKey)
	assert.Equal(t, 9, cfg.Crawler.Workers)
	assert.Equal(t, "other.db", cfg.DBPath)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawler:\n  domain: cs.hmc.edu\nsearch:\n  time_bias: 30\n"), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "cs.hmc.edu", cfg.Crawler.Domain)
	assert.Equal(t, 30.0, cfg.Search.TimeBias)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(viper.New(), "does-not-exist.yaml")
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAGCOURSE_SEARCH_TIME_BIAS", "0")

	_, err := Load(viper.New(), "")
	assert.ErrorIs(t, err, ErrInvalid)
}
