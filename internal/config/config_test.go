package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "sqlfluff", cfg.Executable())
	assert.Empty(t, cfg.Dialect)
	assert.Empty(t, cfg.Templater)
}

func TestExecutableOverride(t *testing.T) {
	cfg := Config{SqlfluffPath: "/opt/venv/bin/sqlfluff"}
	assert.Equal(t, "/opt/venv/bin/sqlfluff", cfg.Executable())
}

func TestMerge(t *testing.T) {
	base := Config{Dialect: "ansi", Timeout: time.Second}
	got := base.Merge(Config{Dialect: "snowflake", Templater: "jinja"})

	assert.Equal(t, "snowflake", got.Dialect)
	assert.Equal(t, "jinja", got.Templater)
	assert.Equal(t, time.Second, got.Timeout)
	assert.Equal(t, "ansi", base.Dialect, "merge must not mutate the receiver")
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sqlfluff-lsp.yaml")
		content := "dialect: snowflake\ntemplater: dbt\nsqlfluff_path: /usr/local/bin/sqlfluff\ntimeout: 5s\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Config{
			Dialect:      "snowflake",
			Templater:    "dbt",
			SqlfluffPath: "/usr/local/bin/sqlfluff",
			Timeout:      5 * time.Second,
		}, cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("negative timeout rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("timeout: -1s\n"), 0o644))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
