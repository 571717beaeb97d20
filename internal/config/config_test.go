package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalemeter/internal/history"
	"scalemeter/internal/repquota"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/usr/lpp/mmfs/bin", cfg.Commands.BinDir)
	assert.Equal(t, "scalemeter.db", cfg.Store.DatabasePath)
	assert.Equal(t, repquota.GroupByFileset, cfg.GroupBy())
	assert.Equal(t, history.QuantityBlockUsage, cfg.Quantity())
	assert.Equal(t, []string{"root", "COMMON"}, cfg.History.Exclude)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalemeter.yaml")
	content := `
commands:
  bin_dir: /opt/mmfs/bin
  timeout: 2m
store:
  database_path: /var/lib/scalemeter/usage.db
history:
  data_dir: /srv/usage
  group_by: filesystemName
  quantity: filesUsage
  points_per_day: 4
  exclude: [root]
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/mmfs/bin", cfg.Commands.BinDir)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout())
	assert.Equal(t, "/var/lib/scalemeter/usage.db", cfg.Store.DatabasePath)
	assert.Equal(t, "/srv/usage", cfg.History.DataDir)
	assert.Equal(t, repquota.GroupByFilesystem, cfg.GroupBy())
	assert.Equal(t, history.QuantityFilesUsage, cfg.Quantity())
	assert.Equal(t, 4, cfg.History.PointsPerDay)
	assert.Equal(t, []string{"root"}, cfg.History.Exclude)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalemeter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands: [not, a, map]"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("SCALEMETER_DB overrides database path", func(t *testing.T) {
		t.Setenv("SCALEMETER_DB", "/tmp/override.db")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)
	})

	t.Run("SCALEMETER_BIN_DIR overrides bin dir", func(t *testing.T) {
		t.Setenv("SCALEMETER_BIN_DIR", "/custom/bin")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "/custom/bin", cfg.Commands.BinDir)
	})

	t.Run("SCALEMETER_LOG_LEVEL overrides level", func(t *testing.T) {
		t.Setenv("SCALEMETER_LOG_LEVEL", "debug")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("env wins over file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scalemeter.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  database_path: from-file.db\n"), 0644))
		t.Setenv("SCALEMETER_DB", "from-env.db")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env.db", cfg.Store.DatabasePath)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad group_by",
			mutate:  func(c *Config) { c.History.GroupBy = "owner" },
			wantErr: "invalid group_by",
		},
		{
			name:    "bad quantity",
			mutate:  func(c *Config) { c.History.Quantity = "bytes" },
			wantErr: "invalid quantity",
		},
		{
			name:    "bad points_per_day",
			mutate:  func(c *Config) { c.History.PointsPerDay = 0 },
			wantErr: "points_per_day",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCommandTimeout_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Commands.Timeout = "soon"
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout())
}
