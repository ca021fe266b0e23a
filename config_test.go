package jtable

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	tbl := openTestTable(t, t.TempDir())

	cfg := tbl.Config()
	require.Equal(t, 2500, cfg.ShardCapacity)
	require.Equal(t, 64, cfg.CacheMaxEntries)
	require.Equal(t, int64(64<<20), cfg.CacheMaxBytes)
	require.Equal(t, 5*time.Minute, cfg.CacheMaxAge)
	require.Equal(t, 32, cfg.WriteBatchSize)
	require.NotNil(t, cfg.Logger)
}

func TestConfigFileMerge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// HuJSON: comments and trailing commas are allowed.
	content := `{
		// tuned for tests
		"shard_capacity": 7,
		"write_batch_size": 4,
		"index_fields": ["color"],
	}`

	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o600)
	require.NoError(t, err)

	tbl := openTestTable(t, dir)

	cfg := tbl.Config()
	require.Equal(t, 7, cfg.ShardCapacity)
	require.Equal(t, 4, cfg.WriteBatchSize)
	require.Equal(t, []string{"color"}, cfg.IndexFields)

	// Unset fields keep their defaults.
	require.Equal(t, 64, cfg.CacheMaxEntries)

	// The file-configured index is active.
	mustSave(t, tbl, "a", map[string]any{"color": "red"})

	got, findErr := tbl.FindBy("color", "red")
	require.NoError(t, findErr)
	require.Len(t, got, 1)
}

func TestOptionsWinOverConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"shard_capacity": 7}`), 0o600)
	require.NoError(t, err)

	tbl := openTestTable(t, dir, WithShardCapacity(11))
	require.Equal(t, 11, tbl.Config().ShardCapacity)
}

func TestInvalidConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{{{"), 0o600)
	require.NoError(t, err)

	_, openErr := Open(dir)
	require.Error(t, openErr)
	require.ErrorIs(t, openErr, errConfigInvalid)
}

func TestInvalidConfigValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{"negative capacity", WithShardCapacity(-1), errShardCapacityInvalid},
		{"negative cache", WithCacheLimits(-1, 0), errCacheLimitsInvalid},
		{"negative batch", WithWriteBatchSize(-1), errWriteBatchSizeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Open(t.TempDir(), tt.opt)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigDurationsFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	content := `{"cache_max_age_sec": 120, "sweep_interval_sec": 30}`
	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o600)
	require.NoError(t, err)

	tbl := openTestTable(t, dir)
	require.Equal(t, 2*time.Minute, tbl.Config().CacheMaxAge)
	require.Equal(t, 30*time.Second, tbl.Config().SweepInterval)
}

func TestOpenEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "users")

	tbl, err := Open(dir)
	require.NoError(t, err)

	t.Cleanup(func() { _ = tbl.Close(context.Background()) })

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	require.True(t, info.IsDir())
}
