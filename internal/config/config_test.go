package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "-tr", cfg.Registration.Suffix)
	assert.Equal(t, 2, cfg.Registration.MaxRegions)
	assert.Equal(t, "landmarks", cfg.Engine.Kind)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SettleDelay.Duration)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registration:
  suffix: "-warped"
engine:
  kind: exec
  command: elastix
  args: ["-m", "{moving}", "-f", "{fixed}", "-out", "{output}"]
  settleDelay: 2s
logging:
  level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "-warped", cfg.Registration.Suffix)
	assert.Equal(t, 2, cfg.Registration.MaxRegions, "unset fields keep defaults")
	assert.Equal(t, "exec", cfg.Engine.Kind)
	assert.Equal(t, []string{"-m", "{moving}", "-f", "{fixed}", "-out", "{output}"}, cfg.Engine.Args)
	assert.Equal(t, 2*time.Second, cfg.Engine.SettleDelay.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[registration]
maxRegions = 3

[engine]
landmarks = "landmarks.csv"
settleDelay = "250ms"

[metrics]
addr = ":9090"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Registration.MaxRegions)
	assert.Equal(t, "landmarks.csv", cfg.Engine.Landmarks)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.SettleDelay.Duration)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"bad-kind.yaml":    "engine:\n  kind: magic\n",
		"no-command.yaml":  "engine:\n  kind: exec\n",
		"no-regions.yaml":  "registration:\n  maxRegions: 0\n",
		"bad-delay.yaml":   "engine:\n  settleDelay: soon\n",
		"unsupported.json": "{}",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		cfg := DefaultConfig()
		cfg.Engine.Landmarks = "lm.csv"
		cfg.Engine.Args = []string{"{moving}", "{fixed}"}
		cfg.Engine.SettleDelay.Duration = 3 * time.Second

		path := filepath.Join(t.TempDir(), "nested", name)
		require.NoError(t, SaveConfig(cfg, path))

		loaded, err := LoadConfig(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}
