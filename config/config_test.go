package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"vars.txt"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", cfg.Device)
	require.Equal(t, 15*time.Second, cfg.Sleep)
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, "vars.txt", cfg.VarlistDir)
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-t", "/dev/ttyS1", "-s", "5s", "-B", "10", "vars.txt"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyS1", cfg.Device)
	require.Equal(t, 5*time.Second, cfg.Sleep)
	require.Equal(t, 10, cfg.BatchSize)
}

func TestParseMissingVarlistErrors(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
}

func TestParseConfigFileLayeredUnderFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitolink.toml")
	err := os.WriteFile(path, []byte(`device = "/dev/ttyFromFile"
sleep = "30s"
`), 0o644)
	require.NoError(t, err)

	// CLI flag for device should win over the file; sleep comes from the file.
	cfg, err := Parse([]string{"--config", path, "-t", "/dev/ttyFromFlag", "vars.txt"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyFromFlag", cfg.Device, "flag should win over config file")
	require.Equal(t, 30*time.Second, cfg.Sleep, "config file value should apply where no flag was given")
}

func TestInfluxTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("secret-token\n"), 0o600))

	cfg := Config{InfluxTokenFile: path}
	tok, err := cfg.InfluxToken()
	require.NoError(t, err)
	require.Equal(t, "secret-token", tok)
}

func TestSinkEnabled(t *testing.T) {
	require.False(t, (Config{}).SinkEnabled())
	require.True(t, (Config{InfluxURL: "http://x", InfluxOrg: "o", InfluxBucket: "b"}).SinkEnabled())
}
