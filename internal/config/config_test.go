// Package config_test tests the configuration loading for the murmur server.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigTOML = `
[server]
host = "0.0.0.0"
port = 9000
device = "cuda"

[voices]
samples_dir = "/srv/voices"

[generation]
max_text_length = 500
normalize_text = true

[tiers.fast]
driver = "exec"
binary_path = "kokoro-cli"
model_path = "kokoro.onnx"

[tiers.high_quality]
enabled = false

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
default_tier = "normal"

[paths]
base_logs_dir = "/var/log/murmur"
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(testConfigTOML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address())
	assert.Equal(t, "cuda", cfg.Server.Device)
	assert.Equal(t, "/srv/voices", cfg.Voices.SamplesDir)
	assert.Equal(t, 500, cfg.Generation.MaxTextLength)
	assert.True(t, cfg.Generation.NormalizeText)

	fast := cfg.Tiers.For(tier.Fast)
	assert.True(t, fast.Enabled, "unset keys keep their defaults")
	assert.Equal(t, config.DriverExec, fast.Driver)
	assert.Equal(t, "kokoro-cli", fast.BinaryPath)
	assert.True(t, fast.NativeSpeed)
	assert.Equal(t, 24000, fast.SampleRate)

	assert.False(t, cfg.Tiers.For(tier.HighQuality).Enabled)
	assert.True(t, cfg.Tiers.For(tier.Normal).SupportsCloning)
	assert.Equal(t, "normal", cfg.NATS.DefaultTier)
	assert.Equal(t, "/var/log/murmur", cfg.Paths.BaseLogsDir)
}

func TestParse_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("[tiers.normal]\ndriver = \"grpc\"\n"))
	require.ErrorIs(t, err, config.ErrUnknownDriver)
}

func TestParse_InvalidPort(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("[server]\nport = 70000\n"))
	require.ErrorIs(t, err, config.ErrInvalidPort)
}

func TestDefault_RoundTripsThroughTOML(t *testing.T) {
	t.Parallel()

	data, err := toml.Marshal(config.Default())
	require.NoError(t, err)

	cfg, err := config.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "chatterbox", cfg.Tiers.HighQuality.ModelName)
	assert.True(t, cfg.Tiers.HighQuality.SupportsStyle)
	assert.Equal(t, 1, cfg.Tiers.HighQuality.MaxConcurrent)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Address())
}

//nolint:paralleltest // mutates process environment
func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv(config.EnvVoiceSamplesDir, "/env/voices")
	t.Setenv(config.EnvPort, "8899")
	t.Setenv(config.EnvHost, "localhost")
	t.Setenv(config.EnvDevice, "mps")

	cfg, err := config.Parse([]byte(testConfigTOML))
	require.NoError(t, err)

	assert.Equal(t, "/env/voices", cfg.Voices.SamplesDir)
	assert.Equal(t, "localhost:8899", cfg.Server.Address())
	assert.Equal(t, "mps", cfg.Server.Device)
}

//nolint:paralleltest // mutates process environment
func TestParse_InvalidPortEnvironment(t *testing.T) {
	t.Setenv(config.EnvPort, "eighty")

	_, err := config.Parse(nil)
	require.ErrorIs(t, err, config.ErrInvalidPort)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "murmur.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigTOML), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
