package voice_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `{
  "voices": [
    {"id": "narrator", "name": "Narrator", "file": "narrator.wav", "gender": "male", "style": "calm"},
    {"id": "ghost", "file": "missing.wav"}
  ]
}`

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "voice-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func writeSamplesDir(t *testing.T, manifest string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, voice.ManifestFileName), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "narrator.wav"), []byte("RIFF"), 0o600))

	return dir
}

func TestNewCatalog_Presets(t *testing.T) {
	t.Parallel()

	catalog, err := voice.NewCatalog("", newTestLogger(t))
	require.NoError(t, err)

	heart, ok := catalog.Preset(voice.DefaultPreset)
	require.True(t, ok)
	assert.Equal(t, "Heart", heart.Name)
	assert.Equal(t, voice.FamilyPreset, heart.Family)

	_, ok = catalog.Preset("nobody")
	assert.False(t, ok)

	_, ok = catalog.Sample("narrator")
	assert.False(t, ok, "no manifest means no cloning voices")
}

func TestNewCatalog_Manifest(t *testing.T) {
	t.Parallel()

	dir := writeSamplesDir(t, testManifest)

	catalog, err := voice.NewCatalog(dir, newTestLogger(t))
	require.NoError(t, err)

	narrator, ok := catalog.Sample("narrator")
	require.True(t, ok)
	assert.Equal(t, "calm", narrator.Style)
	assert.Equal(t, filepath.Join(dir, "narrator.wav"), narrator.SamplePath)

	path, ok := catalog.SamplePath("narrator")
	require.True(t, ok)
	assert.Equal(t, narrator.SamplePath, path)

	_, ok = catalog.SamplePath("ghost")
	assert.False(t, ok, "entry without a file on disk yields no sample")

	_, ok = catalog.SamplePath("unknown")
	assert.False(t, ok)

	ghost, ok := catalog.Sample("ghost")
	require.True(t, ok)
	assert.Equal(t, "ghost", ghost.Name)
	assert.Equal(t, "general", ghost.Style)
}

func TestNewCatalog_InvalidManifestIsNonFatal(t *testing.T) {
	t.Parallel()

	dir := writeSamplesDir(t, `{"voices": [{"name": "no id"}]}`)

	catalog, err := voice.NewCatalog(dir, newTestLogger(t))
	require.NoError(t, err)

	entries := catalog.List(voice.FamilyCloning)
	require.Len(t, entries, 1)
	assert.Equal(t, voice.DefaultID, entries[0].ID)
}

func TestList_IncludesDefaultPerFamily(t *testing.T) {
	t.Parallel()

	dir := writeSamplesDir(t, testManifest)

	catalog, err := voice.NewCatalog(dir, newTestLogger(t))
	require.NoError(t, err)

	cloning := catalog.List(voice.FamilyCloning)
	require.Len(t, cloning, 3)
	assert.Equal(t, voice.DefaultID, cloning[0].ID)
	assert.Equal(t, "narrator", cloning[1].ID)
	assert.True(t, cloning[1].HasSample)
	assert.False(t, cloning[2].HasSample)

	all := catalog.List()

	defaults := 0

	for _, entry := range all {
		if entry.ID == voice.DefaultID {
			defaults++
		}
	}

	assert.Equal(t, 2, defaults)
	assert.Greater(t, len(all), len(cloning))
}

func TestFindSamplesDir(t *testing.T) {
	t.Parallel()

	withManifest := writeSamplesDir(t, testManifest)
	empty := t.TempDir()

	dir, found := voice.FindSamplesDir("", empty, withManifest)
	assert.True(t, found)
	assert.Equal(t, withManifest, dir)

	dir, found = voice.FindSamplesDir("", empty)
	assert.False(t, found)
	assert.Equal(t, empty, dir)

	dir, found = voice.FindSamplesDir()
	assert.False(t, found)
	assert.Empty(t, dir)
}
