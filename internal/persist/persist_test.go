package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Records map[string]string `json:"records"`
	SavedAt string            `json:"saved_at"`
}

func (snapshot) Schema() string {
	return `{
		"type": "object",
		"required": ["records", "saved_at"],
		"properties": {
			"records": {"type": "object"},
			"saved_at": {"type": "string"}
		}
	}`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, codec := range []Codec{Plain(), S2(), Zstd()} {
		t.Run(codec.Extension(), func(t *testing.T) {
			m, err := NewManager(t.TempDir(), WithCodec(codec))
			require.NoError(t, err)

			in := snapshot{Records: map[string]string{"a": "1", "b": "2"}, SavedAt: "now"}
			require.NoError(t, m.Save("cache", in))

			var out snapshot
			require.NoError(t, m.Load("cache", &out))
			assert.Equal(t, in, out)

			path, err := m.Path("cache")
			require.NoError(t, err)
			assert.FileExists(t, path)
		})
	}
}

func TestLoadMissingIsNotFound(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	var out snapshot
	err = m.Load("nothing", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadCorruptIsNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.json"), []byte("{not json"), 0o600))

	var out snapshot
	err = m.Load("cache", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadSchemaViolationIsNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	// valid JSON, wrong shape
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.json"), []byte(`{"records": []}`), 0o600))

	var out snapshot
	err = m.Load("cache", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestLoadWrongCodecIsNotFound(t *testing.T) {
	dir := t.TempDir()
	zm, err := NewManager(dir, WithCodec(Zstd()))
	require.NoError(t, err)
	path, err := zm.Path("cache")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("definitely not zstd"), 0o600))

	var out snapshot
	assert.True(t, errors.Is(zm.Load("cache", &out), ErrNotFound))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Save("collections/notes", snapshot{Records: map[string]string{}, SavedAt: "x"}))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "collections"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.json", entries[0].Name())
}

func TestNewManagerRemovesStaleTemps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "collections"), 0o750))
	stale := []string{
		filepath.Join(dir, ".cache.json.123.tmp"),
		filepath.Join(dir, "collections", ".notes.json.456.tmp"),
	}
	for _, p := range stale {
		require.NoError(t, os.WriteFile(p, []byte("partial"), 0o600))
	}

	_, err := NewManager(dir)
	require.NoError(t, err)

	for _, p := range stale {
		assert.NoFileExists(t, p)
	}
}

func TestUnitNamesLookingLikeTempsSurvive(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	units := []string{"collections/notes.tmp-2024", "collections/draft.tmp", "collections/.hidden"}
	for _, u := range units {
		require.NoError(t, m.Save(u, snapshot{Records: map[string]string{"k": u}, SavedAt: "x"}))
	}

	reopened, err := NewManager(dir)
	require.NoError(t, err)

	listed, err := reopened.List("collections")
	require.NoError(t, err)
	assert.ElementsMatch(t, units, listed)

	for _, u := range units {
		var got snapshot
		require.NoError(t, reopened.Load(u, &got))
		assert.Equal(t, u, got.Records["k"])
	}
}

func TestRemoveAndList(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	units, err := m.List("collections")
	require.NoError(t, err)
	assert.Empty(t, units)

	require.NoError(t, m.Save("collections/a", snapshot{}))
	require.NoError(t, m.Save("collections/b", snapshot{}))

	units, err = m.List("collections")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"collections/a", "collections/b"}, units)

	require.NoError(t, m.Remove("collections/a"))
	require.NoError(t, m.Remove("collections/a"))

	units, err = m.List("collections")
	require.NoError(t, err)
	assert.Equal(t, []string{"collections/b"}, units)
}

func TestPathRejectsTraversal(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for _, unit := range []string{"", "../escape", "/etc/passwd", ".."} {
		_, err := m.Path(unit)
		assert.Error(t, err, unit)
	}
}

func TestSaveFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	// a regular file where the sub-directory should be
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collections"), []byte("x"), 0o600))

	err = m.Save("collections/a", snapshot{})
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestCodecByName(t *testing.T) {
	for name, ext := range map[string]string{"": ".json", "none": ".json", "s2": ".json.s2", "zstd": ".json.zst"} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, ext, c.Extension())
	}
	_, err := CodecByName("lz4")
	assert.Error(t, err)
}
