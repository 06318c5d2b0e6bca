package input

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facescan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets([]byte(`[[0.1, 0.2], [0.3, 0.4]]`))
	require.NoError(t, err)
	assert.Equal(t, []types.Embedding{{0.1, 0.2}, {0.3, 0.4}}, targets)

	for _, bad := range []string{`{"a": 1}`, `[[0.1], []]`, `[["x"]]`, `nope`} {
		_, err := ParseTargets([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedInput, bad)
	}
}

func TestCheckTargets(t *testing.T) {
	assert.NoError(t, CheckTargets([]types.Embedding{{1, 2}, {3, 4}}, 2))
	assert.NoError(t, CheckTargets(nil, 128))
	assert.ErrorIs(t, CheckTargets([]types.Embedding{{1, 2}, {3}}, 2), ErrMalformedInput)
	assert.ErrorIs(t, CheckTargets([]types.Embedding{{1, 2}}, 128), ErrMalformedInput)
}

func TestParsePersonMap(t *testing.T) {
	pm, err := ParsePersonMap([]byte(`{"0": {"personId": "p-1", "name": "Ada"}, "2": {"personId": "p-3", "name": "Grace"}}`))
	require.NoError(t, err)
	assert.Equal(t, types.PersonMap{
		0: {PersonID: "p-1", Name: "Ada"},
		2: {PersonID: "p-3", Name: "Grace"},
	}, pm)

	_, err = ParsePersonMap([]byte(`{"first": {"personId": "p-1"}}`))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParsePersonMap([]byte(`{"-1": {"personId": "p-1"}}`))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParsePersonMap([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestParsePersonMapRequiresCanonicalKeys(t *testing.T) {
	for _, key := range []string{"01", "+1", " 1", "1.0", "00"} {
		_, err := ParsePersonMap([]byte(`{"1": {"name": "A"}, "` + key + `": {"name": "B"}}`))
		assert.ErrorIs(t, err, ErrMalformedInput, key)
	}

	// Lookups stay deterministic across parses.
	for i := 0; i < 50; i++ {
		pm, err := ParsePersonMap([]byte(`{"1": {"name": "A"}, "10": {"name": "B"}}`))
		require.NoError(t, err)
		assert.Equal(t, "A", pm[1].Name)
		assert.Equal(t, "B", pm[10].Name)
	}
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	encPath := filepath.Join(dir, "encodings.json")
	mapPath := filepath.Join(dir, "people.json")
	require.NoError(t, os.WriteFile(encPath, []byte(`[[1, 2, 3]]`), 0o644))
	require.NoError(t, os.WriteFile(mapPath, []byte(`{"0": {"personId": "p", "name": "n"}}`), 0o644))

	targets, err := LoadTargets(encPath)
	require.NoError(t, err)
	assert.Len(t, targets, 1)

	pm, err := LoadPersonMap(mapPath)
	require.NoError(t, err)
	assert.Equal(t, "n", pm[0].Name)

	_, err = LoadTargets(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, ErrMalformedInput))
}
