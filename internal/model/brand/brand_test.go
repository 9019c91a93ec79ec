package brand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetsLoad(t *testing.T) {
	presets, err := Presets()
	require.NoError(t, err)
	require.Len(t, presets, 13)

	byID := map[string]Template{}
	for _, p := range presets {
		assert.True(t, p.Preset, p.ID)
		byID[p.ID] = p
	}

	fitness := byID["fitness"]
	assert.Equal(t, "Professional", fitness.Category, "inherits base category")
	assert.Equal(t, "Inter", fitness.Fonts["heading"], "inherits base fonts")
	assert.Equal(t, "#E63946", fitness.Colors["primary"])
	_, hasBackground := fitness.Colors["background"]
	assert.False(t, hasBackground, "maps replace rather than merge")
}

func TestParsePresetsRejectsDuplicates(t *testing.T) {
	raw := []byte(`
presets:
  - id: a
    name: A
  - id: a
    name: Again
`)
	_, err := parsePresets(raw)
	assert.ErrorContains(t, err, "duplicate")

	_, err = parsePresets([]byte("base: missing\npresets: []\n"))
	assert.ErrorContains(t, err, "not found")
}

func TestEnhancePrompt(t *testing.T) {
	tmpl := Template{
		Style:   map[string]string{"tone": "bold, youthful"},
		Prompts: map[string]string{"product": "neon lighting", "marketing": "gradient overlays"},
	}
	assert.Equal(t, "a mug, neon lighting, bold, youthful", tmpl.EnhancePrompt("a mug", ""))
	assert.Equal(t, "a mug, gradient overlays, bold, youthful", tmpl.EnhancePrompt("a mug", "marketing"))
	assert.Equal(t, "a mug, bold, youthful", tmpl.EnhancePrompt("a mug", "unknown"))
	assert.Equal(t, "a mug", Template{}.EnhancePrompt("a mug", "product"))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(Template{ID: "acme", Name: "Acme", Category: "Custom"}))
	require.Error(t, store.Put(Template{ID: "../escape", Name: "x"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	loaded, errs := store.Load()
	require.Len(t, loaded, 1)
	assert.Equal(t, "Acme", loaded[0].Name)
	assert.Len(t, errs, 1)

	require.NoError(t, store.Remove("acme"))
	require.NoError(t, store.Remove("acme"))
	loaded, _ = store.Load()
	assert.Empty(t, loaded)
}
