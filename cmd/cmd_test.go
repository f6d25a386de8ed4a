package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.jpg", true},
		{"B.JPEG", true},
		{"c.png", true},
		{"d.webp", true},
		{"e.txt", false},
		{"noext", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isImageFile(tc.name))
		})
	}
}

func TestLoadCandidateImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o750))

	names, images, err := loadCandidateImages(dir, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"a.png", "b.jpg"}, names)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, images)
}

func TestLoadCandidateImages_MissingDir(t *testing.T) {
	_, _, err := loadCandidateImages(filepath.Join(t.TempDir(), "missing"), zap.NewNop())
	assert.Error(t, err)
}

func TestMatchSettings(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "x"}
		addMatchFlags(c)
		return c
	}
	cfg := config.Defaults()

	sc, workers := matchSettings(newCmd(), cfg)
	assert.Equal(t, cfg.Match.Threshold, sc.Threshold)
	assert.Equal(t, cfg.Scan.Workers, workers)

	c := newCmd()
	require.NoError(t, c.Flags().Set("threshold", "0.05"))
	require.NoError(t, c.Flags().Set("workers", "8"))
	sc, workers = matchSettings(c, cfg)
	assert.InDelta(t, 0.05, sc.Threshold, 1e-12)
	assert.Equal(t, 8, workers)
}

func TestTemplateRows(t *testing.T) {
	fv := facematch.FeatureVector{"lips": {0.1, 0.2, 0.3}}
	rows := templateRows([]database.StoredTemplate{
		{Index: 0, Feature: fv},
		{Index: 1, NoFace: true},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].Dims)
	assert.False(t, rows[0].NoFace)
	assert.True(t, rows[1].NoFace)
	assert.Equal(t, 0, rows[1].Dims)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "scan", "worker", "templates", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	c, _, err := rootCmd.Find([]string{"templates", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", c.Name())
}

func TestMustGet_PanicsOnUnknownFlag(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	assert.Panics(t, func() { mustGetString(c, "missing") })
}
