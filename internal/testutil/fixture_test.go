package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePackage_CreatesNestedFiles(t *testing.T) {
	dir := WritePackage(t, map[string]string{
		"index.android.bundle": "bundle",
		"assets/logo.png":      "png",
	})

	data, err := os.ReadFile(filepath.Join(dir, "index.android.bundle"))
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "assets", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestWriteArchive_SortedEntries(t *testing.T) {
	path := WriteArchive(t, map[string]string{
		"b.txt":                  "b",
		"a/index.android.bundle": "bundle",
	})

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.File, 2)
	assert.Equal(t, "a/index.android.bundle", r.File[0].Name)
	assert.Equal(t, "b.txt", r.File[1].Name)
}
