package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// WriteTree writes files into dir. files maps slash-separated relative
// paths to contents.
func WriteTree(dir string, files map[string]string) error {
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			return err
		}
	}
	return nil
}

// WriteZip writes files into a zip archive at path. Entries are written
// in sorted order so archives are reproducible.
func WriteZip(path string, files map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WritePackage writes a package tree into a fresh temp directory and
// returns its path.
func WritePackage(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, WriteTree(dir, files))
	return dir
}

// WriteArchive writes files into a zip archive in a fresh temp directory
// and returns its path.
func WriteArchive(t testing.TB, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "package.zip")
	require.NoError(t, WriteZip(path, files))
	return path
}
