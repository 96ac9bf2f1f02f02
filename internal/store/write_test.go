package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/testutil"
)

func TestInstallPackage_ComputesHash(t *testing.T) {
	s := createTestStore(t)
	dir := testutil.WritePackage(t, map[string]string{bundleName: "one"})

	meta, err := s.InstallPackage(context.Background(), dir, ir.PackageMetadata{Label: "v1"})
	require.NoError(t, err)

	want, err := HashDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, want, meta.PackageHash)
	assert.FileExists(t, filepath.Join(s.PackageDir(meta.PackageHash), bundleName))
}

func TestInstallPackage_KeepsGivenHash(t *testing.T) {
	s := createTestStore(t)
	dir := testutil.WritePackage(t, map[string]string{bundleName: "one"})

	meta, err := s.InstallPackage(context.Background(), dir, ir.PackageMetadata{PackageHash: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", meta.PackageHash)
	assert.DirExists(t, s.PackageDir("abc123"))
}

func TestInstallPackage_StoresMetadata(t *testing.T) {
	s := createTestStore(t)
	dir := testutil.WritePackage(t, map[string]string{"build/main.jsbundle": "one"})

	in := ir.PackageMetadata{
		PackageHash:        "h1",
		BinaryModifiedTime: "1700000000000",
		AppVersion:         "2.1.0",
		IsPending:          true,
		DeploymentKey:      "prod-key",
		Label:              "v7",
		Description:        "fixes login",
		IsMandatory:        true,
		PackageSize:        3,
		BundlePath:         "build/main.jsbundle",
	}
	_, err := s.InstallPackage(context.Background(), dir, in)
	require.NoError(t, err)

	got, err := s.Package(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in, *got)
}

func TestInstallPackage_Idempotent(t *testing.T) {
	s := createTestStore(t)
	first := installTestPackage(t, s, "v1", "one")

	dir := testutil.WritePackage(t, map[string]string{bundleName: "one"})
	second, err := s.InstallPackage(context.Background(), dir, ir.PackageMetadata{Label: "relabelled"})
	require.NoError(t, err)

	// Stored record wins
	assert.Equal(t, first, second)

	all, err := s.Packages(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInstallPackage_InvalidSource(t *testing.T) {
	s := createTestStore(t)

	_, err := s.InstallPackage(context.Background(), filepath.Join(t.TempDir(), "missing"), ir.PackageMetadata{})
	require.Error(t, err)
	assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	_, err = s.InstallPackage(context.Background(), file, ir.PackageMetadata{})
	assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))
}

func TestInstallPackage_RejectsBadBundlePath(t *testing.T) {
	s := createTestStore(t)
	dir := testutil.WritePackage(t, map[string]string{bundleName: "one"})

	tests := []struct {
		name       string
		bundlePath string
	}{
		{"escapes package", "../outside.bundle"},
		{"missing file", "missing.bundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.InstallPackage(context.Background(), dir, ir.PackageMetadata{BundlePath: tt.bundlePath})
			require.Error(t, err)
			assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))
		})
	}

	all, err := s.Packages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInstallPackage_RejectsUnsafeHash(t *testing.T) {
	s := createTestStore(t)
	dir := testutil.WritePackage(t, map[string]string{bundleName: "one"})

	for _, hash := range []string{"..", "a/b", `a\b`} {
		_, err := s.InstallPackage(context.Background(), dir, ir.PackageMetadata{PackageHash: hash})
		assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err), hash)
	}
}

func TestInstallPackage_CleansStaging(t *testing.T) {
	s := createTestStore(t)
	installTestPackage(t, s, "v1", "one")

	entries, err := os.ReadDir(s.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstallArchive(t *testing.T) {
	s := createTestStore(t)
	archive := testutil.WriteArchive(t, map[string]string{
		bundleName:        "zipped",
		"assets/logo.png": "png",
	})

	meta, err := s.InstallArchive(context.Background(), archive, ir.PackageMetadata{Label: "v1"})
	require.NoError(t, err)
	require.NotEmpty(t, meta.PackageHash)

	data, err := os.ReadFile(filepath.Join(s.PackageDir(meta.PackageHash), bundleName))
	require.NoError(t, err)
	assert.Equal(t, "zipped", string(data))
	assert.FileExists(t, filepath.Join(s.PackageDir(meta.PackageHash), "assets", "logo.png"))
}

func TestInstallArchive_RejectsZipSlip(t *testing.T) {
	s := createTestStore(t)
	archive := testutil.WriteArchive(t, map[string]string{
		"../escape.bundle": "evil",
	})

	_, err := s.InstallArchive(context.Background(), archive, ir.PackageMetadata{})
	require.Error(t, err)
	assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))
	assert.NoFileExists(t, filepath.Join(s.Root(), "escape.bundle"))
}

func TestInstallArchive_NotAZip(t *testing.T) {
	s := createTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0600))

	_, err := s.InstallArchive(context.Background(), path, ir.PackageMetadata{})
	assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))
}

func TestPromoteToCurrent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")

	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))
	cur, err := s.CurrentMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", cur.Label)
	prev, err := s.PreviousMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, prev)

	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))
	cur, err = s.CurrentMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.Label)
	prev, err = s.PreviousMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "v1", prev.Label)
}

func TestPromoteToCurrent_KeepsAtMostTwo(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")
	v3 := installTestPackage(t, s, "v3", "three")

	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))
	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))
	require.NoError(t, s.PromoteToCurrent(ctx, v3.PackageHash))

	all, err := s.Packages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "v2", all[0].Label)
	assert.Equal(t, "v3", all[1].Label)
	assert.NoDirExists(t, s.PackageDir(v1.PackageHash))
}

func TestPromoteToCurrent_SameHashNoop(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")
	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))
	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))

	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))

	prev, err := s.PreviousMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "v1", prev.Label)
}

func TestPromoteToCurrent_UnknownHash(t *testing.T) {
	s := createTestStore(t)

	err := s.PromoteToCurrent(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, ir.ErrCodePackageNotFound, ir.CodeOf(err))
}

func TestRollbackToPrevious(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")
	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))
	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))

	restored, err := s.RollbackToPrevious(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.PackageHash, restored)

	cur, err := s.CurrentMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", cur.Label)
	prev, err := s.PreviousMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, prev)

	assert.NoDirExists(t, s.PackageDir(v2.PackageHash))
	got, err := s.Package(ctx, v2.PackageHash)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRollbackToPrevious_NoPrevious(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))

	restored, err := s.RollbackToPrevious(ctx)
	require.NoError(t, err)
	assert.Empty(t, restored)

	cur, err := s.CurrentMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRollbackToPrevious_EmptyStoreNoop(t *testing.T) {
	s := createTestStore(t)

	restored, err := s.RollbackToPrevious(context.Background())
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestPurgeAll(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")
	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))
	require.NoError(t, s.PromoteToCurrent(ctx, v2.PackageHash))

	require.NoError(t, s.PurgeAll(ctx))

	cur, err := s.CurrentMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	prev, err := s.PreviousMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, prev)

	entries, err := os.ReadDir(filepath.Join(s.Root(), packagesFolder))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Idempotent
	require.NoError(t, s.PurgeAll(ctx))
}

func TestWrite_AfterCloseIsPersistenceError(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.PurgeAll(context.Background())
	require.Error(t, err)
	assert.True(t, ir.IsPersistenceError(err))
}

func TestDiscardPackage(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	v1 := installTestPackage(t, s, "v1", "one")
	v2 := installTestPackage(t, s, "v2", "two")
	require.NoError(t, s.PromoteToCurrent(ctx, v1.PackageHash))

	err := s.DiscardPackage(ctx, v1.PackageHash)
	assert.Equal(t, ir.ErrCodeInvalidPackage, ir.CodeOf(err))

	require.NoError(t, s.DiscardPackage(ctx, v2.PackageHash))
	got, err := s.Package(ctx, v2.PackageHash)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoDirExists(t, s.PackageDir(v2.PackageHash))

	// Absent hash is a no-op
	require.NoError(t, s.DiscardPackage(ctx, v2.PackageHash))
}
