package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goby/internal/config"
	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/testutil"
)

const bundleName = "index.android.bundle"

type testEnv struct {
	host *testutil.FakeHost
	cfg  config.Config
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DeploymentKey = "prod"
	return &testEnv{host: testutil.NewFakeHost(100, "1.0"), cfg: cfg}
}

// launch simulates a cold start.
func (e *testEnv) launch(t *testing.T) *Bridge {
	t.Helper()
	b, err := Register(context.Background(), e.host, e.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func installFixture(t *testing.T, b *Bridge, body string, mode InstallMode) ir.PackageMetadata {
	t.Helper()
	dir := testutil.WritePackage(t, map[string]string{bundleName: body})
	meta, err := b.InstallUpdate(context.Background(), dir, ir.PackageMetadata{Label: body}, mode)
	require.NoError(t, err)
	return meta
}

func readBundle(t *testing.T, b *Bridge) string {
	t.Helper()
	path, err := b.ResolveBundlePath()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNilBridge_NotInitialized(t *testing.T) {
	var b *Bridge

	_, err := b.ResolveBundlePath()
	assert.True(t, ir.IsNotInitialized(err))
	assert.True(t, ir.IsNotInitialized(b.NotifyApplicationReady()))
	assert.True(t, ir.IsNotInitialized(b.ClearUpdates(context.Background())))
	assert.False(t, b.DidUpdate())
	assert.False(t, b.IsRunningBinaryVersion())
	assert.False(t, b.NeedToReportRollback())
	assert.NoError(t, b.Close())
}

func TestRegister_Validation(t *testing.T) {
	env := createTestEnv(t)

	_, err := Register(context.Background(), nil, env.cfg)
	assert.True(t, ir.IsConfigurationError(err))

	bad := env.cfg
	bad.DataDir = ""
	_, err = Register(context.Background(), env.host, bad)
	assert.True(t, ir.IsConfigurationError(err))
}

func TestRegister_FingerprintUnreadable(t *testing.T) {
	env := createTestEnv(t)
	env.host.FailFingerprint(assert.AnError)

	_, err := Register(context.Background(), env.host, env.cfg)
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))

	// Stores were released: a later registration succeeds.
	env.host.SetFingerprint(100, "1.0")
	env.launch(t)
}

func TestFreshInstall_ServesBinary(t *testing.T) {
	env := createTestEnv(t)
	b := env.launch(t)

	path, err := b.ResolveBundlePath()
	require.NoError(t, err)
	assert.Equal(t, "assets://index.android.bundle", path)
	assert.True(t, b.IsRunningBinaryVersion())
	assert.False(t, b.DidUpdate())
	assert.False(t, b.NeedToReportRollback())
	assert.Equal(t, "1.0", b.AppVersion())
}

func TestInstallOnNextRestart_ServedAfterRelaunch(t *testing.T) {
	env := createTestEnv(t)
	b := env.launch(t)
	meta := installFixture(t, b, "v1", InstallOnNextRestart)

	// Current session unchanged
	assert.True(t, b.IsRunningBinaryVersion())
	pending, err := b.IsPendingUpdate(meta.PackageHash)
	require.NoError(t, err)
	assert.True(t, pending)
	require.NoError(t, b.Close())

	b = env.launch(t)
	assert.False(t, b.IsRunningBinaryVersion())
	assert.True(t, b.DidUpdate())
	assert.True(t, b.IsFirstRun(meta.PackageHash))
	assert.Equal(t, "v1", readBundle(t, b))

	cur, err := b.CurrentPackage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "prod", cur.DeploymentKey)
	assert.False(t, cur.IsPending, "loading is not pending")
}

func TestInstallImmediate_ReloadsRuntime(t *testing.T) {
	env := createTestEnv(t)
	b := env.launch(t)
	installFixture(t, b, "v1", InstallImmediate)

	reloads := env.host.Reloads()
	require.Len(t, reloads, 1)
	path, err := b.ResolveBundlePath()
	require.NoError(t, err)
	assert.Equal(t, path, reloads[0])
	assert.True(t, b.DidUpdate())
	assert.Equal(t, "v1", readBundle(t, b))
}

func TestCrashBeforeConfirm_RollsBack(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	b := env.launch(t)
	meta := installFixture(t, b, "v1", InstallImmediate)
	require.NoError(t, b.Close())

	b = env.launch(t)
	assert.True(t, b.IsRunningBinaryVersion())
	assert.True(t, b.NeedToReportRollback())
	assert.False(t, b.DidUpdate())

	failed, err := b.IsFailedUpdate(meta.PackageHash)
	require.NoError(t, err)
	assert.True(t, failed)

	report, err := b.DeploymentReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "DeploymentFailed", string(report.Status))
	require.NoError(t, b.RecordReported(report))
	assert.False(t, b.NeedToReportRollback())

	// The known-bad package is refused
	dir := testutil.WritePackage(t, map[string]string{bundleName: "v1"})
	_, err = b.InstallUpdate(ctx, dir, ir.PackageMetadata{}, InstallOnNextRestart)
	assert.True(t, ir.IsKnownBadPackage(err))
}

func TestConfirm_KeepsUpdate(t *testing.T) {
	env := createTestEnv(t)
	b := env.launch(t)
	installFixture(t, b, "v1", InstallImmediate)
	require.NoError(t, b.NotifyApplicationReady())
	require.NoError(t, b.Close())

	b = env.launch(t)
	assert.False(t, b.IsRunningBinaryVersion())
	assert.False(t, b.DidUpdate())
	assert.False(t, b.NeedToReportRollback())
	assert.Equal(t, "v1", readBundle(t, b))
}

func TestBinaryUpgrade_PurgesPackages(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	b := env.launch(t)
	installFixture(t, b, "v1", InstallImmediate)
	require.NoError(t, b.NotifyApplicationReady())
	require.NoError(t, b.Close())

	env.host.SetFingerprint(200, "1.0")
	b = env.launch(t)
	path, err := b.ResolveBundlePath()
	require.NoError(t, err)
	assert.Equal(t, "assets://index.android.bundle", path)
	assert.True(t, b.IsRunningBinaryVersion())

	cur, err := b.CurrentPackage(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	require.NoError(t, b.Close())

	env.host.SetFingerprint(100, "1.0")
	b = env.launch(t)
	assert.True(t, b.IsRunningBinaryVersion())
}

func TestDebugMode_RetainsPackageOnSameVersion(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	env.cfg.DebugMode = true
	b := env.launch(t)
	installFixture(t, b, "v1", InstallImmediate)
	require.NoError(t, b.NotifyApplicationReady())
	require.NoError(t, b.Close())

	env.host.SetFingerprint(200, "1.0")
	b = env.launch(t)
	assert.True(t, b.IsRunningBinaryVersion())

	cur, err := b.CurrentPackage(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cur)
}

func TestClearUpdates_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	b := env.launch(t)
	installFixture(t, b, "v1", InstallOnNextRestart)

	require.NoError(t, b.ClearUpdates(ctx))
	require.NoError(t, b.ClearUpdates(ctx))

	cur, err := b.CurrentPackage(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	pending, err := b.IsPendingUpdate("")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestDeploymentReport_BinaryThenUpdate(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	b := env.launch(t)

	report, err := b.DeploymentReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "1.0", report.AppVersion)
	require.NoError(t, b.RecordReported(report))

	report, err = b.DeploymentReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)

	installFixture(t, b, "v1", InstallImmediate)
	report, err = b.DeploymentReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "DeploymentSucceeded", string(report.Status))
	assert.Equal(t, "prod", report.Package.DeploymentKey)
	assert.Equal(t, "1.0", report.PreviousLabelOrAppVersion)
}

func TestAppVersionOverride(t *testing.T) {
	env := createTestEnv(t)
	env.cfg.AppVersionOverride = "9.9"
	b := env.launch(t)
	assert.Equal(t, "9.9", b.AppVersion())
}

func TestServerURL(t *testing.T) {
	env := createTestEnv(t)
	env.cfg.ServerURL = "https://updates.example.com/"
	b := env.launch(t)

	url, err := b.ServerURL()
	require.NoError(t, err)
	assert.Equal(t, "https://updates.example.com/", url)

	require.NoError(t, b.Close())
	_, err = b.ServerURL()
	assert.True(t, ir.IsNotInitialized(err))
}

func TestClose_ThenNotInitialized(t *testing.T) {
	env := createTestEnv(t)
	b := env.launch(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.ResolveBundlePath()
	assert.True(t, ir.IsNotInitialized(err))
}

func TestRegister_LayoutUnderDataDir(t *testing.T) {
	env := createTestEnv(t)
	env.launch(t)

	assert.DirExists(t, filepath.Join(env.cfg.DataDir, settingsFolder))
	assert.DirExists(t, filepath.Join(env.cfg.DataDir, packagesFolder))
}

func TestParseInstallMode(t *testing.T) {
	mode, err := ParseInstallMode("immediate")
	require.NoError(t, err)
	assert.Equal(t, InstallImmediate, mode)

	mode, err = ParseInstallMode("")
	require.NoError(t, err)
	assert.Equal(t, InstallOnNextRestart, mode)

	_, err = ParseInstallMode("later")
	assert.Error(t, err)
}
