package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/settings"
)

func createTestBuilder(t *testing.T) *Builder {
	t.Helper()
	st, err := settings.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewBuilder(st)
}

var v1 = ir.PackageMetadata{PackageHash: "h1", DeploymentKey: "prod", Label: "v1"}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "prod:v1", Identifier(v1))
}

func TestBinaryReport_OncePerAppVersion(t *testing.T) {
	b := createTestBuilder(t)

	r, err := b.BinaryReport("1.0")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "1.0", r.AppVersion)
	assert.Empty(t, r.PreviousLabelOrAppVersion)

	require.NoError(t, b.RecordReported(r))

	r, err = b.BinaryReport("1.0")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = b.BinaryReport("1.1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "1.0", r.PreviousLabelOrAppVersion)
	assert.Empty(t, r.PreviousDeploymentKey)
}

func TestUpdateReport_OncePerIdentifier(t *testing.T) {
	b := createTestBuilder(t)
	base, err := b.BinaryReport("1.0")
	require.NoError(t, err)
	require.NoError(t, b.RecordReported(base))

	r, err := b.UpdateReport(v1)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, StatusSucceeded, r.Status)
	assert.Equal(t, "h1", r.Package.PackageHash)
	assert.Equal(t, "1.0", r.PreviousLabelOrAppVersion)

	require.NoError(t, b.RecordReported(r))

	r, err = b.UpdateReport(v1)
	require.NoError(t, err)
	assert.Nil(t, r)

	v2 := ir.PackageMetadata{PackageHash: "h2", DeploymentKey: "prod", Label: "v2"}
	r, err = b.UpdateReport(v2)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "prod", r.PreviousDeploymentKey)
	assert.Equal(t, "v1", r.PreviousLabelOrAppVersion)
}

func TestRollbackReport_NotRecorded(t *testing.T) {
	b := createTestBuilder(t)
	base, err := b.BinaryReport("1.0")
	require.NoError(t, err)
	require.NoError(t, b.RecordReported(base))

	r := b.RollbackReport(v1)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "h1", r.Package.PackageHash)

	require.NoError(t, b.RecordReported(r))

	// Still de-duplicated against the binary report
	again, err := b.BinaryReport("1.0")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRecordReported_Nil(t *testing.T) {
	b := createTestBuilder(t)
	assert.NoError(t, b.RecordReported(nil))
}
