package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTrace_Canonical(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Step: StepLaunch, Result: map[string]any{"source": "binary", "did_update": false}},
		{Seq: 2, Step: StepSetFingerprint, Result: map[string]any{"build_timestamp": int64(200), "app_version": "1.0"}},
		{Seq: 3, Step: StepConfirm},
	}

	data, err := MarshalTrace("example", trace)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"example","trace":[`+
			`{"result":{"did_update":false,"source":"binary"},"seq":1,"step":"launch"},`+
			`{"result":{"app_version":"1.0","build_timestamp":200},"seq":2,"step":"set_fingerprint"},`+
			`{"result":{},"seq":3,"step":"confirm"}]}`,
		string(data))
}
