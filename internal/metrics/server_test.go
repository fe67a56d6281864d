package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ExposesEngineMetrics(t *testing.T) {
	s, err := Start("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer s.Stop()

	before := testutil.ToFloat64(IterationsTotal)
	IterationsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(IterationsTotal))

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "weave_engine_iterations_total")
	assert.Contains(t, string(body), "weave_engine_runs_active")
	assert.Contains(t, string(body), "weave_engine_steps_in_flight")
}

func TestServer_StopReleasesListener(t *testing.T) {
	s, err := Start("127.0.0.1:0", nil)
	require.NoError(t, err)
	addr := s.Addr()
	s.Stop()

	again, err := Start(addr, nil)
	require.NoError(t, err, "address should be free after Stop")
	again.Stop()
}

func TestStart_BadAddress(t *testing.T) {
	_, err := Start("256.0.0.1:bad", nil)
	assert.Error(t, err)
}
