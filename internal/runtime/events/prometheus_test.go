package events

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[fam.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[fam.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)
	require.NoError(t, s.Register())

	Started(s, "vu")
	Counter(s, CounterPublishSent, 3)
	Rate(s, RatePublish)
	Error(s, "vu", errors.New("x"))
	Match(s, true, MatchDetail{Expression: "$.ok"})
	Response(s, 20*time.Millisecond, 0, "vu")

	values := gatherValues(t, reg)
	assert.Equal(t, 1.0, values["vuflow_vus_started_total"])
	assert.Equal(t, 3.0, values["vuflow_counter_total"])
	assert.Equal(t, 1.0, values["vuflow_rate_total"])
	assert.Equal(t, 1.0, values["vuflow_errors_total"])
	assert.Equal(t, 1.0, values["vuflow_matches_total"])
	assert.Equal(t, 1.0, values["vuflow_response_seconds"])
}

func TestPrometheusSinkRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewPrometheusSink(reg).Register())

	// A second sink over the same registry tolerates AlreadyRegisteredError.
	s := NewPrometheusSink(reg)
	require.NoError(t, s.Register())
	require.NoError(t, s.Register())
}
