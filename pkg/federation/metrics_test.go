package federation

import (
	"context"
	"strings"
	"testing"

	"spacecomms/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetrics_Creation(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics.EnvelopesReceived == nil {
		t.Error("EnvelopesReceived metric not created")
	}
	if metrics.DispatchLatency == nil {
		t.Error("DispatchLatency metric not created")
	}

	metrics.Duplicates.Inc()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.True(t, strings.HasPrefix(mf.GetName(), "spacecomms_"), mf.GetName())
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two nodes in one process must not collide on registration.
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMetrics_ProcessorCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	metrics := NewMetrics(prometheus.NewRegistry())
	f.proc = NewProcessor(f.proc.cfg, f.peers, f.store, f.fwd, metrics, zaptest.NewLogger(t))

	env := cdmEnvelope(t, "A", "CDM-M1")
	_, err := f.proc.HandleEnvelope(ctx, env, "A")
	require.NoError(t, err)
	_, err = f.proc.HandleEnvelope(ctx, env, "B")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EnvelopesReceived.WithLabelValues(string(protocol.CdmAnnounce))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoutingDecisions.WithLabelValues(AcceptAndForward.String())))
}
