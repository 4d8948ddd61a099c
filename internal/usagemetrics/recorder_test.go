package usagemetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsAdmissions(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := NewRecorder(registry)

	rec.Admitted("FREE", 5, 1)
	rec.Admitted("FREE", 5, 1)
	rec.Denied("FREE", "limit_exceeded")
	rec.Conflict("")

	require.Equal(t, 2.0, testutil.ToFloat64(rec.admissions.WithLabelValues("FREE", "admitted")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.admissions.WithLabelValues("FREE", "limit_exceeded")))
	require.Equal(t, 10.0, testutil.ToFloat64(rec.credits.WithLabelValues("FREE")))
	require.Equal(t, 2.0, testutil.ToFloat64(rec.actions.WithLabelValues("FREE")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.conflicts.WithLabelValues("unknown")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Admitted("FREE", 1, 1)
	rec.Denied("FREE", "limit_exceeded")
	rec.Run("ok")
	rec.WebhookEvent("stripe", "applied")
	rec.SetOrganizations(3)
}

func TestBuildRemoteWriteSeriesSkipsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := NewRecorder(registry)
	rec.WebhookEvent("stripe", "applied")
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ignored_seconds"})
	registry.MustRegister(histogram)
	histogram.Observe(1)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1000)
	var names []string
	for _, s := range series {
		for _, label := range s.Labels {
			if label.Name == "__name__" {
				names = append(names, label.Value)
			}
		}
		require.Equal(t, int64(1000), s.Samples[0].Timestamp)
	}
	require.Contains(t, names, "agentmarket_billing_webhook_events_total")
	require.Contains(t, names, "agentmarket_organizations")
	require.NotContains(t, names, "ignored_seconds")
}
