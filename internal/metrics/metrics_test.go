package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := tasksTotal
	Init()
	require.Same(t, first, tasksTotal)
}

func TestObserveCounters(t *testing.T) {
	ObserveTask("COMPLETED_test")
	ObservePage("collected_test")
	ObservePage("collected_test")
	ObserveProfile("accepted_test")
	ObserveRejection("MissingName_test")
	ObserveRetry("bot_detected_test")

	require.InDelta(t, 1, testutil.ToFloat64(tasksTotal.WithLabelValues("COMPLETED_test")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(pagesTotal.WithLabelValues("collected_test")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(profilesTotal.WithLabelValues("accepted_test")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(rejectionsTotal.WithLabelValues("MissingName_test")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(retriesTotal.WithLabelValues("bot_detected_test")), 0)
}

func TestGauges(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeTasks)
	IncActiveTasks()
	require.InDelta(t, before+1, testutil.ToFloat64(activeTasks), 0)
	DecActiveTasks()
	require.InDelta(t, before, testutil.ToFloat64(activeTasks), 0)

	SetQuotaUsed("profiles_test", 7)
	require.InDelta(t, 7, testutil.ToFloat64(quotaUsed.WithLabelValues("profiles_test")), 0)
}

func TestObserveNavigationDelay(t *testing.T) {
	ObserveNavigationDelay("politeness_test", 2*time.Second)
	require.Positive(t, testutil.CollectAndCount(navigationDelaySeconds))
}
