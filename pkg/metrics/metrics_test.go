package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/marketplace/pkg/reconcile"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveCountsOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	m.Observe(ctx, reconcile.Event{Kind: reconcile.EventCommitted, Action: "accept", Duration: 12 * time.Millisecond})
	m.Observe(ctx, reconcile.Event{Kind: reconcile.EventCommitted, Action: "accept", Duration: 3 * time.Millisecond})
	m.Observe(ctx, reconcile.Event{Kind: reconcile.EventRolledBack, Action: "ship", Err: errors.New("down")})
	m.Observe(ctx, reconcile.Event{Kind: reconcile.EventRejected, Action: "cancel"})

	body := scrape(t, m)
	require.Contains(t, body, `marketplace_orders_mutations_total{action="accept",outcome="committed"} 2`)
	require.Contains(t, body, `marketplace_orders_mutations_total{action="ship",outcome="rolled_back"} 1`)
	require.Contains(t, body, `marketplace_orders_mutations_total{action="cancel",outcome="rejected"} 1`)
	require.Contains(t, body, `marketplace_orders_reconcile_duration_ms_count{action="accept",outcome="committed"} 2`)
	require.NotContains(t, body, `marketplace_orders_reconcile_duration_ms_count{action="cancel"`)
}

func TestRegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.Requests.WithLabelValues("getOrder", "200").Inc()
	require.Contains(t, scrape(t, a), `marketplace_gateway_http_requests_total{handler="getOrder",status="200"} 1`)
	require.NotContains(t, scrape(t, b), `handler="getOrder"`)
}
