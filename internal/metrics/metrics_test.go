package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveQuery(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("test"))
	checkedBefore := testutil.ToFloat64(CandidatesChecked.WithLabelValues("test"))

	ObserveQuery("test", time.Now().Add(-10*time.Millisecond), 120, 3)

	assert.Equal(t, before+1, testutil.ToFloat64(QueriesTotal.WithLabelValues("test")))
	assert.Equal(t, checkedBefore+120, testutil.ToFloat64(CandidatesChecked.WithLabelValues("test")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ImpactsReturned.WithLabelValues("test")), 3.0)
}

func TestHandler(t *testing.T) {
	ObserveQuery("handler", time.Now(), 1, 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `routeimpact_query_total{shape="handler"}`)
}
