package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordersIncrementCounters(t *testing.T) {
	before := testutil.ToFloat64(creditMutations.WithLabelValues("debit", "error"))
	RecordCreditMutation("debit", errors.New("insufficient"))
	assert.Equal(t, before+1, testutil.ToFloat64(creditMutations.WithLabelValues("debit", "error")))

	before = testutil.ToFloat64(anamnesisValidations.WithLabelValues("authorized"))
	RecordAnamnesisValidation("authorized")
	assert.Equal(t, before+1, testutil.ToFloat64(anamnesisValidations.WithLabelValues("authorized")))

	before = testutil.ToFloat64(generations.WithLabelValues("evolucao", "ok"))
	RecordGeneration("evolucao", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(generations.WithLabelValues("evolucao", "ok")))
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordHTTPRequest("GET", "/healthz", 200)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "psi_http_requests_total")
}
