package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClassifyDBError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{errors.New("pq: duplicate key value violates unique constraint \"users_email_key\""), "duplicate"},
		{errors.New("token not found"), "not_found"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyDBError(tt.err))
	}
}

func TestRecordRateLimit(t *testing.T) {
	before := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("test_endpoint", "deny"))
	RecordRateLimit("test_endpoint", false)
	after := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("test_endpoint", "deny"))
	assert.Equal(t, before+1, after)
}

func TestRecordEphemeralOperation_Miss(t *testing.T) {
	RecordEphemeralOperation("test", "take", time.Millisecond, true, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(EphemeralOperations.WithLabelValues("test", "take", "miss")))
}
