package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	// Packages
	metrics "github.com/mutablelogic/go-pgqmini/pkg/queue/metrics"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	testutil "github.com/prometheus/client_golang/prometheus/testutil"
	assert "github.com/stretchr/testify/assert"
)

type source struct {
	counts map[schema.Status]uint64
	err    error
}

func (s *source) Name() string {
	return "emails"
}

func (s *source) Stats(context.Context) (*schema.QueueStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &schema.QueueStats{Queue: s.Name(), Counts: s.counts}, nil
}

func Test_Metrics_Collector(t *testing.T) {
	assert := assert.New(t)

	t.Run("Collect", func(t *testing.T) {
		collector := metrics.NewCollector(&source{counts: map[schema.Status]uint64{
			schema.StatusPending:   3,
			schema.StatusCompleted: 1,
		}})
		expected := `
# HELP pgqmini_messages Number of messages in the queue by status
# TYPE pgqmini_messages gauge
pgqmini_messages{queue="emails",status="COMPLETED"} 1
pgqmini_messages{queue="emails",status="PENDING"} 3
pgqmini_messages{queue="emails",status="PROCESSING"} 0
`
		assert.NoError(testutil.CollectAndCompare(collector, strings.NewReader(expected), "pgqmini_messages"))
	})

	t.Run("Error", func(t *testing.T) {
		collector := metrics.NewCollector(&source{err: errors.New("connection is closed")})
		assert.Error(testutil.CollectAndCompare(collector, strings.NewReader("")))
	})

	t.Run("NilSource", func(t *testing.T) {
		assert.Panics(func() {
			metrics.NewCollector(nil)
		})
	})
}

func Test_Metrics_Handler(t *testing.T) {
	assert := assert.New(t)

	router := http.NewServeMux()
	assert.NoError(metrics.RegisterHandler(router, "/api/", metrics.NewCollector(&source{counts: map[schema.Status]uint64{
		schema.StatusProcessing: 2,
	}})))
	server := httptest.NewServer(router)
	defer server.Close()

	t.Run("GetMetrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/metrics")
		assert.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		assert.NoError(err)
		assert.Contains(string(body), `pgqmini_messages{queue="emails",status="PROCESSING"} 2`)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/metrics", "text/plain", nil)
		assert.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("DuplicateCollector", func(t *testing.T) {
		collector := metrics.NewCollector(&source{})
		assert.Error(metrics.RegisterHandler(http.NewServeMux(), "", collector, collector))
	})
}
