package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	prometheus "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Source returns the message counts for a queue. A queue handle is a Source.
type Source interface {
	Name() string
	Stats(context.Context) (*schema.QueueStats, error)
}

// Collector is a prometheus collector for the message counts of a queue.
// Calls to the source are serialized, since a queue handle is not safe for
// concurrent use.
type Collector struct {
	sync.Mutex
	source   Source
	messages *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

///////////////////////////////////////////////////////////////////////////////
// CONSTANTS

const (
	metricsTimeout = 30 * time.Second
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewCollector returns a collector for the source, which must be non-nil
func NewCollector(source Source) *Collector {
	if source == nil {
		panic("source is nil")
	}
	return &Collector{
		source: source,
		messages: prometheus.NewDesc(
			schema.SchemaName+"_messages",
			"Number of messages in the queue by status",
			[]string{"queue", "status"}, nil,
		),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterHandler registers a HTTP handler for prometheus metrics on the
// router, at the metrics path under the prefix
func RegisterHandler(router *http.ServeMux, prefix string, collectors ...prometheus.Collector) error {
	registry := prometheus.NewRegistry()
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	router.HandleFunc(strings.TrimSuffix(prefix, "/")+"/metrics", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			handler.ServeHTTP(w, r)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - COLLECTOR

// Describe sends metric descriptors to the channel
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
}

// Collect fetches the counts from the queue and sends them to the channel
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
	defer cancel()

	if err := c.collectMessages(ctx, ch); err != nil {
		ch <- prometheus.NewInvalidMetric(c.messages, err)
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (c *Collector) collectMessages(ctx context.Context, ch chan<- prometheus.Metric) error {
	c.Lock()
	stats, err := c.source.Stats(ctx)
	c.Unlock()
	if err != nil {
		return err
	}

	// Send a metric for each status, including those with no messages
	for _, status := range schema.Statuses {
		ch <- prometheus.MustNewConstMetric(
			c.messages,
			prometheus.GaugeValue,
			float64(stats.Counts[status]),
			c.source.Name(),
			status.String(),
		)
	}

	return nil
}
