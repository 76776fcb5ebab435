package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles Prometheus metrics for the ingest pipeline and the feed
// generator. It satisfies ingest.Metrics and feed.Metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Datagrams      prometheus.Counter
	DatagramBytes  prometheus.Counter
	Sentences      *prometheus.CounterVec
	WritesInFlight prometheus.Gauge
	Writes         *prometheus.CounterVec
	WriteDurations prometheus.Histogram

	FeedRenders    *prometheus.CounterVec
	FeedCacheHits  prometheus.Counter
	FeedEntities   prometheus.Gauge
	FeedRenderTime prometheus.Histogram
}

// NewCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Datagrams, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "avl_datagrams_total",
		Help: "UDP datagrams received.",
	}), "avl_datagrams_total"); err != nil {
		return nil, err
	}
	if c.DatagramBytes, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "avl_datagram_bytes_total",
		Help: "UDP payload bytes received.",
	}), "avl_datagram_bytes_total"); err != nil {
		return nil, err
	}
	if c.Sentences, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_sentences_total",
		Help: "NMEA lines processed, labeled by outcome (decoded, checksum_error, ignored).",
	}, []string{"outcome"}), "avl_sentences_total"); err != nil {
		return nil, err
	}
	if c.WritesInFlight, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "avl_store_writes_in_flight",
		Help: "Position writes started but not finished.",
	}), "avl_store_writes_in_flight"); err != nil {
		return nil, err
	}
	if c.Writes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_store_writes_total",
		Help: "Finished position writes, labeled by result (ok, error).",
	}, []string{"result"}), "avl_store_writes_total"); err != nil {
		return nil, err
	}
	if c.WriteDurations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "avl_store_write_duration_seconds",
		Help:    "Position write latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "avl_store_write_duration_seconds"); err != nil {
		return nil, err
	}
	if c.FeedRenders, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gtfsrt_feed_renders_total",
		Help: "Feed regenerations, labeled by result (ok, error).",
	}, []string{"result"}), "gtfsrt_feed_renders_total"); err != nil {
		return nil, err
	}
	if c.FeedCacheHits, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gtfsrt_feed_cache_hits_total",
		Help: "Feed requests served from the cache.",
	}), "gtfsrt_feed_cache_hits_total"); err != nil {
		return nil, err
	}
	if c.FeedEntities, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gtfsrt_feed_entities",
		Help: "Vehicles in the most recently rendered feed.",
	}), "gtfsrt_feed_entities"); err != nil {
		return nil, err
	}
	if c.FeedRenderTime, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gtfsrt_feed_render_duration_seconds",
		Help:    "Feed regeneration latency in seconds, including the store query.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "gtfsrt_feed_render_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Datagram(bytes int) {
	if c == nil {
		return
	}
	c.Datagrams.Inc()
	c.DatagramBytes.Add(float64(bytes))
}

func (c *Collector) Sentence(outcome string) {
	if c == nil {
		return
	}
	c.Sentences.WithLabelValues(outcome).Inc()
}

func (c *Collector) WriteStarted() {
	if c == nil {
		return
	}
	c.WritesInFlight.Inc()
}

func (c *Collector) WriteFinished(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.WritesInFlight.Dec()
	c.WriteDurations.Observe(d.Seconds())
	c.Writes.WithLabelValues(result(err)).Inc()
}

func (c *Collector) FeedCacheHit() {
	if c == nil {
		return
	}
	c.FeedCacheHits.Inc()
}

func (c *Collector) FeedRendered(d time.Duration, entities int, err error) {
	if c == nil {
		return
	}
	c.FeedRenders.WithLabelValues(result(err)).Inc()
	c.FeedRenderTime.Observe(d.Seconds())
	if err == nil {
		c.FeedEntities.Set(float64(entities))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
