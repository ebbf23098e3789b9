package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/menu-labeler/internal/labels"
	"github.com/example/menu-labeler/internal/parser"
)

// Metrics holds the collectors updated while labeling.
type Metrics struct {
	files            *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	inferenceLatency prometheus.Histogram
}

// NewMetrics registers the labeling collectors with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_files_total",
			Help: "Images handled by the labeler, by outcome",
		}, []string{"status"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "labeler_reply_cache_hits_total",
			Help: "Inference replies served from the cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "labeler_reply_cache_misses_total",
			Help: "Inference replies not found in the cache",
		}),
		inferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_inference_duration_seconds",
			Help:    "Latency of inference calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
	}
}

// Summary aggregates a finished result set.
type Summary struct {
	Files    int      `json:"files"`
	Menus    int      `json:"menus"`
	Receipts int      `json:"receipts"`
	Errors   int      `json:"errors"`
	Dishes   []string `json:"dishes"`
}

// Summarize counts menus, receipts and error entries, and collects distinct
// dish names in first-seen order.
func Summarize(results *labels.ResultSet) Summary {
	summary := Summary{Dishes: []string{}}
	seen := make(map[string]struct{})
	for _, name := range results.Keys() {
		summary.Files++
		value, _ := results.Get(name)
		c, ok := parser.Decode(value)
		if !ok {
			summary.Errors++
			continue
		}
		if c.IsMenu() {
			summary.Menus++
		}
		if c.IsReceipt() {
			summary.Receipts++
		}
		for _, dish := range c.DishNames {
			if _, dup := seen[dish]; dup {
				continue
			}
			seen[dish] = struct{}{}
			summary.Dishes = append(summary.Dishes, dish)
		}
	}
	return summary
}
