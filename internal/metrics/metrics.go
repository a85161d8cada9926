// Package metrics 集約サーバーのディスパッチを Prometheus のメトリクスにする
package metrics

import (
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gencam/internal/camera"
)

// Collector は camera.DispatchObserver を実装し、メトリクスを記録する
type Collector struct {
	registry   *prometheus.Registry
	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	cameras    prometheus.Gauge
}

// New は専用のレジストリにメトリクスを登録して Collector を作成する
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gencam",
			Name:      "dispatch_total",
			Help:      "Number of dispatched commands by kind and result code.",
		}, []string{"kind", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gencam",
			Name:      "dispatch_duration_seconds",
			Help:      "Time taken to execute a dispatched command.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30, 60},
		}, []string{"kind"}),
		cameras: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gencam",
			Name:      "cameras_registered",
			Help:      "Number of cameras registered with the aggregation server.",
		}),
	}
	c.registry.MustRegister(
		c.dispatches,
		c.latency,
		c.cameras,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// unknownKind は未知のコマンド種別をまとめるラベル
const unknownKind = "unknown"

// ObserveDispatch はコマンド1件の結果を記録する
// 未知のコマンド種別は系列が増え続けないよう unknown にまとめる
func (c *Collector) ObserveDispatch(kind camera.CommandKind, code camera.Code, elapsed time.Duration) {
	label := string(kind)
	if !slices.Contains(camera.CommandKinds, kind) {
		label = unknownKind
	}
	result := string(code)
	if result == "" {
		result = "ok"
	}
	c.dispatches.WithLabelValues(label, result).Inc()
	c.latency.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveCameras は登録済みカメラ数を記録する
func (c *Collector) ObserveCameras(n int) {
	c.cameras.Set(float64(n))
}

// Registry はメトリクスのレジストリを返す
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用のハンドラーを返す
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
