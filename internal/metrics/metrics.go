// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 背景除去リクエストの結果ラベル。
const (
	OutcomeSuccess         = "success"
	OutcomeValidationError = "validation_error"
	OutcomeVendorError     = "vendor_error"
	OutcomeTransportError  = "transport_error"
	OutcomeEmptyResult     = "empty_result"
	OutcomeInternalError   = "internal_error"
	OutcomeClientAborted   = "client_aborted"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインやステージングのスイーパーから利用する。
type MetricsCollector interface {
	RecordRemoval(outcome string)
	RecordVendorStatus(statusCode int)
	RecordVendorLatency(duration time.Duration)
	RecordBytesProcessed(count int)
	RecordCleanupFailure()
	RecordActivityFailure()
	RecordSweptFiles(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	removals        *prometheus.CounterVec
	vendorStatus    *prometheus.CounterVec
	vendorLatency   prometheus.Histogram
	bytesProcessed  prometheus.Counter
	cleanupFailures prometheus.Counter
	activityFails   prometheus.Counter
	sweptFiles      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgremover_removals_total",
			Help: "結果別の背景除去リクエスト数",
		}, []string{"outcome"}),
		vendorStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgremover_vendor_http_status_total",
			Help: "remove.bg APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		vendorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bgremover_vendor_latency_seconds",
			Help:    "remove.bg API呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		bytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgremover_processed_bytes_total",
			Help: "クライアントへ送信した処理済み画像の合計バイト数",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgremover_staging_cleanup_failures_total",
			Help: "一時ファイルの削除失敗数",
		}),
		activityFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgremover_activity_record_failures_total",
			Help: "アクティビティ記録の失敗数",
		}),
		sweptFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bgremover_staging_swept_files_total",
			Help: "スイーパーが削除した古い一時ファイルの合計数",
		}),
	}

	reg.MustRegister(
		c.removals,
		c.vendorStatus,
		c.vendorLatency,
		c.bytesProcessed,
		c.cleanupFailures,
		c.activityFails,
		c.sweptFiles,
	)

	return c
}

// RecordRemoval は背景除去リクエストの結果を記録する。
func (c *Collector) RecordRemoval(outcome string) {
	c.removals.WithLabelValues(outcome).Inc()
}

// RecordVendorStatus はAPIのHTTPステータスコードを記録する。0は通信失敗として扱う。
func (c *Collector) RecordVendorStatus(statusCode int) {
	label := strconv.Itoa(statusCode)
	if statusCode == 0 {
		label = "transport_error"
	}
	c.vendorStatus.WithLabelValues(label).Inc()
}

// RecordVendorLatency はAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordVendorLatency(duration time.Duration) {
	c.vendorLatency.Observe(duration.Seconds())
}

// RecordBytesProcessed は送信した画像のバイト数を記録する。
func (c *Collector) RecordBytesProcessed(count int) {
	c.bytesProcessed.Add(float64(count))
}

// RecordCleanupFailure は一時ファイルの削除失敗を記録する。
func (c *Collector) RecordCleanupFailure() {
	c.cleanupFailures.Inc()
}

// RecordActivityFailure はアクティビティ記録の失敗を記録する。
func (c *Collector) RecordActivityFailure() {
	c.activityFails.Inc()
}

// RecordSweptFiles はスイーパーが削除したファイル数を記録する。
func (c *Collector) RecordSweptFiles(count int) {
	c.sweptFiles.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
