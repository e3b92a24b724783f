// Package metrics 定义周期管线的 Prometheus 指标。
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 周期管线指标
type Metrics struct {
	// Cycles 已完成的周期数
	Cycles prometheus.Counter
	// CycleDurationMs 单个周期耗时（毫秒）
	CycleDurationMs prometheus.Histogram
	// FetchErrors 按周期标识统计的抓取失败次数
	FetchErrors *prometheus.CounterVec
	// Issues 按类型统计的已恢复错误
	Issues *prometheus.CounterVec
	// NoDataCycles 空盘口周期数
	NoDataCycles prometheus.Counter
	// Buckets 展示视图各侧档位数
	Buckets *prometheus.GaugeVec
	// Notifications 按状态统计的告警通知数
	Notifications *prometheus.CounterVec
	// PublishErrors 发布失败次数
	PublishErrors prometheus.Counter
}

// New 创建并注册所有指标
// 参数 reg: 指标注册器；测试中传入独立的 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "fdm_cycles_total",
			Help: "Total number of completed refresh cycles",
		}),
		CycleDurationMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fdm_cycle_duration_ms",
			Help:    "Wall time of one fetch-normalize-aggregate-evaluate cycle in milliseconds",
			Buckets: []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdm_fetch_errors_total",
			Help: "Total number of failed snapshot fetches by period",
		}, []string{"period"}),
		Issues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdm_recovered_errors_total",
			Help: "Total number of recovered pipeline errors by type",
		}, []string{"error_type"}),
		NoDataCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "fdm_no_data_cycles_total",
			Help: "Total number of cycles that produced no valid records",
		}),
		Buckets: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdm_display_buckets",
			Help: "Number of buckets per side in the latest display view",
		}, []string{"side"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdm_alert_notifications_total",
			Help: "Total number of alert notifications by status",
		}, []string{"status"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "fdm_publish_errors_total",
			Help: "Total number of failed publishes to the presentation boundary",
		}),
	}
}

// RecordFetchError 记录一次抓取失败
func (m *Metrics) RecordFetchError(periodID int) {
	m.FetchErrors.WithLabelValues(strconv.Itoa(periodID)).Inc()
}

// RecordIssues 按类型累加已恢复错误
func (m *Metrics) RecordIssues(errorType string, n int) {
	m.Issues.WithLabelValues(errorType).Add(float64(n))
}

// RecordBuckets 记录展示视图档位数
func (m *Metrics) RecordBuckets(bids, asks int) {
	m.Buckets.WithLabelValues("bid").Set(float64(bids))
	m.Buckets.WithLabelValues("ask").Set(float64(asks))
}

// RecordNotification 记录一次告警通知
func (m *Metrics) RecordNotification(status string) {
	m.Notifications.WithLabelValues(status).Inc()
}
