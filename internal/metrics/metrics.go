// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果ラベル
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// エンジン、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordGraphOperation(operation, result string, duration time.Duration)
	RecordVersionConflict(operation string)
	RecordCompensation(operation string, ok bool)
	RecordConsistencyViolation(operation string)
	RecordRoleTransition(action, role, result string)
	RecordHTTPStatus(statusCode int)
	SetInconsistentRelations(count int)
	RecordAuditDuration(duration time.Duration)
	RecordSessionsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	graphOps        *prometheus.CounterVec
	graphLatency    *prometheus.HistogramVec
	versionConflict *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	violations      *prometheus.CounterVec
	roleTransitions *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	inconsistent    prometheus.Gauge
	auditDuration   prometheus.Histogram
	sessionsDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		graphOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_graph_operations_total",
			Help: "フォロー関係操作の合計数",
		}, []string{"operation", "result"}),
		graphLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "followgraph_graph_operation_seconds",
			Help:    "フォロー関係操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		versionConflict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_version_conflicts_total",
			Help: "リレーションレコード書き込み時のバージョン競合数",
		}, []string{"operation"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_compensations_total",
			Help: "片側書き込み失敗時の補償処理の実行数",
		}, []string{"operation", "result"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_consistency_violations_total",
			Help: "操作中に検出した片側のみのフォロー関係の数",
		}, []string{"operation"}),
		roleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_role_transitions_total",
			Help: "ロールの付与・剥奪の合計数",
		}, []string{"action", "role", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followgraph_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		inconsistent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "followgraph_inconsistent_relations",
			Help: "直近の監査で検出した非対称なフォロー関係の数",
		}),
		auditDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "followgraph_audit_duration_seconds",
			Help:    "整合性監査の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "followgraph_sessions_deleted_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.graphOps,
		c.graphLatency,
		c.versionConflict,
		c.compensations,
		c.violations,
		c.roleTransitions,
		c.httpStatus,
		c.inconsistent,
		c.auditDuration,
		c.sessionsDeleted,
	)

	return c
}

// RecordGraphOperation はフォロー関係操作の結果とレイテンシを記録する。
func (c *Collector) RecordGraphOperation(operation, result string, duration time.Duration) {
	c.graphOps.WithLabelValues(operation, result).Inc()
	c.graphLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVersionConflict はバージョン競合によるリトライを記録する。
func (c *Collector) RecordVersionConflict(operation string) {
	c.versionConflict.WithLabelValues(operation).Inc()
}

// RecordCompensation は補償処理の結果を記録する。
func (c *Collector) RecordCompensation(operation string, ok bool) {
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	c.compensations.WithLabelValues(operation, result).Inc()
}

// RecordConsistencyViolation は操作中に検出した不整合を記録する。
func (c *Collector) RecordConsistencyViolation(operation string) {
	c.violations.WithLabelValues(operation).Inc()
}

// RecordRoleTransition はロール操作の結果を記録する。
func (c *Collector) RecordRoleTransition(action, role, result string) {
	c.roleTransitions.WithLabelValues(action, role, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetInconsistentRelations は直近の監査結果を記録する。
func (c *Collector) SetInconsistentRelations(count int) {
	c.inconsistent.Set(float64(count))
}

// RecordAuditDuration は監査の所要時間を記録する。
func (c *Collector) RecordAuditDuration(duration time.Duration) {
	c.auditDuration.Observe(duration.Seconds())
}

// RecordSessionsDeleted は削除したセッション数を記録する。
func (c *Collector) RecordSessionsDeleted(count int64) {
	c.sessionsDeleted.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordGraphOperation(string, string, time.Duration) {}
func (NopCollector) RecordVersionConflict(string)                      {}
func (NopCollector) RecordCompensation(string, bool)                   {}
func (NopCollector) RecordConsistencyViolation(string)                 {}
func (NopCollector) RecordRoleTransition(string, string, string)       {}
func (NopCollector) RecordHTTPStatus(int)                              {}
func (NopCollector) SetInconsistentRelations(int)                      {}
func (NopCollector) RecordAuditDuration(time.Duration)                 {}
func (NopCollector) RecordSessionsDeleted(int64)                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
