// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(stage, reason string)
	RecordProviderLatency(call string, duration time.Duration)
	RecordSessionCreated()
	RecordSessionDestroyed()
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess      prometheus.Counter
	loginFail         *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	sessionsCreated   prometheus.Counter
	sessionsDestroyed prometheus.Counter
	sessionsPurged    prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signon_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signon_login_fail_total",
			Help: "失敗した段階と種別ごとのログイン失敗数",
		}, []string{"stage", "reason"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signon_provider_latency_seconds",
			Help:    "IdPへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signon_sessions_created_total",
			Help: "発行されたセッションの合計数",
		}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signon_sessions_destroyed_total",
			Help: "ログアウトで破棄されたセッションの合計数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signon_sessions_purged_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signon_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.providerLatency,
		c.sessionsCreated,
		c.sessionsDestroyed,
		c.sessionsPurged,
		c.httpStatus,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を段階と種別付きで記録する。
func (c *Collector) RecordLoginFailure(stage, reason string) {
	c.loginFail.WithLabelValues(stage, reason).Inc()
}

// RecordProviderLatency はIdP呼び出し（token, userinfo）のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(call string, duration time.Duration) {
	c.providerLatency.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionDestroyed はセッション破棄を記録する。
func (c *Collector) RecordSessionDestroyed() {
	c.sessionsDestroyed.Inc()
}

// RecordSessionsPurged は期限切れセッションの削除件数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLoginSuccess()                         {}
func (NopCollector) RecordLoginFailure(string, string)           {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordSessionCreated()                       {}
func (NopCollector) RecordSessionDestroyed()                     {}
func (NopCollector) RecordSessionsPurged(int64)                  {}
func (NopCollector) RecordHTTPStatus(int)                        {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
