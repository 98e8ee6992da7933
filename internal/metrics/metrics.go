// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ハンドオフ引き換えの結果ラベル
const (
	RedeemOutcomeRedeemed = "redeemed"
	RedeemOutcomeReplayed = "replayed"
	RedeemOutcomeNotFound = "not_found"
	RedeemOutcomeExpired  = "expired"
	RedeemOutcomeError    = "error"
)

// ロック解除の結果ラベル
const (
	UnlockResultNew      = "new"
	UnlockResultExisting = "existing"
	UnlockResultError    = "error"
)

// サインインの方式・結果ラベル
const (
	SignInMethodPassword  = "password"
	SignInMethodSignUp    = "signup"
	SignInMethodMagicLink = "magic_link"
	SignInMethodOAuth     = "oauth"

	SignInResultSuccess = "success"
	SignInResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordRedeem(outcome string)
	RecordConsumeFailure()
	RecordUnlock(universe, result string)
	RecordPointAwardFailure()
	RecordReconciledAwards(count int)
	RecordReconcileLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSignIn(method, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	redeem           *prometheus.CounterVec
	consumeFail      prometheus.Counter
	unlock           *prometheus.CounterVec
	pointAwardFail   prometheus.Counter
	reconciledAwards prometheus.Counter
	reconcileLatency prometheus.Histogram
	httpStatus       *prometheus.CounterVec
	signIn           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		redeem: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_handoff_redeem_total",
			Help: "結果別のハンドオフトークン引き換え数",
		}, []string{"outcome"}),
		consumeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_handoff_consume_fail_total",
			Help: "ハンドオフトークンの消費済み記録に失敗した数",
		}),
		unlock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_unlock_total",
			Help: "universe・結果別のロック解除数",
		}, []string{"universe", "result"}),
		pointAwardFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_point_award_fail_total",
			Help: "Leaf XP付与に失敗した数",
		}),
		reconciledAwards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_reconcile_awards_total",
			Help: "照合ジョブが補完した報酬エントリの合計数",
		}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accounthub_reconcile_duration_seconds",
			Help:    "照合ジョブ1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_signin_total",
			Help: "方式・結果別のサインイン数",
		}, []string{"method", "result"}),
	}

	reg.MustRegister(
		c.redeem,
		c.consumeFail,
		c.unlock,
		c.pointAwardFail,
		c.reconciledAwards,
		c.reconcileLatency,
		c.httpStatus,
		c.signIn,
	)

	return c
}

// RecordRedeem はハンドオフ引き換えの結果を記録する。
func (c *Collector) RecordRedeem(outcome string) {
	c.redeem.WithLabelValues(outcome).Inc()
}

// RecordConsumeFailure は消費済み記録の失敗を記録する。
func (c *Collector) RecordConsumeFailure() {
	c.consumeFail.Inc()
}

// RecordUnlock はロック解除の結果を記録する。
func (c *Collector) RecordUnlock(universe, result string) {
	c.unlock.WithLabelValues(universe, result).Inc()
}

// RecordPointAwardFailure はLeaf XP付与の失敗を記録する。
func (c *Collector) RecordPointAwardFailure() {
	c.pointAwardFail.Inc()
}

// RecordReconciledAwards は照合ジョブが補完した報酬数を記録する。
func (c *Collector) RecordReconciledAwards(count int) {
	c.reconciledAwards.Add(float64(count))
}

// RecordReconcileLatency は照合ジョブの所要時間を記録する。
func (c *Collector) RecordReconcileLatency(duration time.Duration) {
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(method, result string) {
	c.signIn.WithLabelValues(method, result).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時とテストで使う。
type Nop struct{}

func (Nop) RecordRedeem(string)                  {}
func (Nop) RecordConsumeFailure()                {}
func (Nop) RecordUnlock(string, string)          {}
func (Nop) RecordPointAwardFailure()             {}
func (Nop) RecordReconciledAwards(int)           {}
func (Nop) RecordReconcileLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)                 {}
func (Nop) RecordSignIn(string, string)          {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
