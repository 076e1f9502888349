// Package metrics は生成パイプラインの Prometheus コレクタをまとめます。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storyboard"

// Metrics はパイプライン全体で共有するコレクタです。nil レシーバでも安全に呼び出せます。
type Metrics struct {
	providerCalls  *prometheus.CounterVec
	pollOutcomes   *prometheus.CounterVec
	pollAttempts   *prometheus.HistogramVec
	framesInFlight prometheus.Gauge
	stageDuration  *prometheus.HistogramVec
	unitFailures   *prometheus.CounterVec
}

// New はコレクタを生成し、reg に登録します。reg が nil の場合は登録を行いません。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Number of calls issued to external generation providers.",
		}, []string{"provider", "op", "result"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Terminal outcomes of polled generation tasks.",
		}, []string{"kind", "outcome"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status polls issued before a task reached a terminal outcome.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		framesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_in_flight",
			Help:      "Frame generation calls currently in flight.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_failures_total",
			Help:      "Backgrounds, frames and clips that failed while siblings continued.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.providerCalls, m.pollOutcomes, m.pollAttempts, m.framesInFlight, m.stageDuration, m.unitFailures)
	}
	return m
}

// ProviderCall はプロバイダ呼び出しを1件記録します。
func (m *Metrics) ProviderCall(provider, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(provider, op, result).Inc()
}

// PollOutcome はタスクの終端結果とポーリング回数を記録します。
func (m *Metrics) PollOutcome(kind, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(kind, outcome).Inc()
	m.pollAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// FrameStarted / FrameFinished は実行中フレーム数を増減します。
func (m *Metrics) FrameStarted() {
	if m != nil {
		m.framesInFlight.Inc()
	}
}

func (m *Metrics) FrameFinished() {
	if m != nil {
		m.framesInFlight.Dec()
	}
}

// ObserveStage はステージの所要時間を記録します。
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// UnitFailed はユニット単位の失敗を記録します。
func (m *Metrics) UnitFailed(kind string) {
	if m == nil {
		return
	}
	m.unitFailures.WithLabelValues(kind).Inc()
}
