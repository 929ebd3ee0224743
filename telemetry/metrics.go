// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RedemptionsReceived  prometheus.Counter
	RedemptionsFulfilled prometheus.Counter
	RedemptionsRejected  *prometheus.CounterVec
	WhisperFallbacks     prometheus.Counter
	SynthesisFailed      prometheus.Counter

	// Histograms (seconds)
	SynthesisDuration prometheus.Observer
	FulfillDuration   prometheus.Observer

	// Gauges
	ArchiveSizeGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RedemptionsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "tts_redemptions_received_total", Help: "Number of reward redemptions picked up"})
		RedemptionsFulfilled = promauto.NewCounter(prometheus.CounterOpts{Name: "tts_redemptions_fulfilled_total", Help: "Number of redemptions spoken"})
		RedemptionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tts_redemptions_rejected_total", Help: "Number of redemptions rejected by the follow policy"}, []string{"reason"})
		WhisperFallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "tts_whisper_fallbacks_total", Help: "Number of rejection notices that fell back to public chat"})
		SynthesisFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "tts_synthesis_failed_total", Help: "Number of failed speech synthesis attempts"})
		SynthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tts_synthesis_duration_seconds", Help: "Speech synthesis duration seconds", Buckets: prometheus.DefBuckets})
		FulfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tts_fulfill_duration_seconds", Help: "End-to-end redemption fulfillment duration seconds", Buckets: prometheus.DefBuckets})
		ArchiveSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tts_archive_artifacts", Help: "Current number of audio artifacts in the archive"})
	})
}

// The Count*/Observe*/Set* helpers are nil-safe so packages can record metrics
// without caring whether Init ran (it doesn't in unit tests).

func CountReceived() {
	if RedemptionsReceived != nil {
		RedemptionsReceived.Inc()
	}
}

func CountFulfilled() {
	if RedemptionsFulfilled != nil {
		RedemptionsFulfilled.Inc()
	}
}

func CountRejected(reason string) {
	if RedemptionsRejected != nil {
		RedemptionsRejected.WithLabelValues(reason).Inc()
	}
}

func CountWhisperFallback() {
	if WhisperFallbacks != nil {
		WhisperFallbacks.Inc()
	}
}

func CountSynthesisFailed() {
	if SynthesisFailed != nil {
		SynthesisFailed.Inc()
	}
}

// SetArchiveSize records the current artifact count after an archive write.
func SetArchiveSize(n int) {
	if ArchiveSizeGauge != nil {
		ArchiveSizeGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
