package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 本地写入延迟（秒）
	LocalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_local_write_duration_seconds",
			Help:    "Local store write duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
		},
	)

	// 云端写入延迟（秒）
	RemoteWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_remote_write_duration_seconds",
			Help:    "Remote document write duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// 云端写入失败计数
	RemoteWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_remote_write_failures_total",
			Help: "Total number of failed remote document writes",
		},
	)

	// 外部更新应用计数
	ExternalUpdatesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_external_updates_applied_total",
			Help: "Total number of external dataset updates applied",
		},
	)

	// 外部更新被抑制计数
	ExternalUpdatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_external_updates_suppressed_total",
			Help: "Total number of external dataset updates ignored",
		},
		[]string{"reason"}, // reason: self-origin, pending-writes, write-window
	)

	// 变更事件发布失败计数
	ChangeEventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_change_event_publish_failures_total",
			Help: "Total number of failed change event publishes",
		},
	)
)

// RecordLocalWriteDuration 记录本地写入延迟
func RecordLocalWriteDuration(duration time.Duration) {
	LocalWriteDuration.Observe(duration.Seconds())
}

// RecordRemoteWriteDuration 记录云端写入延迟
func RecordRemoteWriteDuration(duration time.Duration) {
	RemoteWriteDuration.Observe(duration.Seconds())
}

// IncrementRemoteWriteFailure 增加云端写入失败计数
func IncrementRemoteWriteFailure() {
	RemoteWriteFailures.Inc()
}

// IncrementExternalUpdateApplied 增加外部更新应用计数
func IncrementExternalUpdateApplied() {
	ExternalUpdatesApplied.Inc()
}

// IncrementExternalUpdateSuppressed 增加外部更新抑制计数
func IncrementExternalUpdateSuppressed(reason string) {
	ExternalUpdatesSuppressed.WithLabelValues(reason).Inc()
}

// IncrementChangeEventPublishFailure 增加变更事件发布失败计数
func IncrementChangeEventPublishFailure() {
	ChangeEventPublishFailures.Inc()
}
