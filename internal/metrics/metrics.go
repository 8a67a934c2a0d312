// Package metrics 提供 fundvault-chain 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fundvault_chain"

// 事件摄取指标
var (
	// EventsIngestedTotal 已摄取事件总数
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "已摄取账本事件总数",
		},
		[]string{"event_type"},
	)

	// EventsSkippedTotal 跳过的事件总数
	EventsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "跳过的事件总数",
		},
		[]string{"reason"}, // duplicate, parse_failure
	)

	// IngestBatchSize 单批事件数量
	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_size",
			Help:      "单批摄取的事件数量",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		},
	)

	// IngestBatchDuration 单批处理耗时
	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_duration_seconds",
			Help:      "单批摄取处理耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// CursorPositionGauge 游标当前位置
	CursorPositionGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_position",
			Help:      "账本游标当前位置",
		},
	)

	// LedgerHeadGauge 账本最新位置
	LedgerHeadGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_head_position",
			Help:      "账本最新位置",
		},
	)
)

// 重试与死信指标
var (
	// RetryAttemptsTotal 重试次数总计
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "工作单元重试次数总计",
		},
		[]string{"job_type"},
	)

	// DeadLettersTotal 死信写入总数
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "死信写入总数",
		},
		[]string{"job_type"},
	)

	// DeadLettersPendingGauge 待处理死信数量
	DeadLettersPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dead_letters_pending",
			Help:      "当前待处理死信数量",
		},
	)
)

// 验证提交与审批指标
var (
	// SubmissionsTotal 验证提交总数
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "验证提交总数",
		},
		[]string{"outcome"}, // created, replayed, conflict, invalid
	)

	// MilestoneTransitionsTotal 里程碑状态迁移总数
	MilestoneTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestone_transitions_total",
			Help:      "里程碑状态迁移总数",
		},
		[]string{"status"}, // approved, rejected, expired
	)

	// DeadlineSweepDuration 到期扫描耗时
	DeadlineSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deadline_sweep_duration_seconds",
			Help:      "到期扫描耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

// HTTP 服务指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "code"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path"},
	)
)

// Kafka 指标
var (
	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic"},
	)
)

// Helper functions

// RecordEventIngested 记录已摄取事件
func RecordEventIngested(eventType string) {
	EventsIngestedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventSkipped 记录跳过的事件
func RecordEventSkipped(reason string) {
	EventsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordIngestBatch 记录一批摄取
//
// 账本最新位置由抓取器在拿到链头时写入，这里只更新游标侧，
// 两者之差即摄取滞后。
func RecordIngestBatch(size int, durationSeconds float64, cursorPosition uint64) {
	IngestBatchSize.Observe(float64(size))
	IngestBatchDuration.Observe(durationSeconds)
	CursorPositionGauge.Set(float64(cursorPosition))
}

// RecordLedgerHead 记录账本最新位置
func RecordLedgerHead(head uint64) {
	LedgerHeadGauge.Set(float64(head))
}

// RecordRetryAttempt 记录一次重试
func RecordRetryAttempt(jobType string) {
	RetryAttemptsTotal.WithLabelValues(jobType).Inc()
}

// RecordDeadLetter 记录死信写入
func RecordDeadLetter(jobType string) {
	DeadLettersTotal.WithLabelValues(jobType).Inc()
}

// RecordSubmission 记录验证提交结果
func RecordSubmission(outcome string) {
	SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordMilestoneTransition 记录里程碑状态迁移
func RecordMilestoneTransition(status string) {
	MilestoneTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordKafkaMessage 记录 Kafka 生产消息
func RecordKafkaMessage(topic string) {
	KafkaMessagesProduced.WithLabelValues(topic).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, code string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
