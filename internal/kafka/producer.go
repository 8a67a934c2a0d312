// Package kafka 提供 Kafka 生产者功能
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

// Kafka 生产者发送的 Topic
const (
	// TopicMilestoneStatusChanged 里程碑状态迁移 Topic
	// 生产者: fundvault-chain (审批聚合 / 到期扫描)
	// Partition Key: milestone_id
	// 消息格式: MilestoneStatusMessage
	TopicMilestoneStatusChanged = "milestone-status-changed"

	// TopicValidationRecorded 验证提交落库 Topic
	// 生产者: fundvault-chain (提交服务)
	// Partition Key: milestone_id
	// 消息格式: ValidationRecordedMessage
	TopicValidationRecorded = "validation-recorded"
)

// MilestoneStatusMessage 里程碑状态迁移消息
type MilestoneStatusMessage struct {
	MilestoneID string                `json:"milestone_id"`
	VaultID     string                `json:"vault_id"`
	Status      model.MilestoneStatus `json:"status"`
	Policy      model.ApprovalPolicy  `json:"policy"`
	ChangedAt   int64                 `json:"changed_at"` // 毫秒时间戳
}

// ValidationRecordedMessage 验证提交落库消息
type ValidationRecordedMessage struct {
	SubmissionID string                  `json:"submission_id"`
	MilestoneID  string                  `json:"milestone_id"`
	VaultID      string                  `json:"vault_id"`
	VerifierID   string                  `json:"verifier_id"`
	Verdict      model.SubmissionVerdict `json:"verdict"`
	RecordedAt   int64                   `json:"recorded_at"`
}

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
	}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	metrics.RecordKafkaMessage(topic)
	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendMilestoneStatusChanged 发送里程碑状态迁移消息
func (p *Producer) SendMilestoneStatusChanged(ctx context.Context, msg *MilestoneStatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.send(TopicMilestoneStatusChanged, msg.MilestoneID, data)
}

// SendValidationRecorded 发送验证提交落库消息
func (p *Producer) SendValidationRecorded(ctx context.Context, msg *ValidationRecordedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.send(TopicValidationRecorded, msg.MilestoneID, data)
}

// EventPublisher 事件发布器接口
//
// 服务层依赖此接口而非具体生产者，测试时可注入空实现。
type EventPublisher interface {
	PublishMilestoneStatusChanged(ctx context.Context, msg *MilestoneStatusMessage) error
	PublishValidationRecorded(ctx context.Context, msg *ValidationRecordedMessage) error
}

// KafkaEventPublisher Kafka 事件发布器
type KafkaEventPublisher struct {
	producer *Producer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
	}
}

func (p *KafkaEventPublisher) PublishMilestoneStatusChanged(ctx context.Context, msg *MilestoneStatusMessage) error {
	return p.producer.SendMilestoneStatusChanged(ctx, msg)
}

func (p *KafkaEventPublisher) PublishValidationRecorded(ctx context.Context, msg *ValidationRecordedMessage) error {
	return p.producer.SendValidationRecorded(ctx, msg)
}

// NoopPublisher 空事件发布器 (Kafka 未配置时使用)
type NoopPublisher struct{}

func (NoopPublisher) PublishMilestoneStatusChanged(ctx context.Context, msg *MilestoneStatusMessage) error {
	return nil
}

func (NoopPublisher) PublishValidationRecorded(ctx context.Context, msg *ValidationRecordedMessage) error {
	return nil
}
