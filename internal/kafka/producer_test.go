package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundvault/fundvault-chain/internal/model"
)

// TestProducerConfig_Defaults 测试生产者配置
func TestProducerConfig_Defaults(t *testing.T) {
	cfg := &ProducerConfig{
		Brokers:  []string{"localhost:9092"},
		ClientID: "fundvault-chain",
	}

	assert.Len(t, cfg.Brokers, 1)
	assert.Equal(t, "fundvault-chain", cfg.ClientID)
}

// TestMilestoneStatusMessageSerialization 测试里程碑状态消息序列化
func TestMilestoneStatusMessageSerialization(t *testing.T) {
	msg := &MilestoneStatusMessage{
		MilestoneID: "m-1",
		VaultID:     "v-1",
		Status:      model.MilestoneStatusApproved,
		Policy:      model.ApprovalPolicyMajority,
		ChangedAt:   1234567890,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded MilestoneStatusMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "m-1", decoded.MilestoneID)
	assert.Equal(t, model.MilestoneStatusApproved, decoded.Status)
	assert.Equal(t, model.ApprovalPolicyMajority, decoded.Policy)
}

// TestValidationRecordedMessageFields 测试验证提交消息结构
func TestValidationRecordedMessageFields(t *testing.T) {
	msg := &ValidationRecordedMessage{
		SubmissionID: "sub-123",
		MilestoneID:  "m-1",
		VaultID:      "v-1",
		VerifierID:   "ver-1",
		Verdict:      model.SubmissionVerdictApproved,
		RecordedAt:   1234567890,
	}

	assert.Equal(t, "sub-123", msg.SubmissionID)
	assert.Equal(t, "m-1", msg.MilestoneID)
	assert.Equal(t, model.SubmissionVerdictApproved, msg.Verdict)
}

// TestNoopPublisher 空发布器不返回错误
func TestNoopPublisher(t *testing.T) {
	var publisher EventPublisher = NoopPublisher{}

	assert.NoError(t, publisher.PublishMilestoneStatusChanged(nil, &MilestoneStatusMessage{}))
	assert.NoError(t, publisher.PublishValidationRecorded(nil, &ValidationRecordedMessage{}))
}

// TestKafkaEventPublisherStruct 测试 KafkaEventPublisher 结构
func TestKafkaEventPublisherStruct(t *testing.T) {
	publisher := &KafkaEventPublisher{
		producer: &Producer{closed: true},
	}

	assert.NotNil(t, publisher.producer)
}
