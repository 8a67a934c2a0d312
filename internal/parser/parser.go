// Package parser 将账本原始事件解析为类型化领域事件。
//
// 解析失败一律以带原因标签的 *ParseError 返回，绝不 panic；
// 校验顺序固定: 交易哈希 → topic 标签 → 类型识别 → 变体字段。
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/model"
)

// FailureReason 解析失败原因
type FailureReason string

const (
	ReasonMissingTransactionHash FailureReason = "MissingTransactionHash"
	ReasonMissingEventTopic      FailureReason = "MissingEventTopic"
	ReasonUnknownEventType       FailureReason = "UnknownEventType"
	ReasonMalformedPayload       FailureReason = "MalformedPayload"
)

// ParseError 解析失败
type ParseError struct {
	Reason  FailureReason
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure [%s]: %s", e.Reason, e.Message)
}

func newParseError(reason FailureReason, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// EventID 计算事件去重键
//
// 同一 (txHash, eventIndex) 即同一事件，与负载内容无关。
func EventID(txHash string, eventIndex int) string {
	return fmt.Sprintf("%s:%d", txHash, eventIndex)
}

// Parse 解析原始事件
func Parse(raw ledger.RawEvent) (*model.ParsedEvent, error) {
	if raw.TxHash == "" {
		return nil, newParseError(ReasonMissingTransactionHash, "event at position %d has no transaction hash", raw.LedgerPosition)
	}

	if len(raw.Topics) == 0 || raw.Topics[0] == "" {
		return nil, newParseError(ReasonMissingEventTopic, "event %s has no topic", EventID(raw.TxHash, raw.EventIndex))
	}

	eventType := model.LedgerEventType(raw.Topics[0])
	if !model.KnownLedgerEventTypes[eventType] {
		return nil, newParseError(ReasonUnknownEventType, "unknown event type %q", raw.Topics[0])
	}

	event := &model.ParsedEvent{
		EventID:        EventID(raw.TxHash, raw.EventIndex),
		TxHash:         raw.TxHash,
		EventIndex:     raw.EventIndex,
		LedgerPosition: raw.LedgerPosition,
		Type:           eventType,
	}

	if err := decodePayload(event, raw.Data); err != nil {
		return nil, err
	}

	return event, nil
}

// decodePayload 按事件类型解码并校验变体字段
func decodePayload(event *model.ParsedEvent, data []byte) error {
	switch event.Type {
	case model.LedgerEventVaultCreated:
		var payload model.VaultCreatedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return newParseError(ReasonMalformedPayload, "vault_created event %s: %v", event.EventID, err)
		}
		if payload.VaultID == "" {
			return newParseError(ReasonMalformedPayload, "vault_created event %s missing vault_id", event.EventID)
		}
		if payload.Owner == "" {
			return newParseError(ReasonMalformedPayload, "vault_created event %s missing owner", event.EventID)
		}
		event.VaultCreated = &payload

	case model.LedgerEventVaultFunded:
		var payload model.VaultFundedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return newParseError(ReasonMalformedPayload, "vault_funded event %s: %v", event.EventID, err)
		}
		if payload.VaultID == "" {
			return newParseError(ReasonMalformedPayload, "vault_funded event %s missing vault_id", event.EventID)
		}
		if !payload.Amount.IsPositive() {
			return newParseError(ReasonMalformedPayload, "vault_funded event %s has non-positive amount", event.EventID)
		}
		event.VaultFunded = &payload

	case model.LedgerEventMilestoneCreated:
		var payload model.MilestoneCreatedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return newParseError(ReasonMalformedPayload, "milestone_created event %s: %v", event.EventID, err)
		}
		if payload.MilestoneID == "" {
			return newParseError(ReasonMalformedPayload, "milestone_created event %s missing milestone_id", event.EventID)
		}
		if payload.VaultID == "" {
			return newParseError(ReasonMalformedPayload, "milestone_created event %s missing vault_id", event.EventID)
		}
		event.MilestoneCreated = &payload

	case model.LedgerEventMilestoneReleased:
		var payload model.MilestoneReleasedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return newParseError(ReasonMalformedPayload, "milestone_released event %s: %v", event.EventID, err)
		}
		if payload.MilestoneID == "" {
			return newParseError(ReasonMalformedPayload, "milestone_released event %s missing milestone_id", event.EventID)
		}
		event.MilestoneReleased = &payload

	case model.LedgerEventVaultClosed:
		var payload model.VaultClosedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return newParseError(ReasonMalformedPayload, "vault_closed event %s: %v", event.EventID, err)
		}
		if payload.VaultID == "" {
			return newParseError(ReasonMalformedPayload, "vault_closed event %s missing vault_id", event.EventID)
		}
		event.VaultClosed = &payload

	default:
		// Parse 已做类型识别，这里不可达
		return newParseError(ReasonUnknownEventType, "unknown event type %q", event.Type)
	}

	return nil
}
