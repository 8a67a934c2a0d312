package parser

import (
	"testing"

	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvent(txHash string, index int, topics []string, data string) ledger.RawEvent {
	return ledger.RawEvent{
		LedgerPosition: 42,
		TxHash:         txHash,
		EventIndex:     index,
		Topics:         topics,
		Data:           []byte(data),
	}
}

func TestParseVaultCreated(t *testing.T) {
	raw := rawEvent("abc123", 0, []string{"vault_created"},
		`{"vault_id":"v-1","owner":"0xowner","goal_amount":"1000.50"}`)

	event, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "abc123:0", event.EventID)
	assert.Equal(t, model.LedgerEventVaultCreated, event.Type)
	assert.Equal(t, uint64(42), event.LedgerPosition)
	require.NotNil(t, event.VaultCreated)
	assert.Equal(t, "v-1", event.VaultCreated.VaultID)
	assert.Equal(t, "0xowner", event.VaultCreated.Owner)
	assert.Equal(t, "1000.5", event.VaultCreated.GoalAmount.String())
}

func TestParseEventIDDeterministic(t *testing.T) {
	raw := rawEvent("abc123", 7, []string{"vault_closed"}, `{"vault_id":"v-1"}`)

	first, err := Parse(raw)
	require.NoError(t, err)
	second, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "abc123:7", first.EventID)
	assert.Equal(t, first.EventID, second.EventID)
}

func TestParseMissingTransactionHash(t *testing.T) {
	raw := rawEvent("", 0, []string{"vault_created"}, `{"vault_id":"v-1","owner":"o"}`)

	_, err := Parse(raw)
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ReasonMissingTransactionHash, parseErr.Reason)
}

func TestParseMissingEventTopic(t *testing.T) {
	for _, topics := range [][]string{nil, {}, {""}} {
		raw := rawEvent("abc123", 0, topics, `{"vault_id":"v-1"}`)

		_, err := Parse(raw)
		require.Error(t, err)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, ReasonMissingEventTopic, parseErr.Reason)
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawEvent("abc123", 0, []string{"treasury_swept"}, `{}`)

	_, err := Parse(raw)
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ReasonUnknownEventType, parseErr.Reason)
	assert.Contains(t, parseErr.Message, "treasury_swept")
}

func TestParseMalformedPayload(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		data  string
	}{
		{"invalid json", "vault_created", `{not json`},
		{"vault_created missing vault_id", "vault_created", `{"owner":"o"}`},
		{"vault_created missing owner", "vault_created", `{"vault_id":"v-1"}`},
		{"vault_funded missing vault_id", "vault_funded", `{"amount":"10"}`},
		{"vault_funded zero amount", "vault_funded", `{"vault_id":"v-1","amount":"0"}`},
		{"vault_funded negative amount", "vault_funded", `{"vault_id":"v-1","amount":"-5"}`},
		{"milestone_created missing milestone_id", "milestone_created", `{"vault_id":"v-1"}`},
		{"milestone_created missing vault_id", "milestone_created", `{"milestone_id":"m-1"}`},
		{"milestone_released missing milestone_id", "milestone_released", `{"vault_id":"v-1"}`},
		{"vault_closed missing vault_id", "vault_closed", `{"reason":"done"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawEvent("abc123", 0, []string{tt.topic}, tt.data)

			_, err := Parse(raw)
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, ReasonMalformedPayload, parseErr.Reason)
		})
	}
}

func TestParseValidationOrder(t *testing.T) {
	// 交易哈希校验先于 topic 校验
	raw := rawEvent("", 0, nil, `{not json`)

	_, err := Parse(raw)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ReasonMissingTransactionHash, parseErr.Reason)

	// topic 校验先于类型识别
	raw = rawEvent("abc123", 0, []string{}, `{not json`)
	_, err = Parse(raw)
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ReasonMissingEventTopic, parseErr.Reason)
}

func TestParseMilestoneCreated(t *testing.T) {
	raw := rawEvent("def456", 3, []string{"milestone_created"},
		`{"vault_id":"v-1","milestone_id":"m-1","approval_policy":"majority","deadline":1893456000000}`)

	event, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "def456:3", event.EventID)
	require.NotNil(t, event.MilestoneCreated)
	assert.Equal(t, "m-1", event.MilestoneCreated.MilestoneID)
	assert.Equal(t, "majority", event.MilestoneCreated.ApprovalPolicy)
	assert.Equal(t, int64(1893456000000), event.MilestoneCreated.Deadline)
}
