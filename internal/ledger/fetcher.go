package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

// RawEvent 账本原始事件
//
// 摄取管线的输入边界: 只要求位置、交易哈希、有序 topic 标签和一段
// 未解码的负载，负载格式由解析器的变体规则约束。
type RawEvent struct {
	LedgerPosition uint64   `json:"ledger_position"`
	TxHash         string   `json:"tx_hash"`
	EventIndex     int      `json:"event_index"`
	Topics         []string `json:"topics"` // 首元素为事件类型标签
	Data           []byte   `json:"data"`
}

// Fetcher 事件抓取器接口
//
// FetchBatch 从 fromPosition 起抓取一批事件，返回事件与本批实际
// 扫描到的末尾位置 (含)。空批时末尾位置照常推进，游标据此前移。
type Fetcher interface {
	FetchBatch(ctx context.Context, fromPosition uint64, limit int) ([]RawEvent, uint64, error)
}

// ContractFetcher 基于合约日志过滤的抓取器
type ContractFetcher struct {
	client          *Client
	contractAddress common.Address
	topicNames      map[common.Hash]string // 事件签名哈希 → 类型标签
	batchSpan       uint64                 // 单批扫描的最大位置跨度
}

// ContractFetcherConfig 抓取器配置
type ContractFetcherConfig struct {
	ContractAddress common.Address
	TopicNames      map[common.Hash]string
	BatchSpan       uint64
}

// NewContractFetcher 创建合约日志抓取器
func NewContractFetcher(client *Client, cfg *ContractFetcherConfig) *ContractFetcher {
	batchSpan := cfg.BatchSpan
	if batchSpan == 0 {
		batchSpan = 100
	}

	return &ContractFetcher{
		client:          client,
		contractAddress: cfg.ContractAddress,
		topicNames:      cfg.TopicNames,
		batchSpan:       batchSpan,
	}
}

// FetchBatch 抓取一批合约事件
func (f *ContractFetcher) FetchBatch(ctx context.Context, fromPosition uint64, limit int) ([]RawEvent, uint64, error) {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return nil, 0, err
	}
	metrics.RecordLedgerHead(head)

	if fromPosition > head {
		// 尚无新位置可扫
		return nil, fromPosition - 1, nil
	}

	toPosition := fromPosition + f.batchSpan - 1
	if toPosition > head {
		toPosition = head
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromPosition),
		ToBlock:   new(big.Int).SetUint64(toPosition),
		Addresses: []common.Address{f.contractAddress},
	}

	logs, err := f.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	events, scannedThrough := f.selectEvents(logs, limit, toPosition)
	return events, scannedThrough, nil
}

// selectEvents 将日志转换为事件，限量截断只发生在位置边界
//
// 命中 limit 后继续收完同一位置的剩余日志再停止: 下一批从
// scannedThrough+1 开始，把一个位置的事件拆到两批会永久丢掉后半段。
func (f *ContractFetcher) selectEvents(logs []types.Log, limit int, toPosition uint64) ([]RawEvent, uint64) {
	events := make([]RawEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			// 重组中被移除的日志不进入管线
			logger.Warn("removed log skipped",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint64("position", log.BlockNumber))
			continue
		}

		if limit > 0 && len(events) >= limit && log.BlockNumber > events[len(events)-1].LedgerPosition {
			return events, events[len(events)-1].LedgerPosition
		}

		events = append(events, f.toRawEvent(log))
	}

	return events, toPosition
}

// toRawEvent 将合约日志转换为原始事件
func (f *ContractFetcher) toRawEvent(log types.Log) RawEvent {
	topics := make([]string, 0, len(log.Topics))
	for _, t := range log.Topics {
		if name, ok := f.topicNames[t]; ok {
			topics = append(topics, name)
		} else {
			topics = append(topics, t.Hex())
		}
	}

	return RawEvent{
		LedgerPosition: log.BlockNumber,
		TxHash:         log.TxHash.Hex(),
		EventIndex:     int(log.Index),
		Topics:         topics,
		Data:           log.Data,
	}
}
