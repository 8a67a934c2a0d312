package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/parser"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrIngestAlreadyRunning = errors.New("ingest loop already running")
	ErrIngestNotRunning     = errors.New("ingest loop not running")
	// ErrNoHandler 事件类型未注册处理器
	ErrNoHandler = errors.New("no handler registered for event type")
)

// EventHandler 事件应用处理器
//
// 处理器应尽量幂等: 应用与记录之间崩溃时事件会被重放。
type EventHandler func(ctx context.Context, event *model.ParsedEvent) error

// IngestStatus 摄取状态快照
type IngestStatus struct {
	Running        bool   `json:"running"`
	ServiceName    string `json:"service_name"`
	CursorPosition uint64 `json:"cursor_position"`
	LastBatchAt    int64  `json:"last_batch_at"` // 毫秒时间戳
	LastBatchSize  int    `json:"last_batch_size"`
}

// IngestService 账本事件摄取服务
//
// 单消费者顺序循环: 抓取 → 解析 → 去重 → 应用 (带重试) → 记录 → 推进游标。
// 解析失败跳过，应用耗尽进死信表；基础设施故障 (去重查询、落库) 中止
// 本批且不推进游标，事件留待下个 tick 重投。游标永不越过未持久化的事件。
type IngestService struct {
	fetcher    ledger.Fetcher
	cursorRepo repository.CursorRepository
	eventRepo  repository.EventRepository
	executor   *RetryExecutor

	serviceName     string
	pollInterval    time.Duration
	batchSize       int
	initialPosition uint64

	handlers map[model.LedgerEventType]EventHandler

	mu            sync.RWMutex
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	lastPosition  uint64
	lastBatchAt   int64
	lastBatchSize int
}

// IngestServiceConfig 摄取服务配置
type IngestServiceConfig struct {
	ServiceName     string
	PollInterval    time.Duration
	BatchSize       int
	InitialPosition uint64
}

// NewIngestService 创建摄取服务
func NewIngestService(
	fetcher ledger.Fetcher,
	cursorRepo repository.CursorRepository,
	eventRepo repository.EventRepository,
	executor *RetryExecutor,
	cfg *IngestServiceConfig,
) *IngestService {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	return &IngestService{
		fetcher:         fetcher,
		cursorRepo:      cursorRepo,
		eventRepo:       eventRepo,
		executor:        executor,
		serviceName:     cfg.ServiceName,
		pollInterval:    pollInterval,
		batchSize:       batchSize,
		initialPosition: cfg.InitialPosition,
		handlers:        make(map[model.LedgerEventType]EventHandler),
	}
}

// RegisterHandler 注册事件类型的应用处理器
//
// 必须在 Start 之前调用。
func (s *IngestService) RegisterHandler(eventType model.LedgerEventType, handler EventHandler) {
	s.handlers[eventType] = handler
}

// Start 启动摄取循环
func (s *IngestService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIngestAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	logger.Info("ingest loop starting",
		zap.String("service_name", s.serviceName),
		zap.Duration("poll_interval", s.pollInterval),
		zap.Int("batch_size", s.batchSize))

	s.wg.Add(1)
	go s.runLoop(ctx)

	return nil
}

// Stop 停止摄取循环
//
// 等待进行中的批次完成 (应用与记录不被打断)。
func (s *IngestService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrIngestNotRunning
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()

	logger.Info("ingest loop stopped", zap.String("service_name", s.serviceName))
	return nil
}

// IsRunning 检查是否运行中
func (s *IngestService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status 摄取状态快照
func (s *IngestService) Status() *IngestStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &IngestStatus{
		Running:        s.running,
		ServiceName:    s.serviceName,
		CursorPosition: s.lastPosition,
		LastBatchAt:    s.lastBatchAt,
		LastBatchSize:  s.lastBatchSize,
	}
}

// runLoop 主循环
func (s *IngestService) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessBatch(ctx); err != nil {
				if errors.Is(err, repository.ErrCursorRegression) {
					// 游标回退意味着存储状态损坏，循环必须停机
					logger.Error("cursor regression, ingest loop halting",
						zap.String("service_name", s.serviceName),
						zap.Error(err))
					s.mu.Lock()
					s.running = false
					s.mu.Unlock()
					return
				}
				logger.Error("ingest batch failed",
					zap.String("service_name", s.serviceName),
					zap.Error(err))
			}
		}
	}
}

// ProcessBatch 处理一批事件
//
// 对外导出以便运维手动触发单批处理；循环内部每个 tick 调用一次。
func (s *IngestService) ProcessBatch(ctx context.Context) error {
	start := time.Now()

	fromPosition, err := s.startPosition(ctx)
	if err != nil {
		return err
	}

	events, scannedThrough, err := s.fetcher.FetchBatch(ctx, fromPosition, s.batchSize)
	if err != nil {
		return fmt.Errorf("fetch batch from %d: %w", fromPosition, err)
	}

	processed := 0
	for _, raw := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		applied, err := s.processEvent(ctx, raw)
		if err != nil {
			// 游标停在上一批末尾，整批事件下个 tick 重投
			return err
		}
		if applied {
			processed++
		}
	}

	if err := s.cursorRepo.Advance(ctx, s.serviceName, scannedThrough); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastPosition = scannedThrough
	s.lastBatchAt = now.UnixMilli()
	s.lastBatchSize = len(events)
	s.mu.Unlock()

	metrics.RecordIngestBatch(len(events), now.Sub(start).Seconds(), scannedThrough)
	if len(events) > 0 {
		logger.Debug("ingest batch processed",
			zap.String("service_name", s.serviceName),
			zap.Int("fetched", len(events)),
			zap.Int("applied", processed),
			zap.Uint64("scanned_through", scannedThrough))
	}

	return nil
}

// processEvent 处理单个事件，返回是否实际应用
//
// 解析失败与重复事件是正常跳过 (false, nil)；去重查询或落库的基础设施
// 错误返回 error，由调用方中止本批，绝不让游标越过该事件。
func (s *IngestService) processEvent(ctx context.Context, raw ledger.RawEvent) (bool, error) {
	event, err := parser.Parse(raw)
	if err != nil {
		metrics.RecordEventSkipped("parse_failure")
		logger.Warn("event parse failed, skipping",
			zap.Uint64("position", raw.LedgerPosition),
			zap.String("tx_hash", raw.TxHash),
			zap.Error(err))
		return false, nil
	}

	exists, err := s.eventRepo.Exists(ctx, event.EventID)
	if err != nil {
		return false, fmt.Errorf("idempotency check for %s: %w", event.EventID, err)
	}
	if exists {
		metrics.RecordEventSkipped("duplicate")
		return false, nil
	}

	handler, ok := s.handlers[event.Type]
	if !ok {
		// 类型合法但无处理器: 直接记录为已处理，避免永久卡批
		logger.Warn("no handler for event type, recording as processed",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.Type)))
	} else {
		_, err := s.executor.Run(ctx, "apply_event", event, func(ctx context.Context) error {
			return handler(ctx, event)
		})
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				// 已入死信，事件标记为已处理以免阻塞后续位置
				logger.Error("event apply exhausted, dead-lettered",
					zap.String("event_id", event.EventID))
			} else {
				return false, fmt.Errorf("apply event %s: %w", event.EventID, err)
			}
		}
	}

	if err := s.eventRepo.Record(ctx, event.EventID, event.TxHash, event.EventIndex, event.LedgerPosition); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			// 并发消费者先写入，静默去重
			metrics.RecordEventSkipped("duplicate")
			return false, nil
		}
		return false, fmt.Errorf("record event %s: %w", event.EventID, err)
	}

	metrics.RecordEventIngested(string(event.Type))
	return true, nil
}

// startPosition 计算本批起始位置
func (s *IngestService) startPosition(ctx context.Context) (uint64, error) {
	cursor, err := s.cursorRepo.GetByService(ctx, s.serviceName)
	if err == nil {
		return uint64(cursor.LastPosition) + 1, nil
	}
	if errors.Is(err, repository.ErrCursorNotFound) {
		return s.initialPosition, nil
	}
	return 0, err
}
