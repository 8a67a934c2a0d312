package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeFetcher 预置事件的抓取器
type fakeFetcher struct {
	events []ledger.RawEvent
	head   uint64
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, fromPosition uint64, limit int) ([]ledger.RawEvent, uint64, error) {
	var batch []ledger.RawEvent
	for _, e := range f.events {
		if e.LedgerPosition >= fromPosition {
			batch = append(batch, e)
			if limit > 0 && len(batch) >= limit {
				break
			}
		}
	}
	if len(batch) > 0 {
		return batch, batch[len(batch)-1].LedgerPosition, nil
	}
	if fromPosition > f.head {
		return nil, fromPosition - 1, nil
	}
	return nil, f.head, nil
}

func newIngestFixture(t *testing.T, fetcher ledger.Fetcher) (*IngestService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	cursorRepo := repository.NewCursorRepository(db)
	eventRepo := repository.NewEventRepository(db)
	executor := NewRetryExecutor(repository.NewDeadLetterRepository(db), &RetryExecutorConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	})

	svc := NewIngestService(fetcher, cursorRepo, eventRepo, executor, &IngestServiceConfig{
		ServiceName:     "fundvault-chain",
		PollInterval:    5 * time.Millisecond,
		BatchSize:       100,
		InitialPosition: 1,
	})
	return svc, db
}

func vaultCreatedEvent(position uint64, txHash string, index int) ledger.RawEvent {
	return ledger.RawEvent{
		LedgerPosition: position,
		TxHash:         txHash,
		EventIndex:     index,
		Topics:         []string{"vault_created"},
		Data:           []byte(`{"vault_id":"v-1","owner":"0xowner","goal_amount":"1000"}`),
	}
}

func TestIngestProcessBatchAppliesAndAdvancesCursor(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{
			vaultCreatedEvent(10, "0xaaa", 0),
			vaultCreatedEvent(11, "0xbbb", 0),
		},
		head: 11,
	}
	svc, db := newIngestFixture(t, fetcher)
	ctx := context.Background()

	var applied []string
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		applied = append(applied, event.EventID)
		return nil
	})

	require.NoError(t, svc.ProcessBatch(ctx))

	assert.Equal(t, []string{"0xaaa:0", "0xbbb:0"}, applied)

	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(11), cursor.LastPosition)

	var count int64
	require.NoError(t, db.Model(&model.ProcessedEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestIngestDuplicateEventAppliedOnce(t *testing.T) {
	event := vaultCreatedEvent(10, "0xaaa", 0)
	fetcher := &fakeFetcher{events: []ledger.RawEvent{event, event}, head: 10}
	svc, db := newIngestFixture(t, fetcher)
	ctx := context.Background()

	handlerCalls := 0
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		handlerCalls++
		return nil
	})

	require.NoError(t, svc.ProcessBatch(ctx))

	// 同一事件投递两次: 处理器只执行一次，去重记录只有一行
	assert.Equal(t, 1, handlerCalls)

	var count int64
	require.NoError(t, db.Model(&model.ProcessedEvent{}).Where("event_id = ?", "0xaaa:0").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIngestParseFailureSkippedWithoutHalting(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{
			{LedgerPosition: 10, TxHash: "0xbad", EventIndex: 0, Topics: []string{"vault_created"}, Data: []byte(`{not json`)},
			vaultCreatedEvent(11, "0xgood", 0),
		},
		head: 11,
	}
	svc, db := newIngestFixture(t, fetcher)
	ctx := context.Background()

	var applied []string
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		applied = append(applied, event.EventID)
		return nil
	})

	require.NoError(t, svc.ProcessBatch(ctx))

	assert.Equal(t, []string{"0xgood:0"}, applied)

	// 解析失败的事件不占位，游标照常推进
	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(11), cursor.LastPosition)
}

func TestIngestExhaustedApplyDeadLettersAndContinues(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{vaultCreatedEvent(10, "0xaaa", 0)},
		head:   10,
	}
	svc, db := newIngestFixture(t, fetcher)
	ctx := context.Background()

	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		return errors.New("handler down")
	})

	require.NoError(t, svc.ProcessBatch(ctx))

	entries, err := repository.NewDeadLetterRepository(db).List(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "apply_event", entries[0].JobType)

	// 耗尽后事件标记为已处理，游标推进，重放不会再触发
	var count int64
	require.NoError(t, db.Model(&model.ProcessedEvent{}).Where("event_id = ?", "0xaaa:0").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor.LastPosition)
}

// flakyEventRepo 注入基础设施故障的事件仓储
type flakyEventRepo struct {
	repository.EventRepository
	failExists int
	failRecord int
}

func (r *flakyEventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	if r.failExists > 0 {
		r.failExists--
		return false, errors.New("database unavailable")
	}
	return r.EventRepository.Exists(ctx, eventID)
}

func (r *flakyEventRepo) Record(ctx context.Context, eventID, txHash string, eventIndex int, ledgerPosition uint64) error {
	if r.failRecord > 0 {
		r.failRecord--
		return errors.New("database unavailable")
	}
	return r.EventRepository.Record(ctx, eventID, txHash, eventIndex, ledgerPosition)
}

func newFlakyIngestFixture(t *testing.T, fetcher ledger.Fetcher, flaky *flakyEventRepo) (*IngestService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	flaky.EventRepository = repository.NewEventRepository(db)
	executor := NewRetryExecutor(repository.NewDeadLetterRepository(db), &RetryExecutorConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	})

	svc := NewIngestService(fetcher, repository.NewCursorRepository(db), flaky, executor, &IngestServiceConfig{
		ServiceName:     "fundvault-chain",
		InitialPosition: 1,
	})
	return svc, db
}

func TestIngestDedupFailureAbortsBatchWithoutAdvancingCursor(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{vaultCreatedEvent(10, "0xaaa", 0)},
		head:   10,
	}
	flaky := &flakyEventRepo{failExists: 1}
	svc, db := newFlakyIngestFixture(t, fetcher, flaky)
	ctx := context.Background()

	handlerCalls := 0
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		handlerCalls++
		return nil
	})

	// 去重查询故障: 本批中止，游标不得越过未处理的事件
	require.Error(t, svc.ProcessBatch(ctx))
	assert.Equal(t, 0, handlerCalls)

	_, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	assert.ErrorIs(t, err, repository.ErrCursorNotFound)

	// 故障恢复后下个 tick 重投，事件恰好应用一次
	require.NoError(t, svc.ProcessBatch(ctx))
	assert.Equal(t, 1, handlerCalls)

	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor.LastPosition)
}

func TestIngestRecordFailureReplaysEvent(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{vaultCreatedEvent(10, "0xaaa", 0)},
		head:   10,
	}
	flaky := &flakyEventRepo{failRecord: 1}
	svc, db := newFlakyIngestFixture(t, fetcher, flaky)
	ctx := context.Background()

	handlerCalls := 0
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		handlerCalls++
		return nil
	})

	// 应用成功但落库失败: 中止本批，游标不动，去重记录为空
	require.Error(t, svc.ProcessBatch(ctx))
	assert.Equal(t, 1, handlerCalls)

	var count int64
	require.NoError(t, db.Model(&model.ProcessedEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// 重投时处理器被再次调用 (至少一次语义)，随后正常落库推进
	require.NoError(t, svc.ProcessBatch(ctx))
	assert.Equal(t, 2, handlerCalls)

	require.NoError(t, db.Model(&model.ProcessedEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor.LastPosition)
}

func TestIngestEmptyBatchAdvancesCursor(t *testing.T) {
	fetcher := &fakeFetcher{events: nil, head: 50}
	svc, db := newIngestFixture(t, fetcher)
	ctx := context.Background()

	require.NoError(t, svc.ProcessBatch(ctx))

	cursor, err := repository.NewCursorRepository(db).GetByService(ctx, "fundvault-chain")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cursor.LastPosition)
}

func TestIngestStartStopLifecycle(t *testing.T) {
	fetcher := &fakeFetcher{head: 0}
	svc, _ := newIngestFixture(t, fetcher)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	assert.True(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Start(ctx), ErrIngestAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Stop(), ErrIngestNotRunning)
}

func TestIngestStatusSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{
		events: []ledger.RawEvent{vaultCreatedEvent(10, "0xaaa", 0)},
		head:   10,
	}
	svc, _ := newIngestFixture(t, fetcher)
	svc.RegisterHandler(model.LedgerEventVaultCreated, func(ctx context.Context, event *model.ParsedEvent) error {
		return nil
	})

	require.NoError(t, svc.ProcessBatch(context.Background()))

	status := svc.Status()
	assert.Equal(t, "fundvault-chain", status.ServiceName)
	assert.Equal(t, uint64(10), status.CursorPosition)
	assert.Equal(t, 1, status.LastBatchSize)
	assert.Greater(t, status.LastBatchAt, int64(0))
}
