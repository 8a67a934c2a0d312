package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDeadLetter(t *testing.T, repo repository.DeadLetterRepository, jobType string) *model.DeadLetterEntry {
	t.Helper()
	entry := &model.DeadLetterEntry{
		ID:           uuid.New().String(),
		JobType:      jobType,
		Payload:      `{"event_id":"abc123:0"}`,
		ErrorMessage: "handler down",
		RetryCount:   4,
		Status:       model.DeadLetterStatusPending,
		FailedAt:     time.Now().UnixMilli(),
	}
	require.NoError(t, repo.Create(context.Background(), entry))
	return entry
}

func TestDeadLetterServiceDiscardIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	entry := seedDeadLetter(t, repo, "apply_event")

	require.NoError(t, svc.Discard(ctx, entry.ID))

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusDiscarded, stored.Status)
	require.NotNil(t, stored.ResolvedAt)
	firstResolvedAt := *stored.ResolvedAt

	// 重复丢弃直接成功，resolved_at 不变
	require.NoError(t, svc.Discard(ctx, entry.ID))

	stored, err = svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, firstResolvedAt, *stored.ResolvedAt)
}

func TestDeadLetterServiceDiscardNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewDeadLetterService(repository.NewDeadLetterRepository(db))

	err := svc.Discard(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, repository.ErrDeadLetterNotFound)
}

func TestDeadLetterServiceReprocessSuccess(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	entry := seedDeadLetter(t, repo, "apply_event")

	var received string
	svc.RegisterReprocessHandler("apply_event", func(ctx context.Context, payload string) error {
		received = payload
		return nil
	})

	require.NoError(t, svc.Reprocess(ctx, entry.ID))
	assert.Equal(t, entry.Payload, received)

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusDiscarded, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestDeadLetterServiceReprocessFailureRestoresPending(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	entry := seedDeadLetter(t, repo, "apply_event")

	svc.RegisterReprocessHandler("apply_event", func(ctx context.Context, payload string) error {
		return errors.New("still broken")
	})

	err := svc.Reprocess(ctx, entry.ID)
	require.Error(t, err)

	stored, getErr := svc.Get(ctx, entry.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.DeadLetterStatusPending, stored.Status)
}

func TestDeadLetterServiceReprocessWithoutHandler(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)

	entry := seedDeadLetter(t, repo, "unknown_job")

	err := svc.Reprocess(context.Background(), entry.ID)
	assert.ErrorIs(t, err, ErrNoReprocessHandler)
}

func TestDeadLetterServiceReprocessDiscardedRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	entry := seedDeadLetter(t, repo, "apply_event")
	require.NoError(t, svc.Discard(ctx, entry.ID))

	svc.RegisterReprocessHandler("apply_event", func(ctx context.Context, payload string) error {
		return nil
	})

	err := svc.Reprocess(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrDeadLetterTerminal)
}

func TestDeadLetterServiceMetrics(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	seedDeadLetter(t, repo, "apply_event")
	seedDeadLetter(t, repo, "apply_event")
	discarded := seedDeadLetter(t, repo, "notify_webhook")
	require.NoError(t, svc.Discard(ctx, discarded.ID))

	m, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Total)
	assert.Equal(t, int64(2), m.Pending)
	assert.Equal(t, int64(1), m.Discarded)
	assert.Equal(t, int64(2), m.ByJobType["apply_event"])
	assert.Equal(t, int64(1), m.ByJobType["notify_webhook"])
}

func TestDeadLetterServiceListFilter(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDeadLetterRepository(db)
	svc := NewDeadLetterService(repo)
	ctx := context.Background()

	seedDeadLetter(t, repo, "apply_event")
	seedDeadLetter(t, repo, "notify_webhook")

	entries, err := svc.List(ctx, &repository.DeadLetterFilter{JobType: "apply_event"}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "apply_event", entries[0].JobType)
}
