package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	engine        *gin.Engine
	db            *gorm.DB
	milestoneRepo repository.MilestoneRepository
	approval      *service.ApprovalService
}

type noopFetcher struct{}

func (noopFetcher) FetchBatch(ctx context.Context, fromPosition uint64, limit int) ([]ledger.RawEvent, uint64, error) {
	return nil, fromPosition, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.LedgerCursor{},
		&model.ProcessedEvent{},
		&model.DeadLetterEntry{},
		&model.Vault{},
		&model.Milestone{},
		&model.Verifier{},
		&model.MilestoneVerifierAssignment{},
		&model.ValidationSubmission{},
	))

	milestoneRepo := repository.NewMilestoneRepository(db)
	vaultRepo := repository.NewVaultRepository(db)
	deadLetterRepo := repository.NewDeadLetterRepository(db)

	approval := service.NewApprovalService(milestoneRepo, nil)
	submissions := service.NewSubmissionService(repository.NewSubmissionRepository(db), milestoneRepo, approval, nil)
	vaults := service.NewVaultService(vaultRepo, milestoneRepo)
	deadLetters := service.NewDeadLetterService(deadLetterRepo)
	executor := service.NewRetryExecutor(deadLetterRepo, &service.RetryExecutorConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	})
	ingest := service.NewIngestService(noopFetcher{}, repository.NewCursorRepository(db),
		repository.NewEventRepository(db), executor, &service.IngestServiceConfig{
			ServiceName: "fundvault-chain",
		})

	engine := gin.New()
	router := &Router{
		Validation: NewValidationHandler(submissions),
		Milestone:  NewMilestoneHandler(approval, vaults, milestoneRepo),
		DeadLetter: NewDeadLetterHandler(deadLetters),
		System:     NewSystemHandler(ingest),
	}
	router.Setup(engine)

	return &fixture{
		engine:        engine,
		db:            db,
		milestoneRepo: milestoneRepo,
		approval:      approval,
	}
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) seedMilestone(t *testing.T, milestoneID string, verifierIDs ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.milestoneRepo.CreateMilestone(ctx, &model.Milestone{
		MilestoneID:    milestoneID,
		VaultID:        "v-1",
		ApprovalPolicy: model.ApprovalPolicyAll,
		Deadline:       time.Now().Add(24 * time.Hour).UnixMilli(),
	}))
	for _, id := range verifierIDs {
		require.NoError(t, f.approval.RegisterVerifier(ctx, id))
	}
	_, err := f.approval.AssignVerifiers(ctx, milestoneID, verifierIDs)
	require.NoError(t, err)
}

func validationBody(verdict string) map[string]interface{} {
	return map[string]interface{}{
		"vault_id":     "v-1",
		"milestone_id": "m-1",
		"verifier_id":  "ver-1",
		"verdict":      verdict,
		"reason":       "looks good",
		"evidence": map[string]interface{}{
			"mime_type": "application/pdf",
			"data":      []byte("inspection report contents"),
		},
	}
}

func TestSubmitValidationEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedMilestone(t, "m-1", "ver-1")

	headers := map[string]string{HeaderIdempotencyKey: "key-1"}

	w := f.request(t, http.MethodPost, "/api/v1/validations", validationBody("approved"), headers)
	assert.Equal(t, http.StatusCreated, w.Code)

	// 同键同负载重放 → 200
	w = f.request(t, http.MethodPost, "/api/v1/validations", validationBody("approved"), headers)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"replayed":true`)

	// 同键异负载 → 409
	w = f.request(t, http.MethodPost, "/api/v1/validations", validationBody("rejected"), headers)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSubmitValidationMissingKey(t *testing.T) {
	f := newFixture(t)
	f.seedMilestone(t, "m-1", "ver-1")

	w := f.request(t, http.MethodPost, "/api/v1/validations", validationBody("approved"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMilestoneEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedMilestone(t, "m-1", "ver-1")

	w := f.request(t, http.MethodGet, "/api/v1/milestones/m-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"milestone_id":"m-1"`)

	w = f.request(t, http.MethodGet, "/api/v1/milestones/m-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignVerifiersEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedMilestone(t, "m-1")
	require.NoError(t, f.approval.RegisterVerifier(context.Background(), "ver-1"))

	w := f.request(t, http.MethodPost, "/api/v1/milestones/m-1/verifiers",
		map[string]interface{}{"verifier_ids": []string{"ver-1"}}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"created":1`)

	w = f.request(t, http.MethodPost, "/api/v1/milestones/m-1/verifiers",
		map[string]interface{}{"verifier_ids": []string{"ver-ghost"}}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeactivateVerifierEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.approval.RegisterVerifier(context.Background(), "ver-1"))

	w := f.request(t, http.MethodPost, "/api/v1/verifiers/ver-1/deactivate", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodPost, "/api/v1/verifiers/ver-ghost/deactivate", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	f := newFixture(t)
	repo := repository.NewDeadLetterRepository(f.db)

	entry := &model.DeadLetterEntry{
		ID:           "dl-1",
		JobType:      "apply_event",
		Payload:      `{"event_id":"abc123:0"}`,
		ErrorMessage: "handler down",
		RetryCount:   4,
		Status:       model.DeadLetterStatusPending,
		FailedAt:     time.Now().UnixMilli(),
	}
	require.NoError(t, repo.Create(context.Background(), entry))

	w := f.request(t, http.MethodGet, "/api/v1/dead-letters?job_type=apply_event", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dl-1")

	w = f.request(t, http.MethodGet, "/api/v1/dead-letters/dl-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/dead-letters/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":1`)

	w = f.request(t, http.MethodPost, "/api/v1/dead-letters/dl-1/discard", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 丢弃后重放被拒绝
	w = f.request(t, http.MethodPost, "/api/v1/dead-letters/dl-1/reprocess", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/dead-letters/%s", "missing"), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fundvault-chain")

	w = f.request(t, http.MethodGet, "/api/v1/ingest/status", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":false`)
}
