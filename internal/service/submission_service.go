package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fundvault/fundvault-chain/internal/kafka"
	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrIdempotencyKeyRequired 幂等键缺失
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	// ErrIdempotencyConflict 同一幂等键携带不同逻辑负载
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrInvalidSubmission 提交内容不合法
	ErrInvalidSubmission = errors.New("invalid submission")
)

// EvidencePayload 证据负载
//
// 证据本体随请求到达；尺寸与 sha256 摘要由服务端推导落库，
// 本体不持久化。
type EvidencePayload struct {
	MimeType  string `json:"mime_type"`
	Data      []byte `json:"data"`
	Encrypted bool   `json:"encrypted"`
	Algorithm string `json:"algorithm,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// Digest 证据本体的 sha256 摘要 (十六进制)
func (e *EvidencePayload) Digest() string {
	sum := sha256.Sum256(e.Data)
	return hex.EncodeToString(sum[:])
}

// SubmitValidationRequest 验证提交请求
type SubmitValidationRequest struct {
	VaultID     string                  `json:"vault_id"`
	MilestoneID string                  `json:"milestone_id"`
	Verdict     model.SubmissionVerdict `json:"verdict"`
	Reason      string                  `json:"reason,omitempty"`
	Evidence    EvidencePayload         `json:"evidence"`
}

// SubmissionService 验证提交服务
//
// 每个幂等键恰好产生一次落库效应: 新键走完整校验与落库，
// 同键同负载重放返回首次结果，同键异负载报冲突。
type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	milestoneRepo  repository.MilestoneRepository
	approval       *ApprovalService
	publisher      kafka.EventPublisher
}

// NewSubmissionService 创建验证提交服务
func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	milestoneRepo repository.MilestoneRepository,
	approval *ApprovalService,
	publisher kafka.EventPublisher,
) *SubmissionService {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return &SubmissionService{
		submissionRepo: submissionRepo,
		milestoneRepo:  milestoneRepo,
		approval:       approval,
		publisher:      publisher,
	}
}

// canonicalPayload 参与指纹计算的逻辑负载
//
// 字段顺序固定，json.Marshal 输出确定，sha256 因而可比。
type canonicalPayload struct {
	VaultID        string `json:"vault_id"`
	MilestoneID    string `json:"milestone_id"`
	VerifierID     string `json:"verifier_id"`
	Verdict        string `json:"verdict"`
	Reason         string `json:"reason"`
	EvidenceSHA256 string `json:"evidence_sha256"`
}

// Fingerprint 计算请求的规范化指纹
func Fingerprint(req *SubmitValidationRequest, verifierID string) string {
	data, _ := json.Marshal(canonicalPayload{
		VaultID:        req.VaultID,
		MilestoneID:    req.MilestoneID,
		VerifierID:     verifierID,
		Verdict:        string(req.Verdict),
		Reason:         req.Reason,
		EvidenceSHA256: req.Evidence.Digest(),
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit 提交验证结果
//
// 返回 (记录, 是否为重放)。重放路径不触发任何写入与聚合。
func (s *SubmissionService) Submit(ctx context.Context, idempotencyKey string, req *SubmitValidationRequest, verifierID string) (*model.ValidationSubmission, bool, error) {
	if idempotencyKey == "" {
		metrics.RecordSubmission("invalid")
		return nil, false, ErrIdempotencyKeyRequired
	}

	fingerprint := Fingerprint(req, verifierID)

	existing, err := s.submissionRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err == nil {
		if existing.Fingerprint == fingerprint {
			metrics.RecordSubmission("replayed")
			return existing, true, nil
		}
		metrics.RecordSubmission("conflict")
		return nil, false, ErrIdempotencyConflict
	}
	if !errors.Is(err, repository.ErrSubmissionNotFound) {
		return nil, false, err
	}

	if err := s.validate(ctx, req, verifierID); err != nil {
		metrics.RecordSubmission("invalid")
		return nil, false, err
	}

	submission := &model.ValidationSubmission{
		ID:                uuid.New().String(),
		VaultID:           req.VaultID,
		MilestoneID:       req.MilestoneID,
		VerifierID:        verifierID,
		Verdict:           req.Verdict,
		Reason:            req.Reason,
		IdempotencyKey:    idempotencyKey,
		Fingerprint:       fingerprint,
		EvidenceMimeType:  req.Evidence.MimeType,
		EvidenceSizeBytes: int64(len(req.Evidence.Data)),
		EvidenceSHA256:    req.Evidence.Digest(),
		EvidenceEncrypted: req.Evidence.Encrypted,
		EvidenceAlgorithm: req.Evidence.Algorithm,
		EvidenceKeyID:     req.Evidence.KeyID,
		CreatedAt:         time.Now().UnixMilli(),
	}

	if err := s.submissionRepo.Create(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			// 并发同键写入: 唯一索引兜底，回读比较指纹
			winner, getErr := s.submissionRepo.GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			if winner.Fingerprint == fingerprint {
				metrics.RecordSubmission("replayed")
				return winner, true, nil
			}
			metrics.RecordSubmission("conflict")
			return nil, false, ErrIdempotencyConflict
		}
		return nil, false, err
	}

	decision := model.VerifierDecisionApproved
	if req.Verdict == model.SubmissionVerdictRejected {
		decision = model.VerifierDecisionRejected
	}
	if err := s.milestoneRepo.MarkDecided(ctx, req.MilestoneID, verifierID, decision); err != nil {
		if !errors.Is(err, repository.ErrAlreadyDecided) {
			return nil, false, err
		}
		// 同一验证人换键重复裁决: 提交已落库留痕，裁决保持首次结果
		logger.Warn("verifier already decided, keeping first decision",
			zap.String("milestone_id", req.MilestoneID),
			zap.String("verifier_id", verifierID))
	}

	if err := s.approval.Evaluate(ctx, req.MilestoneID); err != nil {
		// 聚合失败不影响已落库的提交，下一次裁决或扫描会重新聚合
		logger.Error("approval evaluation failed after submission",
			zap.String("milestone_id", req.MilestoneID),
			zap.Error(err))
	}

	msg := &kafka.ValidationRecordedMessage{
		SubmissionID: submission.ID,
		MilestoneID:  submission.MilestoneID,
		VaultID:      submission.VaultID,
		VerifierID:   submission.VerifierID,
		Verdict:      submission.Verdict,
		RecordedAt:   submission.CreatedAt,
	}
	if err := s.publisher.PublishValidationRecorded(ctx, msg); err != nil {
		logger.Error("failed to publish validation recorded",
			zap.String("submission_id", submission.ID),
			zap.Error(err))
	}

	metrics.RecordSubmission("created")
	logger.Info("validation submission recorded",
		zap.String("submission_id", submission.ID),
		zap.String("milestone_id", submission.MilestoneID),
		zap.String("verifier_id", submission.VerifierID),
		zap.String("verdict", string(submission.Verdict)))

	return submission, false, nil
}

// validate 校验提交内容
func (s *SubmissionService) validate(ctx context.Context, req *SubmitValidationRequest, verifierID string) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidSubmission)
	}
	if req.VaultID == "" || req.MilestoneID == "" || verifierID == "" {
		return fmt.Errorf("%w: vault_id, milestone_id and verifier_id are required", ErrInvalidSubmission)
	}
	if req.Verdict != model.SubmissionVerdictApproved && req.Verdict != model.SubmissionVerdictRejected {
		return fmt.Errorf("%w: verdict must be approved or rejected", ErrInvalidSubmission)
	}
	if req.Evidence.MimeType == "" || len(req.Evidence.Data) == 0 {
		return fmt.Errorf("%w: evidence mime_type and data are required", ErrInvalidSubmission)
	}

	milestone, err := s.milestoneRepo.GetMilestone(ctx, req.MilestoneID)
	if errors.Is(err, repository.ErrMilestoneNotFound) {
		return fmt.Errorf("%w: milestone %s not found", ErrInvalidSubmission, req.MilestoneID)
	}
	if err != nil {
		return err
	}
	if milestone.VaultID != req.VaultID {
		return fmt.Errorf("%w: milestone %s does not belong to vault %s", ErrInvalidSubmission, req.MilestoneID, req.VaultID)
	}

	if _, err := s.milestoneRepo.GetAssignment(ctx, req.MilestoneID, verifierID); err != nil {
		if errors.Is(err, repository.ErrAssignmentNotFound) {
			return fmt.Errorf("%w: verifier %s not assigned to milestone %s", ErrInvalidSubmission, verifierID, req.MilestoneID)
		}
		return err
	}

	return nil
}

// GetSubmission 查询单条提交
func (s *SubmissionService) GetSubmission(ctx context.Context, id string) (*model.ValidationSubmission, error) {
	return s.submissionRepo.GetByID(ctx, id)
}

// ListByMilestone 查询里程碑下的全部提交
func (s *SubmissionService) ListByMilestone(ctx context.Context, milestoneID string) ([]*model.ValidationSubmission, error) {
	return s.submissionRepo.ListByMilestone(ctx, milestoneID)
}
