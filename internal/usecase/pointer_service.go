package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// PointerRepository はポインタ履歴のデータアクセスのインターフェース。
// CreateNext は rec.Sequence が次の世代番号でない場合 domain.ErrStaleSequence、
// 同じ署名が記録済みの場合 domain.ErrSignatureReused を返す。
// Find 系は該当なしの場合 nil, nil を返す。
type PointerRepository interface {
	CreateNext(ctx context.Context, rec *domain.PointerRecord) error
	FindLatestByOwnerID(ctx context.Context, ownerID string) (*domain.PointerRecord, error)
	FindByOwnerIDAndSequence(ctx context.Context, ownerID string, sequence uint) (*domain.PointerRecord, error)
	FindAllByOwnerID(ctx context.Context, ownerID string) ([]*domain.PointerRecord, error)
}

// PointerService は暗号化ポインタ台帳のビジネスロジックを提供する。
// ポインタの中身は不透明な文字列として扱い、復号はしない。
type PointerService struct {
	repo PointerRepository
}

// NewPointerService は新しいPointerServiceを生成する。
func NewPointerService(repo PointerRepository) *PointerService {
	return &PointerService{repo: repo}
}

// Publish は所有者の署名を検証し、sequence の世代としてポインタを記録する。
// sequence は台帳の最新世代+1でなければならない。
func (s *PointerService) Publish(ctx context.Context, ownerID, encryptedPointer string, sequence uint, signature []byte) (*domain.PublishReceipt, error) {
	ctx, span := tracer.Start(ctx, "PointerService.Publish")
	defer span.End()

	if _, err := crypto.ParseOwnerID(ownerID); err != nil {
		return nil, err
	}
	if _, err := domain.ParseCompactEnvelope(encryptedPointer); err != nil {
		return nil, domain.ErrInvalidPointer
	}
	if sequence == 0 {
		return nil, domain.ErrInvalidSequence
	}
	if !crypto.VerifyOwnerSignature(ownerID, domain.PublishMessage(ownerID, encryptedPointer, sequence), signature) {
		slog.WarnContext(ctx, "pointer signature rejected",
			"operation", "publish_pointer",
			"owner_id", ownerID,
		)
		return nil, domain.ErrInvalidSignature
	}

	rec := &domain.PointerRecord{
		OwnerID:          ownerID,
		Sequence:         sequence,
		EncryptedPointer: encryptedPointer,
		Signature:        signature,
	}
	if err := s.repo.CreateNext(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrStaleSequence) || errors.Is(err, domain.ErrSignatureReused) {
			slog.WarnContext(ctx, "pointer publication rejected",
				"operation", "publish_pointer",
				"owner_id", ownerID,
				"sequence", sequence,
				"error", err,
			)
			return nil, err
		}
		return nil, fmt.Errorf("creating pointer: %w", err)
	}

	return &domain.PublishReceipt{
		OwnerID:   rec.OwnerID,
		Sequence:  rec.Sequence,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// GetLatest は所有者の最新のポインタを取得する。
func (s *PointerService) GetLatest(ctx context.Context, ownerID string) (*domain.PointerRecord, error) {
	if _, err := crypto.ParseOwnerID(ownerID); err != nil {
		return nil, err
	}
	rec, err := s.repo.FindLatestByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("finding latest pointer: %w", err)
	}
	if rec == nil {
		return nil, domain.ErrPointerNotFound
	}
	return rec, nil
}

// GetBySequence は指定されたシーケンスのポインタを取得する。
func (s *PointerService) GetBySequence(ctx context.Context, ownerID string, sequence uint) (*domain.PointerRecord, error) {
	if _, err := crypto.ParseOwnerID(ownerID); err != nil {
		return nil, err
	}
	if sequence == 0 {
		return nil, domain.ErrInvalidSequence
	}
	rec, err := s.repo.FindByOwnerIDAndSequence(ctx, ownerID, sequence)
	if err != nil {
		return nil, fmt.Errorf("finding pointer: %w", err)
	}
	if rec == nil {
		return nil, domain.ErrPointerNotFound
	}
	return rec, nil
}

// ListHistory は所有者の全世代のポインタを古い順に取得する。
func (s *PointerService) ListHistory(ctx context.Context, ownerID string) ([]*domain.PointerRecord, error) {
	if _, err := crypto.ParseOwnerID(ownerID); err != nil {
		return nil, err
	}
	recs, err := s.repo.FindAllByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("finding pointers: %w", err)
	}
	return recs, nil
}
