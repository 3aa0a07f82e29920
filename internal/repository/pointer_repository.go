// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wallet-vault-service/internal/domain"
)

// VaultPointerModel はgorm用のモデル定義。
type VaultPointerModel struct {
	ID               string    `gorm:"type:char(36);primaryKey"`
	OwnerID          string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_owner_seq"`
	Sequence         uint      `gorm:"column:seq;not null;uniqueIndex:uk_owner_seq"`
	EncryptedPointer string    `gorm:"type:text;not null"`
	Signature        []byte    `gorm:"type:blob;not null"`
	CreatedAt        time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (VaultPointerModel) TableName() string {
	return "vault_pointers"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *VaultPointerModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *VaultPointerModel) toDomain() *domain.PointerRecord {
	return &domain.PointerRecord{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Sequence:         m.Sequence,
		EncryptedPointer: m.EncryptedPointer,
		Signature:        m.Signature,
		CreatedAt:        m.CreatedAt,
	}
}

// PointerRepository はポインタ履歴のデータアクセスを提供する。
type PointerRepository struct {
	db *gorm.DB
}

// NewPointerRepository は新しいPointerRepositoryを生成する。
func NewPointerRepository(db *gorm.DB) *PointerRepository {
	return &PointerRepository{db: db}
}

// CreateNext は rec.Sequence の世代としてポインタを保存する。
// rec.Sequence が所有者の最大シーケンス+1でない場合、または同時公開で一意制約に
// 衝突した場合は domain.ErrStaleSequence を返す。記録済みの署名は domain.ErrSignatureReused。
func (r *PointerRepository) CreateNext(ctx context.Context, rec *domain.PointerRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		maxSeq, err := getMaxSequence(tx, rec.OwnerID)
		if err != nil {
			return err
		}
		if rec.Sequence != maxSeq+1 {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrStaleSequence, maxSeq+1, rec.Sequence)
		}
		var reused int64
		if err := tx.Model(&VaultPointerModel{}).
			Where("owner_id = ? AND signature = ?", rec.OwnerID, rec.Signature).
			Count(&reused).Error; err != nil {
			return err
		}
		if reused > 0 {
			return domain.ErrSignatureReused
		}
		model := &VaultPointerModel{
			ID:               rec.ID,
			OwnerID:          rec.OwnerID,
			Sequence:         rec.Sequence,
			EncryptedPointer: rec.EncryptedPointer,
			Signature:        rec.Signature,
		}
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: sequence %d already taken", domain.ErrStaleSequence, rec.Sequence)
			}
			return err
		}
		rec.ID = model.ID
		rec.CreatedAt = model.CreatedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleSequence) || errors.Is(err, domain.ErrSignatureReused) {
			return err
		}
		slog.ErrorContext(ctx, "failed to create pointer",
			"operation", "create_next",
			"owner_id", rec.OwnerID,
			"error", err,
		)
		return err
	}
	return nil
}

// getMaxSequence は所有者の最大シーケンス番号を取得する。未登録なら0。
func getMaxSequence(db *gorm.DB, ownerID string) (uint, error) {
	var maxSeq *uint
	err := db.Model(&VaultPointerModel{}).
		Where("owner_id = ?", ownerID).
		Select("MAX(seq)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	if maxSeq == nil {
		return 0, nil
	}
	return *maxSeq, nil
}

// FindLatestByOwnerID は所有者の最新のポインタを取得する。
func (r *PointerRepository) FindLatestByOwnerID(ctx context.Context, ownerID string) (*domain.PointerRecord, error) {
	var model VaultPointerModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("seq DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find latest pointer",
			"operation", "find_latest_by_owner_id",
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindByOwnerIDAndSequence は指定された所有者・シーケンスのポインタを取得する。
func (r *PointerRepository) FindByOwnerIDAndSequence(ctx context.Context, ownerID string, sequence uint) (*domain.PointerRecord, error) {
	var model VaultPointerModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND seq = ?", ownerID, sequence).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find pointer",
			"operation", "find_by_owner_id_and_sequence",
			"owner_id", ownerID,
			"sequence", sequence,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByOwnerID は所有者の全世代のポインタを古い順に取得する。
func (r *PointerRepository) FindAllByOwnerID(ctx context.Context, ownerID string) ([]*domain.PointerRecord, error) {
	var models []VaultPointerModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all pointers by owner_id",
			"operation", "find_all_by_owner_id",
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}

	recs := make([]*domain.PointerRecord, len(models))
	for i := range models {
		recs[i] = models[i].toDomain()
	}
	return recs, nil
}
