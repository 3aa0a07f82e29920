package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"wallet-vault-service/internal/domain"
)

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// SchemaRepository はスキーマ移行履歴を管理するリポジトリ。
type SchemaRepository struct {
	db *gorm.DB
}

// NewSchemaRepository は新しいSchemaRepositoryを生成する。
func NewSchemaRepository(db *gorm.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// EnsureTable は履歴テーブルが無ければ作成する。
func (r *SchemaRepository) EnsureTable(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to create schema_migrations",
			"operation", "ensure_table",
			"error", err,
		)
		return err
	}
	return nil
}

// FindAllApplied は適用済みの移行一覧を取得する。
func (r *SchemaRepository) FindAllApplied(ctx context.Context) ([]*domain.SchemaMigration, error) {
	var models []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all applied migrations",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, err
	}

	migrations := make([]*domain.SchemaMigration, len(models))
	for i := range models {
		appliedAt := models[i].AppliedAt
		migrations[i] = &domain.SchemaMigration{
			Version:   models[i].Version,
			AppliedAt: &appliedAt,
			Status:    domain.MigrationStatusApplied,
		}
	}
	return migrations, nil
}

// Apply はSQLの実行と履歴の記録を1つのトランザクションで行う。
func (r *SchemaRepository) Apply(ctx context.Context, version, sql string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sql).Error; err != nil {
			slog.ErrorContext(ctx, "failed to execute migration SQL",
				"operation", "apply",
				"version", version,
				"error", err,
			)
			return err
		}
		if err := tx.Create(&SchemaMigrationModel{Version: version}).Error; err != nil {
			slog.ErrorContext(ctx, "failed to record migration",
				"operation", "apply",
				"version", version,
				"error", err,
			)
			return err
		}
		return nil
	})
}
