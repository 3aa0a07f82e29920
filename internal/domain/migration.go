package domain

import "time"

// MigrationStatus はエントリのV3移行状態を表す
type MigrationStatus string

const (
	MigrationStatusPending     MigrationStatus = "pending"
	MigrationStatusApplied     MigrationStatus = "applied"
	MigrationStatusUnsupported MigrationStatus = "unsupported"
)

// EntryMigration はエントリ1件の移行状態
type EntryMigration struct {
	EntryID string            // エントリID
	From    EncryptionVersion // 現在のバージョン
	Status  MigrationStatus   // 移行状態
}

// MigrationStatusOf はエントリの移行状態を返す。
func MigrationStatusOf(e Entry) MigrationStatus {
	switch e.(type) {
	case *PlaintextEntry, *PerSecretEntry:
		return MigrationStatusPending
	case *SealedEntry:
		return MigrationStatusApplied
	}
	return MigrationStatusUnsupported
}

// SchemaMigration は台帳データベースのスキーマ移行を表す
type SchemaMigration struct {
	Version   string          // バージョン（例: "001"）
	Name      string          // ファイル名から抽出した名前
	AppliedAt *time.Time      // 適用日時（未適用の場合はnil）
	Status    MigrationStatus // 適用状態
}
