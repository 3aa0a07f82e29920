package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSigningFailed は署名者が署名を拒否またはエラーを返した場合のエラー。
	ErrSigningFailed = errors.New("signing failed")

	// ErrSigningTimeout は署名者が制限時間内に応答しなかった場合のエラー。
	ErrSigningTimeout = errors.New("signing timed out")

	// ErrNonDeterministicSigner は同じメッセージへの署名から同じ鍵を再導出できない場合のエラー。
	ErrNonDeterministicSigner = errors.New("signer is not deterministic")

	// ErrDecryptionFailed は認証タグの検証に失敗した場合のエラー（鍵違いまたは改ざん）。
	ErrDecryptionFailed = errors.New("decryption failed: wrong key or corrupted data")

	// ErrInvalidVaultFormat は復号に成功したが文書の構造が不正な場合のエラー。
	ErrInvalidVaultFormat = errors.New("invalid vault format")

	// ErrMetadataDecryptionFailed はメタデータフィールドの復号失敗を表す。
	ErrMetadataDecryptionFailed = errors.New("metadata decryption failed")

	// ErrUnknownEntryFormat はエントリのバージョンと内容が既知の形式に一致しない場合のエラー。
	ErrUnknownEntryFormat = errors.New("unknown entry format")

	// ErrEntryNotFound は指定されたIDのエントリが存在しない場合のエラー。
	ErrEntryNotFound = errors.New("entry not found")

	// ErrVaultLocked はボールト鍵が導出されていない状態で操作した場合のエラー。
	ErrVaultLocked = errors.New("vault is locked")

	// ErrSaveInProgress は保存処理中に別の変更が要求された場合のエラー。
	ErrSaveInProgress = errors.New("vault save already in progress")

	// ErrPointerNotFound は所有者のポインタが登録されていない場合のエラー。
	ErrPointerNotFound = errors.New("pointer not found")

	// ErrInvalidOwnerID は所有者IDの形式が不正な場合のエラー。
	ErrInvalidOwnerID = errors.New("invalid owner ID")

	// ErrInvalidSequence はシーケンス番号が不正な場合のエラー。
	ErrInvalidSequence = errors.New("invalid sequence")

	// ErrInvalidPointer は暗号化ポインタの形式が不正な場合のエラー。
	ErrInvalidPointer = errors.New("invalid encrypted pointer")

	// ErrInvalidSignature は公開要求の署名が検証できない場合のエラー。
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStaleSequence は公開要求の世代番号が台帳の次の番号と一致しない場合のエラー。
	ErrStaleSequence = errors.New("stale pointer sequence")

	// ErrSignatureReused は記録済みの署名で再度公開しようとした場合のエラー。
	ErrSignatureReused = errors.New("signature already recorded")

	// ErrInvalidBlobPayload はオフチェーンのラッパーペイロードが不正な場合のエラー。
	ErrInvalidBlobPayload = errors.New("invalid blob payload")

	// ErrMigrationFailed はエントリの移行に失敗した場合のエラー。
	ErrMigrationFailed = errors.New("entry migration failed")

	// ErrBlobUnavailable は全ての取得先からブロブを取得できなかった場合のエラー。
	ErrBlobUnavailable = errors.New("blob unavailable from all endpoints")
)

// EntryError はエントリ単位の失敗を、どのエントリ・どのバージョンかと共に保持する。
// 平文や鍵は含めない。
type EntryError struct {
	EntryID string
	Version EncryptionVersion
	Op      string
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s entry %q (v%d): %v", e.Op, e.EntryID, e.Version, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// MetadataError はフィールドごとの復号失敗をまとめる。
// 失敗しなかったフィールドは呼び出し元に返される。
type MetadataError struct {
	EntryID string
	Fields  map[MetadataField]error
}

func (e *MetadataError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return fmt.Sprintf("%v for entry %q: fields [%s]", ErrMetadataDecryptionFailed, e.EntryID, strings.Join(names, ", "))
}

// Is は errors.Is(err, ErrMetadataDecryptionFailed) を満たす。
func (e *MetadataError) Is(target error) bool {
	return target == ErrMetadataDecryptionFailed
}

// Failed は指定フィールドの復号が失敗したかを返す。
func (e *MetadataError) Failed(field MetadataField) bool {
	_, ok := e.Fields[field]
	return ok
}
