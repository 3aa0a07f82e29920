// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

var tracer = otel.Tracer("wallet-vault-service/internal/usecase")

// BlobStore はオフチェーンのブロブ保存先のインターフェース。
type BlobStore interface {
	Upload(ctx context.Context, payload string) (string, error)
	Download(ctx context.Context, pointer string) (string, error)
}

// PointerRegistry は所有者ごとの暗号化ポインタ台帳のインターフェース。
// PublishPointer の sequence は最新世代+1で、一致しない場合は domain.ErrStaleSequence を返す。
// ReadLatestPointer は未登録の場合 domain.ErrPointerNotFound を返す。
type PointerRegistry interface {
	PublishPointer(ctx context.Context, ownerID, encryptedPointer string, sequence uint, signature []byte) (*domain.PublishReceipt, error)
	ReadLatestPointer(ctx context.Context, ownerID string) (*domain.PointerRecord, error)
}

// SyncState は最後に読み書きしたポインタの状態。
type SyncState struct {
	Pointer  string    `json:"pointer"`
	Sequence uint      `json:"sequence"`
	SyncedAt time.Time `json:"synced_at"`
}

// VaultService は1つの所有者のボールトセッション。
// ボールト鍵と文書はこのオブジェクトだけが保持し、Lock で破棄される。
type VaultService struct {
	ownerID     string
	signer      crypto.Signer
	deriver     KeyDeriver
	secrets     *SecretCipher
	blobs       BlobStore
	registry    PointerRegistry
	signTimeout time.Duration
	now         func() time.Time
	newID       func() string

	mu       sync.RWMutex
	key      *crypto.SymmetricKey
	doc      *domain.VaultDocument
	lastSync *SyncState
	retired  *crypto.SymmetricKey
	saving   atomic.Bool
}

// NewVaultService は新しいVaultServiceを生成する。signTimeout は全ての署名要求に適用される。
func NewVaultService(ownerID string, signer crypto.Signer, signTimeout time.Duration, blobs BlobStore, registry PointerRegistry) *VaultService {
	deriver := crypto.NewKeyDeriver(signer, signTimeout)
	return &VaultService{
		ownerID:     ownerID,
		signer:      crypto.Bounded(signer, signTimeout),
		deriver:     deriver,
		secrets:     NewSecretCipher(deriver),
		blobs:       blobs,
		registry:    registry,
		signTimeout: signTimeout,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// OwnerID は所有者IDを返す。
func (s *VaultService) OwnerID() string {
	return s.ownerID
}

// Unlock はボールト鍵を導出し、最新のポインタから文書を読み込む。
// ポインタが未登録なら空のボールトとして開く。読み込み中は変更を受け付けない。
func (s *VaultService) Unlock(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "VaultService.Unlock")
	defer span.End()

	if !s.saving.CompareAndSwap(false, true) {
		return domain.ErrSaveInProgress
	}
	defer s.endSave()

	key, err := s.deriver.Derive(ctx, crypto.VaultContext())
	if err != nil {
		return fmt.Errorf("deriving vault key: %w", err)
	}

	doc, state, err := s.load(ctx, key)
	if err != nil {
		key.Destroy()
		slog.ErrorContext(ctx, "failed to load vault",
			"operation", "unlock",
			"owner_id", s.ownerID,
			"error", err,
		)
		return err
	}

	s.mu.Lock()
	old := s.key
	s.key, s.doc, s.lastSync = key, doc, state
	s.mu.Unlock()
	if old != nil && old != key {
		s.retire(old)
	}

	span.SetAttributes(attribute.Int("vault.entries", len(doc.Entries)))
	slog.InfoContext(ctx, "vault unlocked",
		"operation", "unlock",
		"owner_id", s.ownerID,
		"entries", len(doc.Entries),
	)
	return nil
}

func (s *VaultService) load(ctx context.Context, key *crypto.SymmetricKey) (*domain.VaultDocument, *SyncState, error) {
	rec, err := s.registry.ReadLatestPointer(ctx, s.ownerID)
	if errors.Is(err, domain.ErrPointerNotFound) {
		return &domain.VaultDocument{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer: %w", err)
	}

	cid, err := DecryptPointer(key, rec.EncryptedPointer)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting pointer: %w", err)
	}
	data, err := s.blobs.Download(ctx, cid)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading vault blob: %w", err)
	}
	doc, err := DecodeBlob(key, data)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting vault document: %w", err)
	}
	return doc, &SyncState{Pointer: cid, Sequence: rec.Sequence, SyncedAt: rec.CreatedAt}, nil
}

// Lock は鍵と文書を破棄する。保存中の場合、鍵の破棄は保存完了時に行う。
func (s *VaultService) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		if s.saving.Load() {
			s.retired = s.key
		} else {
			s.key.Destroy()
		}
	}
	s.key = nil
	s.doc = nil
	s.lastSync = nil
}

func (s *VaultService) retire(key *crypto.SymmetricKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving.Load() {
		s.retired = key
		return
	}
	key.Destroy()
}

// Unlocked はボールト鍵を保持しているかを返す。
func (s *VaultService) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// Entries は現在のエントリのスナップショットを返す。
func (s *VaultService) Entries() ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, domain.ErrVaultLocked
	}
	return s.doc.Clone().Entries, nil
}

// Entry はIDに一致するエントリを返す。
func (s *VaultService) Entry(id string) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, domain.ErrVaultLocked
	}
	e, _ := s.doc.Find(id)
	if e == nil {
		return nil, domain.ErrEntryNotFound
	}
	return e, nil
}

// LastSync は最後に同期したポインタの状態を返す。未同期なら nil。
func (s *VaultService) LastSync() *SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSync == nil {
		return nil
	}
	c := *s.lastSync
	return &c
}

// RevealSecret はエントリのパスワードを復号する。V2/V3は1回の署名を要求する。
func (s *VaultService) RevealSecret(ctx context.Context, id string) (string, error) {
	ctx, span := tracer.Start(ctx, "VaultService.RevealSecret")
	defer span.End()

	e, err := s.Entry(id)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("entry.version", int(e.Version())))
	return revealSecret(ctx, s.secrets, e)
}

// RevealMetadata はエントリのメタデータを返す。
// 一部のフィールドの復号に失敗した場合も、成功したフィールドは返す。
func (s *VaultService) RevealMetadata(ctx context.Context, id string) (domain.Metadata, error) {
	s.mu.RLock()
	key := s.key
	var e domain.Entry
	if s.doc != nil {
		e, _ = s.doc.Find(id)
	}
	s.mu.RUnlock()

	if key == nil {
		return domain.Metadata{}, domain.ErrVaultLocked
	}
	if e == nil {
		return domain.Metadata{}, domain.ErrEntryNotFound
	}
	meta, err := revealMetadata(key, e)
	if err != nil {
		slog.WarnContext(ctx, "metadata decryption incomplete",
			"operation", "reveal_metadata",
			"entry_id", id,
			"version", int(e.Version()),
			"error", err,
		)
	}
	return meta, err
}

// AddEntry は新しいV3エントリを作成して保存する。
func (s *VaultService) AddEntry(ctx context.Context, in NewEntry) (*domain.SealedEntry, error) {
	ctx, span := tracer.Start(ctx, "VaultService.AddEntry")
	defer span.End()

	var created *domain.SealedEntry
	err := s.mutate(ctx, "add_entry", func(key *crypto.SymmetricKey, doc *domain.VaultDocument) error {
		now := s.now().UnixMilli()
		header := domain.EntryHeader{ID: s.newID(), CreatedAt: now, UpdatedAt: now}
		e, err := createEntry(ctx, key, s.secrets, header, in)
		if err != nil {
			return err
		}
		doc.Entries = append(doc.Entries, e)
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntry はエントリを更新して保存する。
func (s *VaultService) UpdateEntry(ctx context.Context, id string, u EntryUpdate) (domain.Entry, error) {
	ctx, span := tracer.Start(ctx, "VaultService.UpdateEntry")
	defer span.End()

	var updated domain.Entry
	err := s.mutate(ctx, "update_entry", func(key *crypto.SymmetricKey, doc *domain.VaultDocument) error {
		e, idx := doc.Find(id)
		if e == nil {
			return domain.ErrEntryNotFound
		}
		next, err := applyUpdate(ctx, key, s.secrets, e, u, s.now().UnixMilli())
		if err != nil {
			return err
		}
		doc.Entries[idx] = next
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEntry はエントリを文書から取り除いて保存する。
func (s *VaultService) DeleteEntry(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "VaultService.DeleteEntry")
	defer span.End()

	return s.mutate(ctx, "delete_entry", func(key *crypto.SymmetricKey, doc *domain.VaultDocument) error {
		_, idx := doc.Find(id)
		if idx < 0 {
			return domain.ErrEntryNotFound
		}
		doc.Entries = append(doc.Entries[:idx], doc.Entries[idx+1:]...)
		return nil
	})
}

// mutate はスナップショットのコピーに変更を適用し、保存が成功した場合のみ置き換える。
// 同時に実行できる変更は1つだけで、2つ目は domain.ErrSaveInProgress で即座に失敗する。
func (s *VaultService) mutate(ctx context.Context, op string, fn func(key *crypto.SymmetricKey, doc *domain.VaultDocument) error) error {
	if !s.saving.CompareAndSwap(false, true) {
		return domain.ErrSaveInProgress
	}
	defer s.endSave()

	s.mu.RLock()
	key, doc := s.key, s.doc
	var prevSeq uint
	if s.lastSync != nil {
		prevSeq = s.lastSync.Sequence
	}
	s.mu.RUnlock()
	if key == nil {
		return domain.ErrVaultLocked
	}

	next := doc.Clone()
	if err := fn(key, next); err != nil {
		return err
	}

	state, err := s.save(ctx, key, next, prevSeq+1)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save vault",
			"operation", op,
			"owner_id", s.ownerID,
			"error", err,
		)
		return err
	}

	s.mu.Lock()
	if s.key == key {
		s.doc = next
		s.lastSync = state
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "vault saved",
		"operation", op,
		"owner_id", s.ownerID,
		"sequence", state.Sequence,
		"entries", len(next.Entries),
	)
	return nil
}

// endSave は実行中の保存または読み込みの終了を記録し、保留中の鍵を破棄する。
func (s *VaultService) endSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired != nil {
		s.retired.Destroy()
		s.retired = nil
	}
	s.saving.Store(false)
}

// save は文書を封印してアップロードし、暗号化したポインタを sequence の世代として台帳に公開する。
// 他の端末が先に公開していた場合は domain.ErrStaleSequence で失敗する。
func (s *VaultService) save(ctx context.Context, key *crypto.SymmetricKey, doc *domain.VaultDocument, sequence uint) (*SyncState, error) {
	blob, err := EncodeBlob(key, doc, s.now())
	if err != nil {
		return nil, err
	}
	cid, err := s.blobs.Upload(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("uploading vault blob: %w", err)
	}
	ptr, err := EncryptPointer(key, cid)
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.SignMessage(ctx, domain.PublishMessage(s.ownerID, ptr, sequence))
	if err != nil {
		return nil, fmt.Errorf("signing pointer publication: %w", err)
	}
	receipt, err := s.registry.PublishPointer(ctx, s.ownerID, ptr, sequence, sig)
	if err != nil {
		return nil, fmt.Errorf("publishing pointer: %w", err)
	}
	return &SyncState{Pointer: cid, Sequence: receipt.Sequence, SyncedAt: receipt.CreatedAt}, nil
}
