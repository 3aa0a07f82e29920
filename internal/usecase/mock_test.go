package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// mockBlobStore はテスト用のインメモリブロブストア。
type mockBlobStore struct {
	mu        sync.Mutex
	blobs     map[string]string
	uploads   int
	uploadErr error

	// uploadStarted と uploadRelease が設定されていれば Upload を途中で止める。
	uploadStarted chan struct{}
	uploadRelease chan struct{}
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: make(map[string]string)}
}

func (m *mockBlobStore) Upload(ctx context.Context, payload string) (string, error) {
	if m.uploadStarted != nil {
		m.uploadStarted <- struct{}{}
		<-m.uploadRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads++
	cid := fmt.Sprintf("bafy-test-%d", m.uploads)
	m.blobs[cid] = payload
	return cid, nil
}

func (m *mockBlobStore) Download(ctx context.Context, pointer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[pointer]
	if !ok {
		return "", domain.ErrBlobUnavailable
	}
	return data, nil
}

// mockPointerRegistry はテスト用のインメモリ台帳。公開時に署名と世代番号を検証する。
type mockPointerRegistry struct {
	mu         sync.Mutex
	records    map[string][]*domain.PointerRecord
	publishErr error

	// readStarted と readRelease が設定されていれば ReadLatestPointer を途中で止める。
	readStarted chan struct{}
	readRelease chan struct{}
}

func newMockPointerRegistry() *mockPointerRegistry {
	return &mockPointerRegistry{records: make(map[string][]*domain.PointerRecord)}
}

func (m *mockPointerRegistry) PublishPointer(ctx context.Context, ownerID, encryptedPointer string, sequence uint, signature []byte) (*domain.PublishReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	if !crypto.VerifyOwnerSignature(ownerID, domain.PublishMessage(ownerID, encryptedPointer, sequence), signature) {
		return nil, domain.ErrInvalidSignature
	}
	if sequence != uint(len(m.records[ownerID])+1) {
		return nil, domain.ErrStaleSequence
	}
	rec := &domain.PointerRecord{
		OwnerID:          ownerID,
		Sequence:         sequence,
		EncryptedPointer: encryptedPointer,
		Signature:        signature,
		CreatedAt:        time.Now(),
	}
	m.records[ownerID] = append(m.records[ownerID], rec)
	return &domain.PublishReceipt{OwnerID: ownerID, Sequence: rec.Sequence, CreatedAt: rec.CreatedAt}, nil
}

func (m *mockPointerRegistry) ReadLatestPointer(ctx context.Context, ownerID string) (*domain.PointerRecord, error) {
	if m.readStarted != nil {
		m.readStarted <- struct{}{}
		<-m.readRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[ownerID]
	if len(recs) == 0 {
		return nil, domain.ErrPointerNotFound
	}
	return recs[len(recs)-1], nil
}

func (m *mockPointerRegistry) count(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[ownerID])
}

// countingSigner は署名要求の回数を数える。
type countingSigner struct {
	inner *crypto.LocalSigner
	calls atomic.Int32
}

func (s *countingSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	s.calls.Add(1)
	return s.inner.SignMessage(ctx, message)
}

func newTestSigner(t *testing.T, seed byte) *countingSigner {
	t.Helper()
	inner, err := crypto.NewLocalSignerFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	return &countingSigner{inner: inner}
}

type testEnv struct {
	signer   *countingSigner
	blobs    *mockBlobStore
	registry *mockPointerRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		signer:   newTestSigner(t, 0x11),
		blobs:    newMockBlobStore(),
		registry: newMockPointerRegistry(),
	}
}

func (e *testEnv) ownerID() string {
	return e.signer.inner.OwnerID()
}

func (e *testEnv) newService() *VaultService {
	return NewVaultService(e.ownerID(), e.signer, 5*time.Second, e.blobs, e.registry)
}

func (e *testEnv) unlocked(t *testing.T) *VaultService {
	t.Helper()
	svc := e.newService()
	if err := svc.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	return svc
}

// seed は文書を封印して保存し、ポインタを公開する。
func (e *testEnv) seed(t *testing.T, doc *domain.VaultDocument) {
	t.Helper()
	ctx := context.Background()
	key, err := crypto.NewKeyDeriver(e.signer, time.Second).Derive(ctx, crypto.VaultContext())
	if err != nil {
		t.Fatalf("deriving vault key: %v", err)
	}
	blob, err := EncodeBlob(key, doc, time.Now())
	if err != nil {
		t.Fatalf("encoding blob: %v", err)
	}
	cid, err := e.blobs.Upload(ctx, blob)
	if err != nil {
		t.Fatalf("uploading blob: %v", err)
	}
	ptr, err := EncryptPointer(key, cid)
	if err != nil {
		t.Fatalf("encrypting pointer: %v", err)
	}
	seq := uint(e.registry.count(e.ownerID()) + 1)
	sig, err := e.signer.SignMessage(ctx, domain.PublishMessage(e.ownerID(), ptr, seq))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := e.registry.PublishPointer(ctx, e.ownerID(), ptr, seq, sig); err != nil {
		t.Fatalf("publishing: %v", err)
	}
}

// latestDocument は台帳の最新ポインタから文書を読み戻す。
func (e *testEnv) latestDocument(t *testing.T) *domain.VaultDocument {
	t.Helper()
	ctx := context.Background()
	key, err := crypto.NewKeyDeriver(e.signer, time.Second).Derive(ctx, crypto.VaultContext())
	if err != nil {
		t.Fatalf("deriving vault key: %v", err)
	}
	rec, err := e.registry.ReadLatestPointer(ctx, e.ownerID())
	if err != nil {
		t.Fatalf("reading pointer: %v", err)
	}
	cid, err := DecryptPointer(key, rec.EncryptedPointer)
	if err != nil {
		t.Fatalf("decrypting pointer: %v", err)
	}
	data, err := e.blobs.Download(ctx, cid)
	if err != nil {
		t.Fatalf("downloading: %v", err)
	}
	doc, err := DecodeBlob(key, data)
	if err != nil {
		t.Fatalf("decoding blob: %v", err)
	}
	return doc
}

func (e *testEnv) encryptSecret(t *testing.T, plaintext string, ref domain.SecretRef) domain.Envelope {
	t.Helper()
	env, err := NewSecretCipher(crypto.NewKeyDeriver(e.signer, time.Second)).EncryptSecret(context.Background(), plaintext, ref)
	if err != nil {
		t.Fatalf("encrypting secret: %v", err)
	}
	return env
}

func strPtr(s string) *string { return &s }

var errBackend = errors.New("backend unavailable")
