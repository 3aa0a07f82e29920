package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
	"wallet-vault-service/internal/usecase"
)

// mockPointerRepository はテスト用のモックリポジトリ。
type mockPointerRepository struct {
	records   []*domain.PointerRecord
	createErr error
	findErr   error
}

func (m *mockPointerRepository) CreateNext(ctx context.Context, rec *domain.PointerRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	if rec.Sequence != uint(len(m.records)+1) {
		return domain.ErrStaleSequence
	}
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockPointerRepository) FindLatestByOwnerID(ctx context.Context, ownerID string) (*domain.PointerRecord, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if len(m.records) == 0 {
		return nil, nil
	}
	return m.records[len(m.records)-1], nil
}

func (m *mockPointerRepository) FindByOwnerIDAndSequence(ctx context.Context, ownerID string, sequence uint) (*domain.PointerRecord, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, r := range m.records {
		if r.Sequence == sequence {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockPointerRepository) FindAllByOwnerID(ctx context.Context, ownerID string) ([]*domain.PointerRecord, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.records, nil
}

func setupHandler(repo *mockPointerRepository) *PointerHandler {
	return NewPointerHandler(usecase.NewPointerService(repo))
}

// testPointer は所有者と、その所有者が署名した公開要求ボディを返す。
func testPointer(t *testing.T) (string, PublishRequest) {
	t.Helper()
	signer, err := crypto.NewLocalSignerFromSeed(bytes.Repeat([]byte{0x07}, 32))
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	pointer := domain.Envelope{
		Nonce:      bytes.Repeat([]byte{0x01}, domain.NonceSize),
		Ciphertext: bytes.Repeat([]byte{0x02}, 40),
	}.Compact()
	ownerID := signer.OwnerID()
	sig, err := signer.SignMessage(context.Background(), domain.PublishMessage(ownerID, pointer, 1))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return ownerID, PublishRequest{
		EncryptedPointer: pointer,
		Sequence:         1,
		Signature:        base64.StdEncoding.EncodeToString(sig),
	}
}

func newRequest(t *testing.T, method, target string, body any, params map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp["code"]
}

func TestPublishPointer_Success(t *testing.T) {
	repo := &mockPointerRepository{}
	h := setupHandler(repo)
	ownerID, body := testPointer(t)

	req := newRequest(t, http.MethodPost, "/v1/owners/"+ownerID+"/pointers", body, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.PublishPointer(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp PublishResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.OwnerID != ownerID || resp.Sequence != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(repo.records) != 1 {
		t.Errorf("want 1 record, got %d", len(repo.records))
	}
}

func TestPublishPointer_Rejected(t *testing.T) {
	ownerID, body := testPointer(t)

	tampered := body
	tampered.EncryptedPointer = domain.Envelope{
		Nonce:      bytes.Repeat([]byte{0x03}, domain.NonceSize),
		Ciphertext: bytes.Repeat([]byte{0x04}, 40),
	}.Compact()

	tests := []struct {
		name     string
		ownerID  string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid owner", "owner@1", body, http.StatusBadRequest, "INVALID_OWNER_ID"},
		{"malformed body", ownerID, "not-an-object", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing signature", ownerID, PublishRequest{EncryptedPointer: body.EncryptedPointer}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing sequence", ownerID, PublishRequest{EncryptedPointer: body.EncryptedPointer, Signature: body.Signature}, http.StatusBadRequest, "INVALID_SEQUENCE"},
		{"signature not base64", ownerID, PublishRequest{EncryptedPointer: body.EncryptedPointer, Sequence: 1, Signature: "***"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed pointer", ownerID, PublishRequest{EncryptedPointer: "AAAA", Sequence: 1, Signature: body.Signature}, http.StatusBadRequest, "INVALID_POINTER"},
		{"signature mismatch", ownerID, tampered, http.StatusUnauthorized, "INVALID_SIGNATURE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockPointerRepository{}
			h := setupHandler(repo)

			req := newRequest(t, http.MethodPost, "/v1/owners/x/pointers", tt.body, map[string]string{"owner_id": tt.ownerID})
			rec := httptest.NewRecorder()
			h.PublishPointer(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("want status %d, got %d", tt.wantCode, rec.Code)
			}
			if code := decodeError(t, rec); code != tt.wantErr {
				t.Errorf("want code %s, got %s", tt.wantErr, code)
			}
			if len(repo.records) != 0 {
				t.Error("rejected publish must not be stored")
			}
		})
	}
}

func TestPublishPointer_ReplayConflict(t *testing.T) {
	repo := &mockPointerRepository{}
	h := setupHandler(repo)
	ownerID, body := testPointer(t)

	for i, wantCode := range []int{http.StatusCreated, http.StatusConflict} {
		req := newRequest(t, http.MethodPost, "/v1/owners/"+ownerID+"/pointers", body, map[string]string{"owner_id": ownerID})
		rec := httptest.NewRecorder()
		h.PublishPointer(rec, req)

		if rec.Code != wantCode {
			t.Fatalf("request %d: want status %d, got %d", i, wantCode, rec.Code)
		}
		if wantCode == http.StatusConflict {
			if code := decodeError(t, rec); code != "STALE_SEQUENCE" {
				t.Errorf("want code STALE_SEQUENCE, got %s", code)
			}
		}
	}
	if len(repo.records) != 1 {
		t.Errorf("want 1 record, got %d", len(repo.records))
	}
}

func TestPublishPointer_RepoError(t *testing.T) {
	h := setupHandler(&mockPointerRepository{createErr: errors.New("db error")})
	ownerID, body := testPointer(t)

	req := newRequest(t, http.MethodPost, "/v1/owners/"+ownerID+"/pointers", body, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.PublishPointer(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("want status 500, got %d", rec.Code)
	}
}

func TestGetLatestPointer(t *testing.T) {
	ownerID, body := testPointer(t)
	sig, _ := base64.StdEncoding.DecodeString(body.Signature)
	repo := &mockPointerRepository{records: []*domain.PointerRecord{
		{OwnerID: ownerID, Sequence: 1, EncryptedPointer: "old", Signature: sig},
		{OwnerID: ownerID, Sequence: 2, EncryptedPointer: body.EncryptedPointer, Signature: sig},
	}}
	h := setupHandler(repo)

	req := newRequest(t, http.MethodGet, "/v1/owners/"+ownerID+"/pointers/latest", nil, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.GetLatestPointer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp PointerResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Sequence != 2 || resp.EncryptedPointer != body.EncryptedPointer {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Signature != body.Signature {
		t.Errorf("want signature %s, got %s", body.Signature, resp.Signature)
	}
}

func TestGetLatestPointer_NotFound(t *testing.T) {
	ownerID, _ := testPointer(t)
	h := setupHandler(&mockPointerRepository{})

	req := newRequest(t, http.MethodGet, "/v1/owners/"+ownerID+"/pointers/latest", nil, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.GetLatestPointer(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "POINTER_NOT_FOUND" {
		t.Errorf("want code POINTER_NOT_FOUND, got %s", code)
	}
}

func TestGetLatestPointer_RepoError(t *testing.T) {
	ownerID, _ := testPointer(t)
	h := setupHandler(&mockPointerRepository{findErr: errors.New("db error")})

	req := newRequest(t, http.MethodGet, "/v1/owners/"+ownerID+"/pointers/latest", nil, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.GetLatestPointer(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("want status 500, got %d", rec.Code)
	}
}

func TestGetPointerBySequence(t *testing.T) {
	ownerID, _ := testPointer(t)
	repo := &mockPointerRepository{records: []*domain.PointerRecord{
		{OwnerID: ownerID, Sequence: 1, EncryptedPointer: "ptr-1"},
	}}
	h := setupHandler(repo)

	tests := []struct {
		sequence string
		wantCode int
	}{
		{"1", http.StatusOK},
		{"2", http.StatusNotFound},
		{"0", http.StatusBadRequest},
		{"abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := newRequest(t, http.MethodGet, "/v1/owners/"+ownerID+"/pointers/"+tt.sequence, nil,
			map[string]string{"owner_id": ownerID, "sequence": tt.sequence})
		rec := httptest.NewRecorder()
		h.GetPointerBySequence(rec, req)

		if rec.Code != tt.wantCode {
			t.Errorf("sequence %s: want status %d, got %d", tt.sequence, tt.wantCode, rec.Code)
		}
	}
}

func TestListPointers(t *testing.T) {
	ownerID, _ := testPointer(t)
	repo := &mockPointerRepository{records: []*domain.PointerRecord{
		{OwnerID: ownerID, Sequence: 1, EncryptedPointer: "ptr-1"},
		{OwnerID: ownerID, Sequence: 2, EncryptedPointer: "ptr-2"},
	}}
	h := setupHandler(repo)

	req := newRequest(t, http.MethodGet, "/v1/owners/"+ownerID+"/pointers", nil, map[string]string{"owner_id": ownerID})
	rec := httptest.NewRecorder()
	h.ListPointers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp PointerListResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Pointers) != 2 || resp.Pointers[1].EncryptedPointer != "ptr-2" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRouter_PublishThenReadLatest(t *testing.T) {
	router := NewRouter(setupHandler(&mockPointerRepository{}), false)
	srv := httptest.NewServer(router)
	defer srv.Close()
	ownerID, body := testPointer(t)

	payload, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+"/v1/owners/"+ownerID+"/pointers/", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("want status 201, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/owners/" + ownerID + "/pointers/latest")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want status 200, got %d", resp.StatusCode)
	}
	var latest PointerResponse
	json.NewDecoder(resp.Body).Decode(&latest)
	if latest.EncryptedPointer != body.EncryptedPointer {
		t.Errorf("want pointer %s, got %s", body.EncryptedPointer, latest.EncryptedPointer)
	}
}
