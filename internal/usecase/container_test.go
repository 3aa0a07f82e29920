package usecase

import (
	"encoding/json"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// fastKey は反復回数を抑えたテスト用の鍵を返す。
func fastKey(t *testing.T, seed byte) *crypto.SymmetricKey {
	t.Helper()
	key, err := crypto.DeriveFromSignature(bytes.Repeat([]byte{seed}, 64), crypto.DerivationContext{
		Purpose:    "test",
		Salt:       []byte("test-salt"),
		Iterations: 1000,
	})
	if err != nil {
		t.Fatalf("deriving key: %v", err)
	}
	return key
}

func TestDocument_RoundTrip(t *testing.T) {
	key := fastKey(t, 1)
	doc := &domain.VaultDocument{Entries: []domain.Entry{
		&domain.PlaintextEntry{
			EntryHeader: domain.EntryHeader{ID: "a", CreatedAt: 1, UpdatedAt: 2},
			Metadata:    domain.Metadata{Title: "t"},
			Password:    "p",
		},
	}}

	blob, err := EncodeBlob(key, doc, time.UnixMilli(1234))
	if err != nil {
		t.Fatalf("EncodeBlob failed: %v", err)
	}
	payload, err := domain.ParseBlobPayload(blob)
	if err != nil {
		t.Fatalf("ParseBlobPayload failed: %v", err)
	}
	if payload.Version != domain.BlobPayloadVersion || payload.Timestamp != 1234 {
		t.Errorf("unexpected payload header: %+v", payload)
	}

	got, err := DecodeBlob(key, blob)
	if err != nil {
		t.Fatalf("DecodeBlob failed: %v", err)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got.Entries))
	}
	v1, ok := got.Entries[0].(*domain.PlaintextEntry)
	if !ok || v1.Password != "p" || v1.Metadata.Title != "t" {
		t.Errorf("unexpected entry: %#v", got.Entries[0])
	}
}

func TestDecryptDocument_WrongKey(t *testing.T) {
	env, err := EncryptDocument(fastKey(t, 1), &domain.VaultDocument{})
	if err != nil {
		t.Fatalf("EncryptDocument failed: %v", err)
	}
	_, err = DecryptDocument(fastKey(t, 2), env)
	if !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
	if errors.Is(err, domain.ErrInvalidVaultFormat) {
		t.Error("wrong key must not be reported as a format error")
	}
}

func TestDecryptDocument_InvalidFormat(t *testing.T) {
	key := fastKey(t, 1)
	tests := []struct {
		name      string
		plaintext string
	}{
		{"missing passwords", `{"entries":[]}`},
		{"passwords not array", `{"passwords":{}}`},
		{"not json", `hello`},
		{"top-level array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := crypto.Seal(key, []byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			_, err = DecryptDocument(key, env)
			if !errors.Is(err, domain.ErrInvalidVaultFormat) {
				t.Errorf("expected ErrInvalidVaultFormat, got %v", err)
			}
			if errors.Is(err, domain.ErrDecryptionFailed) {
				t.Error("format error must be distinct from decryption failure")
			}
		})
	}
}

func TestDecodeBlob_InvalidPayload(t *testing.T) {
	_, err := DecodeBlob(fastKey(t, 1), `{"version":"1.0"}`)
	if !errors.Is(err, domain.ErrInvalidBlobPayload) {
		t.Fatalf("expected ErrInvalidBlobPayload, got %v", err)
	}
}

func TestFields_PartialFailure(t *testing.T) {
	key := fastKey(t, 1)
	meta := domain.Metadata{Title: "GitHub", Username: "a@b.com", URL: "https://github.com", Notes: "2fa on"}

	sealed, err := EncryptFields(key, meta)
	if err != nil {
		t.Fatalf("EncryptFields failed: %v", err)
	}
	for _, f := range domain.MetadataFields {
		if sealed.Get(f) == nil {
			t.Fatalf("field %s not sealed", f)
		}
	}

	corrupted := *sealed.URL
	corrupted.Ciphertext = append([]byte(nil), corrupted.Ciphertext...)
	corrupted.Ciphertext[0] ^= 0x01
	sealed.URL = &corrupted

	got, err := DecryptFields(key, "e1", sealed)
	var metaErr *domain.MetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected MetadataError, got %v", err)
	}
	if !errors.Is(err, domain.ErrMetadataDecryptionFailed) {
		t.Error("MetadataError must match ErrMetadataDecryptionFailed")
	}
	if len(metaErr.Fields) != 1 || !metaErr.Failed(domain.FieldURL) {
		t.Errorf("expected only url to fail, got %v", metaErr.Fields)
	}
	if got.Title != meta.Title || got.Username != meta.Username || got.Notes != meta.Notes {
		t.Errorf("other fields must still decrypt: %+v", got)
	}
	if got.URL != "" {
		t.Errorf("failed field must be empty, got %q", got.URL)
	}
}

func TestFields_UndecodableField(t *testing.T) {
	key := fastKey(t, 1)
	meta := domain.Metadata{Title: "GitHub", Username: "a@b.com", URL: "https://github.com"}

	sealed, err := EncryptFields(key, meta)
	if err != nil {
		t.Fatalf("EncryptFields failed: %v", err)
	}
	sealed.URL = nil
	sealed.Undecodable = map[domain.MetadataField]json.RawMessage{
		domain.FieldURL: json.RawMessage(`{"ciphertext":"@@","nonce":"AAAA"}`),
	}

	got, err := DecryptFields(key, "e1", sealed)
	var metaErr *domain.MetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected MetadataError, got %v", err)
	}
	if len(metaErr.Fields) != 1 || !errors.Is(metaErr.Fields[domain.FieldURL], domain.ErrDecryptionFailed) {
		t.Errorf("expected only url to fail with ErrDecryptionFailed, got %v", metaErr.Fields)
	}
	if got.Title != meta.Title || got.Username != meta.Username {
		t.Errorf("other fields must still decrypt: %+v", got)
	}
}

func TestFields_EmptyFieldsOmitted(t *testing.T) {
	sealed, err := EncryptFields(fastKey(t, 1), domain.Metadata{Title: "only title"})
	if err != nil {
		t.Fatalf("EncryptFields failed: %v", err)
	}
	if sealed.Title == nil {
		t.Error("title must be sealed")
	}
	if sealed.Username != nil || sealed.URL != nil || sealed.Notes != nil {
		t.Error("empty fields must not produce envelopes")
	}
}

func TestFields_IndependentNonces(t *testing.T) {
	sealed, err := EncryptFields(fastKey(t, 1), domain.Metadata{Title: "same", Username: "same"})
	if err != nil {
		t.Fatalf("EncryptFields failed: %v", err)
	}
	if bytes.Equal(sealed.Title.Nonce, sealed.Username.Nonce) {
		t.Error("each field must use its own nonce")
	}
}

func TestPointer_RoundTrip(t *testing.T) {
	key := fastKey(t, 1)
	const cid = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

	stored, err := EncryptPointer(key, cid)
	if err != nil {
		t.Fatalf("EncryptPointer failed: %v", err)
	}
	for _, in := range []string{stored, `"` + stored + `"`, "  " + stored + "\n"} {
		got, err := DecryptPointer(key, in)
		if err != nil {
			t.Fatalf("DecryptPointer(%q) failed: %v", in, err)
		}
		if got != cid {
			t.Errorf("expected %s, got %s", cid, got)
		}
	}

	if _, err := DecryptPointer(fastKey(t, 2), stored); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := DecryptPointer(key, "not base64 !!"); !errors.Is(err, domain.ErrInvalidPointer) {
		t.Errorf("expected ErrInvalidPointer, got %v", err)
	}
}

func TestSecretCipher_CrossEntryIsolation(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t, 0x22)
	secrets := NewSecretCipher(crypto.NewKeyDeriver(signer, time.Second))

	refB := domain.SecretRef{ID: "entry-b", CreatedAt: 2000}
	env, err := secrets.EncryptSecret(ctx, "B's password", refB)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}

	_, err = secrets.DecryptSecret(ctx, env, domain.SecretRef{ID: "entry-a", CreatedAt: 2000})
	if !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
	var entryErr *domain.EntryError
	if !errors.As(err, &entryErr) || entryErr.EntryID != "entry-a" {
		t.Errorf("expected EntryError for entry-a, got %v", err)
	}

	// createdAt が変わっても別の鍵になる
	_, err = secrets.DecryptSecret(ctx, env, domain.SecretRef{ID: "entry-b", CreatedAt: 2001})
	if !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for wrong createdAt, got %v", err)
	}

	got, err := secrets.DecryptSecret(ctx, env, refB)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if got != "B's password" {
		t.Errorf("unexpected plaintext %q", got)
	}
}

func TestSecretCipher_OneSignaturePerCall(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t, 0x33)
	secrets := NewSecretCipher(crypto.NewKeyDeriver(signer, time.Second))
	ref := domain.SecretRef{ID: "e", CreatedAt: 1}

	env, err := secrets.EncryptSecret(ctx, "x", ref)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := secrets.DecryptSecret(ctx, env, ref); err != nil {
			t.Fatalf("DecryptSecret failed: %v", err)
		}
	}
	if got := signer.calls.Load(); got != 3 {
		t.Errorf("expected 3 signature requests, got %d", got)
	}
}
