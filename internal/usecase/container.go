package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// EncryptDocument はボールト文書全体をボールト鍵で1つのエンベロープに封印する。
func EncryptDocument(key *crypto.SymmetricKey, doc *domain.VaultDocument) (domain.Envelope, error) {
	if doc == nil {
		doc = &domain.VaultDocument{}
	}
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("marshaling vault document: %w", err)
	}
	env, err := crypto.Seal(key, plaintext)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("sealing vault document: %w", err)
	}
	return env, nil
}

// DecryptDocument はエンベロープを開封して文書を復元する。
// 認証失敗は domain.ErrDecryptionFailed、開封後の構造不正は domain.ErrInvalidVaultFormat。
func DecryptDocument(key *crypto.SymmetricKey, env domain.Envelope) (*domain.VaultDocument, error) {
	plaintext, err := crypto.Open(key, env)
	if err != nil {
		return nil, err
	}
	var doc domain.VaultDocument
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		if errors.Is(err, domain.ErrInvalidVaultFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidVaultFormat, err)
	}
	return &doc, nil
}

// EncodeBlob はボールト文書を封印し、オフチェーン保存用のラッパーJSONにする。
func EncodeBlob(key *crypto.SymmetricKey, doc *domain.VaultDocument, now time.Time) (string, error) {
	env, err := EncryptDocument(key, doc)
	if err != nil {
		return "", err
	}
	payload, err := domain.NewBlobPayload(env, now)
	if err != nil {
		return "", fmt.Errorf("wrapping vault document: %w", err)
	}
	return payload.Encode()
}

// DecodeBlob はラッパーJSONを解析して文書を復号する。
func DecodeBlob(key *crypto.SymmetricKey, data string) (*domain.VaultDocument, error) {
	payload, err := domain.ParseBlobPayload(data)
	if err != nil {
		return nil, err
	}
	env, err := payload.Envelope()
	if err != nil {
		return nil, err
	}
	return DecryptDocument(key, env)
}
