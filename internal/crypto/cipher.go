package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"wallet-vault-service/internal/domain"
)

const (
	keySize = 32 // AES-256
	tagSize = 16 // 128-bit GCM tag
)

// SymmetricKey は1つの導出コンテキストに束縛されたAES-256-GCM鍵。
// 鍵バイト列を取り出す手段はなく、封印と開封にのみ使える。
type SymmetricKey struct {
	purpose string
	aead    cipher.AEAD
}

func newSymmetricKey(purpose string, raw []byte) (*SymmetricKey, error) {
	if len(raw) != keySize {
		return nil, fmt.Errorf("invalid key length %d", len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &SymmetricKey{purpose: purpose, aead: aead}, nil
}

// Purpose は鍵の導出コンテキスト名を返す。
func (k *SymmetricKey) Purpose() string {
	if k == nil {
		return ""
	}
	return k.purpose
}

// String は鍵素材を出力しない。
func (k *SymmetricKey) String() string {
	return fmt.Sprintf("SymmetricKey(%s)", k.Purpose())
}

// Destroy は鍵への参照を捨てる。以降の Seal/Open は失敗する。
func (k *SymmetricKey) Destroy() {
	if k != nil {
		k.aead = nil
	}
}

// Seal は毎回新しい乱数ノンスで平文を暗号化する。
func Seal(key *SymmetricKey, plaintext []byte) (domain.Envelope, error) {
	nonce := make([]byte, domain.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return domain.Envelope{}, fmt.Errorf("generating nonce: %w", err)
	}
	return sealWithNonce(key, nonce, plaintext)
}

func sealWithNonce(key *SymmetricKey, nonce, plaintext []byte) (domain.Envelope, error) {
	if key == nil || key.aead == nil {
		return domain.Envelope{}, fmt.Errorf("sealing: %w", domain.ErrVaultLocked)
	}
	ct := key.aead.Seal(nil, nonce, plaintext, nil)
	return domain.Envelope{Nonce: nonce, Ciphertext: ct}, nil
}

// Open は認証タグを検証して復号する。
// 検証に失敗した場合は必ず domain.ErrDecryptionFailed を返し、平文は返さない。
func Open(key *SymmetricKey, env domain.Envelope) ([]byte, error) {
	if key == nil || key.aead == nil {
		return nil, domain.ErrDecryptionFailed
	}
	if len(env.Nonce) != domain.NonceSize || len(env.Ciphertext) < tagSize {
		return nil, domain.ErrDecryptionFailed
	}
	pt, err := key.aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, domain.ErrDecryptionFailed
	}
	return pt, nil
}
