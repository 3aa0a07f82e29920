package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"wallet-vault-service/internal/domain"
)

const pemTypePrivateKey = "PRIVATE KEY"

// LocalSigner はローカルのEd25519鍵で署名する。Ed25519の署名は決定的。
type LocalSigner struct {
	key ed25519.PrivateKey
}

// GenerateLocalSigner は新しいEd25519鍵を生成する。
func GenerateLocalSigner() (*LocalSigner, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &LocalSigner{key: priv}, nil
}

// NewLocalSignerFromSeed は32バイトのシードから署名者を作る。
func NewLocalSignerFromSeed(seed []byte) (*LocalSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length %d", len(seed))
	}
	return &LocalSigner{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadLocalSigner はPKCS#8 PEMファイルから鍵を読み込む。
func LoadLocalSigner(path string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, errors.New("key file does not contain a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return &LocalSigner{key: priv}, nil
}

// Save は鍵をPKCS#8 PEMで書き出す。既存ファイルは上書きしない。
func (s *LocalSigner) Save(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(s.key)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: pemTypePrivateKey, Bytes: der}); err != nil {
		f.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	return f.Close()
}

// SignMessage はメッセージにEd25519で署名する。
func (s *LocalSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.key, message), nil
}

// PublicKey は公開鍵を返す。
func (s *LocalSigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// OwnerID は所有者IDとして使う公開鍵の16進表現を返す。
func (s *LocalSigner) OwnerID() string {
	return OwnerIDFromPublicKey(s.PublicKey())
}

// OwnerIDFromPublicKey は公開鍵を所有者IDに変換する。
func OwnerIDFromPublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// ParseOwnerID は所有者IDを公開鍵に変換する。
func ParseOwnerID(ownerID string) (ed25519.PublicKey, error) {
	pub, err := hex.DecodeString(ownerID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, domain.ErrInvalidOwnerID
	}
	return ed25519.PublicKey(pub), nil
}

// VerifyOwnerSignature は所有者IDが示す公開鍵で署名を検証する。
func VerifyOwnerSignature(ownerID string, message, signature []byte) bool {
	pub, err := ParseOwnerID(ownerID)
	if err != nil {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
