package infra

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"

	"wallet-vault-service/internal/crypto"
)

// asymmetricSigner はCloud KMSクライアントのうち署名に使う部分。
type asymmetricSigner interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
}

// KMSSigner はCloud KMSのEd25519鍵バージョンで署名するウォレット署名者。
// 秘密鍵はKMSの外に出ない。
type KMSSigner struct {
	client    asymmetricSigner
	closer    func() error
	keyName   string
	publicKey ed25519.PublicKey
}

// NewKMSSigner は鍵バージョン名（.../cryptoKeyVersions/N）から署名者を生成する。
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS key version name is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	s, err := newKMSSigner(ctx, client, keyName)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closer = client.Close
	return s, nil
}

func newKMSSigner(ctx context.Context, client asymmetricSigner, keyName string) (*KMSSigner, error) {
	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		return nil, fmt.Errorf("getting public key: %w", err)
	}
	if resp.Algorithm != kmspb.CryptoKeyVersion_EC_SIGN_ED25519 {
		return nil, fmt.Errorf("unsupported key algorithm %s", resp.Algorithm)
	}
	pub, err := parseEd25519PublicKey(resp.Pem)
	if err != nil {
		return nil, err
	}
	return &KMSSigner{client: client, keyName: keyName, publicKey: pub}, nil
}

func parseEd25519PublicKey(pemData string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
	return pub, nil
}

// SignMessage はメッセージ全体をKMSで署名する。Ed25519は事前ハッシュを取らない。
func (s *KMSSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Data: message,
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}
	if resp.Name != "" && resp.Name != s.keyName {
		return nil, fmt.Errorf("signature returned for unexpected key %s", resp.Name)
	}
	return resp.Signature, nil
}

// OwnerID は所有者IDとして使う公開鍵の16進表現を返す。
func (s *KMSSigner) OwnerID() string {
	return crypto.OwnerIDFromPublicKey(s.publicKey)
}

// Close はKMSクライアントを閉じる。
func (s *KMSSigner) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
