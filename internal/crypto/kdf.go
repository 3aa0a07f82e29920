package crypto

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/pbkdf2"
)

var tracer = otel.Tracer("wallet-vault-service/internal/crypto")

// DerivationContext は鍵導出の公開パラメータ。
// Message はバイト単位で同一でなければ別の鍵になる。
type DerivationContext struct {
	Purpose    string
	Message    []byte
	Salt       []byte
	Iterations int
}

// KeyDeriver は署名者の署名から対称鍵を導出する。
type KeyDeriver struct {
	signer      Signer
	signTimeout time.Duration
}

// NewKeyDeriver は新しいKeyDeriverを生成する。signTimeout が0以下なら既定値を使う。
func NewKeyDeriver(signer Signer, signTimeout time.Duration) *KeyDeriver {
	if signTimeout <= 0 {
		signTimeout = DefaultSignTimeout
	}
	return &KeyDeriver{signer: signer, signTimeout: signTimeout}
}

// Derive はメッセージへの署名を求め、PBKDF2-HMAC-SHA256で AES-256-GCM 鍵を導出する。
// 署名の拒否は domain.ErrSigningFailed、時間切れは domain.ErrSigningTimeout になる。
func (d *KeyDeriver) Derive(ctx context.Context, dc DerivationContext) (*SymmetricKey, error) {
	ctx, span := tracer.Start(ctx, "crypto.Derive")
	defer span.End()
	span.SetAttributes(
		attribute.String("derivation.purpose", dc.Purpose),
		attribute.Int("derivation.iterations", dc.Iterations),
	)

	if dc.Iterations <= 0 {
		return nil, fmt.Errorf("invalid iteration count %d", dc.Iterations)
	}

	sig, err := signWithTimeout(ctx, d.signer, dc.Message, d.signTimeout)
	if err != nil {
		slog.WarnContext(ctx, "signature request failed",
			"operation", "derive_key",
			"purpose", dc.Purpose,
			"error", err,
		)
		return nil, err
	}
	return DeriveFromSignature(sig, dc)
}

// DeriveFromSignature は署名バイト列から直接鍵を導出する。
// 同じ (signature, salt, iterations) からは常に同じ鍵が得られる。
func DeriveFromSignature(signature []byte, dc DerivationContext) (*SymmetricKey, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	raw := pbkdf2.Key(signature, dc.Salt, dc.Iterations, keySize, sha256.New)
	defer zero(raw)
	return newSymmetricKey(dc.Purpose, raw)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
