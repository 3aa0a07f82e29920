package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

const signerCheckCanary = "wallet-vault signer check"

// SignerCheck はセッション鍵による署名者検査の結果。
type SignerCheck struct {
	OwnerID   string    `json:"owner_id"`
	SessionAt time.Time `json:"session_at"`
	Elapsed   string    `json:"elapsed"`
}

// CheckSigner は使い捨てのセッションで鍵を導出し、同じセッション情報から再導出した鍵で
// 開封できるかを確かめる。ボールト鍵と同じメッセージには署名しない。
// 再導出した鍵で開けなければ domain.ErrNonDeterministicSigner を返す。
func CheckSigner(ctx context.Context, ownerID string, signer crypto.Signer, signTimeout time.Duration, now time.Time) (*SignerCheck, error) {
	ctx, span := tracer.Start(ctx, "CheckSigner")
	defer span.End()

	start := time.Now()
	deriver := crypto.NewKeyDeriver(signer, signTimeout)

	key, info, err := deriver.InitializeSession(ctx, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}
	defer key.Destroy()

	env, err := crypto.Seal(key, []byte(signerCheckCanary))
	if err != nil {
		return nil, err
	}

	restored, err := deriver.RestoreSession(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	defer restored.Destroy()

	pt, err := crypto.Open(restored, env)
	if err != nil {
		if errors.Is(err, domain.ErrDecryptionFailed) {
			slog.WarnContext(ctx, "session key could not be re-derived", "owner_id", ownerID)
			return nil, domain.ErrNonDeterministicSigner
		}
		return nil, err
	}
	if string(pt) != signerCheckCanary {
		return nil, domain.ErrNonDeterministicSigner
	}

	return &SignerCheck{
		OwnerID:   ownerID,
		SessionAt: time.UnixMilli(info.Timestamp).UTC(),
		Elapsed:   time.Since(start).Round(time.Millisecond).String(),
	}, nil
}
