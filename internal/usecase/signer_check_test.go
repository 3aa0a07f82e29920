package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

func TestCheckSigner_Deterministic(t *testing.T) {
	signer := newTestSigner(t, 7)
	owner := signer.inner.OwnerID()
	now := time.UnixMilli(1700000000000)

	res, err := CheckSigner(context.Background(), owner, signer, time.Second, now)
	if err != nil {
		t.Fatalf("CheckSigner failed: %v", err)
	}
	if res.OwnerID != owner {
		t.Errorf("want owner %s, got %s", owner, res.OwnerID)
	}
	if !res.SessionAt.Equal(now) {
		t.Errorf("want session time %v, got %v", now, res.SessionAt)
	}
	// 初期化と再導出でそれぞれ1回ずつ署名する
	if got := signer.calls.Load(); got != 2 {
		t.Errorf("want 2 signature requests, got %d", got)
	}
}

func TestCheckSigner_FreshSessionEachRun(t *testing.T) {
	var messages [][]byte
	inner := newTestSigner(t, 7)
	signer := crypto.SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		messages = append(messages, append([]byte(nil), msg...))
		return inner.SignMessage(ctx, msg)
	})
	now := time.UnixMilli(1700000000000)

	for i := 0; i < 2; i++ {
		if _, err := CheckSigner(context.Background(), inner.inner.OwnerID(), signer, time.Second, now); err != nil {
			t.Fatalf("CheckSigner failed: %v", err)
		}
	}
	if len(messages) != 4 {
		t.Fatalf("want 4 signed messages, got %d", len(messages))
	}
	if string(messages[0]) != string(messages[1]) {
		t.Error("restore must sign the same session message")
	}
	if string(messages[0]) == string(messages[2]) {
		t.Error("each run must sign a new session message")
	}
	if string(messages[0]) == string(crypto.VaultContext().Message) {
		t.Error("check must not sign the vault key message")
	}
}

func TestCheckSigner_Rejected(t *testing.T) {
	randomSigner := crypto.SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		sig := make([]byte, 64)
		_, err := rand.Read(sig)
		return sig, err
	})
	refusing := crypto.SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		return nil, errors.New("user rejected")
	})

	tests := []struct {
		name    string
		signer  crypto.Signer
		wantErr error
	}{
		{name: "non-deterministic signatures", signer: randomSigner, wantErr: domain.ErrNonDeterministicSigner},
		{name: "signer refuses", signer: refusing, wantErr: domain.ErrSigningFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckSigner(context.Background(), "owner", tt.signer, time.Second, time.Now())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}
