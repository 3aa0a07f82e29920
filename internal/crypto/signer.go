// Package crypto は署名由来の鍵導出と認証付き暗号を提供する。
package crypto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-vault-service/internal/domain"
)

// DefaultSignTimeout は署名要求1回あたりの待ち時間の上限。
const DefaultSignTimeout = 60 * time.Second

// Signer は任意のメッセージに署名する外部の能力（ウォレット等）。
// 鍵導出のため、同じメッセージには常に同じ署名を返すことを前提とする。
type Signer interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SignerFunc は関数を Signer として扱うアダプタ。
type SignerFunc func(ctx context.Context, message []byte) ([]byte, error)

// SignMessage は f(ctx, message) を呼ぶ。
func (f SignerFunc) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return f(ctx, message)
}

type signResult struct {
	sig []byte
	err error
}

// signWithTimeout は署名要求を timeout で打ち切る。
// context を無視する署名者でも呼び出し元は timeout 後に戻る。
func signWithTimeout(ctx context.Context, signer Signer, message []byte, timeout time.Duration) ([]byte, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer configured", domain.ErrSigningFailed)
	}
	if timeout <= 0 {
		timeout = DefaultSignTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan signResult, 1)
	go func() {
		sig, err := signer.SignMessage(ctx, message)
		done <- signResult{sig: sig, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", domain.ErrSigningTimeout, res.err)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, res.err)
		}
		if len(res.sig) == 0 {
			return nil, fmt.Errorf("%w: empty signature", domain.ErrSigningFailed)
		}
		return res.sig, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", domain.ErrSigningTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, ctx.Err())
	}
}

// Bounded は全ての署名要求を timeout で打ち切る Signer を返す。
func Bounded(signer Signer, timeout time.Duration) Signer {
	return SignerFunc(func(ctx context.Context, message []byte) ([]byte, error) {
		return signWithTimeout(ctx, signer, message, timeout)
	})
}
