package usecase

import (
	"context"
	"errors"
	"log/slog"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// KeyDeriver は署名から対称鍵を導出する。
type KeyDeriver interface {
	Derive(ctx context.Context, dc crypto.DerivationContext) (*crypto.SymmetricKey, error)
}

// SecretCipher はエントリ固有鍵でパスワードを暗号化/復号する。
// 鍵はキャッシュせず、呼び出しごとに署名を要求する。
type SecretCipher struct {
	deriver KeyDeriver
}

// NewSecretCipher は新しいSecretCipherを生成する。
func NewSecretCipher(deriver KeyDeriver) *SecretCipher {
	return &SecretCipher{deriver: deriver}
}

// EncryptSecret はエントリ固有鍵を導出してパスワードを封印する。
func (c *SecretCipher) EncryptSecret(ctx context.Context, plaintext string, ref domain.SecretRef) (domain.Envelope, error) {
	key, err := c.deriver.Derive(ctx, crypto.SecretContext(ref))
	if err != nil {
		return domain.Envelope{}, &domain.EntryError{EntryID: ref.ID, Op: "encrypt secret", Err: err}
	}
	defer key.Destroy()

	env, err := crypto.Seal(key, []byte(plaintext))
	if err != nil {
		return domain.Envelope{}, &domain.EntryError{EntryID: ref.ID, Op: "encrypt secret", Err: err}
	}
	return env, nil
}

// DecryptSecret はエントリ固有鍵を導出してパスワードを開封する。
// ID や作成時刻が異なれば鍵も異なるため domain.ErrDecryptionFailed になる。
func (c *SecretCipher) DecryptSecret(ctx context.Context, env domain.Envelope, ref domain.SecretRef) (string, error) {
	key, err := c.deriver.Derive(ctx, crypto.SecretContext(ref))
	if err != nil {
		return "", &domain.EntryError{EntryID: ref.ID, Op: "decrypt secret", Err: err}
	}
	defer key.Destroy()

	pt, err := crypto.Open(key, env)
	if err != nil {
		slog.WarnContext(ctx, "secret decryption failed",
			"operation", "decrypt_secret",
			"entry_id", ref.ID,
		)
		return "", &domain.EntryError{EntryID: ref.ID, Op: "decrypt secret", Err: err}
	}
	return string(pt), nil
}

// entryErr はエラーにエントリのIDとバージョンを付与する。
func entryErr(e domain.Entry, op string, err error) error {
	var ee *domain.EntryError
	if errors.As(err, &ee) {
		c := *ee
		c.Version = e.Version()
		return &c
	}
	return &domain.EntryError{EntryID: e.Header().ID, Version: e.Version(), Op: op, Err: err}
}
