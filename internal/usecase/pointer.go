package usecase

import (
	"fmt"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// EncryptPointer はCIDをボールト鍵で封印し、台帳に載せるコンパクト形式の文字列にする。
func EncryptPointer(key *crypto.SymmetricKey, cid string) (string, error) {
	env, err := crypto.Seal(key, []byte(cid))
	if err != nil {
		return "", fmt.Errorf("sealing pointer: %w", err)
	}
	return env.Compact(), nil
}

// DecryptPointer は台帳上の文字列を開封してCIDを返す。前後の引用符や空白は許容する。
func DecryptPointer(key *crypto.SymmetricKey, stored string) (string, error) {
	env, err := domain.ParseCompactEnvelope(stored)
	if err != nil {
		return "", err
	}
	pt, err := crypto.Open(key, env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
