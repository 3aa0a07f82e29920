package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"wallet-vault-service/internal/domain"
)

const (
	// VaultIterations はボールト鍵のPBKDF2反復回数。
	VaultIterations = 300_000
	// SecretIterations はエントリ固有鍵の反復回数。ボールト鍵と同じ強度にそろえる。
	SecretIterations = 300_000
	// SessionIterations はセッション鍵の反復回数。
	SessionIterations = 200_000

	PurposeVault   = "vault"
	PurposeSecret  = "secret"
	PurposeSession = "session"
)

// 以下のメッセージとソルトは既存ボールトの鍵と互換でなければならない。1バイトでも変えないこと。
const (
	vaultMessage = "ZK-Vault-Encryption-Key-v1\n" +
		"Sign this message to derive your secure vault key.\n" +
		"This signature will be used with PBKDF2 (300k iterations).\n" +
		"NEVER share your private key or seed phrase!"
	vaultSalt = "zk-password-vault-v1-salt"

	secretKeyVersion = 2
)

// VaultContext はボールト鍵（文書・メタデータ・ポインタ用）の導出コンテキスト。
func VaultContext() DerivationContext {
	return DerivationContext{
		Purpose:    PurposeVault,
		Message:    []byte(vaultMessage),
		Salt:       []byte(vaultSalt),
		Iterations: VaultIterations,
	}
}

// SecretContext はエントリ固有鍵の導出コンテキスト。
// 利用者が何に署名するか分かるよう、メッセージにIDと作成時刻を含める。
func SecretContext(ref domain.SecretRef) DerivationContext {
	msg := fmt.Sprintf("ZK-Vault-Password-Key-v%d\n"+
		"Password ID: %s\n"+
		"Created: %d\n"+
		"\n"+
		"This signature will be used to encrypt/decrypt a single password entry.\n"+
		"Each password has its own unique encryption key.\n"+
		"NEVER share your private key or seed phrase!",
		secretKeyVersion, ref.ID, ref.CreatedAt)
	return DerivationContext{
		Purpose:    PurposeSecret,
		Message:    []byte(msg),
		Salt:       []byte(fmt.Sprintf("zk-vault-pwd-%s-v%d-salt", ref.ID, secretKeyVersion)),
		Iterations: SecretIterations,
	}
}

// SessionInfo はセッション鍵の公開パラメータ。メモリ上にのみ保持する。
type SessionInfo struct {
	Timestamp    int64
	SessionNonce string
	PublicKey    string
}

// NewSessionInfo は新しいタイムスタンプと32バイトの乱数ノンスでセッション情報を作る。
func NewSessionInfo(publicKey string, now time.Time) (SessionInfo, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return SessionInfo{}, fmt.Errorf("generating session nonce: %w", err)
	}
	return SessionInfo{
		Timestamp:    now.UnixMilli(),
		SessionNonce: base64.StdEncoding.EncodeToString(nonce),
		PublicKey:    publicKey,
	}, nil
}

// SessionContext はセッション鍵の導出コンテキスト。
func SessionContext(info SessionInfo) DerivationContext {
	ts := strconv.FormatInt(info.Timestamp, 10)
	msg := "ZK-Vault-Session-Key-v2\n" +
		"Timestamp: " + ts + "\n" +
		"Session Nonce: " + info.SessionNonce + "\n" +
		"Public Key: " + info.PublicKey + "\n" +
		"\n" +
		"This signature creates a temporary session key for metadata encryption.\n" +
		"The session key exists only in memory and is lost on disconnect.\n" +
		"This prevents replay attacks and ensures forward secrecy.\n" +
		"NEVER share your private key or seed phrase!"
	return DerivationContext{
		Purpose:    PurposeSession,
		Message:    []byte(msg),
		Salt:       []byte("zk-vault-session-" + ts + "-" + info.SessionNonce),
		Iterations: SessionIterations,
	}
}

// InitializeSession は新しいセッション情報を作り、その鍵を導出する。
func (d *KeyDeriver) InitializeSession(ctx context.Context, publicKey string, now time.Time) (*SymmetricKey, SessionInfo, error) {
	info, err := NewSessionInfo(publicKey, now)
	if err != nil {
		return nil, SessionInfo{}, err
	}
	key, err := d.Derive(ctx, SessionContext(info))
	if err != nil {
		return nil, SessionInfo{}, err
	}
	return key, info, nil
}

// RestoreSession は保持しているセッション情報から同じ鍵を再導出する。
func (d *KeyDeriver) RestoreSession(ctx context.Context, info SessionInfo) (*SymmetricKey, error) {
	return d.Derive(ctx, SessionContext(info))
}
