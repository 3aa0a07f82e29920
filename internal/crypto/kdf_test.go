package crypto

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wallet-vault-service/internal/domain"
)

func testSigner(t *testing.T) *LocalSigner {
	t.Helper()
	s, err := NewLocalSignerFromSeed(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return s
}

func TestDerive_Deterministic(t *testing.T) {
	ctx := context.Background()
	d := NewKeyDeriver(testSigner(t), time.Second)

	k1, err := d.Derive(ctx, VaultContext())
	require.NoError(t, err)
	k2, err := d.Derive(ctx, VaultContext())
	require.NoError(t, err)

	nonce := bytes.Repeat([]byte{9}, 12)
	e1, err := sealWithNonce(k1, nonce, []byte("same plaintext"))
	require.NoError(t, err)
	e2, err := sealWithNonce(k2, nonce, []byte("same plaintext"))
	require.NoError(t, err)
	require.Equal(t, e1.Ciphertext, e2.Ciphertext)
}

func TestDeriveFromSignature_SaltSeparation(t *testing.T) {
	sig := bytes.Repeat([]byte{1}, 64)
	dcA := DerivationContext{Purpose: "a", Salt: []byte("salt-a"), Iterations: 1000}
	dcB := DerivationContext{Purpose: "b", Salt: []byte("salt-b"), Iterations: 1000}

	kA, err := DeriveFromSignature(sig, dcA)
	require.NoError(t, err)
	kB, err := DeriveFromSignature(sig, dcB)
	require.NoError(t, err)

	env, err := Seal(kA, []byte("payload"))
	require.NoError(t, err)
	_, err = Open(kB, env)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)

	kA2, err := DeriveFromSignature(sig, dcA)
	require.NoError(t, err)
	out, err := Open(kA2, env)
	require.NoError(t, err)
	require.Equal(t, "payload", string(out))
}

func TestDerive_PerSecretIsolation(t *testing.T) {
	ctx := context.Background()
	d := NewKeyDeriver(testSigner(t), time.Second)

	kA, err := d.Derive(ctx, SecretContext(domain.SecretRef{ID: "entry-a", CreatedAt: 1000}))
	require.NoError(t, err)
	kB, err := d.Derive(ctx, SecretContext(domain.SecretRef{ID: "entry-b", CreatedAt: 1000}))
	require.NoError(t, err)

	env, err := Seal(kB, []byte("B's password"))
	require.NoError(t, err)
	_, err = Open(kA, env)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDerive_SignerRejected(t *testing.T) {
	signer := SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		return nil, errors.New("User rejected the request")
	})
	d := NewKeyDeriver(signer, time.Second)

	_, err := d.Derive(context.Background(), VaultContext())
	require.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestDerive_EmptySignature(t *testing.T) {
	signer := SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		return nil, nil
	})
	_, err := NewKeyDeriver(signer, time.Second).Derive(context.Background(), VaultContext())
	require.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestDerive_SignerTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	signer := SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		<-release // context を無視する署名者
		return []byte("late"), nil
	})
	d := NewKeyDeriver(signer, 50*time.Millisecond)

	start := time.Now()
	_, err := d.Derive(context.Background(), VaultContext())
	require.ErrorIs(t, err, domain.ErrSigningTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestDerive_SignerSeesMessage(t *testing.T) {
	var got atomic.Value
	inner := testSigner(t)
	signer := SignerFunc(func(ctx context.Context, msg []byte) ([]byte, error) {
		got.Store(string(msg))
		return inner.SignMessage(ctx, msg)
	})
	ref := domain.SecretRef{ID: "e1", CreatedAt: 1000}

	_, err := NewKeyDeriver(signer, time.Second).Derive(context.Background(), SecretContext(ref))
	require.NoError(t, err)

	msg := got.Load().(string)
	require.True(t, strings.HasPrefix(msg, "ZK-Vault-Password-Key-v2\n"))
	require.Contains(t, msg, "Password ID: e1\n")
	require.Contains(t, msg, "Created: 1000\n")
}

func TestSecretContext_Salt(t *testing.T) {
	dc := SecretContext(domain.SecretRef{ID: "e1", CreatedAt: 1000})
	require.Equal(t, "zk-vault-pwd-e1-v2-salt", string(dc.Salt))
	require.Equal(t, SecretIterations, dc.Iterations)

	other := SecretContext(domain.SecretRef{ID: "e1", CreatedAt: 1001})
	require.NotEqual(t, dc.Message, other.Message)
}

func TestVaultContext_Stable(t *testing.T) {
	dc := VaultContext()
	require.Equal(t, "zk-password-vault-v1-salt", string(dc.Salt))
	require.Equal(t, 300_000, dc.Iterations)
	require.True(t, strings.HasPrefix(string(dc.Message), "ZK-Vault-Encryption-Key-v1\n"))
	require.True(t, strings.HasSuffix(string(dc.Message), "NEVER share your private key or seed phrase!"))
}

func TestSession_RestoreDerivesSameKey(t *testing.T) {
	ctx := context.Background()
	signer := testSigner(t)
	d := NewKeyDeriver(signer, time.Second)

	key, info, err := d.InitializeSession(ctx, signer.OwnerID(), time.UnixMilli(1700000000000))
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), info.Timestamp)
	require.NotEmpty(t, info.SessionNonce)

	env, err := Seal(key, []byte("metadata"))
	require.NoError(t, err)

	restored, err := d.RestoreSession(ctx, info)
	require.NoError(t, err)
	out, err := Open(restored, env)
	require.NoError(t, err)
	require.Equal(t, "metadata", string(out))

	other, err := NewSessionInfo(signer.OwnerID(), time.UnixMilli(1700000000000))
	require.NoError(t, err)
	require.NotEqual(t, info.SessionNonce, other.SessionNonce)
}

func TestLocalSigner_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.pem")
	s, err := GenerateLocalSigner()
	require.NoError(t, err)
	require.NoError(t, s.Save(path))
	require.Error(t, s.Save(path), "existing key file must not be overwritten")

	loaded, err := LoadLocalSigner(path)
	require.NoError(t, err)
	require.Equal(t, s.OwnerID(), loaded.OwnerID())

	msg := []byte("message")
	sig1, err := s.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	sig2, err := loaded.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)
	require.True(t, VerifyOwnerSignature(s.OwnerID(), msg, sig1))
	require.False(t, VerifyOwnerSignature(s.OwnerID(), []byte("other"), sig1))
	require.False(t, VerifyOwnerSignature("not-hex", msg, sig1))
}
