package usecase

import (
	"context"
	"fmt"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// NewEntry は新規エントリの入力。
type NewEntry struct {
	Title    string
	Username string
	URL      string
	Notes    string
	Password string
}

// EntryUpdate は更新内容。nil のフィールドは変更しない。空文字はフィールドを削除する。
type EntryUpdate struct {
	Title    *string
	Username *string
	URL      *string
	Notes    *string
	Password *string
}

func (u EntryUpdate) metadataChanges() map[domain.MetadataField]string {
	changes := make(map[domain.MetadataField]string)
	set := func(f domain.MetadataField, v *string) {
		if v != nil {
			changes[f] = *v
		}
	}
	set(domain.FieldTitle, u.Title)
	set(domain.FieldUsername, u.Username)
	set(domain.FieldURL, u.URL)
	set(domain.FieldNotes, u.Notes)
	return changes
}

// IsEmpty は何も変更しない更新かを返す。
func (u EntryUpdate) IsEmpty() bool {
	return u.Password == nil && len(u.metadataChanges()) == 0
}

// revealSecret はバージョンに応じてパスワードを取り出す。V1は平文をそのまま返し、署名は要求しない。
func revealSecret(ctx context.Context, secrets *SecretCipher, e domain.Entry) (string, error) {
	switch v := e.(type) {
	case *domain.PlaintextEntry:
		return v.Password, nil
	case *domain.PerSecretEntry:
		pw, err := secrets.DecryptSecret(ctx, v.Password, v.SecretRef())
		return pw, entryErrOrNil(e, "decrypt secret", err)
	case *domain.SealedEntry:
		pw, err := secrets.DecryptSecret(ctx, v.Password, v.SecretRef())
		return pw, entryErrOrNil(e, "decrypt secret", err)
	case *domain.InvalidEntry:
		return "", v.Err()
	}
	return "", fmt.Errorf("%w: %T", domain.ErrUnknownEntryFormat, e)
}

// revealMetadata はバージョンに応じてメタデータを取り出す。
// V3で一部フィールドが失敗した場合は、復号できたフィールドと *domain.MetadataError を返す。
func revealMetadata(vaultKey *crypto.SymmetricKey, e domain.Entry) (domain.Metadata, error) {
	switch v := e.(type) {
	case *domain.PlaintextEntry:
		return v.Metadata, nil
	case *domain.PerSecretEntry:
		return v.Metadata, nil
	case *domain.SealedEntry:
		return DecryptFields(vaultKey, v.ID, v.Metadata)
	case *domain.InvalidEntry:
		return domain.Metadata{}, v.Err()
	}
	return domain.Metadata{}, fmt.Errorf("%w: %T", domain.ErrUnknownEntryFormat, e)
}

// createEntry は常にV3のエントリを作る。
func createEntry(ctx context.Context, vaultKey *crypto.SymmetricKey, secrets *SecretCipher, header domain.EntryHeader, in NewEntry) (*domain.SealedEntry, error) {
	pw, err := secrets.EncryptSecret(ctx, in.Password, header.SecretRef())
	if err != nil {
		return nil, err
	}
	sealed, err := EncryptFields(vaultKey, domain.Metadata{
		Title:    in.Title,
		Username: in.Username,
		URL:      in.URL,
		Notes:    in.Notes,
	})
	if err != nil {
		return nil, &domain.EntryError{EntryID: header.ID, Version: domain.VersionSealedMetadata, Op: "encrypt metadata", Err: err}
	}
	return &domain.SealedEntry{EntryHeader: header, Metadata: sealed, Password: pw}, nil
}

// applyUpdate は更新を適用した新しいエントリを返す。
// メタデータのみの更新ではバージョンは変わらない。パスワード更新ではV1はV2になり、V2とV3はそのまま。
// V3の封印済みメタデータはパスワード更新でも維持する。
func applyUpdate(ctx context.Context, vaultKey *crypto.SymmetricKey, secrets *SecretCipher, e domain.Entry, u EntryUpdate, updatedAt int64) (domain.Entry, error) {
	changes := u.metadataChanges()

	switch v := e.(type) {
	case *domain.PlaintextEntry:
		meta := v.Metadata
		for f, val := range changes {
			meta.Set(f, val)
		}
		header := v.EntryHeader
		header.UpdatedAt = updatedAt
		if u.Password == nil {
			return &domain.PlaintextEntry{EntryHeader: header, Metadata: meta, Password: v.Password}, nil
		}
		pw, err := secrets.EncryptSecret(ctx, *u.Password, header.SecretRef())
		if err != nil {
			return nil, entryErr(e, "encrypt secret", err)
		}
		return &domain.PerSecretEntry{EntryHeader: header, Metadata: meta, Password: pw}, nil

	case *domain.PerSecretEntry:
		meta := v.Metadata
		for f, val := range changes {
			meta.Set(f, val)
		}
		header := v.EntryHeader
		header.UpdatedAt = updatedAt
		pw := v.Password
		if u.Password != nil {
			var err error
			if pw, err = secrets.EncryptSecret(ctx, *u.Password, header.SecretRef()); err != nil {
				return nil, entryErr(e, "encrypt secret", err)
			}
		}
		return &domain.PerSecretEntry{EntryHeader: header, Metadata: meta, Password: pw}, nil

	case *domain.SealedEntry:
		sealed, err := resealChangedFields(vaultKey, v.Metadata, changes)
		if err != nil {
			return nil, entryErr(e, "encrypt metadata", err)
		}
		header := v.EntryHeader
		header.UpdatedAt = updatedAt
		pw := v.Password
		if u.Password != nil {
			if pw, err = secrets.EncryptSecret(ctx, *u.Password, header.SecretRef()); err != nil {
				return nil, entryErr(e, "encrypt secret", err)
			}
		}
		return &domain.SealedEntry{EntryHeader: header, Metadata: sealed, Password: pw}, nil

	case *domain.InvalidEntry:
		return nil, v.Err()
	}
	return nil, fmt.Errorf("%w: %T", domain.ErrUnknownEntryFormat, e)
}

// upgradeEntry はV1/V2のエントリをV3へ移行する。V3と不正エントリはそのまま返す。
// ID・作成時刻・更新時刻は維持する。
func upgradeEntry(ctx context.Context, vaultKey *crypto.SymmetricKey, secrets *SecretCipher, e domain.Entry) (domain.Entry, error) {
	switch v := e.(type) {
	case *domain.PlaintextEntry:
		sealed, err := EncryptFields(vaultKey, v.Metadata)
		if err != nil {
			return nil, entryErr(e, "encrypt metadata", err)
		}
		pw, err := secrets.EncryptSecret(ctx, v.Password, v.SecretRef())
		if err != nil {
			return nil, entryErr(e, "encrypt secret", err)
		}
		return &domain.SealedEntry{EntryHeader: v.EntryHeader, Metadata: sealed, Password: pw}, nil
	case *domain.PerSecretEntry:
		sealed, err := EncryptFields(vaultKey, v.Metadata)
		if err != nil {
			return nil, entryErr(e, "encrypt metadata", err)
		}
		return &domain.SealedEntry{EntryHeader: v.EntryHeader, Metadata: sealed, Password: v.Password}, nil
	}
	return e, nil
}

func entryErrOrNil(e domain.Entry, op string, err error) error {
	if err == nil {
		return nil
	}
	return entryErr(e, op, err)
}
