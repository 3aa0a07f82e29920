package usecase

import (
	"fmt"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// EncryptFields は空でないメタデータフィールドをそれぞれ独立したノンスで封印する。
// 空フィールドにはエンベロープを作らない。
func EncryptFields(key *crypto.SymmetricKey, meta domain.Metadata) (domain.SealedMetadata, error) {
	var sealed domain.SealedMetadata
	for _, field := range domain.MetadataFields {
		value := meta.Get(field)
		if value == "" {
			continue
		}
		env, err := crypto.Seal(key, []byte(value))
		if err != nil {
			return domain.SealedMetadata{}, fmt.Errorf("sealing %s: %w", field, err)
		}
		sealed.Set(field, &env)
	}
	return sealed, nil
}

// DecryptFields は存在する全フィールドの復号を試みる。
// 一部が失敗しても成功したフィールドは返し、失敗分は *domain.MetadataError にまとめる。
func DecryptFields(key *crypto.SymmetricKey, entryID string, sealed domain.SealedMetadata) (domain.Metadata, error) {
	var (
		meta   domain.Metadata
		failed map[domain.MetadataField]error
	)
	fail := func(field domain.MetadataField, err error) {
		if failed == nil {
			failed = make(map[domain.MetadataField]error)
		}
		failed[field] = err
	}
	for _, field := range domain.MetadataFields {
		env := sealed.Get(field)
		if env == nil {
			if _, ok := sealed.Undecodable[field]; ok {
				fail(field, fmt.Errorf("%w: undecodable envelope", domain.ErrDecryptionFailed))
			}
			continue
		}
		pt, err := crypto.Open(key, *env)
		if err != nil {
			fail(field, err)
			continue
		}
		meta.Set(field, string(pt))
	}
	if failed != nil {
		return meta, &domain.MetadataError{EntryID: entryID, Fields: failed}
	}
	return meta, nil
}

// resealChangedFields は変更されたフィールドのみ封印し直し、それ以外の既存エンベロープは維持する。
func resealChangedFields(key *crypto.SymmetricKey, current domain.SealedMetadata, changes map[domain.MetadataField]string) (domain.SealedMetadata, error) {
	out := current
	for _, field := range domain.MetadataFields {
		value, ok := changes[field]
		if !ok {
			continue
		}
		if value == "" {
			out.Set(field, nil)
			continue
		}
		env, err := crypto.Seal(key, []byte(value))
		if err != nil {
			return domain.SealedMetadata{}, fmt.Errorf("sealing %s: %w", field, err)
		}
		out.Set(field, &env)
	}
	return out, nil
}
