package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VaultDocument はボールト全体。保存のたびに丸ごと1つのエンベロープへ再暗号化される。
type VaultDocument struct {
	Entries []Entry
}

// Find はIDに一致するエントリとその位置を返す。
func (d *VaultDocument) Find(id string) (Entry, int) {
	for i, e := range d.Entries {
		if e.Header().ID == id {
			return e, i
		}
	}
	return nil, -1
}

// Clone はエントリスライスをコピーした新しい文書を返す。エントリ自体は不変として扱う。
func (d *VaultDocument) Clone() *VaultDocument {
	entries := make([]Entry, len(d.Entries))
	copy(entries, d.Entries)
	return &VaultDocument{Entries: entries}
}

// entryRecord は保存形式のエントリ。バージョンによって意味を持つフィールドが異なる。
type entryRecord struct {
	ID                string    `json:"id"`
	CreatedAt         int64     `json:"createdAt"`
	UpdatedAt         int64     `json:"updatedAt"`
	EncryptionVersion *int      `json:"encryptionVersion,omitempty"`
	Title             string    `json:"title,omitempty"`
	Username          string    `json:"username,omitempty"`
	URL               string    `json:"url,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	Password          string    `json:"password,omitempty"`
	EncryptedTitle    json.RawMessage `json:"encryptedTitle,omitempty"`
	EncryptedUsername json.RawMessage `json:"encryptedUsername,omitempty"`
	EncryptedURL      json.RawMessage `json:"encryptedUrl,omitempty"`
	EncryptedNotes    json.RawMessage `json:"encryptedNotes,omitempty"`
	EncryptedPassword *Envelope       `json:"encryptedPassword,omitempty"`
}

// sealedFields は保存形式の暗号化メタデータ列をフィールド名で引く。
func (r *entryRecord) sealedFields() map[MetadataField]*json.RawMessage {
	return map[MetadataField]*json.RawMessage{
		FieldTitle:    &r.EncryptedTitle,
		FieldUsername: &r.EncryptedUsername,
		FieldURL:      &r.EncryptedURL,
		FieldNotes:    &r.EncryptedNotes,
	}
}

// setSealedMetadata はフィールドごとにエンベロープを書き出す。
// 解釈できなかったフィールドは読み込んだときの値をそのまま書き戻す。
func (r *entryRecord) setSealedMetadata(m SealedMetadata) error {
	for field, dst := range r.sealedFields() {
		if env := m.Get(field); env != nil {
			b, err := json.Marshal(env)
			if err != nil {
				return err
			}
			*dst = b
			continue
		}
		if raw, ok := m.Undecodable[field]; ok {
			*dst = raw
		}
	}
	return nil
}

// sealedMetadata はフィールドごとにエンベロープを解釈する。
// 1つのフィールドが不正でもエントリ全体は失敗させない。
func (r *entryRecord) sealedMetadata() SealedMetadata {
	var m SealedMetadata
	fields := r.sealedFields()
	for _, field := range MetadataFields {
		raw := *fields[field]
		if isJSONNull(raw) {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if m.Undecodable == nil {
				m.Undecodable = make(map[MetadataField]json.RawMessage)
			}
			m.Undecodable[field] = raw
			continue
		}
		m.Set(field, &env)
	}
	return m
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type documentJSON struct {
	Passwords []json.RawMessage `json:"passwords"`
}

// MarshalJSON は {"passwords": [...]} を出力する。
func (d *VaultDocument) MarshalJSON() ([]byte, error) {
	out := documentJSON{Passwords: make([]json.RawMessage, 0, len(d.Entries))}
	for _, e := range d.Entries {
		raw, err := MarshalEntry(e)
		if err != nil {
			return nil, err
		}
		out.Passwords = append(out.Passwords, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON は passwords 配列を検証してエントリを復元する。
// 個々のエントリが不正でも文書全体は失敗させず、InvalidEntry として保持する。
func (d *VaultDocument) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVaultFormat, err)
	}
	rawList, ok := top["passwords"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(rawList), []byte("[")) {
		return fmt.Errorf("%w: missing passwords array", ErrInvalidVaultFormat)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawList, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVaultFormat, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, raw := range items {
		entries = append(entries, UnmarshalEntry(raw))
	}
	d.Entries = entries
	return nil
}

// MarshalEntry はエントリを保存形式に変換する。
func MarshalEntry(e Entry) (json.RawMessage, error) {
	h := e.Header()
	rec := entryRecord{ID: h.ID, CreatedAt: h.CreatedAt, UpdatedAt: h.UpdatedAt}
	version := int(e.Version())
	rec.EncryptionVersion = &version

	switch v := e.(type) {
	case *PlaintextEntry:
		rec.Title = v.Metadata.Title
		rec.Username = v.Metadata.Username
		rec.URL = v.Metadata.URL
		rec.Notes = v.Metadata.Notes
		rec.Password = v.Password
	case *PerSecretEntry:
		rec.Title = v.Metadata.Title
		rec.Username = v.Metadata.Username
		rec.URL = v.Metadata.URL
		rec.Notes = v.Metadata.Notes
		pw := v.Password
		rec.EncryptedPassword = &pw
	case *SealedEntry:
		if err := rec.setSealedMetadata(v.Metadata); err != nil {
			return nil, err
		}
		pw := v.Password
		rec.EncryptedPassword = &pw
	case *InvalidEntry:
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEntryFormat, e)
	}
	return json.Marshal(rec)
}

// UnmarshalEntry はバージョンタグでディスパッチしてエントリを復元する。
// タグ未指定・0・1はV1として扱う。V2/V3で平文パスワードが残っていても無視する。
func UnmarshalEntry(raw json.RawMessage) Entry {
	var rec entryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		var h struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &h)
		return &InvalidEntry{EntryHeader: EntryHeader{ID: h.ID}, Raw: raw, Reason: err.Error()}
	}

	header := EntryHeader{ID: rec.ID, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
	tag := int(VersionPlaintext)
	if rec.EncryptionVersion != nil && *rec.EncryptionVersion != 0 {
		tag = *rec.EncryptionVersion
	}
	invalid := func(reason string) Entry {
		return &InvalidEntry{EntryHeader: header, Tag: tag, Raw: raw, Reason: reason}
	}
	if rec.ID == "" {
		return invalid("missing id")
	}

	plainMeta := Metadata{Title: rec.Title, Username: rec.Username, URL: rec.URL, Notes: rec.Notes}

	switch EncryptionVersion(tag) {
	case VersionPlaintext:
		return &PlaintextEntry{EntryHeader: header, Metadata: plainMeta, Password: rec.Password}
	case VersionPerSecret:
		if rec.EncryptedPassword == nil {
			return invalid("v2 entry without encryptedPassword")
		}
		return &PerSecretEntry{EntryHeader: header, Metadata: plainMeta, Password: *rec.EncryptedPassword}
	case VersionSealedMetadata:
		if rec.EncryptedPassword == nil {
			return invalid("v3 entry without encryptedPassword")
		}
		return &SealedEntry{
			EntryHeader: header,
			Metadata:    rec.sealedMetadata(),
			Password:    *rec.EncryptedPassword,
		}
	}
	return invalid(fmt.Sprintf("unsupported encryptionVersion %d", tag))
}
