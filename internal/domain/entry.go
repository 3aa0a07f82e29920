package domain

import "encoding/json"

// EncryptionVersion はエントリの暗号化方式を選択するタグ。
type EncryptionVersion int

const (
	// VersionPlaintext は全フィールド平文の旧形式（読み取り専用）。
	VersionPlaintext EncryptionVersion = 1
	// VersionPerSecret はメタデータ平文、パスワードのみエントリ固有鍵で暗号化。
	VersionPerSecret EncryptionVersion = 2
	// VersionSealedMetadata はメタデータをボールト鍵、パスワードをエントリ固有鍵で暗号化。
	VersionSealedMetadata EncryptionVersion = 3
)

// MetadataField はメタデータフィールドの論理名。
type MetadataField string

const (
	FieldTitle    MetadataField = "title"
	FieldUsername MetadataField = "username"
	FieldURL      MetadataField = "url"
	FieldNotes    MetadataField = "notes"
)

// MetadataFields は処理順に並べた全メタデータフィールド。
var MetadataFields = []MetadataField{FieldTitle, FieldUsername, FieldURL, FieldNotes}

// Metadata は平文のメタデータ。
type Metadata struct {
	Title    string
	Username string
	URL      string
	Notes    string
}

// Get はフィールド名に対応する値を返す。
func (m Metadata) Get(field MetadataField) string {
	switch field {
	case FieldTitle:
		return m.Title
	case FieldUsername:
		return m.Username
	case FieldURL:
		return m.URL
	case FieldNotes:
		return m.Notes
	}
	return ""
}

// Set はフィールド名に対応する値を設定する。
func (m *Metadata) Set(field MetadataField, value string) {
	switch field {
	case FieldTitle:
		m.Title = value
	case FieldUsername:
		m.Username = value
	case FieldURL:
		m.URL = value
	case FieldNotes:
		m.Notes = value
	}
}

// SealedMetadata はフィールドごとに封印されたメタデータ。空フィールドは nil。
// エンベロープとして解釈できなかったフィールドは Undecodable に元のJSONのまま残る。
type SealedMetadata struct {
	Title    *Envelope
	Username *Envelope
	URL      *Envelope
	Notes    *Envelope

	Undecodable map[MetadataField]json.RawMessage
}

// Get はフィールド名に対応するエンベロープを返す。
func (m SealedMetadata) Get(field MetadataField) *Envelope {
	switch field {
	case FieldTitle:
		return m.Title
	case FieldUsername:
		return m.Username
	case FieldURL:
		return m.URL
	case FieldNotes:
		return m.Notes
	}
	return nil
}

// Set はフィールド名に対応するエンベロープを設定する。
// 解釈できなかった元の値は取り除く。Undecodable は元の値と共有しないよう作り直す。
func (m *SealedMetadata) Set(field MetadataField, env *Envelope) {
	switch field {
	case FieldTitle:
		m.Title = env
	case FieldUsername:
		m.Username = env
	case FieldURL:
		m.URL = env
	case FieldNotes:
		m.Notes = env
	}
	if _, ok := m.Undecodable[field]; !ok {
		return
	}
	var rest map[MetadataField]json.RawMessage
	for f, raw := range m.Undecodable {
		if f == field {
			continue
		}
		if rest == nil {
			rest = make(map[MetadataField]json.RawMessage)
		}
		rest[f] = raw
	}
	m.Undecodable = rest
}

// EntryHeader は全バージョン共通の項目。
// ID と CreatedAt はエントリ固有鍵の導出入力であり、作成後に変更してはならない。
type EntryHeader struct {
	ID        string
	CreatedAt int64
	UpdatedAt int64
}

// SecretRef はエントリ固有鍵の導出に使う識別情報を返す。
func (h EntryHeader) SecretRef() SecretRef {
	return SecretRef{ID: h.ID, CreatedAt: h.CreatedAt}
}

// SecretRef はエントリ固有鍵の導出コンテキスト。
type SecretRef struct {
	ID        string
	CreatedAt int64
}

// Entry はボールトエントリの直和型。
// 実装は *PlaintextEntry, *PerSecretEntry, *SealedEntry, *InvalidEntry のみ。
type Entry interface {
	Header() EntryHeader
	Version() EncryptionVersion
	entry()
}

// PlaintextEntry はV1形式のエントリ。
type PlaintextEntry struct {
	EntryHeader
	Metadata Metadata
	Password string
}

// PerSecretEntry はV2形式のエントリ。
type PerSecretEntry struct {
	EntryHeader
	Metadata Metadata
	Password Envelope
}

// SealedEntry はV3形式のエントリ。
type SealedEntry struct {
	EntryHeader
	Metadata SealedMetadata
	Password Envelope
}

// InvalidEntry は既知の形式に一致しないレコード。
// 再保存時に失われないよう元のJSONをそのまま保持する。
type InvalidEntry struct {
	EntryHeader
	Tag    int
	Raw    json.RawMessage
	Reason string
}

func (e *PlaintextEntry) Header() EntryHeader { return e.EntryHeader }
func (e *PerSecretEntry) Header() EntryHeader { return e.EntryHeader }
func (e *SealedEntry) Header() EntryHeader    { return e.EntryHeader }
func (e *InvalidEntry) Header() EntryHeader   { return e.EntryHeader }

func (e *PlaintextEntry) Version() EncryptionVersion { return VersionPlaintext }
func (e *PerSecretEntry) Version() EncryptionVersion { return VersionPerSecret }
func (e *SealedEntry) Version() EncryptionVersion    { return VersionSealedMetadata }
func (e *InvalidEntry) Version() EncryptionVersion   { return EncryptionVersion(e.Tag) }

func (*PlaintextEntry) entry() {}
func (*PerSecretEntry) entry() {}
func (*SealedEntry) entry()    {}
func (*InvalidEntry) entry()   {}

// Err は InvalidEntry を読み取ろうとした際のエラーを返す。
func (e *InvalidEntry) Err() error {
	return &EntryError{EntryID: e.ID, Version: EncryptionVersion(e.Tag), Op: "read", Err: ErrUnknownEntryFormat}
}

// WithUpdatedAt は UpdatedAt を差し替えたコピーを返す。
func WithUpdatedAt(e Entry, updatedAt int64) Entry {
	switch v := e.(type) {
	case *PlaintextEntry:
		c := *v
		c.UpdatedAt = updatedAt
		return &c
	case *PerSecretEntry:
		c := *v
		c.UpdatedAt = updatedAt
		return &c
	case *SealedEntry:
		c := *v
		c.UpdatedAt = updatedAt
		return &c
	}
	return e
}
