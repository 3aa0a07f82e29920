// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PointerRecord は所有者ごとの暗号化ポインタの1世代を表す。
// 最新の Sequence のみが読まれ、古い世代は履歴として残る。
type PointerRecord struct {
	ID               string
	OwnerID          string
	Sequence         uint
	EncryptedPointer string
	Signature        []byte
	CreatedAt        time.Time
}

// PublishReceipt はポインタ公開の結果。
type PublishReceipt struct {
	OwnerID   string
	Sequence  uint
	CreatedAt time.Time
}

// PublishMessage はポインタ公開要求で所有者が署名するメッセージを返す。
// sequence は公開後の世代番号（直前の世代+1）で、署名の対象に含まれる。
func PublishMessage(ownerID, encryptedPointer string, sequence uint) []byte {
	return []byte("ZK-Vault-Pointer-Publish-v2\n" +
		"Owner: " + ownerID + "\n" +
		"Sequence: " + strconv.FormatUint(uint64(sequence), 10) + "\n" +
		"Pointer: " + encryptedPointer)
}

// BlobPayloadVersion はオフチェーンのラッパー形式のバージョン。
const BlobPayloadVersion = "1.0"

// BlobPayload はオフチェーンに保存するラッパー。Encrypted はエンベロープJSONの文字列。
type BlobPayload struct {
	Version   string `json:"version"`
	Encrypted string `json:"encrypted"`
	Timestamp int64  `json:"timestamp"`
}

// NewBlobPayload はエンベロープをラッパーに包む。
func NewBlobPayload(env Envelope, now time.Time) (*BlobPayload, error) {
	encrypted, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &BlobPayload{
		Version:   BlobPayloadVersion,
		Encrypted: string(encrypted),
		Timestamp: now.UnixMilli(),
	}, nil
}

// Envelope はラッパーからエンベロープを取り出す。
func (p *BlobPayload) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(p.Encrypted), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidBlobPayload, err)
	}
	return env, nil
}

// ParseBlobPayload はラッパーを解析する。
// encrypted が文字列でなくオブジェクトとして埋め込まれている形式も受け付ける。
func ParseBlobPayload(data string) (*BlobPayload, error) {
	var raw struct {
		Version   string          `json:"version"`
		Encrypted json.RawMessage `json:"encrypted"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlobPayload, err)
	}
	enc := strings.TrimSpace(string(raw.Encrypted))
	if enc == "" || enc == "null" {
		return nil, fmt.Errorf("%w: missing encrypted field", ErrInvalidBlobPayload)
	}

	p := &BlobPayload{Version: raw.Version, Timestamp: raw.Timestamp}
	if strings.HasPrefix(enc, `"`) {
		if err := json.Unmarshal(raw.Encrypted, &p.Encrypted); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBlobPayload, err)
		}
	} else {
		p.Encrypted = enc
	}
	if p.Encrypted == "" {
		return nil, fmt.Errorf("%w: empty encrypted field", ErrInvalidBlobPayload)
	}
	return p, nil
}

// Encode はラッパーをJSON文字列にする。
func (p *BlobPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
