package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// NonceSize はAES-GCMのノンス長（バイト）。
const NonceSize = 12

// Envelope は認証付き暗号の出力（ノンスと、認証タグを末尾に含む暗号文）。
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
}

// envelopeJSON はJSON上の表現。フィールド名は保存済みデータと互換でなければならない。
type envelopeJSON struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// MarshalJSON は {"ciphertext": "<base64>", "nonce": "<base64>"} を出力する。
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Ciphertext: base64.StdEncoding.EncodeToString(e.Ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(e.Nonce),
	})
}

// UnmarshalJSON はURLセーフ形式やパディング欠落も受け付ける。
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ct, err := DecodeBase64(raw.Ciphertext)
	if err != nil {
		return fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonce, err := DecodeBase64(raw.Nonce)
	if err != nil {
		return fmt.Errorf("decoding nonce: %w", err)
	}
	e.Ciphertext = ct
	e.Nonce = nonce
	return nil
}

// Compact は base64(nonce||ciphertext) の1文字列表現を返す。台帳上のポインタに使う。
func (e Envelope) Compact() string {
	combined := make([]byte, 0, len(e.Nonce)+len(e.Ciphertext))
	combined = append(combined, e.Nonce...)
	combined = append(combined, e.Ciphertext...)
	return base64.StdEncoding.EncodeToString(combined)
}

// ParseCompactEnvelope は Compact の逆変換。前後の空白と引用符は取り除く。
func ParseCompactEnvelope(s string) (Envelope, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	combined, err := DecodeBase64(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	if len(combined) <= NonceSize {
		return Envelope{}, fmt.Errorf("%w: compact envelope too short: %d bytes", ErrInvalidPointer, len(combined))
	}
	return Envelope{
		Nonce:      combined[:NonceSize],
		Ciphertext: combined[NonceSize:],
	}, nil
}

// DecodeBase64 は標準base64をデコードする。
// 互換性のため '-' と '_' を含むURLセーフ形式、およびパディング欠落も受け付ける。
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}
