package infra

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wallet-vault-service/internal/domain"
)

// registryErrors は台帳サーバーのエラーコードとドメインエラーの対応。
var registryErrors = map[string]error{
	"INVALID_OWNER_ID":  domain.ErrInvalidOwnerID,
	"INVALID_SEQUENCE":  domain.ErrInvalidSequence,
	"INVALID_POINTER":   domain.ErrInvalidPointer,
	"INVALID_SIGNATURE": domain.ErrInvalidSignature,
	"POINTER_NOT_FOUND": domain.ErrPointerNotFound,
	"STALE_SEQUENCE":    domain.ErrStaleSequence,
	"SIGNATURE_REUSED":  domain.ErrSignatureReused,
}

type publishRequest struct {
	EncryptedPointer string `json:"encrypted_pointer"`
	Sequence         uint   `json:"sequence"`
	Signature        string `json:"signature"`
}

type publishResponse struct {
	OwnerID   string    `json:"owner_id"`
	Sequence  uint      `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

type pointerResponse struct {
	OwnerID          string    `json:"owner_id"`
	Sequence         uint      `json:"sequence"`
	EncryptedPointer string    `json:"encrypted_pointer"`
	Signature        string    `json:"signature"`
	CreatedAt        time.Time `json:"created_at"`
}

type pointerListResponse struct {
	Pointers []pointerResponse `json:"pointers"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegistryClient はポインタ台帳サーバーのHTTPクライアント。
type RegistryClient struct {
	baseURL string
	client  *http.Client
}

// NewRegistryClient は新しいRegistryClientを生成する。
func NewRegistryClient(baseURL string, timeout time.Duration) *RegistryClient {
	return &RegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *RegistryClient) pointersURL(ownerID string, suffix string) string {
	return c.baseURL + "/v1/owners/" + url.PathEscape(ownerID) + "/pointers/" + suffix
}

// PublishPointer は署名付きの暗号化ポインタを sequence の世代として公開する。
func (c *RegistryClient) PublishPointer(ctx context.Context, ownerID, encryptedPointer string, sequence uint, signature []byte) (*domain.PublishReceipt, error) {
	body, err := json.Marshal(publishRequest{
		EncryptedPointer: encryptedPointer,
		Sequence:         sequence,
		Signature:        base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, err
	}

	var resp publishResponse
	if err := c.do(ctx, http.MethodPost, c.pointersURL(ownerID, ""), body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &domain.PublishReceipt{
		OwnerID:   resp.OwnerID,
		Sequence:  resp.Sequence,
		CreatedAt: resp.CreatedAt,
	}, nil
}

// ReadLatestPointer は最新のポインタを取得する。未公開なら domain.ErrPointerNotFound。
func (c *RegistryClient) ReadLatestPointer(ctx context.Context, ownerID string) (*domain.PointerRecord, error) {
	var resp pointerResponse
	if err := c.do(ctx, http.MethodGet, c.pointersURL(ownerID, "latest"), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain()
}

// ListPointers はポインタ履歴を古い順に取得する。
func (c *RegistryClient) ListPointers(ctx context.Context, ownerID string) ([]*domain.PointerRecord, error) {
	var resp pointerListResponse
	if err := c.do(ctx, http.MethodGet, c.pointersURL(ownerID, ""), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	recs := make([]*domain.PointerRecord, 0, len(resp.Pointers))
	for i := range resp.Pointers {
		rec, err := resp.Pointers[i].toDomain()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (p *pointerResponse) toDomain() (*domain.PointerRecord, error) {
	sig, err := domain.DecodeBase64(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}
	return &domain.PointerRecord{
		OwnerID:          p.OwnerID,
		Sequence:         p.Sequence,
		EncryptedPointer: p.EncryptedPointer,
		Signature:        sig,
		CreatedAt:        p.CreatedAt,
	}, nil
}

func (c *RegistryClient) do(ctx context.Context, method, target string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return registryError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// registryError はエラーレスポンスをドメインエラーに変換する。
func registryError(status int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if sentinel, ok := registryErrors[errResp.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, errResp.Message)
		}
		if errResp.Message != "" {
			return fmt.Errorf("registry returned status %d: %s", status, errResp.Message)
		}
	}
	if status == http.StatusNotFound {
		return domain.ErrPointerNotFound
	}
	return fmt.Errorf("registry returned status %d", status)
}
