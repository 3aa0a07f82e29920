package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wallet-vault-service/internal/domain"
)

// DefaultGatewayTimeout は取得先1件あたりの待ち時間の既定値。
const DefaultGatewayTimeout = 10 * time.Second

// maxBlobSize は取得するブロブの上限サイズ。
const maxBlobSize = 32 << 20

// ErrBlobTooLarge は取得したブロブが上限サイズを超えた場合のエラー。
var ErrBlobTooLarge = errors.New("blob exceeds size limit")

// IPFSBlobStore はIPFSノードにブロブを保存し、ノードまたはゲートウェイから取得する。
type IPFSBlobStore struct {
	shell    *shell.Shell
	gateways []string
	client   *http.Client
	timeout  time.Duration
	maxSize  int64
}

// NewIPFSBlobStore は新しいIPFSBlobStoreを生成する。
// apiURL が空ならアップロードはできず、取得はゲートウェイのみを使う。
func NewIPFSBlobStore(apiURL string, gateways []string, timeout time.Duration) *IPFSBlobStore {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	s := &IPFSBlobStore{
		gateways: gateways,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:  timeout,
		maxSize:  maxBlobSize,
	}
	if apiURL != "" {
		s.shell = shell.NewShell(apiURL)
		s.shell.SetTimeout(timeout)
	}
	return s
}

// Upload はラッパーペイロードをピン留めして追加し、CIDを返す。
func (s *IPFSBlobStore) Upload(ctx context.Context, payload string) (string, error) {
	if s.shell == nil {
		return "", fmt.Errorf("IPFS API URL is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cid, err := s.shell.Add(strings.NewReader(payload), shell.Pin(true))
	if err != nil {
		slog.ErrorContext(ctx, "failed to upload blob",
			"operation", "ipfs_add",
			"size", len(payload),
			"error", err,
		)
		return "", fmt.Errorf("adding blob to IPFS: %w", err)
	}
	slog.InfoContext(ctx, "blob uploaded",
		"operation", "ipfs_add",
		"cid", cid,
		"size", len(payload),
	)
	return cid, nil
}

// Download はノード、次に各ゲートウェイを優先順に試し、最初の有効なペイロードを返す。
// ラッパーとして解析できない応答は失敗として次の取得先へ進む。
func (s *IPFSBlobStore) Download(ctx context.Context, cid string) (string, error) {
	if cid == "" {
		return "", fmt.Errorf("%w: empty CID", domain.ErrBlobUnavailable)
	}

	var errs []error
	if s.shell != nil {
		data, err := s.attempt(ctx, "node", func(ctx context.Context) (string, error) {
			return s.catFromNode(ctx, cid)
		})
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("node: %w", err))
	}

	for _, gw := range s.gateways {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		url := strings.TrimRight(gw, "/") + "/ipfs/" + cid
		data, err := s.attempt(ctx, gw, func(ctx context.Context) (string, error) {
			return s.fetchFromGateway(ctx, url)
		})
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", gw, err))
	}

	slog.ErrorContext(ctx, "blob unavailable",
		"operation", "ipfs_download",
		"cid", cid,
		"attempts", len(errs),
	)
	return "", fmt.Errorf("%w: %w", domain.ErrBlobUnavailable, errors.Join(errs...))
}

// attempt は1件の取得を timeout で区切り、ペイロードの形式を検証する。
func (s *IPFSBlobStore) attempt(ctx context.Context, source string, fetch func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := fetch(ctx)
	if err == nil {
		_, err = domain.ParseBlobPayload(data)
	}
	if err != nil {
		slog.WarnContext(ctx, "blob fetch attempt failed",
			"operation", "ipfs_download",
			"source", source,
			"error", err,
		)
		return "", err
	}
	return data, nil
}

func (s *IPFSBlobStore) catFromNode(ctx context.Context, cid string) (string, error) {
	resp, err := s.shell.Request("cat", cid).Send(ctx)
	if err != nil {
		return "", err
	}
	defer resp.Close()
	if resp.Error != nil {
		return "", resp.Error
	}
	return s.readBlob(resp.Output)
}

func (s *IPFSBlobStore) fetchFromGateway(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return s.readBlob(resp.Body)
}

// readBlob は上限サイズまで読み込む。上限を超えるブロブは切り詰めずに ErrBlobTooLarge とする。
func (s *IPFSBlobStore) readBlob(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrBlobTooLarge, s.maxSize)
	}
	return string(data), nil
}
