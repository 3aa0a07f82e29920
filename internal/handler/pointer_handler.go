// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
	"wallet-vault-service/internal/middleware"
	"wallet-vault-service/internal/usecase"
	"wallet-vault-service/pkg/httputil"
)

// maxRequestBodySize は公開要求ボディの上限。
const maxRequestBodySize = 64 << 10

// PointerHandler は暗号化ポインタ台帳のHTTPハンドラを提供する。
type PointerHandler struct {
	service *usecase.PointerService
}

// NewPointerHandler は新しいPointerHandlerを生成する。
func NewPointerHandler(service *usecase.PointerService) *PointerHandler {
	return &PointerHandler{service: service}
}

func validateOwnerID(ownerID string) error {
	_, err := crypto.ParseOwnerID(ownerID)
	return err
}

func validateSequence(seqStr string) (uint, error) {
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil || seq < 1 {
		return 0, domain.ErrInvalidSequence
	}
	return uint(seq), nil
}

// PublishRequest はポインタ公開要求の形式。Sequence は公開後の世代番号、Signature はbase64。
type PublishRequest struct {
	EncryptedPointer string `json:"encrypted_pointer"`
	Sequence         uint   `json:"sequence"`
	Signature        string `json:"signature"`
}

// PublishResponse はポインタ公開結果のレスポンス形式。
type PublishResponse struct {
	OwnerID   string `json:"owner_id"`
	Sequence  uint   `json:"sequence"`
	CreatedAt string `json:"created_at"`
}

// PointerResponse はポインタのレスポンス形式。
type PointerResponse struct {
	OwnerID          string `json:"owner_id"`
	Sequence         uint   `json:"sequence"`
	EncryptedPointer string `json:"encrypted_pointer"`
	Signature        string `json:"signature"`
	CreatedAt        string `json:"created_at"`
}

// PointerListResponse はポインタ履歴のレスポンス形式。
type PointerListResponse struct {
	Pointers []PointerResponse `json:"pointers"`
}

func toPointerResponse(rec *domain.PointerRecord) PointerResponse {
	return PointerResponse{
		OwnerID:          rec.OwnerID,
		Sequence:         rec.Sequence,
		EncryptedPointer: rec.EncryptedPointer,
		Signature:        base64.StdEncoding.EncodeToString(rec.Signature),
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PublishPointer は署名付きの暗号化ポインタを次の世代として記録する。
func (h *PointerHandler) PublishPointer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := chi.URLParam(r, "owner_id")
	if err := validateOwnerID(ownerID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_OWNER_ID", "invalid owner ID format")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if req.EncryptedPointer == "" || req.Signature == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "encrypted_pointer and signature are required")
		return
	}
	if req.Sequence == 0 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SEQUENCE", "sequence must be the next generation number")
		return
	}
	sig, err := domain.DecodeBase64(req.Signature)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "signature must be base64")
		return
	}

	receipt, err := h.service.Publish(ctx, ownerID, req.EncryptedPointer, req.Sequence, sig)
	if err != nil {
		middleware.WriteAuditLog(ctx, "PUBLISH_POINTER", ownerID, req.Sequence, "FAILED")
		switch {
		case errors.Is(err, domain.ErrInvalidOwnerID):
			httputil.Error(w, http.StatusBadRequest, "INVALID_OWNER_ID", "invalid owner ID format")
		case errors.Is(err, domain.ErrInvalidPointer):
			httputil.Error(w, http.StatusBadRequest, "INVALID_POINTER", "encrypted pointer is malformed")
		case errors.Is(err, domain.ErrInvalidSequence):
			httputil.Error(w, http.StatusBadRequest, "INVALID_SEQUENCE", "invalid sequence number")
		case errors.Is(err, domain.ErrInvalidSignature):
			httputil.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature does not match owner")
		case errors.Is(err, domain.ErrStaleSequence):
			httputil.Error(w, http.StatusConflict, "STALE_SEQUENCE", "sequence is not the next generation")
		case errors.Is(err, domain.ErrSignatureReused):
			httputil.Error(w, http.StatusConflict, "SIGNATURE_REUSED", "signature already recorded")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(ctx, "PUBLISH_POINTER", ownerID, receipt.Sequence, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, PublishResponse{
		OwnerID:   receipt.OwnerID,
		Sequence:  receipt.Sequence,
		CreatedAt: receipt.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// GetLatestPointer は所有者の最新のポインタを取得する。
func (h *PointerHandler) GetLatestPointer(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	if err := validateOwnerID(ownerID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_OWNER_ID", "invalid owner ID format")
		return
	}

	rec, err := h.service.GetLatest(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrPointerNotFound) {
			httputil.Error(w, http.StatusNotFound, "POINTER_NOT_FOUND", "no pointer published for this owner")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toPointerResponse(rec))
}

// GetPointerBySequence は指定された世代のポインタを取得する。
func (h *PointerHandler) GetPointerBySequence(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	if err := validateOwnerID(ownerID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_OWNER_ID", "invalid owner ID format")
		return
	}
	sequence, err := validateSequence(chi.URLParam(r, "sequence"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SEQUENCE", "invalid sequence number")
		return
	}

	rec, err := h.service.GetBySequence(r.Context(), ownerID, sequence)
	if err != nil {
		if errors.Is(err, domain.ErrPointerNotFound) {
			httputil.Error(w, http.StatusNotFound, "POINTER_NOT_FOUND", "pointer not found for this owner and sequence")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toPointerResponse(rec))
}

// ListPointers はポインタ履歴を古い順に取得する。
func (h *PointerHandler) ListPointers(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	if err := validateOwnerID(ownerID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_OWNER_ID", "invalid owner ID format")
		return
	}

	recs, err := h.service.ListHistory(r.Context(), ownerID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	response := PointerListResponse{
		Pointers: make([]PointerResponse, len(recs)),
	}
	for i, rec := range recs {
		response.Pointers[i] = toPointerResponse(rec)
	}
	httputil.JSON(w, http.StatusOK, response)
}
