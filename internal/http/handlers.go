// Package http exposes the payment-gated API: 402 payment request
// issuance, receipt redemption and the generation job endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"assetgate/internal/jobs"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/payment"
	"assetgate/internal/provider"
	"assetgate/internal/store"
	"assetgate/internal/tokens"
)

type Handler struct {
	Signer    *payment.RequestSigner
	Receipts  *payment.ReceiptIssuer
	Codec     *tokens.Codec
	Jobs      *jobs.Manager
	Store     *store.Store
	AssetsDir string

	// Missing lists absent identity configuration; non-empty disables
	// payment request issuance with a server_misconfigured body.
	Missing []string

	Log     logging.Logger
	Metrics metrics.Recorder
}

type paymentRequestSummary struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type paymentRequiredBody struct {
	Error               string                 `json:"error"`
	JobID               string                 `json:"jobId"`
	PaymentRequest      paymentRequestSummary  `json:"paymentRequest"`
	PaymentOptions      []models.PaymentOption `json:"paymentOptions"`
	PaymentRequestToken string                 `json:"paymentRequestToken"`
}

// respondPaymentRequired answers 402 with a freshly signed payment
// request bound to jobID, or server_misconfigured when key material is
// absent.
func (h *Handler) respondPaymentRequired(ctx context.Context, w http.ResponseWriter, jobID string, kind models.ResourceKind, durationSeconds int) {
	if len(h.Missing) > 0 {
		writeError(w, http.StatusPaymentRequired, "server_misconfigured", map[string]any{
			"missing": h.Missing,
		})
		return
	}

	signed, err := h.Signer.Create(kind, durationSeconds)
	if err != nil {
		status, code := statusForPayment(err)
		writeError(w, status, code, nil)
		return
	}

	opt := signed.Request.PaymentOptions[0]
	if h.Store != nil {
		if err := h.Store.InsertPaymentRequest(ctx, &models.IssuedRequest{
			RequestID: signed.Request.ID,
			JobID:     jobID,
			Kind:      kind,
			Amount:    opt.Amount,
			ExpiresAt: signed.Request.ExpiresAt,
		}); err != nil {
			h.Log.Warn("payment request audit insert failed", map[string]any{
				"request_id": signed.Request.ID,
				"error":      err.Error(),
			})
		}
	}

	h.Metrics.IncCounter("payment_request_issued", map[string]string{"kind": string(kind)})
	writeJSON(w, http.StatusPaymentRequired, paymentRequiredBody{
		Error: "payment_required",
		JobID: jobID,
		PaymentRequest: paymentRequestSummary{
			ID:        signed.Request.ID,
			Amount:    payment.HumanAmount(opt.Amount, opt.Decimals),
			Currency:  opt.Currency,
			ExpiresAt: signed.Request.ExpiresAt,
		},
		PaymentOptions:      signed.Request.PaymentOptions,
		PaymentRequestToken: signed.Token,
	})
}

// GetResource serves a gated resource reference, or demands payment.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if token := bearerToken(r); token != "" {
		claims, err := h.Codec.Verify(token)
		if err != nil {
			status, code := statusForToken(err)
			writeError(w, status, code, nil)
			return
		}
		if claims.JobID != id {
			writeError(w, http.StatusForbidden, "forbidden", map[string]any{"reason": "job_mismatch"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": "/api/assets/" + id})
		return
	}

	h.respondPaymentRequired(r.Context(), w, id, models.KindImage, 0)
}

type jobRequestBody struct {
	Kind     string `json:"kind"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	ImageURL string `json:"image_url"`
}

// RequestJob opens a new generation attempt: validates the parameters
// and answers 402 with a fresh job id and payment request.
func (h *Handler) RequestJob(w http.ResponseWriter, r *http.Request) {
	var body jobRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}

	kind := models.ResourceKind(body.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", map[string]any{"reason": "unknown kind"})
		return
	}
	switch kind {
	case models.KindMusic:
		if body.Prompt == "" || body.Duration <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", map[string]any{"reason": "music requires prompt and duration"})
			return
		}
	case models.KindAnimation:
		if body.ImageURL == "" {
			writeError(w, http.StatusBadRequest, "bad_request", map[string]any{"reason": "animation requires image_url"})
			return
		}
	case models.KindImage:
		if body.Prompt == "" {
			writeError(w, http.StatusBadRequest, "bad_request", map[string]any{"reason": "image requires prompt"})
			return
		}
	}

	h.respondPaymentRequired(r.Context(), w, uuid.NewString(), kind, body.Duration)
}

type receiptRequestBody struct {
	Signature           string `json:"signature"`
	PaymentRequestToken string `json:"paymentRequestToken"`
	JobID               string `json:"jobId"`
	PaymentOptionID     string `json:"paymentOptionId"`
}

// IssueReceipt redeems an on-chain payment for a receipt credential and
// access token.
func (h *Handler) IssueReceipt(w http.ResponseWriter, r *http.Request) {
	var body receiptRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}
	if body.Signature == "" || body.PaymentRequestToken == "" || body.JobID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", map[string]any{
			"reason": "signature, paymentRequestToken and jobId are required",
		})
		return
	}

	receipt, accessToken, err := h.Receipts.Issue(r.Context(), body.Signature, body.PaymentRequestToken, body.JobID, body.PaymentOptionID)
	if err != nil {
		status, code := statusForPayment(err)
		h.Log.Info("receipt issuance rejected", map[string]any{
			"signature": body.Signature,
			"code":      code,
		})
		writeError(w, status, code, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"receipt":     receipt,
		"accessToken": accessToken,
	})
}

type startJobBody struct {
	Kind   string         `json:"kind"`
	JobID  string         `json:"jobId"`
	Params map[string]any `json:"params"`
}

// StartJob submits the paid-for generation job. The bearer access token
// must be bound to the submitted job id.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var body startJobBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}
	if body.JobID != claims.JobID {
		writeError(w, http.StatusForbidden, "forbidden", map[string]any{"reason": "job_mismatch"})
		return
	}
	kind := models.ResourceKind(body.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", map[string]any{"reason": "unknown kind"})
		return
	}

	job, err := h.Jobs.Start(r.Context(), body.JobID, kind, body.Params)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":     job.JobID,
		"requestId": job.RequestID,
		"state":     job.State,
	})
}

// JobStatus reports the tracked state of a submitted job.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	job, err := h.Jobs.Get(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_ready", nil)
		return
	}

	body := map[string]any{
		"jobId":     job.JobID,
		"requestId": job.RequestID,
		"state":     job.State,
	}
	if job.ResultURL != nil {
		body["url"] = *job.ResultURL
	}
	writeJSON(w, http.StatusOK, body)
}

// JobResult serves the final asset URL, 404 not_ready until it exists.
func (h *Handler) JobResult(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	url, err := h.Jobs.Result(r.Context(), requestID)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrNotReady), errors.Is(err, jobs.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "not_ready", nil)
		default:
			h.writeProviderError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	var perr *provider.Error
	if errors.As(err, &perr) {
		writeError(w, http.StatusBadGateway, "provider_error", map[string]any{"code": perr.Code})
		return
	}
	if errors.Is(err, jobs.ErrJobFailed) {
		writeError(w, http.StatusBadGateway, "provider_error", nil)
		return
	}
	if errors.Is(err, jobs.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, "not_ready", nil)
		return
	}
	h.Log.Error("job request failed", map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "server_error", nil)
}

// authorize extracts and verifies the bearer access token.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*tokens.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	claims, err := h.Codec.Verify(token)
	if err != nil {
		status, code := statusForToken(err)
		writeError(w, status, code, nil)
		return nil, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
