// Package freight_api exposes webhook ingestion, live lookup and manual demurrage over HTTP.
package freight_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/services/containers"
	"github.com/BearBump/FreightBox/internal/services/demurrage"
	"github.com/BearBump/FreightBox/internal/services/ingest"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const maxWebhookBody = 5 << 20

// SignatureHeaders are checked in order; the first non-empty one is used.
var SignatureHeaders = []string{"X-Webhook-Signature", "X-Hub-Signature-256", "X-Signature"}

type WebhookIngestor interface {
	ProcessWebhook(ctx context.Context, integrationID uint64, payload []byte, signature string) (int, error)
}

type ContainerLookup interface {
	Lookup(ctx context.Context, integrationID uint64, containerNumber string) (*containers.LiveStatus, error)
}

type DemurrageCalculator interface {
	CalculateForContainer(ctx context.Context, containerID uint64) (*demurrage.Result, error)
}

type FreightAPI struct {
	ingestor  WebhookIngestor
	lookup    ContainerLookup
	demurrage DemurrageCalculator
}

func New(ingestor WebhookIngestor, lookup ContainerLookup, dem DemurrageCalculator) *FreightAPI {
	return &FreightAPI{ingestor: ingestor, lookup: lookup, demurrage: dem}
}

func (a *FreightAPI) Routes(r chi.Router) {
	r.Post("/integrations/{id}/webhook", a.handleWebhook)
	r.Get("/integrations/{id}/containers/{number}", a.handleLookup)
	r.Post("/containers/{id}/demurrage", a.handleDemurrage)
}

type processedResponse struct {
	Processed int `json:"processed"`
}

type demurrageResponse struct {
	Overdue bool `json:"overdue"`
	*demurrage.Result
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *FreightAPI) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	n, err := a.ingestor.ProcessWebhook(r.Context(), id, body, signature(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processedResponse{Processed: n})
}

func (a *FreightAPI) handleLookup(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	st, err := a.lookup.Lookup(r.Context(), id, chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *FreightAPI) handleDemurrage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := a.demurrage.CalculateForContainer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demurrageResponse{Overdue: res != nil, Result: res})
}

func signature(r *http.Request) string {
	for _, h := range SignatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrIntegrationNotFound),
		errors.Is(err, containers.ErrIntegrationNotFound),
		errors.Is(err, containers.ErrContainerNotFound),
		errors.Is(err, demurrage.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, carrier.ErrUnsupportedCarrier):
		return http.StatusUnprocessableEntity
	case errors.Is(err, carrier.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ingest.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", msg)
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
