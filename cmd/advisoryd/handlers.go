package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/advisory"
	"github.com/raultorres2603/legal-ia-sub000/finance"
	"github.com/raultorres2603/legal-ia-sub000/saga"
)

type api struct {
	svc    *advisory.Service
	engine *saga.Engine
	logger *slog.Logger
}

func newAPI(svc *advisory.Service, engine *saga.Engine, logger *slog.Logger) http.Handler {
	a := &api{svc: svc, engine: engine, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/guidance", a.startGuidance)
	mux.HandleFunc("GET /api/guidance/{id}", a.getGuidance)
	mux.HandleFunc("GET /api/documents/{id}", a.getDocument)
	mux.HandleFunc("POST /api/invoices/{id}/reindex", a.reindexInvoice)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return a.logging(mux)
}

func (a *api) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (a *api) startGuidance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year int `json:"year"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	id, err := a.svc.StartGuidance(r.Context(), a.engine, bearerToken(r), req.Year)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instanceId": id.String()})
}

func (a *api) getGuidance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid instance id"})
		return
	}

	inst, err := a.engine.Status(r.Context(), id)
	if errors.Is(err, saga.ErrInstanceNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "instance not found"})
		return
	}
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := map[string]any{"status": inst.Status}
	if inst.Output != nil {
		resp["output"] = json.RawMessage(inst.Output)
	}
	if inst.Fault != nil {
		resp["fault"] = inst.Fault
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		return
	}

	doc, err := a.svc.GetDocument(r.Context(), bearerToken(r), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *api) reindexInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invoice id"})
		return
	}

	var req struct {
		Year  int                   `json:"year"`
		Items []finance.InvoiceItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Year == 0 {
		if y := r.URL.Query().Get("year"); y != "" {
			req.Year, _ = strconv.Atoi(y)
		}
	}

	instanceID, err := a.svc.StartReindex(r.Context(), a.engine, bearerToken(r), id, req.Year, req.Items)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instanceId": instanceID.String()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeFault maps fault kinds to HTTP statuses. Only the stable code is
// exposed; internal messages stay in the logs.
func writeFault(w http.ResponseWriter, err error) {
	var f *saga.Fault
	if !errors.As(err, &f) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	status := http.StatusInternalServerError
	switch f.Kind {
	case saga.FaultValidation:
		status = http.StatusBadRequest
	case saga.FaultAuthorization:
		status = http.StatusUnauthorized
	case saga.FaultNotFound:
		status = http.StatusNotFound
	case saga.FaultExternalService:
		status = http.StatusBadGateway
	case saga.FaultTransient:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": f.Code})
}
