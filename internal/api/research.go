package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/intent"
	"github.com/Keyring-Network/keyring-helix/internal/research"
	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type startResearchRequest struct {
	Query    string `json:"query"`
	Enhanced bool   `json:"enhanced"`
}

type researchResponse struct {
	ID          string   `json:"id"`
	Query       string   `json:"query"`
	Profile     string   `json:"profile"`
	Status      string   `json:"status"`
	URLs        []string `json:"urls"`
	FetchedURLs []string `json:"fetched_urls"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func (s *Server) startResearch(w http.ResponseWriter, r *http.Request) {
	if s.research == nil {
		http.Error(w, "research workflows unavailable", http.StatusServiceUnavailable)
		return
	}
	var req startResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	report := store.ResearchReport{
		ID:        uuid.New().String(),
		Query:     query,
		Profile:   research.ProfileFor(req.Enhanced).Name,
		Status:    store.ReportPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateResearchReport(r.Context(), report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.research.StartResearch(r.Context(), report.ID, query, req.Enhanced); err != nil {
		s.logger.Error("start research workflow", zap.String("report_id", report.ID), zap.Error(err))
		report.Status = store.ReportFailed
		report.Error = err.Error()
		report.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		_ = s.store.UpdateResearchReport(r.Context(), report)
		http.Error(w, "failed to start research", http.StatusBadGateway)
		return
	}
	writeJSONStatus(w, toResearchResponse(report), http.StatusAccepted)
}

func (s *Server) getResearch(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetResearchReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "research report not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toResearchResponse(*report))
}

func (s *Server) cancelResearch(w http.ResponseWriter, r *http.Request) {
	if s.research == nil {
		http.Error(w, "research workflows unavailable", http.StatusServiceUnavailable)
		return
	}
	reportID := chi.URLParam(r, "id")
	report, err := s.store.GetResearchReport(r.Context(), reportID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "research report not found", http.StatusNotFound)
		return
	}
	if err := s.research.CancelResearch(r.Context(), reportID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func toResearchResponse(report store.ResearchReport) researchResponse {
	urls := report.URLs
	if urls == nil {
		urls = []string{}
	}
	fetched := report.FetchedURLs
	if fetched == nil {
		fetched = []string{}
	}
	return researchResponse{
		ID:          report.ID,
		Query:       report.Query,
		Profile:     report.Profile,
		Status:      report.Status,
		URLs:        urls,
		FetchedURLs: fetched,
		Error:       report.Error,
		CreatedAt:   report.CreatedAt,
		UpdatedAt:   report.UpdatedAt,
	}
}

type classifyRequest struct {
	Content      string `json:"content"`
	DeepResearch bool   `json:"deep_research"`
	HasDocument  bool   `json:"has_document"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	writeJSON(w, intent.Classify(intent.Input{
		Text:         req.Content,
		HasDocument:  req.HasDocument,
		DeepResearch: req.DeepResearch,
	}))
}
