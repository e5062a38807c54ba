package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/logging"
)

// handleVectorSearch handles POST /api/v1/rag/vectors/search. With
// ?useRAGRewrite=true the query is rewritten before retrieval and the
// rewrite is returned.
func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	var req api.VectorSearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	rewrite := false
	if v := r.URL.Query().Get("useRAGRewrite"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "useRAGRewrite must be a boolean", http.StatusBadRequest)
			return
		}
		rewrite = b
	}

	n := req.NumMatches
	if n <= 0 {
		n = s.cfg.DefaultRAGDocuments
	}

	resp := api.VectorSearchResponse{}
	query := req.Query
	if rewrite {
		resp.RewrittenQuery = s.corpus.Rewrite(req.Query)
		if resp.RewrittenQuery != "" {
			query = resp.RewrittenQuery
		}
	}
	results, err := s.search(r.Context(), query, n, req.DocumentSourceIDs)
	if err != nil {
		logging.FromContext(r.Context()).Error("vector search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}
	resp.SearchResults = nonNil(results)

	writeJSON(w, r, http.StatusOK, resp)
}

// handleDocuments handles GET /api/v1/rag/document/imported/all.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.corpus.Documents())
}
