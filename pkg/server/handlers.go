package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/entrhq/memoryd/pkg/memory"
	"github.com/entrhq/memoryd/pkg/registry"
	"github.com/entrhq/memoryd/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Now int64 `json:"now"`
}

type searchRequest struct {
	Text string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		debugLog.Warnf("writing JSON response: %v", err)
	}
}

// writeError maps validation failures to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if types.IsValidation(err) {
		status = http.StatusBadRequest
	} else {
		debugLog.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return types.ValidationError("request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return types.ValidationError("request body is empty")
		default:
			return types.ValidationError("invalid JSON body: %v", err)
		}
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.ValidationError("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Now: time.Now().UnixMilli()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", registry.DefaultPage)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", registry.DefaultSize)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.backend.ListSessions(r.Context(), r.URL.Query().Get("namespace"), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostMemory(w http.ResponseWriter, r *http.Request) {
	var req memory.AppendRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	for i, m := range req.Messages {
		if m.Role == "" {
			writeError(w, types.ValidationError("message %d has no role", i))
			return
		}
	}
	if err := s.backend.Append(r.Context(), r.PathValue("id"), r.URL.Query().Get("namespace"), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "Ok"})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Delete(r.Context(), r.PathValue("id"), r.URL.Query().Get("namespace")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "Ok"})
}

func (s *Server) handleRetrieval(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.backend.Search(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, fmt.Errorf("retrieval: %w", err))
		return
	}
	if results == nil {
		results = []types.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
