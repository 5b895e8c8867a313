package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/domain"
	"github.com/tributary-data/tributary/internal/service"
)

// parseID extracts and validates the {id} path parameter. Writes a 400 and
// returns false on malformed ids.
func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, "id must be a valid UUID", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decodeInput decodes a pipeline request body. Source config validation
// happens during unmarshalling, so a bad source type or scrape mode surfaces
// here as a 400.
func decodeInput(w http.ResponseWriter, r *http.Request) (service.PipelineInput, bool) {
	var in service.PipelineInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		errorJSON(w, "invalid request body: "+err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return in, false
	}
	return in, true
}

// serviceError maps service-layer errors onto the error envelope.
func serviceError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		errorJSON(w, "pipeline not found", "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, domain.ErrPipelineActive):
		errorJSON(w, "pipeline is already running", "ALREADY_RUNNING", http.StatusConflict)
	case errors.As(err, &cfgErr):
		errorJSON(w, cfgErr.Msg, "INVALID_CONFIG", http.StatusBadRequest)
	default:
		internalError(w, "operation failed", err)
	}
}

// HandleCreatePipeline creates a pipeline.
// POST /pipelines
func (s *Server) HandleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	p, err := s.Service.Create(r.Context(), in)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleListPipelines lists all pipelines.
// GET /pipelines
func (s *Server) HandleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.Service.List(r.Context())
	if err != nil {
		internalError(w, "failed to list pipelines", err)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

// HandleGetPipeline returns one pipeline.
// GET /pipelines/{id}
func (s *Server) HandleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	p, err := s.Service.Get(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdatePipeline overwrites a pipeline's user-supplied fields.
// PUT /pipelines/{id}
func (s *Server) HandleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	p, err := s.Service.Update(r.Context(), id, in)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDeletePipeline removes a pipeline.
// DELETE /pipelines/{id}
func (s *Server) HandleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.Service.Delete(r.Context(), id); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRunPipeline queues an immediate manual run.
// POST /pipelines/{id}/run
func (s *Server) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.Service.RunNow(r.Context(), id); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"detail": "pipeline run queued",
	})
}

// HandleGetResults returns the output of the last successful run, or null
// when the pipeline has never succeeded.
// GET /pipelines/{id}/results
func (s *Server) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	out, err := s.Service.LatestResults(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
