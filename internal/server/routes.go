package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ctrlmap/mapper/internal/intake"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/mappings", s.handleMappingsRoot)
	mux.HandleFunc("/mappings/", s.handleMappingGet)
}

// --- System handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness by touching the control catalog, the
// pipeline's one synchronous dependency on the request path (§4.8 step 2).
// A missing probe key is the expected result; any other error means the
// catalog's backing store is unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	if _, _, err := s.app.Catalog.GetFramework(r.Context(), "__readyz_probe__#0"); err != nil {
		loggerFromRequest(r, s.logger).Warn().Err(err).Msg("readiness probe failed")
		WriteError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Mapping submission / status (C8, C11) ---

type submitMappingRequest struct {
	SourceControlKey   string   `json:"sourceControlKey"`
	TargetFrameworkKey string   `json:"targetFrameworkKey"`
	TargetControlIDs   []string `json:"targetControlIds,omitempty"`
}

type submitMappingResponse struct {
	MappingID string `json:"mappingId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

type notFoundResponse struct {
	Error                      string   `json:"error"`
	SourceControlSuggestions   []string `json:"sourceControlSuggestions,omitempty"`
	TargetFrameworkSuggestions []string `json:"targetFrameworkSuggestions,omitempty"`
}

func (s *Server) handleMappingsRoot(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body submitMappingRequest
	if !DecodeJSON(w, r, &body) {
		return
	}

	accepted, err := s.app.Intake.Submit(r.Context(), intake.Request{
		SourceControlKey:   body.SourceControlKey,
		TargetFrameworkKey: body.TargetFrameworkKey,
		TargetControlIDs:   body.TargetControlIDs,
	})
	if err != nil {
		s.writeIntakeError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, submitMappingResponse{
		MappingID: accepted.MappingID,
		Status:    accepted.Status,
		StatusURL: accepted.StatusURL,
	})
}

func (s *Server) writeIntakeError(w http.ResponseWriter, r *http.Request, err error) {
	var nfe *intake.NotFoundError
	if errors.As(err, &nfe) {
		WriteJSON(w, http.StatusNotFound, notFoundResponse{
			Error:                      nfe.Error(),
			SourceControlSuggestions:   nfe.Suggestions.SourceControlSuggestions,
			TargetFrameworkSuggestions: nfe.Suggestions.TargetFrameworkSuggestions,
		})
		return
	}
	if errors.Is(err, pipelineerr.ErrMalformedKey) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	loggerFromRequest(r, s.logger).Error().Err(err).Msg("mapping submission failed")
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) handleMappingGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	mappingID := strings.TrimPrefix(r.URL.Path, "/mappings/")
	if mappingID == "" || strings.Contains(mappingID, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	projection, err := s.app.StatusQuery.Get(r.Context(), mappingID)
	if err != nil {
		if errors.Is(err, pipelineerr.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "mapping not found")
			return
		}
		loggerFromRequest(r, s.logger).Error().Err(err).Str("mappingId", mappingID).Msg("status query failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, projection)
}
