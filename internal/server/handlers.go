package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
)

const (
	reloadStatusStarted = "loading"
	errFmtInvalidBody   = "invalid request body: %v"
	logFmtGenerateError = "Generate failed (request_id=%s): %v"
)

func (s *Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	s.writeJSON(writer, request, http.StatusOK, s.deps.Health.Report())
}

// handleVoices lists the catalog. With ?tier= only the family that tier can
// use is listed.
func (s *Server) handleVoices(writer http.ResponseWriter, request *http.Request) {
	tierName := request.URL.Query().Get("tier")

	response := api.VoicesResponse{
		Voices:           nil,
		Tier:             "",
		SupportsCloning:  false,
		VoiceSamplesPath: s.deps.Catalog.SamplesDir(),
	}

	var entries []voice.Entry

	if tierName == "" {
		for _, which := range tier.All() {
			tierCfg := s.cfg.Tiers.For(which)
			response.SupportsCloning = response.SupportsCloning || (tierCfg.Enabled && tierCfg.SupportsCloning)
		}

		entries = s.deps.Catalog.List()
	} else {
		which, err := tier.Parse(tierName)
		if err != nil {
			s.writeError(writer, request, http.StatusBadRequest, api.CodeValidation, err.Error())

			return
		}

		family := voice.FamilyPreset
		if s.cfg.Tiers.For(which).SupportsCloning {
			family = voice.FamilyCloning
		}

		response.Tier = which.String()
		response.SupportsCloning = family == voice.FamilyCloning
		entries = s.deps.Catalog.List(family)
	}

	response.Voices = make([]api.Voice, 0, len(entries))
	for _, entry := range entries {
		response.Voices = append(response.Voices, api.Voice{
			ID:          entry.ID,
			Name:        entry.Name,
			Description: entry.Description,
			Gender:      entry.Gender,
			Accent:      entry.Accent,
			Style:       entry.Style,
			Family:      string(entry.Family),
			HasSample:   entry.HasSample,
		})
	}

	s.writeJSON(writer, request, http.StatusOK, response)
}

func (s *Server) handleGenerate(writer http.ResponseWriter, request *http.Request) {
	var body api.GenerateRequest

	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes))

	err := decoder.Decode(&body)
	if err != nil {
		s.writeError(writer, request, http.StatusBadRequest, api.CodeValidation, fmt.Sprintf(errFmtInvalidBody, err))

		return
	}

	result, err := s.deps.Generator.Generate(request.Context(), body)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			s.log.Error(logFmtGenerateError, request.Header.Get(headerRequestID), err)
		}

		s.writeError(writer, request, status, code, err.Error())

		return
	}

	s.writeJSON(writer, request, http.StatusOK, api.GenerateResponse{
		AudioBase64:           base64.StdEncoding.EncodeToString(result.WAV),
		SampleRate:            result.SampleRate,
		DurationSeconds:       result.Duration,
		Format:                string(result.Format),
		TierUsed:              result.TierUsed.String(),
		ModelUsed:             result.ModelUsed,
		RequestedTier:         result.RequestedTier.String(),
		Fallback:              result.Fallback,
		GenerationTimeSeconds: result.GenerationTime.Seconds(),
		RealTimeFactor:        result.RealTimeFactor(),
	})
}

// handleReload starts a retry for one tier: 202 when a load began, 409 when
// the tier is loading or ready, 404 for unknown or disabled tiers.
func (s *Server) handleReload(writer http.ResponseWriter, request *http.Request) {
	which, err := tier.Parse(request.PathValue("tier"))
	if err != nil {
		s.writeError(writer, request, http.StatusNotFound, api.CodeNotFound, err.Error())

		return
	}

	err = s.deps.Reloader.Reload(which)

	switch {
	case err == nil:
		s.writeJSON(writer, request, http.StatusAccepted, api.ReloadResponse{
			Tier:   which.String(),
			Status: reloadStatusStarted,
		})
	case errors.Is(err, lifecycle.ErrTierDisabled):
		s.writeError(writer, request, http.StatusNotFound, api.CodeNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrLoadInProgress), errors.Is(err, lifecycle.ErrAlreadyLoaded):
		s.writeError(writer, request, http.StatusConflict, api.CodeConflict, err.Error())
	default:
		s.writeError(writer, request, http.StatusServiceUnavailable, api.CodeNoBackendReady, err.Error())
	}
}

// classify maps an orchestration error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest, api.CodeValidation
	case errors.Is(err, orchestrator.ErrNoBackendReady):
		return http.StatusServiceUnavailable, api.CodeNoBackendReady
	case errors.Is(err, orchestrator.ErrBackendExhausted):
		return http.StatusServiceUnavailable, api.CodeBackendExhausted
	default:
		return http.StatusInternalServerError, api.CodeBackendFailure
	}
}

func (s *Server) writeError(writer http.ResponseWriter, request *http.Request, status int, code, detail string) {
	s.writeJSON(writer, request, status, api.ErrorResponse{Detail: detail, ErrorCode: code})
}

func (s *Server) writeJSON(writer http.ResponseWriter, request *http.Request, status int, body any) {
	writer.Header().Set(headerContentType, contentTypeJSON)
	writer.WriteHeader(status)

	err := json.NewEncoder(writer).Encode(body)
	if err != nil {
		s.log.Warn(logFmtEncodeError, request.Header.Get(headerRequestID), err)
	}
}
