// Package api defines the JSON documents exchanged over the murmur HTTP
// surface. The server produces them and the client consumes them, so both
// sides share a single definition.
package api

// Error codes carried in ErrorResponse.ErrorCode.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNoBackendReady   = "NO_BACKEND_READY"
	CodeBackendExhausted = "RESOURCE_EXHAUSTED"
	CodeBackendFailure   = "BACKEND_FAILURE"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
)

// Health statuses.
const (
	StatusOK         = "ok"
	StatusLoading    = "loading"
	StatusNotStarted = "not_started"
	StatusError      = "error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// GenerateRequest is the body of POST /generate. Pointer fields distinguish
// "absent" from zero so defaults can be applied.
type GenerateRequest struct {
	Text            string   `json:"text"`
	Tier            string   `json:"tier,omitempty"`
	LegacyModel     string   `json:"legacy_model,omitempty"`
	Exaggeration    *float64 `json:"exaggeration,omitempty"`
	CFGWeight       *float64 `json:"cfg_weight,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	VoiceID         string   `json:"voice_id,omitempty"`
	AudioPromptPath string   `json:"audio_prompt_path,omitempty"`
	FadeOutSeconds  *float64 `json:"fade_out_seconds,omitempty"`
}

// GenerateResponse is the body of a successful POST /generate.
type GenerateResponse struct {
	AudioBase64           string  `json:"audio_base64"`
	SampleRate            int     `json:"sample_rate"`
	DurationSeconds       float64 `json:"duration_seconds"`
	Format                string  `json:"format"`
	TierUsed              string  `json:"tier_used"`
	ModelUsed             string  `json:"model_used"`
	RequestedTier         string  `json:"requested_tier"`
	Fallback              bool    `json:"fallback"`
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`
	RealTimeFactor        float64 `json:"real_time_factor"`
}

// TierHealth is the per-tier part of HealthResponse.
type TierHealth struct {
	Available bool   `json:"available"`
	Loading   bool   `json:"loading"`
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model"`
	LoadError string `json:"load_error,omitempty"`
}

// HealthResponse is the body of GET /health. ModelLoaded and ModelLoading are
// aggregate flags kept for clients of the single-model server.
type HealthResponse struct {
	Status       string                `json:"status"`
	Device       string                `json:"device"`
	Tiers        map[string]TierHealth `json:"tiers"`
	ModelLoaded  bool                  `json:"model_loaded"`
	ModelLoading bool                  `json:"model_loading"`
	VoicesCount  int                   `json:"voices_count"`
}

// Voice is one entry of GET /voices.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
	Accent      string `json:"accent,omitempty"`
	Style       string `json:"style"`
	Family      string `json:"family"`
	HasSample   bool   `json:"has_sample"`
}

// VoicesResponse is the body of GET /voices.
type VoicesResponse struct {
	Voices           []Voice `json:"voices"`
	Tier             string  `json:"tier,omitempty"`
	SupportsCloning  bool    `json:"supports_cloning"`
	VoiceSamplesPath string  `json:"voice_samples_path"`
}

// ReloadResponse is the body of a successful POST /tiers/{tier}/reload.
type ReloadResponse struct {
	Tier   string `json:"tier"`
	Status string `json:"status"`
}
