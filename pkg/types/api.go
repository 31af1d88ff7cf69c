package types

// PredictionRequest is the body of POST /predictions.
type PredictionRequest struct {
	// Optional caller-chosen prediction id. A UUID is generated when empty.
	// example: 3f1c2a4e-8c1d-4b0e-9a53-2e0c7f1d9b11
	ID string `json:"id,omitempty" example:"3f1c2a4e-8c1d-4b0e-9a53-2e0c7f1d9b11"`
	// Prediction inputs.
	Input PredictionInput `json:"input"`
}

// PredictionInput carries the image, prompt and sampling parameters.
type PredictionInput struct {
	// Image as plain base64 or a data URI (data:image/png;base64,...).
	Image string `json:"image"`
	// Prompt text sent alongside the image.
	// example: Describe this image.
	Prompt string `json:"prompt" example:"Describe this image."`
	// Sampling temperature in [0, 1]. Defaults to 0.7.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability in [0, 1]. Defaults to 0.95.
	// example: 0.95
	TopP *float64 `json:"top_p,omitempty" example:"0.95"`
	// Maximum number of tokens to generate. Defaults to 512.
	// example: 512
	MaxTokens *int `json:"max_tokens,omitempty" example:"512"`
}

// PredictionLine is one NDJSON line of a POST /predictions response: either
// an output fragment or the terminal status line.
type PredictionLine struct {
	// example: 3f1c2a4e-8c1d-4b0e-9a53-2e0c7f1d9b11
	ID string `json:"id" example:"3f1c2a4e-8c1d-4b0e-9a53-2e0c7f1d9b11"`
	// Text fragment, in generation order.
	// example: The image shows
	Output string `json:"output,omitempty" example:"The image shows"`
	// Set on the final line only: succeeded or failed.
	// example: succeeded
	Status string `json:"status,omitempty" example:"succeeded"`
	// Failure message on a failed terminal line.
	Error string `json:"error,omitempty"`
}

// Prediction terminal statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Health-check statuses.
const (
	HealthStarting    = "STARTING"
	HealthReady       = "READY"
	HealthSetupFailed = "SETUP_FAILED"
)

// HealthCheck is returned by GET /health-check.
type HealthCheck struct {
	// STARTING, READY or SETUP_FAILED.
	// example: READY
	Status string `json:"status" example:"READY"`
	// Setup report.
	Setup SetupResult `json:"setup"`
}

// SetupResult reports the one-time backend setup.
type SetupResult struct {
	// RFC3339 timestamp at which setup began.
	// example: 2024-10-01T12:00:00Z
	StartedAt string `json:"started_at,omitempty" example:"2024-10-01T12:00:00Z"`
	// RFC3339 timestamp at which setup finished, empty while running.
	CompletedAt string `json:"completed_at,omitempty"`
	// starting, succeeded or failed.
	// example: succeeded
	Status string `json:"status" example:"succeeded"`
	// Phase that failed: download, launch, readiness or load.
	Phase string `json:"phase,omitempty"`
	// Setup log lines.
	Logs string `json:"logs"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
