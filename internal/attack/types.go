package attack

import (
	"context"
	"time"
)

// Status constants. Transitions are monotonic and forward-only:
// queued -> in_progress -> {completed | failed}.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Stage descriptors paired with their progress percentage. Stages are
// strictly sequential; a worker persists each transition before moving on.
const (
	StageQueued       = "queued"
	StageInitializing = "initializing_attack_engine"
	StageGenerating   = "generating_adversarial_example"
	StageEvaluating   = "evaluating_adversarial_output"
	StageCompleted    = "completed"

	ProgressQueued       = 0
	ProgressInitializing = 10
	ProgressGenerating   = 30
	ProgressEvaluating   = 80
	ProgressCompleted    = 100
)

// Record is the durable state of one adversarial attack job.
type Record struct {
	ID             string `json:"id"`
	ModelID        string `json:"model_id"`
	AttackMethodID string `json:"attack_method_id"`

	Status   string `json:"status"`
	Stage    string `json:"current_stage"`
	Progress int    `json:"progress_percentage"`

	OriginalInput      string  `json:"original_input"`
	OriginalPrediction string  `json:"original_prediction"`
	OriginalConfidence float64 `json:"original_confidence"`

	AdversarialExample    string  `json:"adversarial_example"`
	AdversarialPrediction string  `json:"adversarial_prediction"`
	AdversarialConfidence float64 `json:"adversarial_confidence"`

	AttackSuccess       bool           `json:"attack_success"`
	PerturbationDetails map[string]any `json:"perturbation_details,omitempty"`
	Metrics             map[string]any `json:"metrics,omitempty"`
	Error               string         `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Terminal reports whether the record has reached a final status.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// LaunchRequest is a request to launch an adversarial attack.
type LaunchRequest struct {
	ModelID          string         `json:"model_id"`
	AttackMethodID   string         `json:"attack_method_id"`
	InputData        string         `json:"input_data"`
	TargetLabel      string         `json:"target_label,omitempty"`
	AttackParameters map[string]any `json:"attack_parameters,omitempty"`
	CallbackURL      string         `json:"callback_url,omitempty"`
}

// LaunchResponse is returned immediately after a launch is accepted.
type LaunchResponse struct {
	JobID                      string `json:"job_id"`
	Status                     string `json:"status"` // "initiated"
	Message                    string `json:"message"`
	EstimatedCompletionSeconds int    `json:"estimated_completion_seconds,omitempty"`
}

// ListQuery describes filtering, sorting and pagination for List.
// Filters are optional and AND-combined.
type ListQuery struct {
	ModelID        string
	AttackMethodID string
	Status         string
	AttackSuccess  *bool

	SortBy    string // allow-listed, see SortFields
	SortOrder string // "asc" or "desc"

	Skip  int
	Limit int
}

// SortFields is the allow-list of fields a caller may sort by.
var SortFields = map[string]bool{
	"id":               true,
	"model_id":         true,
	"attack_method_id": true,
	"status":           true,
	"attack_success":   true,
	"created_at":       true,
	"completed_at":     true,
}

// ListResult is one page of records plus the total match count.
type ListResult struct {
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
	Records []*Record `json:"data"`
}

// RecordStore is durable storage for attack records. Every call is a
// fallible remote operation; implementations serialize mutation.
type RecordStore interface {
	// Create persists a new record. The record must be visible to Get
	// the moment Create returns.
	Create(ctx context.Context, rec *Record) error

	// Get returns a record by id, or apperrors.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Update overwrites an existing record, or apperrors.ErrNotFound.
	Update(ctx context.Context, rec *Record) error

	// List returns the total match count and the requested page,
	// ordered by the query's sort key with ties broken by id.
	List(ctx context.Context, q ListQuery) (*ListResult, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
