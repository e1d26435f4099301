package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookProcess JobType = "webhook_process"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Result tags the outcome of one handler invocation. The retry policy acts
// on the tag, not on error identity.
type Result int

const (
	ResultSuccess Result = iota
	ResultTransientFailure
	ResultPermanentFailure
)

// Job represents a background job. The ID doubles as the idempotency key:
// for webhook jobs it equals the provider event id, so a second enqueue of
// the same logical event finds the existing job instead of creating another.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WebhookJobPayload carries everything the processor needs to re-verify and
// apply one provider event.
type WebhookJobPayload struct {
	EventID    string `json:"event_id"`
	TenantID   string `json:"tenant_id"`
	RawPayload string `json:"raw_payload"`
	Signature  string `json:"signature"`
}

// ToMap converts the payload to a map for storage
func (p WebhookJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id":    p.EventID,
		"tenant_id":   p.TenantID,
		"raw_payload": p.RawPayload,
		"signature":   p.Signature,
	}
}

// WebhookJobPayloadFromMap creates a payload from a stored job map.
func WebhookJobPayloadFromMap(data map[string]interface{}) (*WebhookJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
