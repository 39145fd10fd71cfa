package normalize

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Status values reported to callers polling a job.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusProcessing = "processing"
)

// JobStatus is the caller-facing view of one upstream status query.
type JobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	// Message is the upstream message verbatim, string or array.
	Message json.RawMessage `json:"message,omitempty"`
	// Error is the full upstream document of a failed job.
	Error json.RawMessage `json:"error,omitempty"`
}

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed
}

// JobStatusFrom maps an upstream status document. Unknown or missing
// status values are reported as processing.
func JobStatusFrom(jobID string, raw json.RawMessage) JobStatus {
	doc := gjson.ParseBytes(raw)
	out := JobStatus{JobID: jobID}
	switch doc.Get("status").Str {
	case StatusSuccess:
		out.Status = StatusSuccess
		out.Message = optionalRaw(doc.Get("message"))
	case StatusFailed:
		out.Status = StatusFailed
		out.Error = raw
	default:
		out.Status = StatusProcessing
	}
	return out
}
