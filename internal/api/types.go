package api

import (
	"encoding/json"

	"speakerline/internal/jobs"
	"speakerline/internal/transcript"
)

// SubmitResponse is returned by POST /transcribe.
type SubmitResponse struct {
	JobID    string `json:"job_id"`
	TaskID   string `json:"task_id"`
	Segments int    `json:"segments"`
	Status   string `json:"status"`
}

// ResultResponse is returned by GET /result/{task_id}. Only the fields that
// belong to Status are encoded.
type ResultResponse struct {
	Status        string                       `json:"status"`
	Progress      string                       `json:"progress,omitempty"`
	Completed     int                          `json:"completed,omitempty"`
	Total         int                          `json:"total,omitempty"`
	Message       string                       `json:"message,omitempty"`
	TotalSpeakers int                          `json:"total_speakers,omitempty"`
	Segments      []transcript.TranscribedTurn `json:"segments,omitempty"`
}

// MarshalJSON encodes the shape selected by Status.
func (r ResultResponse) MarshalJSON() ([]byte, error) {
	switch jobs.State(r.Status) {
	case jobs.StateProcessing:
		return json.Marshal(struct {
			Status    string `json:"status"`
			Progress  string `json:"progress"`
			Completed int    `json:"completed"`
			Total     int    `json:"total"`
		}{r.Status, r.Progress, r.Completed, r.Total})
	case jobs.StateError:
		return json.Marshal(struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{r.Status, r.Message})
	case jobs.StateDone:
		segments := r.Segments
		if segments == nil {
			segments = []transcript.TranscribedTurn{}
		}
		return json.Marshal(struct {
			Status        string                       `json:"status"`
			TotalSpeakers int                          `json:"total_speakers"`
			Segments      []transcript.TranscribedTurn `json:"segments"`
		}{r.Status, r.TotalSpeakers, segments})
	default:
		return json.Marshal(struct {
			Status string `json:"status"`
		}{r.Status})
	}
}

// CleanupResponse is returned by DELETE /job/{job_id}.
type CleanupResponse struct {
	Status string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Queue  string `json:"queue"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromResult converts an aggregation result to its wire form.
func FromResult(result jobs.Result) ResultResponse {
	resp := ResultResponse{Status: string(result.State)}
	switch result.State {
	case jobs.StateProcessing:
		resp.Progress = result.Progress()
		resp.Completed = result.Completed
		resp.Total = result.Total
	case jobs.StateError:
		resp.Message = result.Message
	case jobs.StateDone:
		resp.TotalSpeakers = result.TotalSpeakers
		resp.Segments = result.Segments
	}
	return resp
}

// FromHandle converts a submitted job handle to its wire form.
func FromHandle(handle jobs.Handle) SubmitResponse {
	return SubmitResponse{
		JobID:    handle.JobID,
		TaskID:   handle.TaskID,
		Segments: handle.SegmentCount,
		Status:   string(jobs.StateProcessing),
	}
}
