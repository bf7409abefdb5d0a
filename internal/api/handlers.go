package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"speakerline/internal/jobs"
	"speakerline/internal/logging"
	"speakerline/internal/preflight"
)

const uploadField = "file"

var errMissingFile = errors.New(`multipart field "file" is required`)

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	part, err := uploadPart(r)
	if err != nil {
		status := http.StatusBadRequest
		if isTooLarge(err) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, status, err.Error())
		return
	}
	defer part.Close()

	handle, err := s.services.Submitter.Submit(r.Context(), part.FileName(), part)
	if err != nil {
		s.writeError(w, submissionStatus(err), submissionMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, FromHandle(handle))
}

// uploadPart streams to the first "file" part without buffering the
// upload in memory.
func uploadPart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField {
			return part, nil
		}
		_ = part.Close()
	}
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func submissionStatus(err error) int {
	switch {
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, preflight.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, jobs.ErrSubmissionFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// submissionMessage is the client-facing text of a Submit error. Server
// paths are never included.
func submissionMessage(err error) string {
	var subErr *jobs.SubmissionError
	if errors.As(err, &subErr) {
		return subErr.ClientMessage()
	}
	return "submission failed"
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("task_id"))
	result, err := s.services.Status.Status(r.Context(), taskID)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "status lookup failed", "result_lookup_failed",
			logging.TaskID(taskID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, FromResult(result))
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	status, err := s.services.Cleaner.Cleanup(r.Context(), jobID)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "cleanup failed", "cleanup_failed",
			logging.JobID(jobID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on paths.temp_root"),
		)
		s.writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Status: string(status)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Queue: "ok"}
	if s.services.Queue != nil {
		if err := s.services.Queue.Ping(r.Context()); err != nil {
			s.logger.Warn("queue ping failed", logging.Error(err))
			resp.Status = "degraded"
			resp.Queue = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
