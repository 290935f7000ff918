// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Logger is the subset of logger.Logger the handler needs.
type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ErrorHandler turns errors into HTTP responses or job failures and logs them.
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HTTPStatus maps an error code to the response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidTransition,
		ErrCodeDuplicateApplication,
		ErrCodeSlotConflict,
		ErrCodeNotPending,
		ErrCodePetUnavailable:
		return http.StatusConflict
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeDatabaseError, ErrCodeIdentityProviderError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WriteHTTP writes err as {"error": {...}}. Internal details are not exposed on 5xx responses.
func (h *ErrorHandler) WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"method":        r.Method,
		"path":          r.URL.Path,
		"status":        status,
		"errorCode":     string(stdErr.Code),
		"details":       stdErr.Details,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	payload := errorPayload{
		Code:     stdErr.Code,
		Message:  stdErr.Message,
		Details:  stdErr.Details,
		Metadata: stdErr.Metadata,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields)
		payload.Details = ""
	} else {
		h.logger.Warn("Request rejected", fields)
	}

	w.Header().Set("Content-Type", "application/json")
	if stdErr.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: payload})
}

// HandleJobError fails the job with retries for retryable errors and throws a BPMN error otherwise.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := Normalize(err)
	retries := GetRetryCount(stdErr.Code)

	h.logger.Error("Job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        string(stdErr.Code),
		"details":          stdErr.Details,
		"retryable":        stdErr.Retryable,
		"retries":          retries,
		"errorCategory":    GetErrorCategory(stdErr.Code),
		"workflowInstance": job.ProcessInstanceKey,
	})

	vars, _ := json.Marshal(map[string]interface{}{
		"errorCode":    string(stdErr.Code),
		"errorMessage": stdErr.Message,
		"errorDetails": stdErr.Details,
		"retryable":    stdErr.Retryable,
	})

	if stdErr.Retryable && retries > 0 && job.Retries > 0 {
		remaining := int32(retries)
		if job.Retries-1 < remaining {
			remaining = job.Retries - 1
		}
		cmd := client.NewFailJobCommand().
			JobKey(job.Key).
			Retries(remaining).
			ErrorMessage(stdErr.Message)
		if withVars, verr := cmd.VariablesFromString(string(vars)); verr == nil {
			_, _ = withVars.Send(ctx)
			return
		}
		_, _ = cmd.Send(ctx)
		return
	}

	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(string(stdErr.Code)).
		ErrorMessage(stdErr.Message)
	if withVars, verr := cmd.VariablesFromString(string(vars)); verr == nil {
		_, _ = withVars.Send(ctx)
		return
	}
	_, _ = cmd.Send(ctx)
}
