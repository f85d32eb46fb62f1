package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/odvcencio/excella/pkg/errors"
)

// Request body limits.
const (
	maxBodyBytesTiny  int64 = 64 << 10
	maxBodyBytesSmall int64 = 1 << 20
	// Plans carry full snapshots, data previews included.
	maxBodyBytesPlan int64 = 8 << 20
)

// decodeJSONBody reads at most limit bytes of JSON into dst. On failure it
// returns the status to respond with. optional accepts an empty body.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, limit int64, optional bool) (int, error) {
	if r.Body == nil {
		if optional {
			return 0, nil
		}
		return http.StatusBadRequest, stderrors.New("request body required")
	}
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, optional && stderrors.Is(err, io.EOF):
		return 0, nil
	case stderrors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", limit)
	default:
		return http.StatusBadRequest, err
	}
}

// parseIntDefault returns raw as a positive int, or def.
func parseIntDefault(raw string, def int) int {
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}

func respondJSON(w http.ResponseWriter, payload any) {
	respondStatusJSON(w, http.StatusOK, payload)
}

func respondStatusJSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error       string   `json:"error"`
	Status      int      `json:"status"`
	Code        string   `json:"code,omitempty"`
	Class       string   `json:"class,omitempty"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

func respondError(w http.ResponseWriter, status int, err error) {
	body := errorResponse{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if appErr, ok := errors.As(err); ok {
		body.Code = string(appErr.Code)
		body.Class = string(appErr.Class())
		body.Message = errors.UserFacing(appErr)
		body.Details = appErr.Error()
		body.Retryable = appErr.Retryable
		body.Remediation = appErr.Remediation
	} else if err != nil {
		body.Message, body.Details = err.Error(), err.Error()
	}
	if len(body.Remediation) == 0 {
		body.Remediation = remediationFor(errors.ErrorCode(body.Code), status)
	}
	body.Error = body.Message
	respondStatusJSON(w, status, body)
}

// codeRoute is how one error code surfaces over HTTP.
type codeRoute struct {
	status      int
	remediation []string
}

var (
	approvalSteps = []string{
		"Ask for plan approval and wait for the user's decision.",
		"Check /api/approvals for requests still waiting on a reviewer.",
	}
	redraftSteps = []string{"Propose the email again and have the user approve the new draft."}
	storageSteps = []string{
		"Ensure the excella data directory is writable and not full.",
		"Restart the server if the SQLite database was locked.",
	}
)

var codeRoutes = map[errors.ErrorCode]codeRoute{
	errors.ErrCodeInvalidInput:     {status: http.StatusBadRequest},
	errors.ErrCodeConfigParse:      {status: http.StatusBadRequest},
	errors.ErrCodeToolNotFound:     {status: http.StatusNotFound},
	errors.ErrCodeHandleNotFound:   {http.StatusNotFound, redraftSteps},
	errors.ErrCodeHandleConsumed:   {http.StatusConflict, redraftSteps},
	errors.ErrCodeApprovalRequired: {http.StatusForbidden, approvalSteps},
	errors.ErrCodeApprovalDenied:   {http.StatusForbidden, approvalSteps},
	errors.ErrCodeReadOnly: {http.StatusForbidden, []string{
		"Disable safety.read_only_mode in the excella config to allow writes.",
	}},
	errors.ErrCodeHighRisk: {http.StatusForbidden, []string{
		"Narrow the selection or split the plan into smaller steps.",
		"Raise the safety limits if the operation is intended.",
	}},
	errors.ErrCodeStaleSnapshot: {http.StatusConflict, []string{
		"Fetch a fresh snapshot from /api/snapshot.",
		"Recompute the plan against the new snapshot ID and resubmit it.",
	}},
	errors.ErrCodeConfigInvalid:   {status: http.StatusServiceUnavailable},
	errors.ErrCodeExecutorMissing: {status: http.StatusServiceUnavailable},
	errors.ErrCodeStorageRead:     {http.StatusInternalServerError, storageSteps},
	errors.ErrCodeStorageWrite:    {http.StatusInternalServerError, storageSteps},
}

var statusRemediation = map[int][]string{
	http.StatusBadRequest:         {"Check the request body against the API documentation."},
	http.StatusUnauthorized:       {"Send the configured server.auth_token as a Bearer token."},
	http.StatusNotFound:           {"Verify the resource ID in the request URL."},
	http.StatusServiceUnavailable: {"Check that a workbook is configured and the server started cleanly."},
}

// statusForError maps an error's code onto an HTTP status.
func statusForError(err error) int {
	if route, ok := codeRoutes[errors.GetCode(err)]; ok {
		return route.status
	}
	return http.StatusInternalServerError
}

func remediationFor(code errors.ErrorCode, status int) []string {
	if steps := codeRoutes[code].remediation; len(steps) > 0 {
		return steps
	}
	if steps, ok := statusRemediation[status]; ok {
		return steps
	}
	return []string{
		"Check the excella logs for details.",
		"Retry the action once the underlying issue is resolved.",
	}
}
