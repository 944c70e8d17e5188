package api

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/compiler"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/export"
	"github.com/querygate/querygate/internal/format"
)

const maxQuestionLength = 2000

type askRequest struct {
	Question  string `json:"question"`
	ReadOnly  *bool  `json:"read_only"`
	Export    string `json:"export"`
	TimeoutMs int    `json:"timeout_ms"`
}

type queryRequest struct {
	SQL       string `json:"sql"`
	ReadOnly  *bool  `json:"read_only"`
	TimeoutMs int    `json:"timeout_ms"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type translateResponse struct {
	RequestID      string `json:"request_id"`
	SQL            string `json:"sql"`
	Classification string `json:"classification"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Attempts       int    `json:"attempts"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request askRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question, ok := validQuestion(w, r, request.Question)
	if !ok {
		return
	}
	readOnly, ok := resolveReadOnly(cfg, deps, w, r, request.ReadOnly)
	if !ok {
		return
	}
	var exportFormat export.Format
	if strings.TrimSpace(request.Export) != "" {
		parsed, err := export.ParseFormat(request.Export)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "EXPORT_FORMAT_INVALID", err.Error(), false, nil)
			return
		}
		if !cfg.Export.Enabled {
			writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result exports are not configured", false, nil)
			return
		}
		exportFormat = parsed
	}

	outcome := deps.Pipeline.Run(r.Context(), compiler.Request{
		Question: question,
		ReadOnly: readOnly,
		Export:   exportFormat,
		Timeout:  requestTimeout(cfg, request.TimeoutMs),
	})
	writeOutcome(w, r, outcome)
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var request queryRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	readOnly, ok := resolveReadOnly(cfg, deps, w, r, request.ReadOnly)
	if !ok {
		return
	}

	outcome := deps.Pipeline.RunSQL(r.Context(), request.SQL, compiler.Request{
		ReadOnly: readOnly,
		Timeout:  requestTimeout(cfg, request.TimeoutMs),
	})
	writeOutcome(w, r, outcome)
}

func handleTranslate(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request translateRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	question, ok := validQuestion(w, r, request.Question)
	if !ok {
		return
	}

	outcome := deps.Pipeline.Run(r.Context(), compiler.Request{
		Question:      question,
		ReadOnly:      cfg.Store.ReadOnlyDefault,
		TranslateOnly: true,
	})
	if outcome.Err != nil {
		writeOutcome(w, r, outcome)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		RequestID:      outcome.RequestID,
		SQL:            outcome.SQL,
		Classification: string(outcome.Classification),
		Provider:       outcome.Provider,
		Model:          outcome.Model,
		Attempts:       outcome.Attempts,
	})
}

func requirePipeline(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return false
	}
	return true
}

func validQuestion(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	question := compiler.Question(raw)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return "", false
	}
	if utf8.RuneCountInString(question) > maxQuestionLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_length": maxQuestionLength})
		return "", false
	}
	return question, true
}

// resolveReadOnly applies the configured default and checks that a write
// request is both permitted for the caller and possible on this server.
func resolveReadOnly(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request, requested *bool) (bool, bool) {
	readOnly := cfg.Store.ReadOnlyDefault
	if requested != nil {
		readOnly = *requested
	}
	role := auth.RoleQueryReader
	if !readOnly {
		role = auth.RoleQueryWriter
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false, false
	}
	if !readOnly && !deps.WritesEnabled {
		writeError(r.Context(), w, http.StatusForbidden, "WRITES_DISABLED", "this server only runs read-only queries", false, nil)
		return false, false
	}
	return readOnly, true
}

// requestTimeout only ever shortens the configured query timeout.
func requestTimeout(cfg config.Config, timeoutMs int) time.Duration {
	if timeoutMs <= 0 {
		return 0
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if cfg.Store.QueryTimeout > 0 && timeout > cfg.Store.QueryTimeout {
		return cfg.Store.QueryTimeout
	}
	return timeout
}

func writeOutcome(w http.ResponseWriter, r *http.Request, outcome compiler.Outcome) {
	if outcome.Err == nil {
		writeJSON(w, http.StatusOK, outcome)
		return
	}

	kind := format.Kind(outcome.Err)
	status, code, retryable := failureStatus(kind)
	extra := map[string]any{
		"request_id": outcome.RequestID,
		"stage":      outcome.Stage,
		"kind":       kind,
	}
	if outcome.Classification != "" {
		extra["classification"] = outcome.Classification
	}
	if outcome.SQL != "" {
		extra["sql"] = outcome.SQL
	}
	if outcome.Display.Error != nil && outcome.Display.Error.Detail != "" {
		extra["details"] = outcome.Display.Error.Detail
	}
	writeError(r.Context(), w, status, code, format.Message(outcome.Err), retryable, extra)
}

func failureStatus(kind string) (int, string, bool) {
	switch kind {
	case "refused":
		return http.StatusUnprocessableEntity, "QUERY_REFUSED", false
	case "malformed":
		return http.StatusUnprocessableEntity, "QUERY_MALFORMED", false
	case "query_rejected":
		return http.StatusUnprocessableEntity, "QUERY_REJECTED", false
	case "inference_unavailable":
		return http.StatusServiceUnavailable, "INFERENCE_UNAVAILABLE", true
	case "inference_timeout":
		return http.StatusGatewayTimeout, "INFERENCE_TIMEOUT", true
	case "inference_failed":
		return http.StatusBadGateway, "INFERENCE_FAILED", false
	case "query_timeout":
		return http.StatusGatewayTimeout, "QUERY_TIMEOUT", true
	case "store_failure":
		return http.StatusBadGateway, "QUERY_EXECUTION_FAILED", false
	default:
		return http.StatusInternalServerError, "INTERNAL", false
	}
}
