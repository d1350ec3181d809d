package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/api/internal/export"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	search     *search.Service
	exporter   *export.Service
	corsOrigin string
}

func NewHTTPServer(service *Service, searchSvc *search.Service, exporter *export.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, search: searchSvc, exporter: exporter, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/releases" {
		namespaceID := strings.TrimSpace(r.URL.Query().Get("namespaceId"))
		if namespaceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "namespaceId is required", nil)
			return
		}
		releases, err := s.service.ListReleases(r.Context(), namespaceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"releases": releaseViews(releases)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/releases" {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			NamespaceID  string          `json:"namespaceId"`
			Name         string          `json:"name"`
			ApprovalMode string          `json:"approvalMode"`
			PlannedDate  *time.Time      `json:"plannedDate"`
			GateConfig   json.RawMessage `json:"gateConfig"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		release, err := s.service.CreateRelease(r.Context(), actor, CreateReleaseInput{
			NamespaceID:  body.NamespaceID,
			Name:         body.Name,
			ApprovalMode: store.ApprovalMode(body.ApprovalMode),
			PlannedDate:  body.PlannedDate,
			GateConfig:   body.GateConfig,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, releaseView(release))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "releases" {
		s.handleReleases(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComments(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTasks(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	releaseID := strings.TrimSpace(r.URL.Query().Get("releaseId"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	payload := s.search.Search(search.Query{
		Text:            q,
		FilterType:      search.ResultType(filterType),
		FilterReleaseID: releaseID,
		Limit:           limit,
		Offset:          offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleReleases(w http.ResponseWriter, r *http.Request, releaseID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			release, err := s.service.GetRelease(r.Context(), releaseID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, releaseView(release))
			return
		case http.MethodPut:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Name             *string    `json:"name"`
				ApprovalMode     *string    `json:"approvalMode"`
				PlannedDate      *time.Time `json:"plannedDate"`
				ClearPlannedDate bool       `json:"clearPlannedDate"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			input := UpdateReleaseInput{
				Name:        body.Name,
				PlannedDate: body.PlannedDate,
				ClearDate:   body.ClearPlannedDate,
			}
			if body.ApprovalMode != nil {
				mode := store.ApprovalMode(*body.ApprovalMode)
				input.ApprovalMode = &mode
			}
			release, err := s.service.UpdateRelease(r.Context(), actor, releaseID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, releaseView(release))
			return
		case http.MethodDelete:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			if err := s.service.DeleteRelease(r.Context(), actor, releaseID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "close" && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		release, err := s.service.CloseRelease(r.Context(), actor, releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, releaseView(release))
		return
	}

	if len(parts) == 4 && parts[3] == "approvers" {
		if r.Method == http.MethodGet {
			approvers, err := s.service.ListApprovers(r.Context(), releaseID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"approvers": approverViews(approvers)})
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				UserID string `json:"userId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			release, err := s.service.AddApprover(r.Context(), actor, releaseID, body.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, releaseView(release))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && (parts[3] == "approve" || parts[3] == "reset") && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Comment string `json:"comment"`
		}
		_ = decodeBody(r, &body)
		var release store.Release
		var err error
		if parts[3] == "approve" {
			release, err = s.service.Approve(r.Context(), actor, releaseID, body.Comment)
		} else {
			release, err = s.service.Reset(r.Context(), actor, releaseID, body.Comment)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, releaseView(release))
		return
	}

	if len(parts) == 4 && parts[3] == "comments" {
		if r.Method == http.MethodGet {
			comments, err := s.service.ListComments(r.Context(), releaseID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": commentViews(comments)})
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Content   string  `json:"content"`
				Todo      bool    `json:"todo"`
				Reference refBody `json:"reference"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), actor, releaseID, AddCommentInput{
				Content:   body.Content,
				Todo:      body.Todo,
				Reference: body.Reference.toRef(),
			})
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, commentView(comment))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "tasks" {
		if r.Method == http.MethodGet {
			tasks, err := s.service.ListTasks(r.Context(), releaseID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": taskViews(tasks)})
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Chapter     string     `json:"chapter"`
				Requirement string     `json:"requirement"`
				Check       string     `json:"check"`
				Title       string     `json:"title"`
				Description string     `json:"description"`
				DueDate     *time.Time `json:"dueDate"`
				Reminder    string     `json:"reminder"`
				Assignees   []string   `json:"assignees"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.AddTask(r.Context(), actor, releaseID, AddTaskInput{
				Chapter:     body.Chapter,
				Requirement: body.Requirement,
				Check:       body.Check,
				Title:       body.Title,
				Description: body.Description,
				DueDate:     body.DueDate,
				Reminder:    store.ReminderMode(body.Reminder),
				Assignees:   body.Assignees,
			})
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, taskView(task))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "subscriptions" {
		s.handleSubscriptions(w, r, releaseID)
		return
	}

	if len(parts) == 4 && parts[3] == "gates" {
		s.handleGates(w, r, releaseID)
		return
	}

	if len(parts) == 5 && parts[3] == "gates" && parts[4] == "history" && r.Method == http.MethodGet {
		revisions, err := s.service.GateHistory(r.Context(), releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 4 && parts[3] == "audit" && r.Method == http.MethodGet {
		entries, err := s.service.ListAuditTrail(r.Context(), releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": auditViews(entries)})
		return
	}

	if len(parts) == 5 && parts[3] == "audit" && parts[4] == "export" && r.Method == http.MethodPost {
		if s.exporter == nil {
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
			return
		}
		result, err := s.exporter.Export(r.Context(), export.Request{ReleaseID: releaseID})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if result.ArtifactURL != "" {
			w.Header().Set("X-Artifact-Location", result.ArtifactURL)
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSubscriptions(w http.ResponseWriter, r *http.Request, releaseID string) {
	if r.Method == http.MethodGet {
		subs, err := s.service.ListSubscriptions(r.Context(), releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subscriptionViews(subs)})
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost {
		sub, err := s.service.Subscribe(r.Context(), actor, releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, subscriptionView(sub))
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.Unsubscribe(r.Context(), actor, releaseID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleGates(w http.ResponseWriter, r *http.Request, releaseID string) {
	if r.Method == http.MethodGet {
		snapshot, err := s.service.GetGateConfig(r.Context(), releaseID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"gateConfig": json.RawMessage(snapshot)})
		return
	}

	if r.Method == http.MethodPut {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			GateConfig json.RawMessage `json:"gateConfig"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateGateConfig(r.Context(), actor, releaseID, body.GateConfig); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, commentID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodPut {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), actor, commentID, body.Content)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, commentView(comment))
		return
	}

	if len(parts) == 4 && parts[3] == "resolve" && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		comment, err := s.service.ResolveComment(r.Context(), actor, commentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, commentView(comment))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, taskID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, taskView(task))
			return
		case http.MethodPut:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Title        *string    `json:"title"`
				Description  *string    `json:"description"`
				DueDate      *time.Time `json:"dueDate"`
				ClearDueDate bool       `json:"clearDueDate"`
				Reminder     *string    `json:"reminder"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			input := UpdateTaskInput{
				Title:        body.Title,
				Description:  body.Description,
				DueDate:      body.DueDate,
				ClearDueDate: body.ClearDueDate,
			}
			if body.Reminder != nil {
				mode := store.ReminderMode(*body.Reminder)
				input.Reminder = &mode
			}
			task, err := s.service.UpdateTask(r.Context(), actor, taskID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, taskView(task))
			return
		case http.MethodDelete:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			if err := s.service.DeleteTask(r.Context(), actor, taskID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && (parts[3] == "close" || parts[3] == "reopen") && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var task store.Task
		var err error
		if parts[3] == "close" {
			task, err = s.service.CloseTask(r.Context(), actor, taskID)
		} else {
			task, err = s.service.ReopenTask(r.Context(), actor, taskID)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, taskView(task))
		return
	}

	if len(parts) == 4 && parts[3] == "assignees" && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			UserIDs []string `json:"userIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.AddAssignees(r.Context(), actor, taskID, body.UserIDs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, taskView(task))
		return
	}

	if len(parts) == 5 && parts[3] == "assignees" && parts[4] == "remove" && r.Method == http.MethodPost {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			UserIDs []string `json:"userIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.RemoveAssignees(r.Context(), actor, taskID, body.UserIDs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, taskView(task))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// requireActor reads the acting user from the X-User-ID header. Every
// mutation needs one; authentication itself happens upstream.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if actor == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "X-User-ID header is required", nil)
		return "", false
	}
	return actor, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
