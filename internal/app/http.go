package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"gitsheet/api/internal/store"
	"gitsheet/api/internal/syncer"
	"gitsheet/api/internal/timesheet"
	"gitsheet/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Entry
}

func NewHTTPServer(service *Service, corsOrigin string, log *logrus.Entry) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
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
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "repositories":
		s.handleRepositories(w, r, parts[2:])
	case "commits":
		s.handleCommits(w, r, parts[2:])
	case "entries":
		s.handleEntries(w, r)
	case "mappings":
		s.handleMappings(w, r, parts[2:])
	case "workflows":
		s.handleWorkflows(w, r, parts[2:])
	case "stats":
		s.handleStats(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRepositories(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body ConnectRepositoryInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		repo, err := s.service.ConnectRepository(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, repositoryJSON(repo))

	case len(parts) == 0 && r.Method == http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		repos, err := s.service.ListRepositories(r.Context(), includeInactive)
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(repos))
		for _, repo := range repos {
			items = append(items, repositoryJSON(repo))
		}
		writeJSON(w, http.StatusOK, map[string]any{"repositories": items})

	case len(parts) == 1 && r.Method == http.MethodGet:
		repo, stats, err := s.service.GetRepository(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := repositoryJSON(repo)
		payload["stats"] = map[string]any{
			"totalCommits":    stats.TotalCommits,
			"mappedCommits":   stats.MappedCommits,
			"unmappedCommits": stats.UnmappedCommits,
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DisconnectRepository(r.Context(), parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "branches" && r.Method == http.MethodGet:
		branches, err := s.service.ListBranches(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(branches))
		for _, branch := range branches {
			items = append(items, map[string]any{
				"name":     branch.Name,
				"headHash": branch.HeadHash,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"branches": items})

	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
		var body struct {
			Branch string `json:"branch"`
			From   string `json:"from"`
			To     string `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var window syncer.Window
		if body.From != "" {
			parsed, err := time.Parse(time.RFC3339, body.From)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from must be RFC3339", nil)
				return
			}
			window.Since = &parsed
		}
		if body.To != "" {
			parsed, err := time.Parse(time.RFC3339, body.To)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to must be RFC3339", nil)
				return
			}
			window.Until = &parsed
		}
		run, err := s.service.StartSync(r.Context(), parts[0], body.Branch, window)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, run)

	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodGet:
		run, err := s.service.SyncStatus(parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCommits(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		input, err := commitSearchFromQuery(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		commits, total, err := s.service.SearchCommits(r.Context(), input)
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(commits))
		for _, commit := range commits {
			items = append(items, commitJSON(commit))
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": items, "total": total})

	case len(parts) == 1 && r.Method == http.MethodGet:
		commit, mappings, err := s.service.GetCommit(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := commitJSON(commit)
		items := make([]map[string]any, 0, len(mappings))
		for _, mapping := range mappings {
			items = append(items, mappingJSON(mapping))
		}
		payload["mappings"] = items
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 2 && parts[1] == "suggestions" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.SuggestEntries(r.Context(), parts[0], limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	query := r.URL.Query()
	filter := timesheet.Filter{
		Project:   query.Get("project"),
		UserEmail: query.Get("user_email"),
	}
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from must be RFC3339", nil)
			return
		}
		filter.From = parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to must be RFC3339", nil)
			return
		}
		filter.To = parsed
	}
	entries, err := s.service.ListWorkEntries(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleMappings(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body CreateMappingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		mapping, err := s.service.CreateMapping(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, mappingJSON(mapping))

	case len(parts) == 0 && r.Method == http.MethodGet:
		commitID := r.URL.Query().Get("commit_id")
		if commitID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "commit_id is required", nil)
			return
		}
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		mappings, err := s.service.ListMappings(r.Context(), commitID, includeInactive)
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(mappings))
		for _, mapping := range mappings {
			items = append(items, mappingJSON(mapping))
		}
		writeJSON(w, http.StatusOK, map[string]any{"mappings": items})

	case len(parts) == 1 && parts[0] == "bulk" && r.Method == http.MethodPost:
		var body struct {
			Pairs []struct {
				CommitID    string `json:"commitId"`
				WorkEntryID string `json:"workEntryId"`
			} `json:"pairs"`
			Note      string `json:"note"`
			CreatedBy string `json:"createdBy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pairs := make([]store.MappingPair, 0, len(body.Pairs))
		for _, pair := range body.Pairs {
			pairs = append(pairs, store.MappingPair{CommitID: pair.CommitID, WorkEntryID: pair.WorkEntryID})
		}
		result, err := s.service.BulkCreateMappings(r.Context(), pairs, body.Note, body.CreatedBy)
		if err != nil {
			s.fail(w, err)
			return
		}
		created := make([]map[string]any, 0, len(result.Created))
		for _, mapping := range result.Created {
			created = append(created, mappingJSON(mapping))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"created": created,
			"failed":  result.Failed,
		})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		actor := r.URL.Query().Get("actor")
		adminToken := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		if err := s.service.RemoveMapping(r.Context(), parts[0], actor, adminToken); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleWorkflows(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			CreatedBy string `json:"createdBy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusCreated, workflowJSON(s.service.StartWorkflow(body.CreatedBy)))

	case len(parts) == 1 && r.Method == http.MethodGet:
		view, err := s.service.GetWorkflow(parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.WorkflowCancel(parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "commits" && r.Method == http.MethodPost:
		var body struct {
			CommitIDs []string `json:"commitIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.WorkflowSelectCommits(r.Context(), parts[0], body.CommitIDs)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 2 && parts[1] == "entries" && r.Method == http.MethodPost:
		var body struct {
			EntryIDs []string `json:"entryIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.WorkflowSelectEntries(r.Context(), parts[0], body.EntryIDs)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 2 && parts[1] == "proposals" && r.Method == http.MethodPost:
		var body struct {
			Strategy string `json:"strategy"`
			Pairs    []struct {
				CommitID    string `json:"commitId"`
				WorkEntryID string `json:"workEntryId"`
			} `json:"pairs"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		manual := make([]store.MappingPair, 0, len(body.Pairs))
		for _, pair := range body.Pairs {
			manual = append(manual, store.MappingPair{CommitID: pair.CommitID, WorkEntryID: pair.WorkEntryID})
		}
		view, err := s.service.WorkflowPropose(r.Context(), parts[0], workflow.Strategy(body.Strategy), manual)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 2 && parts[1] == "assign" && r.Method == http.MethodPost:
		var body struct {
			CommitID    string `json:"commitId"`
			WorkEntryID string `json:"workEntryId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.WorkflowAssign(parts[0], body.CommitID, body.WorkEntryID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 3 && parts[1] == "proposals" && r.Method == http.MethodDelete:
		view, err := s.service.WorkflowDrop(parts[0], parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 2 && parts[1] == "back" && r.Method == http.MethodPost:
		view, err := s.service.WorkflowBack(parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(view))

	case len(parts) == 2 && parts[1] == "process" && r.Method == http.MethodPost:
		var body struct {
			Note string `json:"note"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.WorkflowProcess(parts[0], body.Note)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, workflowJSON(view))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "overview" && r.Method == http.MethodGet {
		overview, err := s.service.Overview(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, overview)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func commitSearchFromQuery(r *http.Request) (CommitSearchInput, error) {
	query := r.URL.Query()
	input := CommitSearchInput{
		RepositoryID: query.Get("repository_id"),
		Branch:       query.Get("branch"),
		Author:       query.Get("author"),
		Query:        query.Get("q"),
		CommitType:   query.Get("type"),
	}
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return CommitSearchInput{}, fmt.Errorf("from must be RFC3339")
		}
		input.From = &parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return CommitSearchInput{}, fmt.Errorf("to must be RFC3339")
		}
		input.To = &parsed
	}
	if raw := query.Get("mapped"); raw != "" {
		mapped, err := strconv.ParseBool(raw)
		if err != nil {
			return CommitSearchInput{}, fmt.Errorf("mapped must be a boolean")
		}
		input.Mapped = &mapped
	}
	if raw := query.Get("limit"); raw != "" {
		input.Limit, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("offset"); raw != "" {
		input.Offset, _ = strconv.Atoi(raw)
	}
	return input, nil
}

func repositoryJSON(repo store.Repository) map[string]any {
	payload := map[string]any{
		"id":            repo.ID,
		"name":          repo.Name,
		"platform":      repo.Platform,
		"owner":         repo.Owner,
		"repo":          repo.RepoName,
		"url":           repo.URL,
		"defaultBranch": repo.DefaultBranch,
		"state":         repo.State,
		"active":        repo.Active,
		"createdAt":     repo.CreatedAt,
	}
	if repo.StateError != "" {
		payload["stateError"] = repo.StateError
	}
	if repo.LastSyncedAt != nil {
		payload["lastSyncedAt"] = repo.LastSyncedAt
	}
	if repo.Checkpoint != nil {
		payload["checkpoint"] = repo.Checkpoint
	}
	return payload
}

func commitJSON(commit store.Commit) map[string]any {
	return map[string]any{
		"id":           commit.ID,
		"repositoryId": commit.RepositoryID,
		"hash":         commit.Hash,
		"shortHash":    commit.ShortHash(),
		"authorName":   commit.AuthorName,
		"authorEmail":  commit.AuthorEmail,
		"committedAt":  commit.CommittedAt,
		"message":      commit.Message,
		"branch":       commit.Branch,
		"filesChanged": commit.FilesChanged,
		"additions":    commit.Additions,
		"deletions":    commit.Deletions,
		"type":         commit.CommitType,
		"mapped":       commit.Mapped,
	}
}

func mappingJSON(mapping store.Mapping) map[string]any {
	payload := map[string]any{
		"id":          mapping.ID,
		"commitId":    mapping.CommitID,
		"workEntryId": mapping.WorkEntryID,
		"method":      mapping.Method,
		"note":        mapping.Note,
		"createdBy":   mapping.CreatedBy,
		"createdAt":   mapping.CreatedAt,
		"active":      mapping.Active,
	}
	if mapping.DeactivatedAt != nil {
		payload["deactivatedAt"] = mapping.DeactivatedAt
		payload["deactivatedBy"] = mapping.DeactivatedBy
	}
	return payload
}

func workflowJSON(view workflow.View) map[string]any {
	proposals := make([]map[string]any, 0, len(view.Proposals))
	for _, proposal := range view.Proposals {
		proposals = append(proposals, map[string]any{
			"commitId":    proposal.CommitID,
			"workEntryId": proposal.WorkEntryID,
			"confidence":  proposal.Confidence,
			"fallback":    proposal.Fallback,
		})
	}
	return map[string]any{
		"id":        view.ID,
		"state":     string(view.State),
		"strategy":  string(view.Strategy),
		"createdBy": view.CreatedBy,
		"commitIds": view.CommitIDs,
		"entryIds":  view.EntryIDs,
		"proposals": proposals,
		"counters": map[string]int{
			"total":     view.Counters.Total,
			"processed": view.Counters.Processed,
			"succeeded": view.Counters.Succeeded,
			"failed":    view.Counters.Failed,
		},
		"failures":  view.Failures,
		"createdAt": view.CreatedAt,
		"updatedAt": view.UpdatedAt,
	}
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

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Admin-Token")
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
	if errors.Is(err, timesheet.ErrUnauthorized) {
		return http.StatusBadGateway, "AUTH_ERROR", "Timesheet provider rejected the credentials", nil
	}
	return http.StatusInternalServerError, "INTERNAL", "Server error", nil
}
