package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gitsheet/api/internal/config"
	"gitsheet/api/internal/forge"
	"gitsheet/api/internal/store"
	"gitsheet/api/internal/suggest"
	"gitsheet/api/internal/syncer"
	"gitsheet/api/internal/timesheet"
	"gitsheet/api/internal/util"
	"gitsheet/api/internal/workflow"
)

type ConnectRepositoryInput struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	URL      string `json:"url"`
	Token    string `json:"token"`
}

type CreateMappingInput struct {
	CommitID    string `json:"commitId"`
	WorkEntryID string `json:"workEntryId"`
	Note        string `json:"note"`
	CreatedBy   string `json:"createdBy"`
}

type CommitSearchInput struct {
	RepositoryID string
	Branch       string
	Author       string
	Query        string
	From         *time.Time
	To           *time.Time
	CommitType   string
	Mapped       *bool
	Limit        int
	Offset       int
}

// SuggestionItem pairs a scored work entry with the entry itself so the
// caller can render the candidate without a second lookup.
type SuggestionItem struct {
	Entry      timesheet.Entry `json:"entry"`
	Confidence int             `json:"confidence"`
}

// SyncRun tracks one background history pull. Runs are kept after they
// finish so the last outcome stays queryable.
type SyncRun struct {
	ID           string          `json:"id"`
	RepositoryID string          `json:"repositoryId"`
	Branch       string          `json:"branch"`
	State        string          `json:"state"`
	Progress     syncer.Progress `json:"progress"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// Sync run states.
const (
	RunStateRunning   = "running"
	RunStateSucceeded = "succeeded"
	RunStateFailed    = "failed"
)

type dataStore interface {
	InsertRepository(context.Context, store.Repository) error
	GetRepository(context.Context, string) (store.Repository, error)
	ListRepositories(context.Context, bool) ([]store.Repository, error)
	UpdateDefaultBranch(context.Context, string, string) error
	DeactivateRepository(context.Context, string) error
	SetRepositoryState(context.Context, string, string, string) error
	AdvanceCheckpoint(context.Context, string, time.Time) error
	UpsertCommit(context.Context, store.Commit) (store.UpsertOutcome, error)
	GetCommit(context.Context, string) (store.Commit, error)
	GetCommits(context.Context, []string) ([]store.Commit, error)
	FindCommits(context.Context, store.CommitFilter, store.Page) ([]store.Commit, error)
	CountCommits(context.Context, store.CommitFilter) (int, error)
	RepositoryStats(context.Context, string) (store.RepoStats, error)
	CreateMapping(context.Context, store.CreateMappingInput) (store.Mapping, error)
	BulkCreateMappings(context.Context, []store.MappingPair, string, string, string) (store.BulkResult, error)
	RemoveMapping(context.Context, string, string) error
	GetMapping(context.Context, string) (store.Mapping, error)
	ListMappings(context.Context, string, bool) ([]store.Mapping, error)
	MappingStatistics(context.Context) (store.MappingStats, error)
	Ping(context.Context) error
}

type Service struct {
	store     dataStore
	sync      *syncer.Syncer
	provider  timesheet.Provider
	engine    *suggest.Engine
	workflows *workflow.Manager
	dial      func(forge.ConnectOptions) (forge.Client, error)
	log       *logrus.Entry
	cfg       config.Config

	runMu sync.Mutex
	runs  map[string]*SyncRun // keyed by repository ID, latest run only
}

func NewService(st dataStore, sy *syncer.Syncer, provider timesheet.Provider, engine *suggest.Engine, workflows *workflow.Manager, log *logrus.Entry, cfg config.Config) *Service {
	return &Service{
		store:     st,
		sync:      sy,
		provider:  provider,
		engine:    engine,
		workflows: workflows,
		dial:      forge.Dial,
		log:       log,
		cfg:       cfg,
		runs:      make(map[string]*SyncRun),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ConnectRepository verifies the connection upstream before anything is
// persisted. A repository row only ever exists in a tested state.
func (s *Service) ConnectRepository(ctx context.Context, input ConnectRepositoryInput) (store.Repository, error) {
	input.Platform = strings.ToLower(strings.TrimSpace(input.Platform))
	switch input.Platform {
	case store.PlatformGitHub, store.PlatformGitLab:
		if input.Owner == "" || input.Repo == "" {
			return store.Repository{}, validationError("owner and repo are required")
		}
	case store.PlatformLocal:
		if input.URL == "" {
			return store.Repository{}, validationError("url is required for local repositories")
		}
	default:
		return store.Repository{}, validationError("platform must be github, gitlab or local")
	}
	if input.Name == "" {
		input.Name = input.Repo
		if input.Name == "" {
			input.Name = input.URL
		}
	}

	client, err := s.dial(forge.ConnectOptions{
		Platform: input.Platform,
		URL:      input.URL,
		Owner:    input.Owner,
		Repo:     input.Repo,
		Token:    input.Token,
		BaseDir:  s.cfg.ReposDir,
	})
	if err != nil {
		return store.Repository{}, translate(err)
	}
	info, err := client.TestConnection(ctx)
	if err != nil {
		return store.Repository{}, translate(err)
	}

	now := time.Now().UTC()
	repo := store.Repository{
		ID:            util.NewID("repo"),
		Name:          input.Name,
		Platform:      input.Platform,
		Owner:         input.Owner,
		RepoName:      input.Repo,
		URL:           input.URL,
		CredentialRef: input.Token,
		DefaultBranch: info.DefaultBranch,
		State:         store.RepoStateConnected,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertRepository(ctx, repo); err != nil {
		return store.Repository{}, translate(err)
	}
	s.log.WithFields(logrus.Fields{
		"repository": repo.ID,
		"platform":   repo.Platform,
		"name":       repo.Name,
	}).Info("repository connected")
	return repo, nil
}

func (s *Service) ListRepositories(ctx context.Context, includeInactive bool) ([]store.Repository, error) {
	repos, err := s.store.ListRepositories(ctx, includeInactive)
	if err != nil {
		return nil, translate(err)
	}
	return repos, nil
}

func (s *Service) GetRepository(ctx context.Context, repositoryID string) (store.Repository, store.RepoStats, error) {
	repo, err := s.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return store.Repository{}, store.RepoStats{}, translate(err)
	}
	stats, err := s.store.RepositoryStats(ctx, repositoryID)
	if err != nil {
		return store.Repository{}, store.RepoStats{}, translate(err)
	}
	return repo, stats, nil
}

// ListBranches queries the upstream for the repository's branches.
func (s *Service) ListBranches(ctx context.Context, repositoryID string) ([]forge.Branch, error) {
	repo, err := s.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, translate(err)
	}
	client, err := s.dial(forge.ConnectOptions{
		Platform: repo.Platform,
		URL:      repo.URL,
		Owner:    repo.Owner,
		Repo:     repo.RepoName,
		Token:    repo.CredentialRef,
		BaseDir:  s.cfg.ReposDir,
	})
	if err != nil {
		return nil, translate(err)
	}
	branches, err := client.ListBranches(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return branches, nil
}

// DisconnectRepository soft-deletes the connection. Stored commits and
// mappings survive it.
func (s *Service) DisconnectRepository(ctx context.Context, repositoryID string) error {
	if err := s.store.DeactivateRepository(ctx, repositoryID); err != nil {
		return translate(err)
	}
	s.log.WithField("repository", repositoryID).Info("repository disconnected")
	return nil
}

// StartSync launches a background history pull. At most one run per
// repository is active at a time. An explicit window overrides the stored
// checkpoint; a zero window resumes from it.
func (s *Service) StartSync(ctx context.Context, repositoryID, branch string, window syncer.Window) (SyncRun, error) {
	repo, err := s.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return SyncRun{}, translate(err)
	}
	if !repo.Active {
		return SyncRun{}, conflictError("repository is disconnected")
	}

	client, err := s.dial(forge.ConnectOptions{
		Platform: repo.Platform,
		URL:      repo.URL,
		Owner:    repo.Owner,
		Repo:     repo.RepoName,
		Token:    repo.CredentialRef,
		BaseDir:  s.cfg.ReposDir,
	})
	if err != nil {
		return SyncRun{}, translate(err)
	}

	s.runMu.Lock()
	if current, ok := s.runs[repositoryID]; ok && current.State == RunStateRunning {
		s.runMu.Unlock()
		return SyncRun{}, conflictError("a sync is already running for this repository")
	}
	run := &SyncRun{
		ID:           util.NewID("run"),
		RepositoryID: repositoryID,
		Branch:       branch,
		State:        RunStateRunning,
		StartedAt:    time.Now().UTC(),
	}
	s.runs[repositoryID] = run
	s.runMu.Unlock()

	go s.runSync(repo, client, branch, window, run.ID)
	return *run, nil
}

func (s *Service) runSync(repo store.Repository, client forge.Client, branch string, window syncer.Window, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	onProgress := func(p syncer.Progress) {
		s.runMu.Lock()
		if run, ok := s.runs[repo.ID]; ok && run.ID == runID {
			run.Progress = p
		}
		s.runMu.Unlock()
	}
	_, err := s.sync.Sync(ctx, repo, client, branch, window, onProgress)

	now := time.Now().UTC()
	s.runMu.Lock()
	defer s.runMu.Unlock()
	run, ok := s.runs[repo.ID]
	if !ok || run.ID != runID {
		return
	}
	run.FinishedAt = &now
	if err != nil {
		run.State = RunStateFailed
		run.Error = err.Error()
		return
	}
	run.State = RunStateSucceeded
}

// SyncStatus reports the latest run for a repository, finished or not.
func (s *Service) SyncStatus(repositoryID string) (SyncRun, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	run, ok := s.runs[repositoryID]
	if !ok {
		return SyncRun{}, notFoundError("no sync run for this repository")
	}
	return *run, nil
}

func (s *Service) SearchCommits(ctx context.Context, input CommitSearchInput) ([]store.Commit, int, error) {
	filter := store.CommitFilter{
		RepositoryID: input.RepositoryID,
		Branch:       input.Branch,
		Author:       input.Author,
		Query:        input.Query,
		From:         input.From,
		To:           input.To,
		CommitType:   input.CommitType,
		Mapped:       input.Mapped,
	}
	page := store.Page{Limit: input.Limit, Offset: input.Offset}
	if page.Limit <= 0 || page.Limit > 200 {
		page.Limit = 50
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	commits, err := s.store.FindCommits(ctx, filter, page)
	if err != nil {
		return nil, 0, translate(err)
	}
	total, err := s.store.CountCommits(ctx, filter)
	if err != nil {
		return nil, 0, translate(err)
	}
	return commits, total, nil
}

func (s *Service) GetCommit(ctx context.Context, commitID string) (store.Commit, []store.Mapping, error) {
	commit, err := s.store.GetCommit(ctx, commitID)
	if err != nil {
		return store.Commit{}, nil, translate(err)
	}
	mappings, err := s.store.ListMappings(ctx, commitID, true)
	if err != nil {
		return store.Commit{}, nil, translate(err)
	}
	return commit, mappings, nil
}

// SuggestEntries scores the work entries around the commit's date and
// returns candidates best first. The window spans the scoring horizon on
// both sides; anything further away would score zero anyway.
func (s *Service) SuggestEntries(ctx context.Context, commitID string, limit int) ([]SuggestionItem, error) {
	commit, err := s.store.GetCommit(ctx, commitID)
	if err != nil {
		return nil, translate(err)
	}
	entries, err := s.provider.ListEntries(ctx, timesheet.Filter{
		From: commit.CommittedAt.AddDate(0, 0, -7),
		To:   commit.CommittedAt.AddDate(0, 0, 7),
	})
	if err != nil {
		return nil, fmt.Errorf("list work entries: %w", err)
	}

	byID := make(map[string]timesheet.Entry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}
	items := make([]SuggestionItem, 0, limit)
	for _, suggestion := range s.engine.Rank(commit, entries) {
		if len(items) == limit {
			break
		}
		items = append(items, SuggestionItem{
			Entry:      byID[suggestion.EntryID],
			Confidence: suggestion.Confidence,
		})
	}
	return items, nil
}

func (s *Service) ListWorkEntries(ctx context.Context, filter timesheet.Filter) ([]timesheet.Entry, error) {
	entries, err := s.provider.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list work entries: %w", err)
	}
	return entries, nil
}

func (s *Service) CreateMapping(ctx context.Context, input CreateMappingInput) (store.Mapping, error) {
	if input.CommitID == "" || input.WorkEntryID == "" {
		return store.Mapping{}, validationError("commitId and workEntryId are required")
	}
	mapping, err := s.store.CreateMapping(ctx, store.CreateMappingInput{
		CommitID:    input.CommitID,
		WorkEntryID: input.WorkEntryID,
		Method:      store.MethodManual,
		Note:        input.Note,
		CreatedBy:   input.CreatedBy,
	})
	if err != nil {
		return store.Mapping{}, translate(err)
	}
	return mapping, nil
}

// RemoveMapping deactivates a mapping. Removal is privileged: it needs the
// admin token because it rewrites reconciliation history.
func (s *Service) RemoveMapping(ctx context.Context, mappingID, actor, adminToken string) error {
	if s.cfg.AdminToken == "" || adminToken != s.cfg.AdminToken {
		return domainError(http.StatusForbidden, "FORBIDDEN", "mapping removal requires the admin token", nil)
	}
	if err := s.store.RemoveMapping(ctx, mappingID, actor); err != nil {
		return translate(err)
	}
	s.log.WithFields(logrus.Fields{"mapping": mappingID, "actor": actor}).Info("mapping removed")
	return nil
}

// BulkCreateMappings writes a caller-supplied batch directly, without a
// workflow session. Each pair succeeds or fails on its own.
func (s *Service) BulkCreateMappings(ctx context.Context, pairs []store.MappingPair, note, createdBy string) (store.BulkResult, error) {
	if len(pairs) == 0 {
		return store.BulkResult{}, validationError("pairs are required")
	}
	for _, pair := range pairs {
		if pair.CommitID == "" || pair.WorkEntryID == "" {
			return store.BulkResult{}, validationError("every pair needs commitId and workEntryId")
		}
	}
	result, err := s.store.BulkCreateMappings(ctx, pairs, store.MethodBulk, note, createdBy)
	if err != nil {
		return store.BulkResult{}, translate(err)
	}
	return result, nil
}

func (s *Service) ListMappings(ctx context.Context, commitID string, includeInactive bool) ([]store.Mapping, error) {
	mappings, err := s.store.ListMappings(ctx, commitID, includeInactive)
	if err != nil {
		return nil, translate(err)
	}
	return mappings, nil
}

// Overview aggregates per-repository commit coverage with mapping totals.
func (s *Service) Overview(ctx context.Context) (map[string]any, error) {
	repos, err := s.store.ListRepositories(ctx, false)
	if err != nil {
		return nil, translate(err)
	}
	perRepo := make([]map[string]any, 0, len(repos))
	for _, repo := range repos {
		stats, err := s.store.RepositoryStats(ctx, repo.ID)
		if err != nil {
			return nil, translate(err)
		}
		perRepo = append(perRepo, map[string]any{
			"repositoryId":    repo.ID,
			"name":            repo.Name,
			"platform":        repo.Platform,
			"state":           repo.State,
			"totalCommits":    stats.TotalCommits,
			"mappedCommits":   stats.MappedCommits,
			"unmappedCommits": stats.UnmappedCommits,
		})
	}
	mappingStats, err := s.store.MappingStatistics(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return map[string]any{
		"repositories":   perRepo,
		"activeMappings": mappingStats.TotalActive,
		"byMethod":       mappingStats.ByMethod,
	}, nil
}

// Workflow session operations delegate to the manager; the service adds
// validation that the referenced commits exist before they enter a session.

func (s *Service) StartWorkflow(createdBy string) workflow.View {
	return s.workflows.Start(createdBy)
}

func (s *Service) GetWorkflow(sessionID string) (workflow.View, error) {
	view, err := s.workflows.Get(sessionID)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowSelectCommits(ctx context.Context, sessionID string, commitIDs []string) (workflow.View, error) {
	commits, err := s.store.GetCommits(ctx, commitIDs)
	if err != nil {
		return workflow.View{}, translate(err)
	}
	if len(commits) != len(dedupe(commitIDs)) {
		return workflow.View{}, validationError("selection references unknown commits")
	}
	view, err := s.workflows.SelectCommits(sessionID, commitIDs)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowSelectEntries(ctx context.Context, sessionID string, entryIDs []string) (workflow.View, error) {
	entries, err := s.provider.GetEntries(ctx, entryIDs)
	if err != nil {
		return workflow.View{}, fmt.Errorf("verify work entries: %w", err)
	}
	if len(entries) != len(dedupe(entryIDs)) {
		return workflow.View{}, validationError("selection references unknown work entries")
	}
	view, err := s.workflows.SelectEntries(sessionID, entryIDs)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowPropose(ctx context.Context, sessionID string, strategy workflow.Strategy, manual []store.MappingPair) (workflow.View, error) {
	view, err := s.workflows.Propose(ctx, sessionID, strategy, manual)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowAssign(sessionID, commitID, entryID string) (workflow.View, error) {
	if commitID == "" || entryID == "" {
		return workflow.View{}, validationError("commitId and workEntryId are required")
	}
	view, err := s.workflows.Assign(sessionID, commitID, entryID)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowDrop(sessionID, commitID string) (workflow.View, error) {
	view, err := s.workflows.Drop(sessionID, commitID)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowBack(sessionID string) (workflow.View, error) {
	view, err := s.workflows.Back(sessionID)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowProcess(sessionID, note string) (workflow.View, error) {
	view, err := s.workflows.Process(sessionID, note)
	if err != nil {
		return workflow.View{}, translateWorkflow(err)
	}
	return view, nil
}

func (s *Service) WorkflowCancel(sessionID string) error {
	if err := s.workflows.Cancel(sessionID); err != nil {
		return translateWorkflow(err)
	}
	return nil
}

func translateWorkflow(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workflow.ErrSessionNotFound):
		return notFoundError("workflow session not found")
	case errors.Is(err, workflow.ErrEmptySelection):
		return validationError("selection is empty")
	case errors.Is(err, workflow.ErrWrongState):
		return conflictError(err.Error())
	default:
		return validationError(err.Error())
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
