// Package workflow drives bulk assignment sessions: pick commits, pick
// work entries, review the proposed pairings, then write them as mappings.
// Sessions live in memory; abandoning one costs nothing because no mapping
// exists until processing runs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gitsheet/api/internal/store"
	"gitsheet/api/internal/suggest"
	"gitsheet/api/internal/timesheet"
	"gitsheet/api/internal/util"
)

type State string

const (
	StateSelectCommits State = "select_commits"
	StateSelectEntries State = "select_entries"
	StateReview        State = "review"
	StateProcessing    State = "processing"
	StateDone          State = "done"
)

type Strategy string

const (
	StrategyIntelligent Strategy = "intelligent"
	StrategySequential  Strategy = "sequential"
	StrategyManual      Strategy = "manual"
)

var (
	ErrSessionNotFound = errors.New("workflow: session not found")
	ErrWrongState      = errors.New("workflow: operation not allowed in current state")
	ErrEmptySelection  = errors.New("workflow: selection is empty")
)

// Proposal is one reviewed commit/entry pairing awaiting processing.
type Proposal struct {
	CommitID    string
	WorkEntryID string
	Confidence  int
	Fallback    bool
}

type Counters struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

type session struct {
	id        string
	state     State
	strategy  Strategy
	createdBy string
	commitIDs []string
	entryIDs  []string
	proposals []Proposal
	counters  Counters
	failures  []store.PairFailure
	cancel    context.CancelFunc
	createdAt time.Time
	updatedAt time.Time
}

// View is an immutable snapshot of a session. Callers poll it while
// processing runs; the live session stays behind the manager's lock.
type View struct {
	ID        string
	State     State
	Strategy  Strategy
	CreatedBy string
	CommitIDs []string
	EntryIDs  []string
	Proposals []Proposal
	Counters  Counters
	Failures  []store.PairFailure
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ledger is the mapping write surface the workflow needs.
type Ledger interface {
	GetCommits(ctx context.Context, commitIDs []string) ([]store.Commit, error)
	CreateMapping(ctx context.Context, input store.CreateMappingInput) (store.Mapping, error)
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	ledger   Ledger
	provider timesheet.Provider
	engine   *suggest.Engine
	log      *logrus.Entry
}

func NewManager(ledger Ledger, provider timesheet.Provider, engine *suggest.Engine, log *logrus.Entry) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		ledger:   ledger,
		provider: provider,
		engine:   engine,
		log:      log,
	}
}

// Start opens a new session in the commit selection state.
func (m *Manager) Start(createdBy string) View {
	now := time.Now().UTC()
	item := &session{
		id:        util.NewID("wfs"),
		state:     StateSelectCommits,
		createdBy: createdBy,
		createdAt: now,
		updatedAt: now,
	}
	m.mu.Lock()
	m.sessions[item.id] = item
	m.mu.Unlock()
	return snapshot(item)
}

func (m *Manager) Get(sessionID string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return View{}, ErrSessionNotFound
	}
	return snapshot(item), nil
}

// SelectCommits records the commit selection and advances to entry
// selection. Allowed from the initial state only.
func (m *Manager) SelectCommits(sessionID string, commitIDs []string) (View, error) {
	if len(commitIDs) == 0 {
		return View{}, ErrEmptySelection
	}
	return m.transition(sessionID, StateSelectCommits, func(item *session) error {
		item.commitIDs = dedupe(commitIDs)
		item.state = StateSelectEntries
		return nil
	})
}

// SelectEntries records the work entry selection and advances to review.
func (m *Manager) SelectEntries(sessionID string, entryIDs []string) (View, error) {
	if len(entryIDs) == 0 {
		return View{}, ErrEmptySelection
	}
	return m.transition(sessionID, StateSelectEntries, func(item *session) error {
		item.entryIDs = dedupe(entryIDs)
		item.state = StateReview
		return nil
	})
}

// Propose builds the pairing proposals for review using the chosen
// strategy. Manual strategy takes the caller's pairs verbatim; pairs naming
// commits or entries outside the session's selection are rejected.
func (m *Manager) Propose(ctx context.Context, sessionID string, strategy Strategy, manual []store.MappingPair) (View, error) {
	view, err := m.Get(sessionID)
	if err != nil {
		return View{}, err
	}
	if view.State != StateReview {
		return View{}, fmt.Errorf("%w: state %s", ErrWrongState, view.State)
	}

	var proposals []Proposal
	switch strategy {
	case StrategyManual:
		proposals, err = manualProposals(view, manual)
	case StrategySequential:
		proposals = sequentialProposals(view)
	case StrategyIntelligent:
		proposals, err = m.intelligentProposals(ctx, view)
	default:
		return View{}, fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return View{}, err
	}

	return m.transition(sessionID, StateReview, func(item *session) error {
		item.strategy = strategy
		item.proposals = proposals
		return nil
	})
}

// Assign sets or overrides the proposal for one commit while the session
// is under review. A manual assignment replaces whatever the strategy
// proposed for that commit and loses the fallback flag.
func (m *Manager) Assign(sessionID, commitID, entryID string) (View, error) {
	return m.transition(sessionID, StateReview, func(item *session) error {
		if !contains(item.commitIDs, commitID) {
			return fmt.Errorf("commit %s is not in the session selection", commitID)
		}
		if !contains(item.entryIDs, entryID) {
			return fmt.Errorf("work entry %s is not in the session selection", entryID)
		}
		for i := range item.proposals {
			if item.proposals[i].CommitID == commitID {
				item.proposals[i] = Proposal{CommitID: commitID, WorkEntryID: entryID}
				return nil
			}
		}
		item.proposals = append(item.proposals, Proposal{CommitID: commitID, WorkEntryID: entryID})
		return nil
	})
}

// Drop removes the proposal for one commit while the session is under
// review. The commit stays selected and can be reassigned.
func (m *Manager) Drop(sessionID, commitID string) (View, error) {
	return m.transition(sessionID, StateReview, func(item *session) error {
		kept := item.proposals[:0]
		found := false
		for _, proposal := range item.proposals {
			if proposal.CommitID == commitID {
				found = true
				continue
			}
			kept = append(kept, proposal)
		}
		if !found {
			return fmt.Errorf("commit %s has no proposal", commitID)
		}
		item.proposals = kept
		return nil
	})
}

// Back steps one selection state backwards: review returns to entry
// selection discarding proposals, entry selection returns to commit
// selection discarding the entry picks. Both selections stay reachable
// until processing starts.
func (m *Manager) Back(sessionID string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return View{}, ErrSessionNotFound
	}
	switch item.state {
	case StateReview:
		item.proposals = nil
		item.strategy = ""
		item.state = StateSelectEntries
	case StateSelectEntries:
		item.entryIDs = nil
		item.state = StateSelectCommits
	default:
		return View{}, fmt.Errorf("%w: state %s", ErrWrongState, item.state)
	}
	item.updatedAt = time.Now().UTC()
	return snapshot(item), nil
}

// Process writes the reviewed proposals as mappings in the background.
// The returned view shows the processing state; poll Get for progress.
func (m *Manager) Process(sessionID, note string) (View, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	view, err := m.transition(sessionID, StateReview, func(item *session) error {
		if len(item.proposals) == 0 {
			return ErrEmptySelection
		}
		item.state = StateProcessing
		item.cancel = cancel
		item.counters = Counters{Total: len(item.proposals)}
		item.failures = nil
		return nil
	})
	if err != nil {
		cancel()
		return View{}, err
	}

	go m.run(procCtx, sessionID, note, view.CreatedBy, view.Proposals)
	return view, nil
}

// Cancel stops a session. While processing it halts further writes and the
// session completes with partial counters; mappings already written stay.
// In any other state it discards the session.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if item.state == StateProcessing {
		if item.cancel != nil {
			item.cancel()
		}
		return nil
	}
	delete(m.sessions, sessionID)
	return nil
}

// run executes proposals one at a time. Each create is independent: a
// duplicate or missing commit is recorded as a failure and the run moves
// on, so one bad pair never voids the batch.
func (m *Manager) run(ctx context.Context, sessionID, note, createdBy string, proposals []Proposal) {
	log := m.log.WithField("session", sessionID)
	for _, proposal := range proposals {
		if ctx.Err() != nil {
			log.Info("processing cancelled")
			break
		}
		_, err := m.ledger.CreateMapping(ctx, store.CreateMappingInput{
			CommitID:    proposal.CommitID,
			WorkEntryID: proposal.WorkEntryID,
			Method:      store.MethodBulk,
			Note:        note,
			CreatedBy:   createdBy,
		})
		m.record(sessionID, proposal, err)
		if err != nil && !errors.Is(err, store.ErrDuplicateMapping) && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Error("processing aborted")
			break
		}
	}
	m.finish(sessionID)
}

func (m *Manager) record(sessionID string, proposal Proposal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	item.counters.Processed++
	if err == nil {
		item.counters.Succeeded++
	} else {
		item.counters.Failed++
		item.failures = append(item.failures, store.PairFailure{
			CommitID:    proposal.CommitID,
			WorkEntryID: proposal.WorkEntryID,
			Reason:      failureReason(err),
		})
	}
	item.updatedAt = time.Now().UTC()
}

func (m *Manager) finish(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if item.cancel != nil {
		item.cancel()
		item.cancel = nil
	}
	item.state = StateDone
	item.updatedAt = time.Now().UTC()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateMapping):
		return "commit already mapped"
	case errors.Is(err, store.ErrNotFound):
		return "commit not found"
	default:
		return err.Error()
	}
}

func (m *Manager) intelligentProposals(ctx context.Context, view View) ([]Proposal, error) {
	commits, err := m.ledger.GetCommits(ctx, view.CommitIDs)
	if err != nil {
		return nil, fmt.Errorf("load selected commits: %w", err)
	}
	entries, err := m.provider.GetEntries(ctx, view.EntryIDs)
	if err != nil {
		return nil, fmt.Errorf("load selected entries: %w", err)
	}
	matches := m.engine.Match(commits, entries)

	proposals := make([]Proposal, 0, len(commits))
	for _, commit := range commits {
		match, ok := matches[commit.ID]
		if !ok {
			continue
		}
		proposals = append(proposals, Proposal{
			CommitID:    commit.ID,
			WorkEntryID: match.EntryID,
			Confidence:  match.Confidence,
			Fallback:    match.Fallback,
		})
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].CommitID < proposals[j].CommitID })
	return proposals, nil
}

func sequentialProposals(view View) []Proposal {
	proposals := make([]Proposal, 0, len(view.CommitIDs))
	for i, commitID := range view.CommitIDs {
		proposals = append(proposals, Proposal{
			CommitID:    commitID,
			WorkEntryID: view.EntryIDs[i%len(view.EntryIDs)],
		})
	}
	return proposals
}

func manualProposals(view View, manual []store.MappingPair) ([]Proposal, error) {
	if len(manual) == 0 {
		return nil, ErrEmptySelection
	}
	commitSet := toSet(view.CommitIDs)
	entrySet := toSet(view.EntryIDs)
	proposals := make([]Proposal, 0, len(manual))
	for _, pair := range manual {
		if _, ok := commitSet[pair.CommitID]; !ok {
			return nil, fmt.Errorf("commit %s is not in the session selection", pair.CommitID)
		}
		if _, ok := entrySet[pair.WorkEntryID]; !ok {
			return nil, fmt.Errorf("work entry %s is not in the session selection", pair.WorkEntryID)
		}
		proposals = append(proposals, Proposal{CommitID: pair.CommitID, WorkEntryID: pair.WorkEntryID})
	}
	return proposals, nil
}

// transition applies fn to the session if it is in the expected state.
func (m *Manager) transition(sessionID string, expected State, fn func(*session) error) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[sessionID]
	if !ok {
		return View{}, ErrSessionNotFound
	}
	if item.state != expected {
		return View{}, fmt.Errorf("%w: state %s", ErrWrongState, item.state)
	}
	if err := fn(item); err != nil {
		return View{}, err
	}
	item.updatedAt = time.Now().UTC()
	return snapshot(item), nil
}

func snapshot(item *session) View {
	return View{
		ID:        item.id,
		State:     item.state,
		Strategy:  item.strategy,
		CreatedBy: item.createdBy,
		CommitIDs: append([]string(nil), item.commitIDs...),
		EntryIDs:  append([]string(nil), item.entryIDs...),
		Proposals: append([]Proposal(nil), item.proposals...),
		Counters:  item.counters,
		Failures:  append([]store.PairFailure(nil), item.failures...),
		CreatedAt: item.createdAt,
		UpdatedAt: item.updatedAt,
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

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
