package store

import "time"

// Repository platform identifiers.
const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"
	PlatformLocal  = "local"
)

// Repository connection states.
const (
	RepoStateDisconnected = "disconnected"
	RepoStateConnected    = "connected"
	RepoStateError        = "error"
)

// Mapping methods.
const (
	MethodManual = "manual"
	MethodBulk   = "bulk"
	MethodAuto   = "auto"
)

// Commit type tags inferred from the message.
const (
	TypeFeature  = "feature"
	TypeBugfix   = "bugfix"
	TypeRefactor = "refactor"
	TypeDocs     = "docs"
	TypeTest     = "test"
	TypeChore    = "chore"
	TypeOther    = "other"
)

type Repository struct {
	ID            string
	Name          string
	Platform      string
	Owner         string
	RepoName      string
	URL           string
	CredentialRef string
	DefaultBranch string
	State         string
	StateError    string
	LastSyncedAt  *time.Time
	Checkpoint    *time.Time
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Commit struct {
	ID           string
	RepositoryID string
	Hash         string
	AuthorName   string
	AuthorEmail  string
	CommittedAt  time.Time
	Message      string
	Branch       string
	FilesChanged int
	Additions    int
	Deletions    int
	CommitType   string
	Mapped       bool
	CreatedAt    time.Time
}

// ShortHash returns the abbreviated commit hash used in display strings
// and error messages.
func (c Commit) ShortHash() string {
	if len(c.Hash) <= 8 {
		return c.Hash
	}
	return c.Hash[:8]
}

type Mapping struct {
	ID            string
	CommitID      string
	WorkEntryID   string
	Method        string
	Note          string
	CreatedBy     string
	CreatedAt     time.Time
	Active        bool
	DeactivatedAt *time.Time
	DeactivatedBy string
}

// CommitFilter composes over every searchable commit attribute. Zero
// values mean "no constraint on this attribute".
type CommitFilter struct {
	RepositoryID string
	Branch       string
	Author       string // substring over author name or email
	Query        string // substring over message, or hash prefix
	From         *time.Time
	To           *time.Time
	CommitType   string
	Mapped       *bool
}

type Page struct {
	Limit  int
	Offset int
}

type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

type MappingPair struct {
	CommitID    string
	WorkEntryID string
}

type PairFailure struct {
	CommitID    string
	WorkEntryID string
	Reason      string
}

type BulkResult struct {
	Created []Mapping
	Failed  []PairFailure
}

type RepoStats struct {
	RepositoryID    string
	TotalCommits    int
	MappedCommits   int
	UnmappedCommits int
}

type MappingStats struct {
	TotalActive int
	ByMethod    map[string]int
}
