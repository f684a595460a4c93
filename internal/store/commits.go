package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const commitColumns = `
	id, repository_id, hash, author_name, author_email, committed_at, message,
	branch, files_changed, additions, deletions, commit_type, mapped, created_at
`

func scanCommit(row interface{ Scan(...any) error }) (Commit, error) {
	var item Commit
	err := row.Scan(
		&item.ID,
		&item.RepositoryID,
		&item.Hash,
		&item.AuthorName,
		&item.AuthorEmail,
		&item.CommittedAt,
		&item.Message,
		&item.Branch,
		&item.FilesChanged,
		&item.Additions,
		&item.Deletions,
		&item.CommitType,
		&item.Mapped,
		&item.CreatedAt,
	)
	return item, err
}

// UpsertCommit inserts a commit once per (repository, hash). A commit seen
// again is left untouched except for its branch association; in particular
// the mapped flag is never written here, only by ledger transactions.
func (s *PostgresStore) UpsertCommit(ctx context.Context, item Commit) (UpsertOutcome, error) {
	var insertedID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO commits (id, repository_id, hash, author_name, author_email, committed_at,
			message, branch, files_changed, additions, deletions, commit_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repository_id, hash) DO NOTHING
		RETURNING id
	`,
		item.ID, item.RepositoryID, item.Hash, item.AuthorName, item.AuthorEmail,
		item.CommittedAt.UTC(), item.Message, item.Branch,
		item.FilesChanged, item.Additions, item.Deletions, item.CommitType,
	).Scan(&insertedID)
	if err == nil {
		return UpsertInserted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("upsert commit: %w", err)
	}

	// Already present: only branch drift is carried over.
	_, err = s.db.ExecContext(ctx, `
		UPDATE commits SET branch=$3 WHERE repository_id=$1 AND hash=$2 AND branch <> $3
	`, item.RepositoryID, item.Hash, item.Branch)
	if err != nil {
		return "", fmt.Errorf("update commit branch: %w", err)
	}
	return UpsertUnchanged, nil
}

func (s *PostgresStore) GetCommit(ctx context.Context, commitID string) (Commit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE id=$1`, commitID)
	item, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, ErrNotFound
	}
	if err != nil {
		return Commit{}, fmt.Errorf("get commit: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetCommits(ctx context.Context, commitIDs []string) ([]Commit, error) {
	if len(commitIDs) == 0 {
		return []Commit{}, nil
	}
	placeholders := make([]string, len(commitIDs))
	args := make([]any, len(commitIDs))
	for i, id := range commitIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := `SELECT ` + commitColumns + ` FROM commits WHERE id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY committed_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get commits: %w", err)
	}
	defer rows.Close()
	return collectCommits(rows)
}

// FindCommits is a read-only composable search. Results are ordered most
// recent first with the id as a stable tie-break, so pagination offsets
// stay meaningful while writers insert concurrently.
func (s *PostgresStore) FindCommits(ctx context.Context, filter CommitFilter, page Page) ([]Commit, error) {
	where, args := buildCommitWhere(filter)

	query := `SELECT ` + commitColumns + ` FROM commits` + where +
		` ORDER BY committed_at DESC, id DESC`
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find commits: %w", err)
	}
	defer rows.Close()
	return collectCommits(rows)
}

func (s *PostgresStore) CountCommits(ctx context.Context, filter CommitFilter) (int, error) {
	where, args := buildCommitWhere(filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RepositoryStats(ctx context.Context, repositoryID string) (RepoStats, error) {
	stats := RepoStats{RepositoryID: repositoryID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE mapped)
		FROM commits WHERE repository_id=$1
	`, repositoryID).Scan(&stats.TotalCommits, &stats.MappedCommits)
	if err != nil {
		return RepoStats{}, fmt.Errorf("repository stats: %w", err)
	}
	stats.UnmappedCommits = stats.TotalCommits - stats.MappedCommits
	return stats, nil
}

func buildCommitWhere(filter CommitFilter) (string, []any) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)

	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.RepositoryID != "" {
		clauses = append(clauses, "repository_id = "+arg(filter.RepositoryID))
	}
	if filter.Branch != "" {
		clauses = append(clauses, "branch = "+arg(filter.Branch))
	}
	if filter.Author != "" {
		pattern := arg("%" + filter.Author + "%")
		clauses = append(clauses, "(author_name ILIKE "+pattern+" OR author_email ILIKE "+pattern+")")
	}
	if filter.Query != "" {
		pattern := arg("%" + filter.Query + "%")
		prefix := arg(strings.ToLower(filter.Query) + "%")
		clauses = append(clauses, "(message ILIKE "+pattern+" OR hash LIKE "+prefix+")")
	}
	if filter.From != nil {
		clauses = append(clauses, "committed_at >= "+arg(filter.From.UTC()))
	}
	if filter.To != nil {
		clauses = append(clauses, "committed_at <= "+arg(filter.To.UTC()))
	}
	if filter.CommitType != "" {
		clauses = append(clauses, "commit_type = "+arg(filter.CommitType))
	}
	if filter.Mapped != nil {
		clauses = append(clauses, "mapped = "+arg(*filter.Mapped))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func collectCommits(rows *sql.Rows) ([]Commit, error) {
	items := make([]Commit, 0)
	for rows.Next() {
		item, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return items, nil
}
