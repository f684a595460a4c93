package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const repoColumns = `
	id, name, platform, owner, repo_name, url, credential_ref, default_branch,
	state, state_error, last_synced_at, checkpoint, active, created_at, updated_at
`

func scanRepository(row interface{ Scan(...any) error }) (Repository, error) {
	var item Repository
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Platform,
		&item.Owner,
		&item.RepoName,
		&item.URL,
		&item.CredentialRef,
		&item.DefaultBranch,
		&item.State,
		&item.StateError,
		&item.LastSyncedAt,
		&item.Checkpoint,
		&item.Active,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertRepository(ctx context.Context, item Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, platform, owner, repo_name, url, credential_ref, default_branch, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.Name, item.Platform, item.Owner, item.RepoName, item.URL, item.CredentialRef, item.DefaultBranch, RepoStateDisconnected)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRepository
		}
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, repositoryID string) (Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id=$1`, repositoryID)
	item, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Repository{}, ErrNotFound
	}
	if err != nil {
		return Repository{}, fmt.Errorf("get repository: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context, includeInactive bool) ([]Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	items := make([]Repository, 0)
	for rows.Next() {
		item, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return items, nil
}

// SetRepositoryState records the outcome of a connection test or sync
// attempt. The error text is cleared when the state is not "error".
func (s *PostgresStore) SetRepositoryState(ctx context.Context, repositoryID, state, stateError string) error {
	if state != RepoStateError {
		stateError = ""
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET state=$2, state_error=$3, updated_at=NOW() WHERE id=$1
	`, repositoryID, state, stateError)
	if err != nil {
		return fmt.Errorf("set repository state: %w", err)
	}
	return noRowsAsNotFound(result)
}

// AdvanceCheckpoint moves the sync checkpoint forward. The checkpoint is
// monotonic: a value older than the stored one is ignored.
func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, repositoryID string, checkpoint time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories
		SET checkpoint = GREATEST(COALESCE(checkpoint, 'epoch'::timestamptz), $2),
			last_synced_at = NOW(),
			updated_at = NOW()
		WHERE id=$1
	`, repositoryID, checkpoint.UTC())
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return noRowsAsNotFound(result)
}

func (s *PostgresStore) UpdateDefaultBranch(ctx context.Context, repositoryID, branch string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET default_branch=$2, updated_at=NOW() WHERE id=$1
	`, repositoryID, branch)
	if err != nil {
		return fmt.Errorf("update default branch: %w", err)
	}
	return noRowsAsNotFound(result)
}

// DeactivateRepository soft-deletes a connection. The row stays because
// stored commits and mappings keep referencing it.
func (s *PostgresStore) DeactivateRepository(ctx context.Context, repositoryID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET active=FALSE, updated_at=NOW() WHERE id=$1 AND active
	`, repositoryID)
	if err != nil {
		return fmt.Errorf("deactivate repository: %w", err)
	}
	return noRowsAsNotFound(result)
}

func noRowsAsNotFound(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
