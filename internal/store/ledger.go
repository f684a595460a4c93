package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gitsheet/api/internal/util"
)

const mappingColumns = `
	id, commit_id, work_entry_id, method, note, created_by, created_at,
	active, deactivated_at, COALESCE(deactivated_by, '')
`

func scanMapping(row interface{ Scan(...any) error }) (Mapping, error) {
	var item Mapping
	err := row.Scan(
		&item.ID,
		&item.CommitID,
		&item.WorkEntryID,
		&item.Method,
		&item.Note,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.Active,
		&item.DeactivatedAt,
		&item.DeactivatedBy,
	)
	return item, err
}

type CreateMappingInput struct {
	CommitID    string
	WorkEntryID string
	Method      string
	Note        string
	CreatedBy   string
}

// CreateMapping links a commit to a work entry. The insert and the mapped
// flag flip run in one transaction; the partial unique index on active
// mappings arbitrates concurrent attempts, so for any commit exactly one
// of two racing creates commits and the other reads ErrDuplicateMapping.
func (s *PostgresStore) CreateMapping(ctx context.Context, input CreateMappingInput) (Mapping, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mapping{}, fmt.Errorf("begin mapping tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	mapping, err := createMappingTx(ctx, tx, input)
	if err != nil {
		return Mapping{}, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Mapping{}, ErrDuplicateMapping
		}
		return Mapping{}, fmt.Errorf("commit mapping tx: %w", err)
	}
	return mapping, nil
}

func createMappingTx(ctx context.Context, tx *sql.Tx, input CreateMappingInput) (Mapping, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM commits WHERE id=$1)`, input.CommitID).Scan(&exists); err != nil {
		return Mapping{}, fmt.Errorf("check commit: %w", err)
	}
	if !exists {
		return Mapping{}, ErrNotFound
	}

	mapping := Mapping{
		ID:          util.NewID("map"),
		CommitID:    input.CommitID,
		WorkEntryID: input.WorkEntryID,
		Method:      input.Method,
		Note:        input.Note,
		CreatedBy:   input.CreatedBy,
		Active:      true,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO mappings (id, commit_id, work_entry_id, method, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, mapping.ID, mapping.CommitID, mapping.WorkEntryID, mapping.Method, mapping.Note, mapping.CreatedBy).Scan(&mapping.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Mapping{}, ErrDuplicateMapping
		}
		return Mapping{}, fmt.Errorf("insert mapping: %w", err)
	}

	// The only place besides RemoveMapping allowed to touch the flag.
	if _, err := tx.ExecContext(ctx, `UPDATE commits SET mapped=TRUE WHERE id=$1`, input.CommitID); err != nil {
		return Mapping{}, fmt.Errorf("mark commit mapped: %w", err)
	}
	return mapping, nil
}

// BulkCreateMappings processes pairs independently: one pair failing never
// rolls back or aborts the others, and the result enumerates exactly which
// pairs failed and why.
func (s *PostgresStore) BulkCreateMappings(ctx context.Context, pairs []MappingPair, method, note, createdBy string) (BulkResult, error) {
	result := BulkResult{Created: make([]Mapping, 0, len(pairs)), Failed: make([]PairFailure, 0)}
	for _, pair := range pairs {
		mapping, err := s.CreateMapping(ctx, CreateMappingInput{
			CommitID:    pair.CommitID,
			WorkEntryID: pair.WorkEntryID,
			Method:      method,
			Note:        note,
			CreatedBy:   createdBy,
		})
		switch {
		case err == nil:
			result.Created = append(result.Created, mapping)
		case errors.Is(err, ErrDuplicateMapping):
			result.Failed = append(result.Failed, PairFailure{
				CommitID: pair.CommitID, WorkEntryID: pair.WorkEntryID, Reason: "commit already mapped",
			})
		case errors.Is(err, ErrNotFound):
			result.Failed = append(result.Failed, PairFailure{
				CommitID: pair.CommitID, WorkEntryID: pair.WorkEntryID, Reason: "commit not found",
			})
		default:
			return result, err
		}
	}
	return result, nil
}

// RemoveMapping soft-deletes a mapping and recomputes the commit's mapped
// flag from the remaining active mappings. The audit row keeps its author,
// timestamp and note.
func (s *PostgresStore) RemoveMapping(ctx context.Context, mappingID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var commitID string
	err = tx.QueryRowContext(ctx, `
		UPDATE mappings SET active=FALSE, deactivated_at=NOW(), deactivated_by=$2
		WHERE id=$1 AND active
		RETURNING commit_id
	`, mappingID, actor).Scan(&commitID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deactivate mapping: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE commits SET mapped = EXISTS(SELECT 1 FROM mappings WHERE commit_id=$1 AND active)
		WHERE id=$1
	`, commitID)
	if err != nil {
		return fmt.Errorf("mark commit unmapped: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMapping(ctx context.Context, mappingID string) (Mapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id=$1`, mappingID)
	item, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("get mapping: %w", err)
	}
	return item, nil
}

// ListMappings returns mappings for a commit, newest first. Inactive audit
// rows are included only when requested.
func (s *PostgresStore) ListMappings(ctx context.Context, commitID string, includeInactive bool) ([]Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM mappings WHERE commit_id=$1`
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, commitID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	items := make([]Mapping, 0)
	for rows.Next() {
		item, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MappingStatistics(ctx context.Context) (MappingStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*) FROM mappings WHERE active GROUP BY method
	`)
	if err != nil {
		return MappingStats{}, fmt.Errorf("mapping statistics: %w", err)
	}
	defer rows.Close()

	stats := MappingStats{ByMethod: make(map[string]int)}
	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return MappingStats{}, fmt.Errorf("scan mapping stats: %w", err)
		}
		stats.ByMethod[method] = count
		stats.TotalActive += count
	}
	if err := rows.Err(); err != nil {
		return MappingStats{}, fmt.Errorf("iterate mapping stats: %w", err)
	}
	return stats, nil
}
