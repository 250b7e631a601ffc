package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations.
type Queries struct {
	db          DBTX
	tablePrefix string
}

// NewQueries creates a new Queries instance with the given table prefix.
func NewQueries(db DBTX, tablePrefix string) *Queries {
	return &Queries{
		db:          db,
		tablePrefix: tablePrefix,
	}
}

// WithTx returns a Queries bound to tx with the same table prefix.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db:          tx,
		tablePrefix: q.tablePrefix,
	}
}

var (
	insertOwnerSQL = `
INSERT INTO %s_owners (resource_id, owner, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (resource_id) DO NOTHING;`

	getOwnerSQL = `
SELECT resource_id, owner, updated_at
FROM %s_owners
WHERE resource_id = $1;`

	lockOwnerSQL = `
SELECT resource_id, owner, updated_at
FROM %s_owners
WHERE resource_id = $1
FOR UPDATE;`

	setOwnerSQL = `
UPDATE %s_owners
SET owner = $2, updated_at = $3
WHERE resource_id = $1;`

	getProposalSQL = `
SELECT resource_id, candidate, expires_at
FROM %s_proposals
WHERE resource_id = $1;`

	setProposalSQL = `
INSERT INTO %s_proposals (resource_id, candidate, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (resource_id)
DO UPDATE SET
    candidate = EXCLUDED.candidate,
    expires_at = EXCLUDED.expires_at;`

	deleteProposalSQL = `
DELETE FROM %s_proposals
WHERE resource_id = $1;`
)

// InsertOwner registers a resource. It returns false if the resource already exists.
func (q *Queries) InsertOwner(ctx context.Context, owner *OwnerRecord) (bool, error) {
	var query = fmt.Sprintf(insertOwnerSQL, q.tablePrefix)
	result, err := q.db.ExecContext(ctx, query, owner.ResourceID, owner.Owner, owner.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert owner: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// GetOwner retrieves the owner record of a resource, or nil if not found.
func (q *Queries) GetOwner(ctx context.Context, resourceID string) (*OwnerRecord, error) {
	return q.scanOwner(ctx, getOwnerSQL, resourceID)
}

// LockOwner retrieves the owner record and locks its row until the surrounding
// transaction ends. It returns nil if the resource does not exist.
func (q *Queries) LockOwner(ctx context.Context, resourceID string) (*OwnerRecord, error) {
	return q.scanOwner(ctx, lockOwnerSQL, resourceID)
}

func (q *Queries) scanOwner(ctx context.Context, querySQL string, resourceID string) (*OwnerRecord, error) {
	var (
		query = fmt.Sprintf(querySQL, q.tablePrefix)
		owner OwnerRecord
		err   = q.db.QueryRowContext(ctx, query, resourceID).Scan(
			&owner.ResourceID, &owner.Owner, &owner.UpdatedAt,
		)
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	return &owner, nil
}

// SetOwner updates the owner of an existing resource.
func (q *Queries) SetOwner(ctx context.Context, owner *OwnerRecord) error {
	var query = fmt.Sprintf(setOwnerSQL, q.tablePrefix)
	_, err := q.db.ExecContext(ctx, query, owner.ResourceID, owner.Owner, owner.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set owner: %w", err)
	}
	return nil
}

// GetProposal retrieves the pending proposal of a resource, or nil if there is none.
func (q *Queries) GetProposal(ctx context.Context, resourceID string) (*ProposalRecord, error) {
	var (
		query    = fmt.Sprintf(getProposalSQL, q.tablePrefix)
		proposal ProposalRecord
		err      = q.db.QueryRowContext(ctx, query, resourceID).Scan(
			&proposal.ResourceID, &proposal.Candidate, &proposal.ExpiresAt,
		)
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return &proposal, nil
}

// SetProposal inserts or replaces the pending proposal of a resource.
func (q *Queries) SetProposal(ctx context.Context, proposal *ProposalRecord) error {
	var query = fmt.Sprintf(setProposalSQL, q.tablePrefix)
	_, err := q.db.ExecContext(ctx, query, proposal.ResourceID, proposal.Candidate, proposal.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to set proposal: %w", err)
	}
	return nil
}

// DeleteProposal removes the pending proposal of a resource, if any.
func (q *Queries) DeleteProposal(ctx context.Context, resourceID string) error {
	var query = fmt.Sprintf(deleteProposalSQL, q.tablePrefix)
	_, err := q.db.ExecContext(ctx, query, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete proposal: %w", err)
	}
	return nil
}
