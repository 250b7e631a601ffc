package ownership

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go-ownership/database"
)

// PostgresHost stores resources in PostgreSQL tables named after tablePrefix.
// Each RunInTx is one database transaction holding a row lock on the resource.
type PostgresHost struct {
	db          *sql.DB
	tablePrefix string
	queries     *database.Queries
}

// NewPostgresHost creates a PostgresHost. Call Migrate before first use.
func NewPostgresHost(db *sql.DB, tablePrefix string) *PostgresHost {
	return &PostgresHost{
		db:          db,
		tablePrefix: tablePrefix,
		queries:     database.NewQueries(db, tablePrefix),
	}
}

// Migrate creates the tables used by the host.
func (h *PostgresHost) Migrate() error {
	if err := database.Migrate(h.db, h.tablePrefix); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Create registers resourceID with its initial owner.
func (h *PostgresHost) Create(ctx context.Context, resourceID string, owner Identity) error {
	var record = &database.OwnerRecord{
		ResourceID: resourceID,
		Owner:      owner.String(),
		UpdatedAt:  time.Now(),
	}

	inserted, err := h.queries.InsertOwner(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to create resource %s: %w", resourceID, err)
	}

	if !inserted {
		return ErrResourceExists
	}

	return nil
}

// RunInTx runs fn inside a transaction that locks the resource's owner row.
func (h *PostgresHost) RunInTx(ctx context.Context, resourceID string, fn func(tx Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var queries = h.queries.WithTx(tx)

	record, err := queries.LockOwner(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to lock resource %s: %w", resourceID, err)
	}

	if record == nil {
		return ErrResourceNotFound
	}

	var store = &proposalStore{
		resourceID: resourceID,
		owner:      Identity(record.Owner),
		queries:    queries,
	}
	if err := fn(store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// proposalStore maps the proposal slot and owner of one resource onto database records.
type proposalStore struct {
	resourceID string
	owner      Identity
	queries    *database.Queries
}

// Load returns the pending proposal, or nil if the slot is empty.
func (s *proposalStore) Load(ctx context.Context) (*Proposal, error) {
	var record, err = s.queries.GetProposal(ctx, s.resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal for %s: %w", s.resourceID, err)
	}

	if record == nil {
		return nil, nil
	}

	return &Proposal{
		Candidate: Identity(record.Candidate),
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Save writes the proposal, replacing any existing one.
func (s *proposalStore) Save(ctx context.Context, proposal *Proposal) error {
	var record = &database.ProposalRecord{
		ResourceID: s.resourceID,
		Candidate:  proposal.Candidate.String(),
		ExpiresAt:  proposal.ExpiresAt,
	}

	if err := s.queries.SetProposal(ctx, record); err != nil {
		return fmt.Errorf("failed to set proposal for %s: %w", s.resourceID, err)
	}

	return nil
}

// Remove deletes the pending proposal.
func (s *proposalStore) Remove(ctx context.Context) error {
	if err := s.queries.DeleteProposal(ctx, s.resourceID); err != nil {
		return fmt.Errorf("failed to delete proposal for %s: %w", s.resourceID, err)
	}
	return nil
}

// Owner returns the owner as read when the row was locked, or as last set in this transaction.
func (s *proposalStore) Owner(ctx context.Context) (Identity, error) {
	return s.owner, nil
}

// SetOwner writes a new owner for the resource.
func (s *proposalStore) SetOwner(ctx context.Context, owner Identity) error {
	var record = &database.OwnerRecord{
		ResourceID: s.resourceID,
		Owner:      owner.String(),
		UpdatedAt:  time.Now(),
	}

	if err := s.queries.SetOwner(ctx, record); err != nil {
		return fmt.Errorf("failed to set owner for %s: %w", s.resourceID, err)
	}

	s.owner = owner
	return nil
}
