package database

import "time"

// OwnerRecord represents an owned resource in the database.
type OwnerRecord struct {
	ResourceID string
	Owner      string
	UpdatedAt  time.Time
}

// ProposalRecord represents a pending ownership proposal in the database.
type ProposalRecord struct {
	ResourceID string
	Candidate  string
	ExpiresAt  time.Time
}
