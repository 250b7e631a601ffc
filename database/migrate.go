package database

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidTablePrefix is returned when the table prefix contains invalid characters
	ErrInvalidTablePrefix = errors.New("table prefix must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validTablePrefixPattern validates PostgreSQL-safe identifiers
	validTablePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

var (
	createOwnersTableSQL = `
CREATE TABLE IF NOT EXISTS %s_owners (
    resource_id   VARCHAR       NOT NULL,
    owner         VARCHAR       NOT NULL,
    updated_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (resource_id)
);`

	createProposalsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_proposals (
    resource_id   VARCHAR       NOT NULL REFERENCES %s_owners (resource_id) ON DELETE CASCADE,
    candidate     VARCHAR       NOT NULL,
    expires_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (resource_id)
);`
)

// ValidateTablePrefix checks if prefix is usable in table names.
// Table names get a suffix of at most 10 characters, so the prefix is capped at 53.
func ValidateTablePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("table prefix cannot be empty")
	}

	if len(prefix) > 53 {
		return errors.New("table prefix must be 53 characters or less")
	}

	if !validTablePrefixPattern.MatchString(prefix) {
		return ErrInvalidTablePrefix
	}

	return nil
}

// Migrate creates the owners and proposals tables.
func Migrate(db *sql.DB, tablePrefix string) error {
	if err := ValidateTablePrefix(tablePrefix); err != nil {
		return fmt.Errorf("invalid table prefix: %w", err)
	}

	if err := createOwnersTable(db, tablePrefix); err != nil {
		return err
	}

	if err := createProposalsTable(db, tablePrefix); err != nil {
		return err
	}

	return nil
}

func createOwnersTable(db *sql.DB, tablePrefix string) error {
	var query = fmt.Sprintf(createOwnersTableSQL, tablePrefix)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create owners table: %w", err)
	}
	return nil
}

func createProposalsTable(db *sql.DB, tablePrefix string) error {
	var query = fmt.Sprintf(createProposalsTableSQL, tablePrefix, tablePrefix)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create proposals table: %w", err)
	}
	return nil
}
