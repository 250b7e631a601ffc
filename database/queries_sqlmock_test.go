package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueriesWithMock(t *testing.T) {
	const (
		testPrefix = "own"
	)

	var (
		newSut = func(t *testing.T) (*Queries, sqlmock.Sqlmock) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = db.Close()
			})
			return NewQueries(db, testPrefix), mock
		}
		expiresAt = time.Unix(1100, 0).UTC()
	)

	t.Run("should scan proposal", func(t *testing.T) {
		// Arrange
		var (
			sut, mock = newSut(t)
			rows      = sqlmock.NewRows([]string{"resource_id", "candidate", "expires_at"}).
					AddRow("pool-1", "bob", expiresAt)
		)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id, candidate, expires_at\nFROM own_proposals")).
			WithArgs("pool-1").
			WillReturnRows(rows)

		// Act
		var proposal, err = sut.GetProposal(context.Background(), "pool-1")

		// Assert
		require.NoError(t, err)
		require.NotNil(t, proposal)
		assert.Equal(t, "bob", proposal.Candidate)
		assert.True(t, expiresAt.Equal(proposal.ExpiresAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should return nil proposal when no rows", func(t *testing.T) {
		// Arrange
		var sut, mock = newSut(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM own_proposals")).
			WithArgs("pool-1").
			WillReturnRows(sqlmock.NewRows([]string{"resource_id", "candidate", "expires_at"}))

		// Act
		var proposal, err = sut.GetProposal(context.Background(), "pool-1")

		// Assert
		require.NoError(t, err)
		assert.Nil(t, proposal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should upsert proposal", func(t *testing.T) {
		// Arrange
		var sut, mock = newSut(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO own_proposals (resource_id, candidate, expires_at)")).
			WithArgs("pool-1", "bob", expiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Act
		var err = sut.SetProposal(context.Background(), &ProposalRecord{
			ResourceID: "pool-1",
			Candidate:  "bob",
			ExpiresAt:  expiresAt,
		})

		// Assert
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should wrap delete errors", func(t *testing.T) {
		// Arrange
		var (
			sut, mock = newSut(t)
			dbErr     = errors.New("connection reset")
		)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM own_proposals")).
			WithArgs("pool-1").
			WillReturnError(dbErr)

		// Act
		var err = sut.DeleteProposal(context.Background(), "pool-1")

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to delete proposal")
	})

	t.Run("should report duplicate owner insert", func(t *testing.T) {
		// Arrange
		var sut, mock = newSut(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO own_owners")).
			WithArgs("pool-1", "alice", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		// Act
		var inserted, err = sut.InsertOwner(context.Background(), &OwnerRecord{
			ResourceID: "pool-1",
			Owner:      "alice",
			UpdatedAt:  time.Now(),
		})

		// Assert
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should lock owner row for update", func(t *testing.T) {
		// Arrange
		var sut, mock = newSut(t)
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("pool-1").
			WillReturnRows(sqlmock.NewRows([]string{"resource_id", "owner", "updated_at"}).
				AddRow("pool-1", "alice", time.Now()))

		// Act
		var owner, err = sut.LockOwner(context.Background(), "pool-1")

		// Assert
		require.NoError(t, err)
		require.NotNil(t, owner)
		assert.Equal(t, "alice", owner.Owner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestValidateTablePrefix(t *testing.T) {
	t.Run("should accept valid prefixes", func(t *testing.T) {
		for _, prefix := range []string{"own", "owner_ship", "a1"} {
			assert.NoError(t, ValidateTablePrefix(prefix), prefix)
		}
	})

	t.Run("should reject invalid prefixes", func(t *testing.T) {
		for _, prefix := range []string{"", "1abc", "Own", "own-ship", "own;drop"} {
			assert.Error(t, ValidateTablePrefix(prefix), prefix)
		}
	})
}
