package ownership

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeClock is a settable Clock for tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestManager(t *testing.T) {
	const (
		resourceID = "pool-1"
		alice      = Identity("alice")
		bob        = Identity("bob")
		carol      = Identity("carol")
	)

	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		newManager = func(t *testing.T, clock Clock, opts ...Option) *Manager {
			var sut = NewManager(NewMemoryHost(), append([]Option{WithClock(clock)}, opts...)...)
			var _, err = sut.Create(newCtx(), resourceID, "alice")
			require.NoError(t, err)
			return sut
		}
		at = func(seconds int64) *fakeClock {
			return &fakeClock{now: time.Unix(seconds, 0)}
		}
	)

	t.Run("should transfer ownership through propose and claim", func(t *testing.T) {
		// Arrange
		var (
			clock = at(1000)
			sut   = newManager(t, clock)
		)

		// Act
		var proposeAck, proposeErr = sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		clock.now = time.Unix(1050, 0)
		var claimAck, claimErr = sut.ClaimOwnership(newCtx(), resourceID, bob)

		// Assert
		require.NoError(t, proposeErr)
		require.NoError(t, claimErr)
		assert.Equal(t, Ack{Action: ActionProposeNewOwner, NewOwner: bob}, proposeAck)
		assert.Equal(t, Ack{Action: ActionClaimOwnership, NewOwner: bob}, claimAck)

		var status, err = sut.Ownership(newCtx(), resourceID)
		require.NoError(t, err)
		assert.Equal(t, bob, status.Owner)
		assert.Nil(t, status.PendingExpiry)
	})

	t.Run("should let the new owner start the next transfer", func(t *testing.T) {
		// Arrange
		var (
			clock = at(1000)
			sut   = newManager(t, clock)
		)
		_, err := sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		require.NoError(t, err)
		_, err = sut.ClaimOwnership(newCtx(), resourceID, bob)
		require.NoError(t, err)

		// Act
		_, oldOwnerErr := sut.ProposeNewOwner(newCtx(), resourceID, alice, "carol", 100)
		_, newOwnerErr := sut.ProposeNewOwner(newCtx(), resourceID, bob, "carol", 100)

		// Assert
		assert.ErrorIs(t, oldOwnerErr, ErrUnauthorized)
		assert.NoError(t, newOwnerErr)
	})

	t.Run("should refuse non-owner before looking at expires_in", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))

		// Act
		var _, err = sut.ProposeNewOwner(newCtx(), resourceID, "mallory", "bob", math.MaxUint64)

		// Assert
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("should accept expires_in beyond the duration range", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))

		// Act
		var _, err = sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 1_000_000_000_000)

		// Assert
		require.NoError(t, err)
		var status, statusErr = sut.Ownership(newCtx(), resourceID)
		require.NoError(t, statusErr)
		assert.Equal(t, int64(1_000_000_001_000), status.PendingExpiry.Unix())
	})

	t.Run("should reject owner deadline that cannot be stored", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))

		// Act
		var _, err = sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", math.MaxUint64)

		// Assert
		assert.ErrorIs(t, err, ErrInvalidTTL)
		var status, statusErr = sut.Ownership(newCtx(), resourceID)
		require.NoError(t, statusErr)
		assert.Nil(t, status.PendingExpiry)
	})

	t.Run("should report pending proposal in ownership status", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))
		_, err := sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		require.NoError(t, err)

		// Act
		var status, statusErr = sut.Ownership(newCtx(), resourceID)

		// Assert
		require.NoError(t, statusErr)
		assert.Equal(t, alice, status.Owner)
		assert.Equal(t, bob, status.PendingOwner)
		require.NotNil(t, status.PendingExpiry)
		assert.Equal(t, int64(1100), status.PendingExpiry.Unix())
	})

	t.Run("should truncate clock to whole seconds", func(t *testing.T) {
		// Arrange
		var (
			clock = &fakeClock{now: time.Unix(1000, 900_000_000)}
			sut   = newManager(t, clock)
		)

		// Act
		_, err := sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		require.NoError(t, err)
		var status, statusErr = sut.Ownership(newCtx(), resourceID)

		// Assert
		require.NoError(t, statusErr)
		assert.True(t, time.Unix(1100, 0).Equal(*status.PendingExpiry))
	})

	t.Run("should restore slot and owner when finalize hook fails", func(t *testing.T) {
		// Arrange
		var (
			clock   = at(1000)
			hookErr = errors.New("owning component refused")
			calls   int
			sut     = newManager(t, clock, WithFinalizeHook(func(ctx context.Context, id string, previous, newOwner Identity) error {
				calls++
				assert.Equal(t, resourceID, id)
				assert.Equal(t, alice, previous)
				assert.Equal(t, bob, newOwner)
				return hookErr
			}))
		)
		_, err := sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		require.NoError(t, err)
		var before, beforeErr = sut.Ownership(newCtx(), resourceID)
		require.NoError(t, beforeErr)

		// Act
		clock.now = time.Unix(1050, 0)
		_, err = sut.ClaimOwnership(newCtx(), resourceID, bob)

		// Assert
		assert.Same(t, hookErr, err)
		assert.Equal(t, 1, calls)

		var after, afterErr = sut.Ownership(newCtx(), resourceID)
		require.NoError(t, afterErr)
		assert.Equal(t, before, after)
	})

	t.Run("should keep expired proposal until dropped", func(t *testing.T) {
		// Arrange
		var (
			clock = at(1000)
			sut   = newManager(t, clock)
		)
		_, err := sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		require.NoError(t, err)

		// Act
		clock.now = time.Unix(1150, 0)
		_, claimErr := sut.ClaimOwnership(newCtx(), resourceID, bob)
		var expired, expiredErr = sut.Ownership(newCtx(), resourceID)
		_, dropErr := sut.DropOwnershipProposal(newCtx(), resourceID, alice)
		var dropped, droppedErr = sut.Ownership(newCtx(), resourceID)

		// Assert
		assert.ErrorIs(t, claimErr, ErrExpired)
		require.NoError(t, expiredErr)
		assert.Equal(t, bob, expired.PendingOwner)
		require.NoError(t, dropErr)
		require.NoError(t, droppedErr)
		assert.Nil(t, dropped.PendingExpiry)
	})

	t.Run("should reject invalid owner on create", func(t *testing.T) {
		// Arrange
		var sut = NewManager(NewMemoryHost())

		// Act
		var _, err = sut.Create(newCtx(), resourceID, "Alice")

		// Assert
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("should reject duplicate and unknown resources", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))

		// Act
		var _, createErr = sut.Create(newCtx(), resourceID, "carol")
		var _, claimErr = sut.ClaimOwnership(newCtx(), "missing", carol)

		// Assert
		assert.ErrorIs(t, createErr, ErrResourceExists)
		assert.ErrorIs(t, claimErr, ErrResourceNotFound)
	})

	t.Run("should reject command without variant", func(t *testing.T) {
		// Arrange
		var sut = newManager(t, at(1000))

		// Act
		var _, err = sut.Execute(newCtx(), resourceID, alice, Command{})

		// Assert
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})

	t.Run("should count outcomes per action", func(t *testing.T) {
		// Arrange
		var (
			registry = prometheus.NewRegistry()
			metrics  = NewMetrics(registry)
			sut      = newManager(t, at(1000), WithMetrics(metrics))
		)

		// Act
		_, _ = sut.ProposeNewOwner(newCtx(), resourceID, bob, "carol", 100)
		_, _ = sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		_, _ = sut.ClaimOwnership(newCtx(), resourceID, carol)

		// Assert
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("propose_new_owner", "unauthorized")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("propose_new_owner", "ok")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("claim_ownership", "unauthorized")))
	})

	t.Run("should record one span per command", func(t *testing.T) {
		// Arrange
		var (
			recorder = tracetest.NewSpanRecorder()
			provider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			sut      = newManager(t, at(1000), WithTracerProvider(provider))
		)

		// Act
		_, _ = sut.ProposeNewOwner(newCtx(), resourceID, alice, "bob", 100)
		_, _ = sut.ClaimOwnership(newCtx(), resourceID, carol)

		// Assert
		var spans = recorder.Ended()
		require.Len(t, spans, 2)
		assert.Equal(t, "ownership.propose_new_owner", spans[0].Name())
		assert.Equal(t, "ownership.claim_ownership", spans[1].Name())
		assert.NotEmpty(t, spans[1].Events(), "rejected claim should record the error")
	})
}
