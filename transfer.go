package ownership

import (
	"context"
	"fmt"
	"time"
)

//go:generate mockgen -source=transfer.go -destination=mocks/mocks.go -package=mocks

// Slot holds at most one pending Proposal for a single owned resource.
// Load returns (nil, nil) when the slot is empty; Remove on an empty slot is not an error.
type Slot interface {
	Load(ctx context.Context) (*Proposal, error)
	Save(ctx context.Context, proposal *Proposal) error
	Remove(ctx context.Context) error
}

// Finalizer applies a successfully claimed owner to the owning component.
// It is invoked only from a successful Claim, after the slot was cleared,
// and must run inside the same host transaction as the claim.
type Finalizer interface {
	Finalize(ctx context.Context, newOwner Identity) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, newOwner Identity) error

// Finalize calls f(ctx, newOwner).
func (f FinalizerFunc) Finalize(ctx context.Context, newOwner Identity) error {
	return f(ctx, newOwner)
}

// maxDeadline is the last second every host can store (the PostgreSQL
// TIMESTAMPTZ upper bound, 294276-12-31T23:59:59Z).
var maxDeadline = time.Date(294276, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()

// deadline returns now plus expiresIn seconds. It fails only when the sum
// cannot be stored.
func deadline(now time.Time, expiresIn uint64) (time.Time, error) {
	var start = now.Unix()
	if expiresIn > uint64(maxDeadline) || start > maxDeadline-int64(expiresIn) {
		return time.Time{}, fmt.Errorf("%w: %d + %d seconds is past the last storable deadline",
			ErrInvalidTTL, start, expiresIn)
	}
	return time.Unix(start+int64(expiresIn), int64(now.Nanosecond())), nil
}

// Propose creates or replaces the pending proposal of slot.
// The deadline is now+expiresIn seconds. A zero value yields a proposal that
// is only claimable at exactly now.
func Propose(ctx context.Context, slot Slot, validator Validator, caller, owner Identity, candidateRaw string, expiresIn uint64, now time.Time) (Ack, error) {
	if caller != owner {
		return Ack{}, ErrUnauthorized
	}

	var candidate, err = validator.Validate(candidateRaw)
	if err != nil {
		return Ack{}, err
	}

	if candidate == owner {
		return Ack{}, ErrInvalidProposal
	}

	expiresAt, err := deadline(now, expiresIn)
	if err != nil {
		return Ack{}, err
	}

	var proposal = &Proposal{
		Candidate: candidate,
		ExpiresAt: expiresAt,
	}
	if err := slot.Save(ctx, proposal); err != nil {
		return Ack{}, fmt.Errorf("failed to save proposal: %w", err)
	}

	return Ack{Action: ActionProposeNewOwner, NewOwner: candidate}, nil
}

// Drop clears the pending proposal of slot, if any.
func Drop(ctx context.Context, slot Slot, caller, owner Identity) (Ack, error) {
	if caller != owner {
		return Ack{}, ErrUnauthorized
	}

	if err := slot.Remove(ctx); err != nil {
		return Ack{}, fmt.Errorf("failed to remove proposal: %w", err)
	}

	return Ack{Action: ActionDropOwnershipProposal}, nil
}

// Claim accepts the pending proposal of slot on behalf of caller.
// Failed checks leave the slot untouched. On success the slot is cleared
// before finalizer runs; an error from finalizer is returned unchanged and the
// host transaction is expected to undo the clear.
func Claim(ctx context.Context, slot Slot, caller Identity, now time.Time, finalizer Finalizer) (Ack, error) {
	var proposal, err = slot.Load(ctx)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to load proposal: %w", err)
	}

	if proposal == nil {
		return Ack{}, ErrNotFound
	}

	if caller != proposal.Candidate {
		return Ack{}, ErrUnauthorized
	}

	if proposal.isExpired(now) {
		return Ack{}, ErrExpired
	}

	if err := slot.Remove(ctx); err != nil {
		return Ack{}, fmt.Errorf("failed to remove proposal: %w", err)
	}

	if err := finalizer.Finalize(ctx, proposal.Candidate); err != nil {
		return Ack{}, err
	}

	return Ack{Action: ActionClaimOwnership, NewOwner: proposal.Candidate}, nil
}
