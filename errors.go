package ownership

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not the required authority:
	// the current owner for propose and drop, the candidate for claim.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidProposal is returned when the candidate is already the owner.
	ErrInvalidProposal = errors.New("new owner cannot be same")

	// ErrNotFound is returned when claiming with no pending proposal.
	ErrNotFound = errors.New("ownership proposal not found")

	// ErrExpired is returned when claiming after the proposal deadline.
	ErrExpired = errors.New("ownership proposal expired")

	// ErrInvalidIdentity is wrapped by the default validator.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidTTL is returned when a proposal deadline cannot be represented.
	ErrInvalidTTL = errors.New("invalid proposal ttl")

	// ErrInvalidCommand is returned for malformed commands.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrResourceNotFound is returned by hosts for unknown resources.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceExists is returned when creating a resource twice.
	ErrResourceExists = errors.New("resource already exists")

	// ErrConflict is returned by optimistic hosts when a concurrent request won.
	ErrConflict = errors.New("concurrent modification")
)
