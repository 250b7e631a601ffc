package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-ownership"

// Manager is the owning component of a set of resources: it stores their
// owners through a Host and exposes the ownership transfer commands.
type Manager struct {
	host    Host
	options options
}

// NewManager creates a Manager on top of host.
func NewManager(host Host, opts ...Option) *Manager {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Manager{
		host:    host,
		options: options,
	}
}

// Create registers resourceID with ownerRaw as its first owner.
func (m *Manager) Create(ctx context.Context, resourceID string, ownerRaw string) (Identity, error) {
	var owner, err = m.options.validator.Validate(ownerRaw)
	if err != nil {
		return "", err
	}

	if err := m.host.Create(ctx, resourceID, owner); err != nil {
		return "", err
	}

	m.options.logger.Info("created resource",
		"resource_id", resourceID,
		"owner", owner)

	return owner, nil
}

// Execute runs cmd on behalf of caller as one host transaction.
func (m *Manager) Execute(ctx context.Context, resourceID string, caller Identity, cmd Command) (Ack, error) {
	var action, err = cmd.Action()
	if err != nil {
		return Ack{}, err
	}

	var (
		requestID = uuid.NewString()
		start     = time.Now()
		now       = m.options.clock.Now().Truncate(time.Second)
		span      trace.Span
		ack       Ack
	)

	ctx, span = m.options.tracer.Start(ctx, "ownership."+string(action), trace.WithAttributes(
		attribute.String("ownership.resource_id", resourceID),
		attribute.String("ownership.request_id", requestID),
	))
	defer span.End()

	err = m.host.RunInTx(ctx, resourceID, func(tx Tx) error {
		var err error
		ack, err = m.dispatch(ctx, resourceID, tx, caller, cmd, now)
		return err
	})
	m.options.metrics.observe(action, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.options.logger.Warn("ownership command rejected",
			"request_id", requestID,
			"resource_id", resourceID,
			"action", action,
			"caller", caller,
			"error", err)
		return Ack{}, err
	}

	m.options.logger.Info("ownership command executed",
		"request_id", requestID,
		"resource_id", resourceID,
		"action", action,
		"caller", caller,
		"new_owner", ack.NewOwner)

	return ack, nil
}

// dispatch runs the set command variant inside tx.
func (m *Manager) dispatch(ctx context.Context, resourceID string, tx Tx, caller Identity, cmd Command, now time.Time) (Ack, error) {
	switch {
	case cmd.ProposeNewOwner != nil:
		var owner, err = tx.Owner(ctx)
		if err != nil {
			return Ack{}, fmt.Errorf("failed to read owner: %w", err)
		}

		return Propose(ctx, tx, m.options.validator, caller, owner,
			cmd.ProposeNewOwner.Owner, cmd.ProposeNewOwner.ExpiresIn, now)

	case cmd.DropOwnershipProposal != nil:
		var owner, err = tx.Owner(ctx)
		if err != nil {
			return Ack{}, fmt.Errorf("failed to read owner: %w", err)
		}

		return Drop(ctx, tx, caller, owner)

	default:
		var finalizer = &ownerFinalizer{
			resourceID: resourceID,
			tx:         tx,
			hook:       m.options.finalizeHook,
		}
		return Claim(ctx, tx, caller, now, finalizer)
	}
}

// ProposeNewOwner proposes newOwner for expiresIn seconds.
func (m *Manager) ProposeNewOwner(ctx context.Context, resourceID string, caller Identity, newOwner string, expiresIn uint64) (Ack, error) {
	return m.Execute(ctx, resourceID, caller, Command{
		ProposeNewOwner: &ProposeNewOwner{Owner: newOwner, ExpiresIn: expiresIn},
	})
}

// DropOwnershipProposal withdraws the pending proposal of resourceID.
func (m *Manager) DropOwnershipProposal(ctx context.Context, resourceID string, caller Identity) (Ack, error) {
	return m.Execute(ctx, resourceID, caller, Command{
		DropOwnershipProposal: &DropOwnershipProposal{},
	})
}

// ClaimOwnership accepts the pending proposal of resourceID.
func (m *Manager) ClaimOwnership(ctx context.Context, resourceID string, caller Identity) (Ack, error) {
	return m.Execute(ctx, resourceID, caller, Command{
		ClaimOwnership: &ClaimOwnership{},
	})
}

// Ownership returns the current owner and pending proposal of resourceID.
// An expired proposal is still reported until it is dropped or replaced.
func (m *Manager) Ownership(ctx context.Context, resourceID string) (Status, error) {
	var status = Status{ResourceID: resourceID}

	err := m.host.RunInTx(ctx, resourceID, func(tx Tx) error {
		var owner, err = tx.Owner(ctx)
		if err != nil {
			return fmt.Errorf("failed to read owner: %w", err)
		}
		status.Owner = owner

		proposal, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if proposal != nil {
			var expiresAt = proposal.ExpiresAt
			status.PendingOwner = proposal.Candidate
			status.PendingExpiry = &expiresAt
		}
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	return status, nil
}

// ownerFinalizer writes the claimed owner into the resource and runs the hook.
type ownerFinalizer struct {
	resourceID string
	tx         Tx
	hook       FinalizeHook
}

func (f *ownerFinalizer) Finalize(ctx context.Context, newOwner Identity) error {
	var previous, err = f.tx.Owner(ctx)
	if err != nil {
		return fmt.Errorf("failed to read owner: %w", err)
	}

	if err := f.tx.SetOwner(ctx, newOwner); err != nil {
		return fmt.Errorf("failed to apply new owner: %w", err)
	}

	if f.hook != nil {
		return f.hook(ctx, f.resourceID, previous, newOwner)
	}
	return nil
}
