package ownership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// transferStep is one generated request against a single resource.
type transferStep struct {
	op        int // 0 propose, 1 drop, 2 claim, 3 claim refused by the owning component
	caller    int
	candidate int
	ttl       uint64
	advance   int64
}

// transferModel is the reference state machine of a proposal slot.
type transferModel struct {
	owner   Identity
	pending *Proposal
}

var errRefused = errors.New("refused by owning component")

func (m *transferModel) apply(step transferStep, caller, candidate Identity, now time.Time) error {
	switch step.op {
	case 0:
		if caller != m.owner {
			return ErrUnauthorized
		}
		if candidate == m.owner {
			return ErrInvalidProposal
		}
		m.pending = &Proposal{Candidate: candidate, ExpiresAt: time.Unix(now.Unix()+int64(step.ttl), 0)}
		return nil
	case 1:
		if caller != m.owner {
			return ErrUnauthorized
		}
		m.pending = nil
		return nil
	default:
		if m.pending == nil {
			return ErrNotFound
		}
		if caller != m.pending.Candidate {
			return ErrUnauthorized
		}
		if now.After(m.pending.ExpiresAt) {
			return ErrExpired
		}
		if step.op == 3 {
			return errRefused
		}
		m.owner = m.pending.Candidate
		m.pending = nil
		return nil
	}
}

// TestTransferStateMachine checks the slot state machine against a reference model.
// Property: after any request sequence the stored owner and slot equal the model's.
func TestTransferStateMachine(t *testing.T) {
	var identities = []Identity{"alice", "bob", "carol"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genStep := gopter.CombineGens(
		gen.IntRange(0, 3),
		gen.IntRange(0, len(identities)-1),
		gen.IntRange(0, len(identities)-1),
		gen.UInt64Range(0, 50),
		gen.Int64Range(0, 30),
	).Map(func(values []interface{}) transferStep {
		return transferStep{
			op:        values[0].(int),
			caller:    values[1].(int),
			candidate: values[2].(int),
			ttl:       values[3].(uint64),
			advance:   values[4].(int64),
		}
	})

	properties.Property("manager agrees with the reference slot model", prop.ForAll(
		func(steps []transferStep) bool {
			var (
				ctx    = context.Background()
				clock  = &fakeClock{now: time.Unix(1000, 0)}
				refuse bool
				sut    = NewManager(NewMemoryHost(), WithClock(clock), WithFinalizeHook(
					func(ctx context.Context, resourceID string, previous, newOwner Identity) error {
						if refuse {
							return errRefused
						}
						return nil
					}))
				model = &transferModel{owner: "alice"}
			)
			if _, err := sut.Create(ctx, "res", "alice"); err != nil {
				return false
			}

			for _, step := range steps {
				clock.now = clock.now.Add(time.Duration(step.advance) * time.Second)
				refuse = step.op == 3

				var (
					caller    = identities[step.caller]
					candidate = identities[step.candidate]
					err       error
				)
				switch step.op {
				case 0:
					_, err = sut.ProposeNewOwner(ctx, "res", caller, candidate.String(), step.ttl)
				case 1:
					_, err = sut.DropOwnershipProposal(ctx, "res", caller)
				default:
					_, err = sut.ClaimOwnership(ctx, "res", caller)
				}

				var expected = model.apply(step, caller, candidate, clock.now)
				if !errors.Is(err, expected) {
					return false
				}

				var status, statusErr = sut.Ownership(ctx, "res")
				if statusErr != nil || status.Owner != model.owner {
					return false
				}
				if (model.pending == nil) != (status.PendingExpiry == nil) {
					return false
				}
				if model.pending != nil && (status.PendingOwner != model.pending.Candidate ||
					!status.PendingExpiry.Equal(model.pending.ExpiresAt)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genStep),
	))

	properties.TestingRun(t)
}
