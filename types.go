package ownership

import (
	"fmt"
	"time"
)

// Identity is a canonical identity as returned by a Validator.
// Two identities are the same principal exactly when they compare equal.
type Identity string

// String returns the canonical textual form.
func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return i == ""
}

// Proposal is the pending ownership change held in a resource's slot.
type Proposal struct {
	Candidate Identity
	ExpiresAt time.Time
}

// isExpired checks if the proposal can no longer be claimed at now.
// The deadline itself is still claimable.
func (p *Proposal) isExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Action tags the acknowledgement of an executed command.
type Action string

const (
	ActionProposeNewOwner       Action = "propose_new_owner"
	ActionDropOwnershipProposal Action = "drop_ownership_proposal"
	ActionClaimOwnership        Action = "claim_ownership"
)

// Ack acknowledges a successful operation.
// NewOwner is empty for ActionDropOwnershipProposal.
type Ack struct {
	Action   Action   `json:"action"`
	NewOwner Identity `json:"new_owner,omitempty"`
}

// Attributes returns the acknowledgement as ordered key/value pairs.
func (a Ack) Attributes() []Attribute {
	var attrs = []Attribute{{Key: "action", Value: string(a.Action)}}
	if !a.NewOwner.IsZero() {
		attrs = append(attrs, Attribute{Key: "new_owner", Value: a.NewOwner.String()})
	}
	return attrs
}

// Attribute is a single key/value pair of an acknowledgement.
type Attribute struct {
	Key   string
	Value string
}

// Status is the read-only ownership view of a resource.
type Status struct {
	ResourceID    string
	Owner         Identity
	PendingOwner  Identity
	PendingExpiry *time.Time
}

// String returns a short human readable summary of the status.
func (s Status) String() string {
	if s.PendingExpiry == nil {
		return fmt.Sprintf("Resource: %s\nOwner: %s\nPending: none\n", s.ResourceID, s.Owner)
	}

	var ttl = time.Until(*s.PendingExpiry).Round(time.Second)
	if ttl < 0 {
		return fmt.Sprintf("Resource: %s\nOwner: %s\nPending: %s (expired %s ago)\n",
			s.ResourceID, s.Owner, s.PendingOwner, -ttl)
	}
	return fmt.Sprintf("Resource: %s\nOwner: %s\nPending: %s (expires in %s)\n",
		s.ResourceID, s.Owner, s.PendingOwner, ttl)
}
