package ownership

import (
	"context"
	"sync"
)

// Tx is the view of one owned resource inside a host transaction.
type Tx interface {
	Slot
	Owner(ctx context.Context) (Identity, error)
	SetOwner(ctx context.Context, owner Identity) error
}

// Host stores owned resources and provides their transaction boundary.
//
// RunInTx must serialize requests per resource and apply every mutation made
// through the Tx atomically: if fn returns an error, nothing fn wrote may be
// observable afterwards.
type Host interface {
	Create(ctx context.Context, resourceID string, owner Identity) error
	RunInTx(ctx context.Context, resourceID string, fn func(tx Tx) error) error
}

// resourceState is the stored state of one resource.
type resourceState struct {
	owner    Identity
	proposal *Proposal
}

// MemoryHost keeps resources in process memory behind a single lock.
type MemoryHost struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

// NewMemoryHost creates an empty MemoryHost.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		resources: make(map[string]*resourceState),
	}
}

// Create registers resourceID with its initial owner.
func (h *MemoryHost) Create(ctx context.Context, resourceID string, owner Identity) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.resources[resourceID]; exists {
		return ErrResourceExists
	}

	h.resources[resourceID] = &resourceState{owner: owner}
	return nil
}

// RunInTx runs fn against a copy of the resource and commits the copy only if fn succeeds.
func (h *MemoryHost) RunInTx(ctx context.Context, resourceID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var state, exists = h.resources[resourceID]
	if !exists {
		return ErrResourceNotFound
	}

	var tx = &memoryTx{state: state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	h.resources[resourceID] = tx.state
	return nil
}

func (s *resourceState) clone() *resourceState {
	var c = &resourceState{owner: s.owner}
	if s.proposal != nil {
		var p = *s.proposal
		c.proposal = &p
	}
	return c
}

// memoryTx stages writes on a private copy of the resource.
type memoryTx struct {
	state *resourceState
}

func (t *memoryTx) Load(ctx context.Context) (*Proposal, error) {
	if t.state.proposal == nil {
		return nil, nil
	}
	var p = *t.state.proposal
	return &p, nil
}

func (t *memoryTx) Save(ctx context.Context, proposal *Proposal) error {
	var p = *proposal
	t.state.proposal = &p
	return nil
}

func (t *memoryTx) Remove(ctx context.Context) error {
	t.state.proposal = nil
	return nil
}

func (t *memoryTx) Owner(ctx context.Context) (Identity, error) {
	return t.state.owner, nil
}

func (t *memoryTx) SetOwner(ctx context.Context, owner Identity) error {
	t.state.owner = owner
	return nil
}
