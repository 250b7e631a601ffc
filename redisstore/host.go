package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ownership "go-ownership"

	"github.com/redis/go-redis/v9"
)

const (
	fieldCandidate = "candidate"
	fieldExpiresAt = "expires_at"
)

// Host is a Redis-backed ownership.Host.
//
// Each resource is stored under two keys: <prefix>:owner:<id> holds the
// owner and <prefix>:proposal:<id> is a hash with the pending proposal, its
// expiry in seconds since the epoch.
// RunInTx watches both keys, stages writes in memory and applies them in a
// single MULTI/EXEC. Read-only transactions still EXEC so the watch confirms
// both reads saw the same state. A concurrent write to either key aborts the
// transaction with ownership.ErrConflict.
type Host struct {
	client *redis.Client
	prefix string
}

// NewHost creates a Host using keys under prefix.
func NewHost(client *redis.Client, prefix string) *Host {
	return &Host{
		client: client,
		prefix: prefix,
	}
}

// Open connects to the Redis server at url and checks it is reachable.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func (h *Host) ownerKey(resourceID string) string {
	return h.prefix + ":owner:" + resourceID
}

func (h *Host) proposalKey(resourceID string) string {
	return h.prefix + ":proposal:" + resourceID
}

// Create registers resourceID with its initial owner.
func (h *Host) Create(ctx context.Context, resourceID string, owner ownership.Identity) error {
	created, err := h.client.SetNX(ctx, h.ownerKey(resourceID), owner.String(), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	if !created {
		return ownership.ErrResourceExists
	}
	return nil
}

// RunInTx runs fn against a snapshot of the resource and applies its writes
// only if fn succeeds and neither key changed in the meantime.
func (h *Host) RunInTx(ctx context.Context, resourceID string, fn func(tx ownership.Tx) error) error {
	var (
		ownerKey    = h.ownerKey(resourceID)
		proposalKey = h.proposalKey(resourceID)
	)

	err := h.client.Watch(ctx, func(rtx *redis.Tx) error {
		owner, err := rtx.Get(ctx, ownerKey).Result()
		if errors.Is(err, redis.Nil) {
			return ownership.ErrResourceNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read owner: %w", err)
		}

		values, err := rtx.HGetAll(ctx, proposalKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read proposal: %w", err)
		}
		proposal, err := decodeProposal(values)
		if err != nil {
			return err
		}

		var staged = &stagedTx{owner: ownership.Identity(owner), proposal: proposal}
		if err := fn(staged); err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !staged.ownerDirty && !staged.proposalDirty {
				pipe.Exists(ctx, ownerKey)
				return nil
			}
			if staged.ownerDirty {
				pipe.Set(ctx, ownerKey, staged.owner.String(), 0)
			}
			if staged.proposalDirty {
				pipe.Del(ctx, proposalKey)
				if staged.proposal != nil {
					pipe.HSet(ctx, proposalKey,
						fieldCandidate, staged.proposal.Candidate.String(),
						fieldExpiresAt, strconv.FormatInt(staged.proposal.ExpiresAt.Unix(), 10))
				}
			}
			return nil
		})
		return err
	}, ownerKey, proposalKey)

	if errors.Is(err, redis.TxFailedErr) {
		return ownership.ErrConflict
	}
	return err
}

func decodeProposal(values map[string]string) (*ownership.Proposal, error) {
	if len(values) == 0 {
		return nil, nil
	}

	seconds, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proposal expiry: %w", err)
	}

	return &ownership.Proposal{
		Candidate: ownership.Identity(values[fieldCandidate]),
		ExpiresAt: time.Unix(seconds, 0),
	}, nil
}

// stagedTx buffers writes until the watched transaction commits.
type stagedTx struct {
	owner         ownership.Identity
	proposal      *ownership.Proposal
	ownerDirty    bool
	proposalDirty bool
}

func (t *stagedTx) Load(ctx context.Context) (*ownership.Proposal, error) {
	if t.proposal == nil {
		return nil, nil
	}
	var p = *t.proposal
	return &p, nil
}

func (t *stagedTx) Save(ctx context.Context, proposal *ownership.Proposal) error {
	var p = *proposal
	t.proposal = &p
	t.proposalDirty = true
	return nil
}

func (t *stagedTx) Remove(ctx context.Context) error {
	t.proposal = nil
	t.proposalDirty = true
	return nil
}

func (t *stagedTx) Owner(ctx context.Context) (ownership.Identity, error) {
	return t.owner, nil
}

func (t *stagedTx) SetOwner(ctx context.Context, owner ownership.Identity) error {
	t.owner = owner
	t.ownerDirty = true
	return nil
}
