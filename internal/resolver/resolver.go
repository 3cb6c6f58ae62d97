// Package resolver dereferences group membership into concrete recipients.
//
// It is a boundary: the engine never assumes membership lists are clean.
// Groups may reference contacts that were deleted since the last cleanup
// pass; those are skipped, not errors.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

// Member is one resolved recipient.
type Member struct {
	ContactID   string
	DisplayName string
}

// Resolver returns the current members of a group.
//
// Missing-but-expected contacts are silently excluded from the result.
// An error means the resolver itself was unavailable, not that the group
// is empty or partially stale.
type Resolver interface {
	ResolveMembers(ctx context.Context, groupID string) ([]Member, error)
}

type storeResolver struct {
	st  store.Store
	log logx.Logger
}

// NewStoreResolver resolves members against the shared document store.
func NewStoreResolver(st store.Store, log logx.Logger) Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &storeResolver{st: st, log: log}
}

func (r *storeResolver) ResolveMembers(ctx context.Context, groupID string) ([]Member, error) {
	g, err := r.st.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", groupID, err)
	}

	members := make([]Member, 0, len(g.ContactIDs))
	for _, id := range g.ContactIDs {
		c, err := r.st.GetContact(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Stale membership reference; cleanup is someone else's job.
			r.log.Debug("skipping missing contact", logx.String("group", groupID), logx.String("contact", id))
			continue
		}
		if err != nil {
			r.log.Warn("contact lookup failed; excluded from fan-out",
				logx.String("group", groupID), logx.String("contact", id), logx.Err(err))
			continue
		}
		members = append(members, Member{ContactID: c.ID, DisplayName: c.DisplayName})
	}
	return members, nil
}
