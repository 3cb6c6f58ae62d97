package resolver

import (
	"context"
	"errors"
	"testing"

	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

// fakeStore covers only the lookups the resolver performs.
type fakeStore struct {
	store.Store

	groups   map[string]store.Group
	contacts map[string]store.Contact
	flaky    map[string]error
}

func (f *fakeStore) GetGroup(_ context.Context, id string) (store.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return store.Group{}, store.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (store.Contact, error) {
	if err, ok := f.flaky[id]; ok {
		return store.Contact{}, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func TestResolveMembers(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{
		groups: map[string]store.Group{
			"g1": {ID: "g1", UserID: "u1", ContactIDs: []string{"c1", "gone", "c2", "flaky"}},
			"g2": {ID: "g2", UserID: "u1"},
		},
		contacts: map[string]store.Contact{
			"c1": {ID: "c1", DisplayName: "Ada"},
			"c2": {ID: "c2", DisplayName: "Grace"},
		},
		flaky: map[string]error{"flaky": errors.New("io timeout")},
	}
	r := NewStoreResolver(fs, logx.Nop())
	ctx := context.Background()

	members, err := r.ResolveMembers(ctx, "g1")
	if err != nil {
		t.Fatalf("ResolveMembers: %v", err)
	}
	// Deleted and failing contacts are excluded, order is preserved.
	if len(members) != 2 || members[0].ContactID != "c1" || members[1].ContactID != "c2" {
		t.Fatalf("members = %+v", members)
	}

	empty, err := r.ResolveMembers(ctx, "g2")
	if err != nil {
		t.Fatalf("empty group: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty group members = %+v", empty)
	}
}

func TestResolveMembersGroupMissing(t *testing.T) {
	t.Parallel()
	r := NewStoreResolver(&fakeStore{groups: map[string]store.Group{}}, logx.Nop())
	_, err := r.ResolveMembers(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped ErrNotFound", err)
	}
}
