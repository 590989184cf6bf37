package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/store"
)

func newTestRegistry(profiles *profileStub) (*GroupRegistry, *store.MemoryRelationshipStore, *publisherStub) {
	rels := store.NewMemoryRelationshipStore()
	publisher := &publisherStub{}
	return NewGroupRegistry(store.NewMemoryGroupStore(), rels, profiles, publisher, nil, discardLogger()), rels, publisher
}

func TestCreateGroup_TrustCircleCreatorThreshold(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "creator", TrustScore: 69},
		domain.CustomerProfile{CustomerID: "m1", TrustScore: 85},
		domain.CustomerProfile{CustomerID: "m2", TrustScore: 88},
	)
	registry, _, _ := newTestRegistry(profiles)
	in := CreateGroupInput{CreatorID: "creator", Name: "Inner circle", Type: "trust_circle", Members: []string{"m1", "m2"}}

	_, err := registry.CreateGroup(context.Background(), in)
	var insufficient *domain.InsufficientTrustError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientTrustError, got %v", err)
	}
	if insufficient.Required != 70 || insufficient.Score != 69 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	profiles.set(domain.CustomerProfile{CustomerID: "creator", TrustScore: 70})
	group, err := registry.CreateGroup(context.Background(), in)
	if err != nil {
		t.Fatalf("expected creation at threshold, got %v", err)
	}
	if len(group.Members) != 3 || !group.HasMember("creator") {
		t.Fatalf("expected creator plus two members, got %v", group.Members)
	}
}

func TestCreateGroup_MemberLimit(t *testing.T) {
	profiles := newProfileStub(domain.CustomerProfile{CustomerID: "creator", TrustScore: 95})
	members := make([]string, 0, 21)
	for i := 1; i <= 21; i++ {
		id := fmt.Sprintf("m%02d", i)
		profiles.set(domain.CustomerProfile{CustomerID: id, TrustScore: 85})
		members = append(members, id)
	}
	registry, _, _ := newTestRegistry(profiles)
	ctx := context.Background()

	_, err := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "creator", Name: "Too big", Type: "trust_circle", Members: members[:20]})
	var limit *domain.LimitExceededError
	if !errors.As(err, &limit) || limit.Scope != domain.LimitScopeGroupMembers {
		t.Fatalf("expected group_members limit for 21 members, got %v", err)
	}

	group, err := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "creator", Name: "Full", Type: "trust_circle", Members: members[:19]})
	if err != nil {
		t.Fatalf("create full group: %v", err)
	}
	if len(group.Members) != 20 {
		t.Fatalf("expected 20 members, got %d", len(group.Members))
	}

	_, err = registry.AddMember(ctx, group.ID, members[20])
	if !errors.As(err, &limit) {
		t.Fatalf("expected the 21st member to be rejected, got %v", err)
	}
}

func TestCreateGroup_CollectsMemberViolations(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "creator", TrustScore: 90},
		domain.CustomerProfile{CustomerID: "low1", TrustScore: 40},
		domain.CustomerProfile{CustomerID: "low2", TrustScore: 79},
		domain.CustomerProfile{CustomerID: "ok", TrustScore: 80},
	)
	registry, rels, publisher := newTestRegistry(profiles)

	_, err := registry.CreateGroup(context.Background(), CreateGroupInput{CreatorID: "creator", Name: "Mixed", Type: "trust_circle", Members: []string{"low1", "low2", "ok"}})
	var membership *domain.MembershipError
	if !errors.As(err, &membership) {
		t.Fatalf("expected MembershipError, got %v", err)
	}
	if len(membership.Violations) != 2 {
		t.Fatalf("expected two violations, got %v", membership.Violations)
	}
	if list, _ := rels.ListForCustomer(context.Background(), "creator"); len(list) != 0 {
		t.Fatalf("expected nothing seeded on rejection, got %d relationships", len(list))
	}
	if len(publisher.published()) != 0 {
		t.Fatalf("expected no events on rejection, got %v", publisher.published())
	}
}

func TestCreateGroup_VIPNetworkRequiresVIPCreator(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "creator", TrustScore: 95},
		domain.CustomerProfile{CustomerID: "vip", TrustScore: 92, VIPTier: "gold"},
	)
	registry, _, _ := newTestRegistry(profiles)
	in := CreateGroupInput{CreatorID: "creator", Name: "Gold", Type: "vip_network", Members: []string{"vip"}}

	_, err := registry.CreateGroup(context.Background(), in)
	var vip *domain.VipRequiredError
	if !errors.As(err, &vip) {
		t.Fatalf("expected VipRequiredError, got %v", err)
	}

	profiles.set(domain.CustomerProfile{CustomerID: "creator", TrustScore: 95, VIPTier: "platinum"})
	if _, err := registry.CreateGroup(context.Background(), in); err != nil {
		t.Fatalf("expected vip creator to succeed, got %v", err)
	}
}

func TestCreateGroup_SeedsRelationshipsAndPublishes(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "a", TrustScore: 80},
		domain.CustomerProfile{CustomerID: "b", TrustScore: 70},
		domain.CustomerProfile{CustomerID: "c", TrustScore: 75},
		domain.CustomerProfile{CustomerID: "d", TrustScore: 75},
	)
	registry, rels, publisher := newTestRegistry(profiles)
	ctx := context.Background()

	group, err := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "a", Name: "Payments", Type: "payment_circle", Members: []string{"b", "c", "c", " "}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if len(group.Members) != 3 {
		t.Fatalf("expected de-duplicated members, got %v", group.Members)
	}
	if group.Stats.TrustScore != 75 {
		t.Fatalf("expected average member trust 75, got %v", group.Stats.TrustScore)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}} {
		if _, err := rels.Get(ctx, pair[0], pair[1]); err != nil {
			t.Fatalf("expected seeded relationship %v: %v", pair, err)
		}
	}
	if keys := publisher.published(); len(keys) != 1 || keys[0] != domain.EventGroupCreated {
		t.Fatalf("expected one group created event, got %v", keys)
	}

	if _, err := registry.AddMember(ctx, group.ID, "d"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	for _, other := range []string{"a", "b", "c"} {
		if _, err := rels.Get(ctx, "d", other); err != nil {
			t.Fatalf("expected relationship d|%s seeded on join: %v", other, err)
		}
	}

	_, err = registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "a", Name: "payments", Type: "payment_circle", Members: []string{"b"}})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected duplicate name to be rejected, got %v", err)
	}
}

func TestAddMember_ChecksCurrentRules(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "a", TrustScore: 90},
		domain.CustomerProfile{CustomerID: "b", TrustScore: 85},
		domain.CustomerProfile{CustomerID: "weak", TrustScore: 60},
	)
	registry, _, _ := newTestRegistry(profiles)
	ctx := context.Background()
	group, err := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "a", Name: "Trusted", Type: "trust_circle", Members: []string{"b"}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	_, err = registry.AddMember(ctx, group.ID, "weak")
	var insufficient *domain.InsufficientTrustError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientTrustError, got %v", err)
	}

	_, err = registry.AddMember(ctx, group.ID, "ghost")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected unknown customer to be not found, got %v", err)
	}

	again, err := registry.AddMember(ctx, group.ID, "b")
	if err != nil || len(again.Members) != 2 {
		t.Fatalf("expected re-adding a member to be a no-op, got %v %v", again, err)
	}
}

func TestSharedGroups(t *testing.T) {
	profiles := newProfileStub(
		domain.CustomerProfile{CustomerID: "a", TrustScore: 90},
		domain.CustomerProfile{CustomerID: "b", TrustScore: 85},
		domain.CustomerProfile{CustomerID: "c", TrustScore: 85},
	)
	registry, _, _ := newTestRegistry(profiles)
	ctx := context.Background()
	first, _ := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "a", Name: "One", Type: "geographic", Members: []string{"b"}})
	if _, err := registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "a", Name: "Two", Type: "geographic", Members: []string{"c"}}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	shared, err := registry.SharedGroups(ctx, "b", "a")
	if err != nil {
		t.Fatalf("shared groups: %v", err)
	}
	if len(shared) != 1 || shared[0].ID != first.ID {
		t.Fatalf("expected only the first group to be shared, got %v", shared)
	}
	mine, _ := registry.GroupsOf(ctx, "a")
	if len(mine) != 2 {
		t.Fatalf("expected creator in both groups, got %d", len(mine))
	}
}
