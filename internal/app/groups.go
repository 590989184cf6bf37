/**
 * @description
 * GroupRegistry owns peer group creation and membership. Admission is checked against the profile
 * provider at join time only; tightening rules later does not evict existing members.
 *
 * @dependencies
 * - golang.org/x/sync/errgroup: Bounded concurrent profile lookups.
 * - internal/store: Group and relationship persistence.
 * - pkg/rabbitmq: peer.group.created events.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/store"
	"github.com/transfa/peer-network-service/pkg/rabbitmq"
)

const profileLookupConcurrency = 8

// CreateGroupInput is the explicit group-creation request.
type CreateGroupInput struct {
	CreatorID string
	Name      string
	Type      string
	Members   []string
	Overrides *domain.RuleOverrides
	Automatic bool
}

// GroupRegistry creates groups, admits members and applies transfer outcomes to group stats.
type GroupRegistry struct {
	groups    store.GroupStore
	rels      store.RelationshipStore
	profiles  ProfileProvider
	publisher rabbitmq.Publisher
	exchange  string
	metrics   Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewGroupRegistry wires a registry. publisher and metrics may be nil.
func NewGroupRegistry(groups store.GroupStore, rels store.RelationshipStore, profiles ProfileProvider, publisher rabbitmq.Publisher, metrics Recorder, logger *slog.Logger) *GroupRegistry {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupRegistry{
		groups:    groups,
		rels:      rels,
		profiles:  profiles,
		publisher: publisher,
		exchange:  rabbitmq.DefaultExchange,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateGroup validates the creator and every member before persisting anything.
func (r *GroupRegistry) CreateGroup(ctx context.Context, in CreateGroupInput) (*domain.PeerGroup, error) {
	return r.createGroup(ctx, in, nil)
}

func (r *GroupRegistry) createGroup(ctx context.Context, in CreateGroupInput, known map[string]domain.CustomerProfile) (*domain.PeerGroup, error) {
	creatorID := strings.TrimSpace(in.CreatorID)
	if creatorID == "" {
		return nil, domain.NewValidationError("creator_id", "is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	groupType, err := domain.ParseGroupType(in.Type)
	if err != nil {
		return nil, err
	}
	rules, err := domain.ResolveRules(groupType, in.Overrides)
	if err != nil {
		return nil, err
	}

	members := domain.NormalizeMembers(creatorID, in.Members)
	if len(members) > domain.MaxSeedGroupSize {
		return nil, domain.NewValidationError("members", fmt.Sprintf("groups are limited to %d members", domain.MaxSeedGroupSize))
	}
	if len(members) > rules.MaxMembers {
		return nil, &domain.LimitExceededError{
			Scope:     domain.LimitScopeGroupMembers,
			SubjectID: name,
			Limit:     int64(rules.MaxMembers),
			Current:   0,
			Requested: int64(len(members)),
		}
	}

	profiles, err := r.resolveProfiles(ctx, members, known)
	if err != nil {
		return nil, err
	}

	creator := profiles[creatorID]
	if creator.TrustScore < groupType.CreatorThreshold() {
		return nil, &domain.InsufficientTrustError{CustomerID: creatorID, Score: creator.TrustScore, Required: groupType.CreatorThreshold()}
	}
	if rules.VIPOnly && !creator.IsVIP() {
		return nil, &domain.VipRequiredError{CustomerID: creatorID, GroupType: groupType}
	}

	var violations []error
	var trustSum float64
	for _, id := range members {
		profile := profiles[id]
		trustSum += profile.TrustScore
		if id == creatorID {
			continue
		}
		if err := rules.CheckAdmission(groupType, profile); err != nil {
			violations = append(violations, err)
		}
	}
	if len(violations) > 0 {
		return nil, &domain.MembershipError{Violations: violations}
	}

	now := r.now()
	group := &domain.PeerGroup{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      groupType,
		CreatorID: creatorID,
		Members:   members,
		Rules:     rules,
		Stats: domain.GroupStats{
			TrustScore: domain.ClampScore(trustSum / float64(len(members))),
		},
		Automatic: in.Automatic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	r.seedPairs(ctx, group.ID, members, nil)
	r.metrics.GroupCreated(groupType, in.Automatic)

	event := domain.GroupCreatedEvent{
		EventID:    uuid.New(),
		GroupID:    group.ID,
		Name:       group.Name,
		Type:       group.Type,
		CreatorID:  group.CreatorID,
		Members:    append([]string(nil), group.Members...),
		Automatic:  group.Automatic,
		OccurredAt: now,
	}
	if err := r.publisher.Publish(ctx, r.exchange, domain.EventGroupCreated, event); err != nil {
		r.logger.Warn("failed to publish group created event", "group_id", group.ID, "error", err)
	}

	r.logger.Info("peer group created", "group_id", group.ID, "type", group.Type, "members", len(group.Members), "automatic", group.Automatic)
	return group, nil
}

// AddMember admits one customer under the group's current rules and seeds relationships with
// the existing members.
func (r *GroupRegistry) AddMember(ctx context.Context, groupID, customerID string) (*domain.PeerGroup, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id", "is required")
	}
	group, err := r.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.HasMember(customerID) {
		return group, nil
	}

	profile, err := r.profiles.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := group.Rules.CheckAdmission(group.Type, *profile); err != nil {
		return nil, err
	}
	updated, _, err := r.admit(ctx, group, []string{customerID})
	return updated, err
}

func (r *GroupRegistry) admit(ctx context.Context, group *domain.PeerGroup, candidates []string) (*domain.PeerGroup, []string, error) {
	updated, added, err := r.groups.AddMembers(ctx, group.ID, candidates, group.Rules.MaxMembers)
	if err != nil {
		return nil, nil, err
	}
	if len(added) > 0 {
		r.seedPairs(ctx, group.ID, updated.Members, added)
		r.logger.Info("members added to peer group", "group_id", group.ID, "added", len(added))
	}
	return updated, added, nil
}

// seedPairs creates neutral relationships among members. With added set, only pairs touching a
// new member are seeded. Failures are logged; relationships are also created lazily on transfer.
func (r *GroupRegistry) seedPairs(ctx context.Context, groupID string, members, added []string) {
	isNew := make(map[string]bool, len(added))
	for _, id := range added {
		isNew[id] = true
	}
	keys := make([]domain.PairKey, 0, len(members)*(len(members)-1)/2)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if added != nil && !isNew[members[i]] && !isNew[members[j]] {
				continue
			}
			key, err := domain.NewPairKey(members[i], members[j])
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	created, err := r.rels.Seed(ctx, keys)
	if err != nil {
		r.logger.Error("failed to seed group relationships", "group_id", groupID, "pairs", len(keys), "error", err)
		return
	}
	r.logger.Debug("seeded group relationships", "group_id", groupID, "pairs", len(keys), "created", created)
}

func (r *GroupRegistry) resolveProfiles(ctx context.Context, ids []string, known map[string]domain.CustomerProfile) (map[string]domain.CustomerProfile, error) {
	out := make(map[string]domain.CustomerProfile, len(ids))
	var mu sync.Mutex
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := known[id]; ok {
			out[id] = p
			continue
		}
		missing = append(missing, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookupConcurrency)
	for _, id := range missing {
		id := id
		g.Go(func() error {
			profile, err := r.profiles.GetProfile(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to load profile %s: %w", id, err)
			}
			p := *profile
			p.CustomerID = id
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one group.
func (r *GroupRegistry) Get(ctx context.Context, groupID string) (*domain.PeerGroup, error) {
	return r.groups.Get(ctx, groupID)
}

// MembersOf lists a group's members.
func (r *GroupRegistry) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	group, err := r.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

// GroupsOf lists the groups a customer belongs to.
func (r *GroupRegistry) GroupsOf(ctx context.Context, customerID string) ([]*domain.PeerGroup, error) {
	return r.groups.ListByMember(ctx, customerID)
}

// SharedGroups lists the groups both customers belong to.
func (r *GroupRegistry) SharedGroups(ctx context.Context, a, b string) ([]*domain.PeerGroup, error) {
	groups, err := r.groups.ListByMember(ctx, a)
	if err != nil {
		return nil, err
	}
	shared := make([]*domain.PeerGroup, 0, len(groups))
	for _, g := range groups {
		if g.HasMember(b) {
			shared = append(shared, g)
		}
	}
	return shared, nil
}

// RecordOutcome applies a transfer outcome to a group's aggregates.
func (r *GroupRegistry) RecordOutcome(ctx context.Context, groupID string, amount int64, success bool) (*domain.PeerGroup, error) {
	group, err := r.groups.RecordOutcome(ctx, groupID, amount, success)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record group outcome: %w", err)
	}
	return group, nil
}
