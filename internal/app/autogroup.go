package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/store"
)

// AutoGroupConfig tunes the periodic grouping pass.
type AutoGroupConfig struct {
	MinGroupSize                int
	FrequentTransactorThreshold int
	FrequencyWindow             time.Duration
}

func DefaultAutoGroupConfig() AutoGroupConfig {
	return AutoGroupConfig{
		MinGroupSize:                5,
		FrequentTransactorThreshold: 10,
		FrequencyWindow:             30 * 24 * time.Hour,
	}
}

func (c AutoGroupConfig) withDefaults() AutoGroupConfig {
	d := DefaultAutoGroupConfig()
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = d.MinGroupSize
	}
	if c.FrequentTransactorThreshold <= 0 {
		c.FrequentTransactorThreshold = d.FrequentTransactorThreshold
	}
	if c.FrequencyWindow <= 0 {
		c.FrequencyWindow = d.FrequencyWindow
	}
	return c
}

// AutoGroupReport summarizes one grouping pass.
type AutoGroupReport struct {
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	MembersAdded int `json:"members_added"`
	Skipped      int `json:"skipped"`
}

type cluster struct {
	name      string
	groupType domain.GroupType
	members   []domain.CustomerProfile
}

// AutoGrouper clusters customers by region, payment-method affinity and transfer frequency.
type AutoGrouper struct {
	registry *GroupRegistry
	groups   store.GroupStore
	ledger   store.TransactionLedger
	profiles ProfileProvider
	cfg      AutoGroupConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewAutoGrouper(registry *GroupRegistry, groups store.GroupStore, ledger store.TransactionLedger, profiles ProfileProvider, cfg AutoGroupConfig, logger *slog.Logger) *AutoGrouper {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoGrouper{
		registry: registry,
		groups:   groups,
		ledger:   ledger,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AutoFormGroups creates or tops up automatic groups of at least MinGroupSize members. Individual
// cluster failures are logged and joined into the returned error; the pass continues.
func (a *AutoGrouper) AutoFormGroups(ctx context.Context) (*AutoGroupReport, error) {
	profiles, err := a.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	counts, err := a.ledger.CompletedCounts(ctx, a.now().Add(-a.cfg.FrequencyWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count completed transfers: %w", err)
	}

	report := &AutoGroupReport{}
	var errs []error
	for _, c := range a.clusters(profiles, counts) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := a.apply(ctx, c, report); err != nil {
			a.logger.Error("auto-group cluster failed", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.logger.Info("auto-grouping finished", "created", report.Created, "updated", report.Updated, "members_added", report.MembersAdded, "skipped", report.Skipped)
	return report, errors.Join(errs...)
}

// clusters buckets eligible profiles and splits each bucket into chunks no larger than the
// template's maxMembers. Chunks below MinGroupSize are dropped.
func (a *AutoGrouper) clusters(profiles []domain.CustomerProfile, counts map[string]int) []cluster {
	buckets := map[string]*cluster{}
	order := make([]string, 0)
	add := func(groupType domain.GroupType, label string, p domain.CustomerProfile) {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			return
		}
		if err := domain.DefaultRules(groupType).CheckAdmission(groupType, p); err != nil {
			return
		}
		key := string(groupType) + ":" + label
		b, ok := buckets[key]
		if !ok {
			b = &cluster{name: autoGroupName(groupType, label), groupType: groupType}
			buckets[key] = b
			order = append(order, key)
		}
		b.members = append(b.members, p)
	}

	for _, p := range profiles {
		if strings.TrimSpace(p.CustomerID) == "" {
			continue
		}
		add(domain.GroupTypeGeographic, p.Region, p)
		add(domain.GroupTypePaymentCircle, p.PreferredPaymentMethod, p)
		if counts[p.CustomerID] >= a.cfg.FrequentTransactorThreshold {
			add(domain.GroupTypeTrustCircle, "frequent transactors", p)
		}
	}
	sort.Strings(order)

	out := make([]cluster, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		sort.Slice(b.members, func(i, j int) bool {
			if b.members[i].TrustScore != b.members[j].TrustScore {
				return b.members[i].TrustScore > b.members[j].TrustScore
			}
			return b.members[i].CustomerID < b.members[j].CustomerID
		})
		size := domain.DefaultRules(b.groupType).MaxMembers
		for i, part := 0, 1; i < len(b.members); i, part = i+size, part+1 {
			end := i + size
			if end > len(b.members) {
				end = len(b.members)
			}
			chunk := b.members[i:end]
			if len(chunk) < a.cfg.MinGroupSize {
				continue
			}
			name := b.name
			if part > 1 {
				name = fmt.Sprintf("%s %d", b.name, part)
			}
			out = append(out, cluster{name: name, groupType: b.groupType, members: chunk})
		}
	}
	return out
}

func (a *AutoGrouper) apply(ctx context.Context, c cluster, report *AutoGroupReport) error {
	existing, err := a.groups.FindByName(ctx, c.name)
	if err != nil && !domain.IsNotFound(err) {
		return err
	}
	if existing != nil {
		ids := make([]string, 0, len(c.members))
		for _, p := range c.members {
			if !existing.HasMember(p.CustomerID) && existing.Rules.CheckAdmission(existing.Type, p) == nil {
				ids = append(ids, p.CustomerID)
			}
		}
		if room := existing.Rules.MaxMembers - len(existing.Members); len(ids) > room {
			ids = ids[:max(room, 0)]
		}
		if len(ids) == 0 {
			report.Skipped++
			return nil
		}
		_, added, err := a.registry.admit(ctx, existing, ids)
		if err != nil {
			var limit *domain.LimitExceededError
			if errors.As(err, &limit) {
				report.Skipped++
				return nil
			}
			return err
		}
		report.Updated++
		report.MembersAdded += len(added)
		return nil
	}

	known := make(map[string]domain.CustomerProfile, len(c.members))
	ids := make([]string, 0, len(c.members))
	for _, p := range c.members {
		known[p.CustomerID] = p
		ids = append(ids, p.CustomerID)
	}
	creator := c.members[0]
	if creator.TrustScore < c.groupType.CreatorThreshold() {
		report.Skipped++
		a.logger.Debug("auto-group skipped; no eligible creator", "name", c.name)
		return nil
	}
	if _, err := a.registry.createGroup(ctx, CreateGroupInput{
		CreatorID: creator.CustomerID,
		Name:      c.name,
		Type:      string(c.groupType),
		Members:   ids,
		Automatic: true,
	}, known); err != nil {
		return err
	}
	report.Created++
	return nil
}

func autoGroupName(t domain.GroupType, label string) string {
	switch t {
	case domain.GroupTypeGeographic:
		return "Auto " + label + " neighbours"
	case domain.GroupTypePaymentCircle:
		return "Auto " + label + " circle"
	default:
		return "Auto " + label
	}
}
