package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const biddingRulesKey = "bid_validation_rules"

// BidValidationRules maps price bands ("0-100", "100-500", "500+") to the
// default increment for an auction whose starting price falls in the band.
type BidValidationRules struct {
	Rules map[string]decimal.Decimal `json:"rules"`
}

func DefaultBidValidationRules() *BidValidationRules {
	return &BidValidationRules{
		Rules: map[string]decimal.Decimal{
			"0-100":   decimal.NewFromInt(5),
			"100-500": decimal.NewFromInt(10),
			"500+":    decimal.NewFromInt(25),
		},
	}
}

type incrementTier struct {
	from      decimal.Decimal
	increment decimal.Decimal
}

// BiddingRuleDaoImpl serves tiered default increments. With a nil client it
// serves the built-in tiers only.
type BiddingRuleDaoImpl struct {
	client *redis.Client

	mu    sync.RWMutex
	tiers []incrementTier
}

func NewBiddingRuleDao(client *redis.Client) *BiddingRuleDaoImpl {
	dao := &BiddingRuleDaoImpl{client: client}
	dao.tiers, _ = buildTiers(DefaultBidValidationRules())
	return dao
}

func (v *BiddingRuleDaoImpl) LoadRules(ctx context.Context) error {
	if v.client == nil {
		return nil
	}

	data, err := v.client.Get(ctx, biddingRulesKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v.saveRules(ctx, DefaultBidValidationRules())
		}
		return errors.Wrap(err, "load bidding rules")
	}

	var rules BidValidationRules
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return errors.Wrap(err, "decode bidding rules")
	}

	tiers, err := buildTiers(&rules)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.tiers = tiers
	v.mu.Unlock()
	return nil
}

func (v *BiddingRuleDaoImpl) saveRules(ctx context.Context, rules *BidValidationRules) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}

	return errors.Wrap(v.client.Set(ctx, biddingRulesKey, string(data), 0).Err(), "save bidding rules")
}

func (v *BiddingRuleDaoImpl) GetIncrementRule(amount decimal.Decimal) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	increment := decimal.NewFromInt(5) // default
	for _, tier := range v.tiers {
		if amount.LessThan(tier.from) {
			break
		}
		increment = tier.increment
	}
	return increment
}

// buildTiers orders the bands by lower bound. Upper bounds are implied by
// the next band's lower bound.
func buildTiers(rules *BidValidationRules) ([]incrementTier, error) {
	if rules == nil || len(rules.Rules) == 0 {
		return nil, errors.New("bidding rules are empty")
	}

	tiers := make([]incrementTier, 0, len(rules.Rules))
	for band, increment := range rules.Rules {
		lower := strings.TrimSuffix(band, "+")
		if i := strings.Index(lower, "-"); i >= 0 {
			lower = lower[:i]
		}
		from, err := decimal.NewFromString(lower)
		if err != nil {
			return nil, errors.Wrapf(err, "bidding rule band %q", band)
		}
		if !increment.IsPositive() {
			return nil, errors.Newf("bidding rule band %q has non-positive increment", band)
		}
		tiers = append(tiers, incrementTier{from: from, increment: increment})
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].from.LessThan(tiers[j].from) })
	return tiers, nil
}
