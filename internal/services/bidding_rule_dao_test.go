package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiddingRuleDaoDefaults(t *testing.T) {
	dao := NewBiddingRuleDao(nil)
	require.NoError(t, dao.LoadRules(context.Background()))

	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 5},
		{"99.99", 5},
		{"100", 10},
		{"499", 10},
		{"500", 25},
		{"12000", 25},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := dao.GetIncrementRule(decimal.RequireFromString(tt.amount))
			assert.True(t, decimal.NewFromInt(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestBiddingRuleDaoSeedsRedisWhenMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dao := NewBiddingRuleDao(db)

	data, err := json.Marshal(DefaultBidValidationRules())
	require.NoError(t, err)

	mock.ExpectGet(biddingRulesKey).RedisNil()
	mock.ExpectSet(biddingRulesKey, string(data), 0).SetVal("OK")

	require.NoError(t, dao.LoadRules(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBiddingRuleDaoLoadsStoredRules(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dao := NewBiddingRuleDao(db)

	mock.ExpectGet(biddingRulesKey).SetVal(`{"rules":{"0-1000":"1","1000+":"50"}}`)

	require.NoError(t, dao.LoadRules(context.Background()))
	assert.True(t, decimal.NewFromInt(1).Equal(dao.GetIncrementRule(decimal.NewFromInt(999))))
	assert.True(t, decimal.NewFromInt(50).Equal(dao.GetIncrementRule(decimal.NewFromInt(1000))))
}

func TestBiddingRuleDaoRejectsBadBands(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dao := NewBiddingRuleDao(db)

	mock.ExpectGet(biddingRulesKey).SetVal(`{"rules":{"cheap":"1"}}`)

	assert.Error(t, dao.LoadRules(context.Background()))
	// Previous tiers stay in effect.
	assert.True(t, decimal.NewFromInt(10).Equal(dao.GetIncrementRule(decimal.NewFromInt(150))))
}
