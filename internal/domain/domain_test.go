package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrategyThreshold(t *testing.T) {
	assert.Equal(t, 0.80, StrategyRapid.Threshold())
	assert.Equal(t, 0.70, StrategyFocused.Threshold())
	assert.Equal(t, 0.60, StrategyComprehensive.Threshold())
}

func TestStrategyMaxDocuments(t *testing.T) {
	assert.Equal(t, 2, StrategyRapid.MaxDocuments())
	assert.Equal(t, 3, StrategyFocused.MaxDocuments())
	assert.Equal(t, 5, StrategyComprehensive.MaxDocuments())
}

func TestStrategyTokenBudget(t *testing.T) {
	assert.Equal(t, 500, StrategyRapid.TokenBudget())
	assert.Equal(t, 1000, StrategyFocused.TokenBudget())
	assert.Equal(t, 2000, StrategyComprehensive.TokenBudget())
}

func TestStrategyTopN(t *testing.T) {
	assert.Equal(t, 20, StrategyComprehensive.TopN())
	assert.Equal(t, 10, StrategyFocused.TopN())
	assert.Equal(t, 5, StrategyRapid.TopN())
}

func TestStrategyTemperatureOrdering(t *testing.T) {
	assert.Less(t, StrategyRapid.Temperature(), StrategyFocused.Temperature())
	assert.Less(t, StrategyFocused.Temperature(), StrategyComprehensive.Temperature())
}
