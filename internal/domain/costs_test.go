package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostModel_BpsSlippage(t *testing.T) {
	c := CostModel{SlippageBps: 10, PriceDecimals: 2}

	assert.InDelta(t, 100.10, c.EntryFill(100, DirectionLong), 1e-9)
	assert.InDelta(t, 99.90, c.ExitFill(100, DirectionLong), 1e-9)
	assert.InDelta(t, 99.90, c.EntryFill(100, DirectionShort), 1e-9)
	assert.InDelta(t, 100.10, c.ExitFill(100, DirectionShort), 1e-9)
}

func TestCostModel_FixedSpreadWins(t *testing.T) {
	c := CostModel{SlippageBps: 50, FixedSpread: 0.10, PriceDecimals: 2}

	assert.InDelta(t, 50.05, c.EntryFill(50, DirectionLong), 1e-9)
	assert.InDelta(t, 49.95, c.ExitFill(50, DirectionLong), 1e-9)
}

func TestCostModel_RoundsToCents(t *testing.T) {
	c := CostModel{SlippageBps: 2, PriceDecimals: 2}
	// 123.456 * 1.0002 = 123.4806912
	assert.Equal(t, 123.48, c.EntryFill(123.456, DirectionLong))
}

func TestCostModel_NoRounding(t *testing.T) {
	c := CostModel{SlippageBps: 2}
	assert.InDelta(t, 123.4806912, c.EntryFill(123.456, DirectionLong), 1e-9)
}

func TestCostModel_ZeroCostsAreIdentity(t *testing.T) {
	var c CostModel
	assert.Equal(t, 42.0, c.EntryFill(42, DirectionLong))
	assert.Equal(t, 42.0, c.ExitFill(42, DirectionShort))
	assert.Equal(t, 0.0, c.Commission())
}

func TestCostModel_Validate(t *testing.T) {
	assert.NoError(t, DefaultCostModel().Validate())
	assert.ErrorIs(t, CostModel{CommissionPerTrade: -1}.Validate(), ErrConfiguration)
	assert.ErrorIs(t, CostModel{SlippageBps: -0.5}.Validate(), ErrConfiguration)
}
