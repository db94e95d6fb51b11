package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/errors"
)

func TestCompute_GoldWithParentLandsOnCap(t *testing.T) {
	calc := NewDefault()

	got, err := calc.Compute(100000, domain.TierGold, true)
	require.NoError(t, err)

	assert.Equal(t, int64(30000), got.DirectAmount)
	assert.Equal(t, int64(5000), got.OverrideAmount)
	assert.Equal(t, int64(35000), got.TotalPayout)
	assert.False(t, got.IsCapped)
	assert.Equal(t, int64(65000), got.AgencyNet)
}

func TestCompute_ScalesProportionallyAboveCap(t *testing.T) {
	rates := DefaultRates()
	rates["platinum"] = Rates{DirectBps: 3000, OverrideBps: 1000}
	calc, err := New(rates, DefaultCapBps)
	require.NoError(t, err)

	got, err := calc.Compute(100000, "platinum", true)
	require.NoError(t, err)

	assert.Equal(t, int64(26250), got.DirectAmount)
	assert.Equal(t, int64(8750), got.OverrideAmount)
	assert.True(t, got.IsCapped)
	assert.Equal(t, int64(65000), got.AgencyNet)
}

func TestCompute_NoParentNoOverride(t *testing.T) {
	calc := NewDefault()

	got, err := calc.Compute(100000, domain.TierSilver, false)
	require.NoError(t, err)

	assert.Equal(t, int64(25000), got.DirectAmount)
	assert.Zero(t, got.OverrideAmount)

	got, err = calc.Compute(100000, domain.TierSilver, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.OverrideAmount)
}

func TestCompute_TruncationGoesToAgency(t *testing.T) {
	calc := NewDefault()

	// 25% of 999 is 249.75 and 2% is 19.98.
	got, err := calc.Compute(999, domain.TierSilver, true)
	require.NoError(t, err)

	assert.Equal(t, int64(249), got.DirectAmount)
	assert.Equal(t, int64(19), got.OverrideAmount)
	assert.Equal(t, int64(999-249-19), got.AgencyNet)
}

func TestCompute_RejectsBadInput(t *testing.T) {
	calc := NewDefault()

	_, err := calc.Compute(0, domain.TierGold, false)
	assert.True(t, errors.IsValidation(err))

	_, err = calc.Compute(-5, domain.TierGold, false)
	assert.True(t, errors.IsValidation(err))

	_, err = calc.Compute(100, "diamond", false)
	assert.True(t, errors.IsValidation(err))
}

func TestCompute_CapHoldsEverywhere(t *testing.T) {
	rates := DefaultRates()
	rates["greedy"] = Rates{DirectBps: 9000, OverrideBps: 900}
	calc, err := New(rates, DefaultCapBps)
	require.NoError(t, err)

	values := []int64{1, 2, 3, 7, 99, 100, 101, 12345, 99999, 100000, 7654321, 1 << 40}
	for tier := range rates {
		for _, v := range values {
			for _, parent := range []bool{false, true} {
				got, err := calc.Compute(v, tier, parent)
				require.NoError(t, err)
				capAmount := v * DefaultCapBps / BasisPoints
				assert.LessOrEqual(t, got.TotalPayout, capAmount, "tier=%s value=%d parent=%t", tier, v, parent)
				assert.GreaterOrEqual(t, got.AgencyNet, int64(0))
				assert.Equal(t, v, got.TotalPayout+got.AgencyNet)
			}
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	calc := NewDefault()
	first, err := calc.Compute(123457, domain.TierGold, true)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.Compute(123457, domain.TierGold, true)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNew_ValidatesConfiguration(t *testing.T) {
	_, err := New(nil, DefaultCapBps)
	assert.Error(t, err)

	_, err = New(DefaultRates(), 0)
	assert.Error(t, err)

	_, err = New(DefaultRates(), BasisPoints+1)
	assert.Error(t, err)

	_, err = New(RateTable{domain.TierGold: {DirectBps: -1}}, DefaultCapBps)
	assert.Error(t, err)
}
