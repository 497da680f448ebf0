package tier_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

func mustSchedule(t *testing.T) tier.Schedule {
	t.Helper()
	s, err := tier.New(tier.Input{
		ProductID:    "paracetamol-500",
		RegularPrice: 100,
		Tiers: []tier.Tier{
			{Threshold: 20, UnitPrice: 80},
			{Threshold: 10, UnitPrice: 90},
		},
	})
	require.NoError(t, err)
	return s
}

func TestPriceForBoundaries(t *testing.T) {
	s := mustSchedule(t)
	cases := []struct {
		qty  int
		want int64
	}{
		{0, 100},
		{9, 100},
		{10, 90},
		{19, 90},
		{20, 80},
		{1_000, 80},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, s.PriceFor(tc.qty), "quantity %d", tc.qty)
	}
}

func TestPriceNeverIncreasesWithVolume(t *testing.T) {
	s := mustSchedule(t)
	prev := s.PriceFor(0)
	for q := 1; q <= 50; q++ {
		price := s.PriceFor(q)
		require.LessOrEqualf(t, price, prev, "price rose at quantity %d", q)
		prev = price
	}
}

func TestNextAndCurrentThreshold(t *testing.T) {
	s := mustSchedule(t)

	next, ok := s.NextThreshold(0)
	require.True(t, ok)
	require.Equal(t, 10, next.Threshold)
	_, ok = s.CurrentThreshold(0)
	require.False(t, ok)

	next, ok = s.NextThreshold(10)
	require.True(t, ok)
	require.Equal(t, 20, next.Threshold)
	require.EqualValues(t, 80, next.UnitPrice)

	cur, ok := s.CurrentThreshold(25)
	require.True(t, ok)
	require.Equal(t, 20, cur.Threshold)
	_, ok = s.NextThreshold(25)
	require.False(t, ok)
}

func TestEmptyTiersAlwaysRegular(t *testing.T) {
	s, err := tier.New(tier.Input{ProductID: "vitamin-c", RegularPrice: 4_500})
	require.NoError(t, err)
	require.EqualValues(t, 4_500, s.PriceFor(0))
	require.EqualValues(t, 4_500, s.PriceFor(99))
	_, ok := s.NextThreshold(0)
	require.False(t, ok)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cases := map[string]tier.Input{
		"missing product": {RegularPrice: 10},
		"zero price":      {ProductID: "p"},
		"zero threshold":  {ProductID: "p", RegularPrice: 10, Tiers: []tier.Tier{{Threshold: 0, UnitPrice: 5}}},
		"duplicate":       {ProductID: "p", RegularPrice: 10, Tiers: []tier.Tier{{Threshold: 5, UnitPrice: 9}, {Threshold: 5, UnitPrice: 8}}},
		"huge price":      {ProductID: "p", RegularPrice: tier.MaxUnitPrice + 1},
		"huge tier price": {ProductID: "p", RegularPrice: 10, Tiers: []tier.Tier{{Threshold: 5, UnitPrice: math.MaxInt64}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tier.New(in)
			require.True(t, errors.Is(err, tier.ErrInvalidSchedule), "got %v", err)
		})
	}
}

func TestFromMOQ(t *testing.T) {
	in := tier.FromMOQ("amoxicillin", 12_000, 10_000, 5)
	require.Equal(t, []tier.Tier{
		{Threshold: 5, UnitPrice: 10_000},
		{Threshold: 10, UnitPrice: 9_000},
		{Threshold: 15, UnitPrice: 8_000},
	}, in.Tiers)

	require.Empty(t, tier.FromMOQ("amoxicillin", 12_000, 10_000, 0).Tiers)
}

func TestDiscountPercent(t *testing.T) {
	s := mustSchedule(t)
	require.Equal(t, 0.0, s.DiscountPercent(100))
	require.Equal(t, 20.0, s.DiscountPercent(80))
	require.Equal(t, 33.33, tier.Percent(1, 3))
	require.Equal(t, 0.0, tier.Percent(5, 0))
}

func TestShareKeepsPrecision(t *testing.T) {
	third := tier.Share(1, 3)
	require.InDelta(t, 100.0/3, third, 1e-12)
	require.InDelta(t, 100.0, third*3, 1e-9)
	require.Equal(t, 60.0, tier.Share(15, 25))
	require.Equal(t, 0.0, tier.Share(5, 0))
}
