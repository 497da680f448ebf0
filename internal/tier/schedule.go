package tier

import (
	"errors"
	"fmt"
	"sort"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-groupbuy/internal/pricing"
)

// ErrInvalidSchedule is returned when a registration payload fails validation.
var ErrInvalidSchedule = errors.New("tier: invalid schedule")

// MaxUnitPrice bounds regular and tier prices so settlement totals stay
// within int64 minor units.
const MaxUnitPrice pricing.Money = 10_000_000_000

var (
	validate = validator.New()
	hundred  = decimal.NewFromInt(100)
)

// Tier is a quantity breakpoint at which UnitPrice becomes active.
type Tier struct {
	Threshold int           `json:"threshold" validate:"gt=0"`
	UnitPrice pricing.Money `json:"unit_price" validate:"gt=0,lte=10000000000"`
}

// Input is the typed registration record accepted at the boundary.
type Input struct {
	ProductID    string        `json:"product_id" validate:"required,max=128"`
	RegularPrice pricing.Money `json:"regular_price" validate:"gt=0,lte=10000000000"`
	Tiers        []Tier        `json:"tiers" validate:"dive"`
}

// Schedule maps aggregate quantity to a unit price. The zero value is not usable;
// build one with New.
type Schedule struct {
	productID    string
	regularPrice pricing.Money
	tiers        []Tier
}

// New validates the input once and returns an immutable schedule with tiers
// sorted ascending by threshold.
func New(in Input) (Schedule, error) {
	if err := validate.Struct(in); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	tiers := append([]Tier(nil), in.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Threshold == tiers[i-1].Threshold {
			return Schedule{}, fmt.Errorf("%w: duplicate threshold %d", ErrInvalidSchedule, tiers[i].Threshold)
		}
	}
	return Schedule{productID: in.ProductID, regularPrice: in.RegularPrice, tiers: tiers}, nil
}

// FromMOQ derives the community tier ladder from a minimum order quantity:
// moq at the bulk price, 2x moq at 90% of it and 3x moq at 80%.
func FromMOQ(productID string, regular, bulk pricing.Money, moq int) Input {
	in := Input{ProductID: productID, RegularPrice: regular}
	if moq <= 0 {
		return in
	}
	base := decimal.NewFromInt(bulk)
	in.Tiers = []Tier{
		{Threshold: moq, UnitPrice: bulk},
		{Threshold: moq * 2, UnitPrice: base.Mul(decimal.RequireFromString("0.9")).Round(0).IntPart()},
		{Threshold: moq * 3, UnitPrice: base.Mul(decimal.RequireFromString("0.8")).Round(0).IntPart()},
	}
	return in
}

// ProductID returns the product the schedule belongs to.
func (s Schedule) ProductID() string { return s.productID }

// RegularPrice is the price applied below the lowest threshold.
func (s Schedule) RegularPrice() pricing.Money { return s.regularPrice }

// Tiers returns a copy of the sorted tier list.
func (s Schedule) Tiers() []Tier { return append([]Tier(nil), s.tiers...) }

// PriceFor returns the unit price for the given aggregate quantity. The
// boundary is inclusive: a quantity equal to a threshold gets that tier's price.
func (s Schedule) PriceFor(total int) pricing.Money {
	if total <= 0 {
		return s.regularPrice
	}
	if t, ok := s.CurrentThreshold(total); ok {
		return t.UnitPrice
	}
	return s.regularPrice
}

// CurrentThreshold reports the highest tier whose threshold is <= total.
func (s Schedule) CurrentThreshold(total int) (Tier, bool) {
	var (
		current Tier
		found   bool
	)
	for _, t := range s.tiers {
		if total < t.Threshold {
			break
		}
		current, found = t, true
	}
	return current, found
}

// NextThreshold reports the smallest tier whose threshold is > total. It
// returns false once the top tier has been reached.
func (s Schedule) NextThreshold(total int) (Tier, bool) {
	for _, t := range s.tiers {
		if t.Threshold > total {
			return t, true
		}
	}
	return Tier{}, false
}

// DiscountPercent expresses how far price sits below the regular price, as a
// percentage rounded to two decimals.
func (s Schedule) DiscountPercent(price pricing.Money) float64 {
	if s.regularPrice <= 0 {
		return 0
	}
	return Percent(s.regularPrice-price, s.regularPrice)
}

// Percent returns part/whole*100 rounded to two decimals, or 0 when whole is 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2).InexactFloat64()
}

// Share returns part/whole*100 without display rounding, so the shares of a
// batch add up to 100. Zero whole yields 0.
func Share(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).InexactFloat64()
}
