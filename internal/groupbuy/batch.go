package groupbuy

import (
	"sort"
	"time"

	"github.com/noah-isme/backend-groupbuy/internal/pricing"
	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

// Batch collects contributions for one product during one group-buy window.
type Batch struct {
	ID        string
	ProductID string
	OpenedAt  time.Time

	ledger           Ledger
	finalized        bool
	finalizedAt      time.Time
	settledUnitPrice pricing.Money
}

func newBatch(id, productID string, now time.Time) *Batch {
	return &Batch{ID: id, ProductID: productID, OpenedAt: now}
}

// Finalized reports whether the batch has been settled.
func (b *Batch) Finalized() bool { return b.finalized }

// Ledger exposes the batch contributions for read access.
func (b *Batch) Ledger() *Ledger { return &b.ledger }

// Upsert sets the contributor's quantity. Zero removes the contribution.
// The returned contribution is empty when nothing remains for the contributor.
func (b *Batch) Upsert(id, contributorID string, qty int, now time.Time) (Contribution, error) {
	if b.finalized {
		return Contribution{}, ErrBatchClosed
	}
	if qty < 0 {
		return Contribution{}, ErrInvalidQuantity
	}
	if qty == 0 {
		b.ledger.Remove(contributorID)
		return Contribution{}, nil
	}
	return b.ledger.Set(Contribution{
		ID:            id,
		ContributorID: contributorID,
		ProductID:     b.ProductID,
		BatchID:       b.ID,
		Quantity:      qty,
		CreatedAt:     now,
	}), nil
}

// finalize locks in the settlement price for every contribution. Baseline
// quantity is deliberately not part of the tier lookup here.
func (b *Batch) finalize(schedule tier.Schedule, now time.Time) error {
	if b.finalized {
		return ErrBatchClosed
	}
	total := b.ledger.TotalQuantity()
	price := schedule.PriceFor(total)
	for i := range b.ledger.entries {
		c := &b.ledger.entries[i]
		unit := price
		share := tier.Share(int64(c.Quantity), int64(total))
		line := pricing.LineTotal(c.Quantity, unit)
		c.SettledUnitPrice = &unit
		c.SharePercent = &share
		c.LineTotal = &line
	}
	b.settledUnitPrice = price
	b.finalized = true
	b.finalizedAt = now
	return nil
}

// Settlement is the immutable result of finalizing a batch.
type Settlement struct {
	BatchID            string                  `json:"batch_id"`
	ProductID          string                  `json:"product_id"`
	NextBatchID        string                  `json:"next_batch_id"`
	TotalQuantity      int                     `json:"total_quantity"`
	RegularPrice       pricing.Money           `json:"regular_price"`
	SettledUnitPrice   pricing.Money           `json:"settled_unit_price"`
	DiscountPercentage float64                 `json:"discount_percentage"`
	GotDiscount        bool                    `json:"got_discount"`
	MaxSharePercent    float64                 `json:"max_share_percent"`
	Totals             pricing.Summary         `json:"totals"`
	OpenedAt           time.Time               `json:"opened_at"`
	FinalizedAt        time.Time               `json:"finalized_at"`
	Contributions      []ContributorSettlement `json:"contributions"`
}

// ContributorSettlement is the per-contributor outcome of a settled batch.
type ContributorSettlement struct {
	ContributionID string        `json:"contribution_id"`
	ContributorID  string        `json:"contributor_id"`
	Quantity       int           `json:"quantity"`
	UnitPrice      pricing.Money `json:"unit_price"`
	SharePercent   float64       `json:"share_percent"`
	LineTotal      pricing.Money `json:"line_total"`
	Savings        pricing.Money `json:"savings"`
}

// settlement renders a finalized batch. Contributions are ordered by quantity
// descending with insertion order breaking ties.
func (b *Batch) settlement(schedule tier.Schedule, nextBatchID string) Settlement {
	entries := b.ledger.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Quantity > entries[j].Quantity })

	regular := schedule.RegularPrice()
	out := Settlement{
		BatchID:            b.ID,
		ProductID:          b.ProductID,
		NextBatchID:        nextBatchID,
		TotalQuantity:      b.ledger.TotalQuantity(),
		RegularPrice:       regular,
		SettledUnitPrice:   b.settledUnitPrice,
		DiscountPercentage: schedule.DiscountPercent(b.settledUnitPrice),
		GotDiscount:        b.settledUnitPrice < regular,
		OpenedAt:           b.OpenedAt,
		FinalizedAt:        b.finalizedAt,
		Contributions:      make([]ContributorSettlement, 0, len(entries)),
	}
	quantities := make([]int, 0, len(entries))
	for _, c := range entries {
		cs := ContributorSettlement{
			ContributionID: c.ID,
			ContributorID:  c.ContributorID,
			Quantity:       c.Quantity,
			UnitPrice:      b.settledUnitPrice,
			LineTotal:      pricing.LineTotal(c.Quantity, b.settledUnitPrice),
			Savings:        pricing.Savings(c.Quantity, regular, b.settledUnitPrice),
		}
		if c.SharePercent != nil {
			cs.SharePercent = *c.SharePercent
		}
		if cs.SharePercent > out.MaxSharePercent {
			out.MaxSharePercent = cs.SharePercent
		}
		out.Contributions = append(out.Contributions, cs)
		quantities = append(quantities, c.Quantity)
	}
	out.Totals = pricing.Summarize(quantities, regular, b.settledUnitPrice)
	return out
}
