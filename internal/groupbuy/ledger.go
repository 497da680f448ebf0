package groupbuy

import (
	"time"

	"github.com/noah-isme/backend-groupbuy/internal/pricing"
)

// Contribution is one contributor's requested quantity inside a batch.
// Settlement fields are populated once, when the batch is finalized.
type Contribution struct {
	ID            string    `json:"id"`
	ContributorID string    `json:"contributor_id"`
	ProductID     string    `json:"product_id"`
	BatchID       string    `json:"batch_id"`
	Quantity      int       `json:"quantity"`
	Seq           uint64    `json:"seq"`
	CreatedAt     time.Time `json:"created_at"`

	SettledUnitPrice *pricing.Money `json:"settled_unit_price,omitempty"`
	SharePercent     *float64       `json:"share_percent,omitempty"`
	LineTotal        *pricing.Money `json:"line_total,omitempty"`
}

// Ledger holds the active contributions of one batch in insertion order.
type Ledger struct {
	entries []Contribution
	seq     uint64
}

// Set replaces the contributor's entry with c. The new entry is appended with
// a fresh sequence number, so a replaced contribution counts as the latest one.
func (l *Ledger) Set(c Contribution) Contribution {
	l.Remove(c.ContributorID)
	l.seq++
	c.Seq = l.seq
	l.entries = append(l.entries, c)
	return c
}

// Remove drops the contributor's entry. It reports whether anything was removed.
func (l *Ledger) Remove(contributorID string) bool {
	for i := range l.entries {
		if l.entries[i].ContributorID == contributorID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the contributor's active entry.
func (l *Ledger) Get(contributorID string) (Contribution, bool) {
	for _, c := range l.entries {
		if c.ContributorID == contributorID {
			return c, true
		}
	}
	return Contribution{}, false
}

// TotalQuantity sums every active contribution.
func (l *Ledger) TotalQuantity() int {
	total := 0
	for _, c := range l.entries {
		total += c.Quantity
	}
	return total
}

// ContributorCount is the number of distinct active contributors.
func (l *Ledger) ContributorCount() int { return len(l.entries) }

// Entries returns a copy of the active contributions in insertion order.
func (l *Ledger) Entries() []Contribution {
	out := make([]Contribution, len(l.entries))
	copy(out, l.entries)
	return out
}

// Leader returns the largest contribution; ties go to the earliest entry.
func (l *Ledger) Leader() (Contribution, bool) {
	if len(l.entries) == 0 {
		return Contribution{}, false
	}
	best := l.entries[0]
	for _, c := range l.entries[1:] {
		if c.Quantity > best.Quantity {
			best = c
		}
	}
	return best, true
}
