package groupbuy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-groupbuy/internal/pricing"
	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

// NoBatchID is reported by Status before any batch was opened for a product.
const NoBatchID = "no-batch"

// TopContributorBonus is the extra discount advertised to the leading
// contributor. It is informational only and never affects settlement.
const TopContributorBonus = 0.10

// Default quantity bounds. With tier.MaxUnitPrice they keep every line and
// batch total inside int64 minor units.
const (
	DefaultMaxQuantity      = 1_000_000
	DefaultMaxBatchQuantity = 100_000_000
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
	// HistoryLimit caps how many finalized batches are retained per product.
	// Zero keeps everything.
	HistoryLimit int
	// MaxQuantity caps a single contribution. Zero uses DefaultMaxQuantity.
	MaxQuantity int
	// MaxBatchQuantity caps ledger total plus baseline for a product. Zero uses
	// DefaultMaxBatchQuantity.
	MaxBatchQuantity int
}

// Engine aggregates per-product demand and prices it against tier schedules.
// Operations on one product are serialized; different products run in parallel.
type Engine struct {
	mu       sync.RWMutex
	products map[string]*productState

	now          func() time.Time
	newID        func() string
	historyLimit int
	maxQty       int
	maxBatchQty  int
}

type productState struct {
	mu        sync.Mutex
	schedule  tier.Schedule
	baseline  int
	open      *Batch
	finalized []*Batch
	history   []Settlement
}

// NewEngine constructs an empty engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		products:     make(map[string]*productState),
		now:          cfg.Now,
		newID:        cfg.NewID,
		historyLimit: cfg.HistoryLimit,
		maxQty:       cfg.MaxQuantity,
		maxBatchQty:  cfg.MaxBatchQuantity,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.historyLimit < 0 {
		e.historyLimit = 0
	}
	if e.maxQty <= 0 {
		e.maxQty = DefaultMaxQuantity
	}
	if e.maxBatchQty <= 0 {
		e.maxBatchQty = DefaultMaxBatchQuantity
	}
	if e.maxQty > e.maxBatchQty {
		e.maxQty = e.maxBatchQty
	}
	return e
}

// Reset drops every schedule, batch and baseline.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.products = make(map[string]*productState)
	e.mu.Unlock()
}

// RegisterSchedule makes a product available for group buying.
func (e *Engine) RegisterSchedule(s tier.Schedule) error {
	if s.ProductID() == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidSchedule)
	}
	prices := []pricing.Money{s.RegularPrice()}
	for _, t := range s.Tiers() {
		prices = append(prices, t.UnitPrice)
	}
	for _, price := range prices {
		if _, err := pricing.MulQty(e.maxBatchQty, price); err != nil {
			return fmt.Errorf("%w: price %d overflows a full batch", ErrInvalidSchedule, price)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.products[s.ProductID()]; ok {
		return fmt.Errorf("%w: %s", ErrScheduleExists, s.ProductID())
	}
	e.products[s.ProductID()] = &productState{schedule: s}
	return nil
}

// Schedule returns the registered schedule for the product.
func (e *Engine) Schedule(productID string) (tier.Schedule, error) {
	p, err := e.product(productID)
	if err != nil {
		return tier.Schedule{}, err
	}
	return p.schedule, nil
}

// Products lists the registered product identifiers.
func (e *Engine) Products() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.products))
	for id := range e.products {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) product(productID string) (*productState, error) {
	e.mu.RLock()
	p, ok := e.products[productID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return p, nil
}

// withProduct runs fn while holding the product's lock.
func (e *Engine) withProduct(productID string, fn func(*productState) error) error {
	p, err := e.product(productID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p)
}

func (e *Engine) ensureOpen(p *productState) *Batch {
	if p.open == nil {
		p.open = newBatch(e.newID(), p.schedule.ProductID(), e.now())
	}
	return p.open
}

// BatchSummary describes a batch without exposing its mutable state.
type BatchSummary struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	OpenedAt         time.Time `json:"opened_at"`
	TotalQuantity    int       `json:"total_quantity"`
	ContributorCount int       `json:"contributor_count"`
	Finalized        bool      `json:"finalized"`
}

func summarize(b *Batch) BatchSummary {
	return BatchSummary{
		ID:               b.ID,
		ProductID:        b.ProductID,
		OpenedAt:         b.OpenedAt,
		TotalQuantity:    b.ledger.TotalQuantity(),
		ContributorCount: b.ledger.ContributorCount(),
		Finalized:        b.finalized,
	}
}

// OpenBatch opens a batch for the product unless one is already open, in
// which case the existing batch is returned.
func (e *Engine) OpenBatch(productID string) (BatchSummary, error) {
	var out BatchSummary
	err := e.withProduct(productID, func(p *productState) error {
		out = summarize(e.ensureOpen(p))
		return nil
	})
	return out, err
}

// SeedBaseline records demand committed outside the live session. It replaces
// any previous baseline and opens a batch if none is open.
func (e *Engine) SeedBaseline(productID string, qty int) error {
	if qty < 0 || qty > e.maxBatchQty {
		return fmt.Errorf("%w: baseline must be between 0 and %d", ErrInvalidQuantity, e.maxBatchQty)
	}
	return e.withProduct(productID, func(p *productState) error {
		if p.open != nil && p.open.ledger.TotalQuantity() > e.maxBatchQty-qty {
			return fmt.Errorf("%w: %d", ErrQuantityLimit, e.maxBatchQty)
		}
		p.baseline = qty
		e.ensureOpen(p)
		return nil
	})
}

// UpsertResult reports the state of the product after an upsert.
type UpsertResult struct {
	// ContributionID is empty when the contribution was removed.
	ContributionID string `json:"contribution_id"`
	BatchID        string `json:"batch_id"`
	// TotalQuantity includes the baseline.
	TotalQuantity int  `json:"total_quantity"`
	NextThreshold *int `json:"next_threshold"`
}

// Upsert sets a contributor's quantity for the product's open batch. It is a
// set, not an increment; zero removes the contributor.
func (e *Engine) Upsert(contributorID, productID string, qty int) (UpsertResult, error) {
	if qty < 0 || qty > e.maxQty {
		return UpsertResult{}, fmt.Errorf("%w: must be between 0 and %d", ErrInvalidQuantity, e.maxQty)
	}
	var out UpsertResult
	err := e.withProduct(productID, func(p *productState) error {
		b := e.ensureOpen(p)
		if !b.finalized {
			others := b.ledger.TotalQuantity() + p.baseline
			if prev, ok := b.ledger.Get(contributorID); ok {
				others -= prev.Quantity
			}
			if qty > e.maxBatchQty-others {
				return fmt.Errorf("%w: %d", ErrQuantityLimit, e.maxBatchQty)
			}
		}
		c, err := b.Upsert(e.newID(), contributorID, qty, e.now())
		if err != nil {
			return err
		}
		total := b.ledger.TotalQuantity() + p.baseline
		out = UpsertResult{ContributionID: c.ID, BatchID: b.ID, TotalQuantity: total}
		if next, ok := p.schedule.NextThreshold(total); ok {
			out.NextThreshold = &next.Threshold
		}
		return nil
	})
	return out, err
}

// RemoveContribution withdraws the contributor from the product's open batch.
func (e *Engine) RemoveContribution(contributorID, productID string) (UpsertResult, error) {
	return e.Upsert(contributorID, productID, 0)
}

// Contribution returns the contributor's active contribution in the open batch.
func (e *Engine) Contribution(contributorID, productID string) (Contribution, bool, error) {
	var (
		out   Contribution
		found bool
	)
	err := e.withProduct(productID, func(p *productState) error {
		if p.open != nil {
			out, found = p.open.ledger.Get(contributorID)
		}
		return nil
	})
	return out, found, err
}

// Snapshot is the read-only pricing view of a product's open batch.
type Snapshot struct {
	ProductID              string         `json:"product_id"`
	BatchID                string         `json:"batch_id"`
	TotalQuantity          int            `json:"total_quantity"`
	BaselineQuantity       int            `json:"baseline_quantity"`
	CurrentUnitPrice       pricing.Money  `json:"current_unit_price"`
	RegularPrice           pricing.Money  `json:"regular_price"`
	DiscountPercentage     float64        `json:"discount_percentage"`
	CurrentTierThreshold   *int           `json:"current_tier_threshold"`
	NextTierThreshold      *int           `json:"next_tier_threshold"`
	NextTierPrice          *pricing.Money `json:"next_tier_price"`
	RemainingForNextTier   int            `json:"remaining_for_next_tier"`
	ActiveContributorCount int            `json:"active_contributor_count"`
}

// TopContributor is the leading contributor of an open batch.
type TopContributor struct {
	ContributorID string  `json:"contributor_id"`
	Quantity      int     `json:"quantity"`
	SharePercent  float64 `json:"share_percent"`
	// AdditionalDiscount is display only.
	AdditionalDiscount float64 `json:"additional_discount"`
}

// Status computes the pricing snapshot for the product. A registered product
// without any batch yields a baseline-only snapshot rather than an error.
func (e *Engine) Status(productID string) (Snapshot, error) {
	var out Snapshot
	err := e.withProduct(productID, func(p *productState) error {
		out = snapshotOf(p)
		return nil
	})
	return out, err
}

// TopContributor returns the largest contributor of the open batch, or nil
// when the batch has no contributions.
func (e *Engine) TopContributor(productID string) (*TopContributor, error) {
	var out *TopContributor
	err := e.withProduct(productID, func(p *productState) error {
		out = leaderOf(p)
		return nil
	})
	return out, err
}

// Overview returns the snapshot and leader observed under one lock.
func (e *Engine) Overview(productID string) (Snapshot, *TopContributor, error) {
	var (
		snap Snapshot
		top  *TopContributor
	)
	err := e.withProduct(productID, func(p *productState) error {
		snap = snapshotOf(p)
		top = leaderOf(p)
		return nil
	})
	return snap, top, err
}

func snapshotOf(p *productState) Snapshot {
	s := p.schedule
	out := Snapshot{
		ProductID:        s.ProductID(),
		BatchID:          NoBatchID,
		BaselineQuantity: p.baseline,
		RegularPrice:     s.RegularPrice(),
	}
	total := p.baseline
	if p.open != nil {
		out.BatchID = p.open.ID
		total += p.open.ledger.TotalQuantity()
		out.ActiveContributorCount = p.open.ledger.ContributorCount()
	}
	out.TotalQuantity = total
	out.CurrentUnitPrice = s.PriceFor(total)
	out.DiscountPercentage = s.DiscountPercent(out.CurrentUnitPrice)
	if cur, ok := s.CurrentThreshold(total); ok {
		out.CurrentTierThreshold = &cur.Threshold
	}
	if next, ok := s.NextThreshold(total); ok {
		out.NextTierThreshold = &next.Threshold
		out.NextTierPrice = &next.UnitPrice
		if remaining := next.Threshold - total; remaining > 0 {
			out.RemainingForNextTier = remaining
		}
	}
	return out
}

func leaderOf(p *productState) *TopContributor {
	if p.open == nil {
		return nil
	}
	c, ok := p.open.ledger.Leader()
	if !ok {
		return nil
	}
	return &TopContributor{
		ContributorID:      c.ContributorID,
		Quantity:           c.Quantity,
		SharePercent:       tier.Share(int64(c.Quantity), int64(p.open.ledger.TotalQuantity())),
		AdditionalDiscount: TopContributorBonus,
	}
}

// Finalize settles the product's open batch at the price of its own total
// quantity, then opens a fresh batch for the product.
func (e *Engine) Finalize(productID string) (Settlement, error) {
	return e.FinalizeBatch(productID, "")
}

// FinalizeBatch is Finalize guarded by the batch the caller believes is open.
// A non-empty batchID that no longer matches the open batch fails with
// ErrBatchClosed, which keeps a retried checkout from settling the next window.
func (e *Engine) FinalizeBatch(productID, batchID string) (Settlement, error) {
	var out Settlement
	err := e.withProduct(productID, func(p *productState) error {
		b := p.open
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoOpenBatch, productID)
		}
		if batchID != "" && batchID != b.ID {
			return fmt.Errorf("%w: %s is not the open batch", ErrBatchClosed, batchID)
		}
		if err := b.finalize(p.schedule, e.now()); err != nil {
			return err
		}
		next := newBatch(e.newID(), productID, e.now())
		p.open = next
		out = b.settlement(p.schedule, next.ID)
		p.finalized = append(p.finalized, b)
		p.history = append(p.history, out)
		e.trimHistory(p)
		return nil
	})
	return out, err
}

func (e *Engine) trimHistory(p *productState) {
	if e.historyLimit == 0 || len(p.history) <= e.historyLimit {
		return
	}
	drop := len(p.history) - e.historyLimit
	p.history = append([]Settlement(nil), p.history[drop:]...)
	p.finalized = append([]*Batch(nil), p.finalized[drop:]...)
}

// History returns retained settlements for the product, oldest first.
func (e *Engine) History(productID string) ([]Settlement, error) {
	var out []Settlement
	err := e.withProduct(productID, func(p *productState) error {
		out = append([]Settlement(nil), p.history...)
		return nil
	})
	return out, err
}

// FinalizedContributions returns the settled contribution records of a
// retained finalized batch.
func (e *Engine) FinalizedContributions(productID, batchID string) ([]Contribution, bool, error) {
	var (
		out   []Contribution
		found bool
	)
	err := e.withProduct(productID, func(p *productState) error {
		for _, b := range p.finalized {
			if b.ID == batchID {
				out, found = b.ledger.Entries(), true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}
