package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
	"github.com/noah-isme/backend-groupbuy/internal/pricing"
)

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists finalized batches so they do not have to live in engine memory.
type Store struct {
	DB DB
}

// BatchRecord is an archived batch header.
type BatchRecord struct {
	BatchID            string        `json:"batch_id"`
	ProductID          string        `json:"product_id"`
	TotalQuantity      int           `json:"total_quantity"`
	RegularPrice       pricing.Money `json:"regular_price"`
	SettledUnitPrice   pricing.Money `json:"settled_unit_price"`
	DiscountPercentage float64       `json:"discount_percentage"`
	GotDiscount        bool          `json:"got_discount"`
	FinalizedAt        time.Time     `json:"finalized_at"`
}

const insertBatch = `INSERT INTO groupbuy_batches (
    batch_id, product_id, next_batch_id, total_quantity, regular_price, settled_unit_price,
    discount_percentage, got_discount, max_share_percent, opened_at, finalized_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (batch_id) DO NOTHING`

const insertSettlement = `INSERT INTO groupbuy_settlements (
    contribution_id, batch_id, contributor_id, quantity, unit_price, share_percent, line_total, savings
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (contribution_id) DO NOTHING`

const listBatches = `SELECT batch_id, product_id, total_quantity, regular_price, settled_unit_price,
    discount_percentage::float8, got_discount, finalized_at, count(*) OVER () AS total
FROM groupbuy_batches
WHERE product_id = $1
ORDER BY finalized_at DESC, batch_id
LIMIT $2 OFFSET $3`

// SaveBatch writes the batch and its settlements in one transaction. Saving
// the same batch twice is a no-op so queue redeliveries are safe.
func (s Store) SaveBatch(ctx context.Context, st groupbuy.Settlement) (err error) {
	if s.DB == nil {
		return errors.New("archive: database not configured")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, insertBatch,
		st.BatchID, st.ProductID, st.NextBatchID, st.TotalQuantity, st.RegularPrice, st.SettledUnitPrice,
		st.DiscountPercentage, st.GotDiscount, st.MaxSharePercent, st.OpenedAt, st.FinalizedAt,
	); err != nil {
		return fmt.Errorf("archive: insert batch: %w", err)
	}

	if len(st.Contributions) > 0 {
		batch := &pgx.Batch{}
		for _, c := range st.Contributions {
			batch.Queue(insertSettlement,
				c.ContributionID, st.BatchID, c.ContributorID, c.Quantity, c.UnitPrice, c.SharePercent, c.LineTotal, c.Savings)
		}
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("archive: insert settlements: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Archive implements groupbuy.Archiver by saving synchronously.
func (s Store) Archive(ctx context.Context, st groupbuy.Settlement) error {
	return s.SaveBatch(ctx, st)
}

// ListBatches returns a page of archived batches for a product, newest first,
// together with the total number archived.
func (s Store) ListBatches(ctx context.Context, productID string, limit, offset int) ([]BatchRecord, int, error) {
	if s.DB == nil {
		return nil, 0, errors.New("archive: database not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.Query(ctx, listBatches, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("archive: list batches: %w", err)
	}
	defer rows.Close()

	var (
		out   []BatchRecord
		total int
	)
	for rows.Next() {
		var r BatchRecord
		if err := rows.Scan(&r.BatchID, &r.ProductID, &r.TotalQuantity, &r.RegularPrice, &r.SettledUnitPrice,
			&r.DiscountPercentage, &r.GotDiscount, &r.FinalizedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("archive: scan batch: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}
