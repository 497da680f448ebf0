package archive

import (
	"context"

	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
	"github.com/noah-isme/backend-groupbuy/internal/resilience"
)

// Guarded runs another archiver through a resilience.Caller so a database
// outage trips the breaker instead of slowing every finalization.
type Guarded struct {
	Next   groupbuy.Archiver
	Caller resilience.Caller
}

// Archive implements groupbuy.Archiver.
func (g Guarded) Archive(ctx context.Context, st groupbuy.Settlement) error {
	return g.Caller.Do(ctx, func(ctx context.Context) error {
		return g.Next.Archive(ctx, st)
	})
}
