package groupbuy

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-groupbuy/internal/events"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

// Locker serializes work on a key, possibly across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Archiver moves finalized settlements out of engine memory.
type Archiver interface {
	Archive(ctx context.Context, st Settlement) error
}

// EventEmitter publishes domain events.
type EventEmitter interface {
	Emit(ctx context.Context, topic string, aggregateID string, payload any) (events.Event, error)
}

// Service wires the engine to locking, archival, events and observability.
type Service struct {
	Engine   *Engine
	Locker   Locker
	LockTTL  time.Duration
	Archiver Archiver
	Events   EventEmitter
	Logger   zerolog.Logger
}

// View is the display payload for a product: pricing snapshot plus leader.
type View struct {
	Snapshot
	TopContributor *TopContributor `json:"top_contributor"`
}

var tracer = otel.Tracer("groupbuy")

func (s *Service) start(ctx context.Context, name, productID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("groupbuy.product_id", productID)))
}

// RegisterSchedule validates the registration record and registers it.
func (s *Service) RegisterSchedule(ctx context.Context, in tier.Input) (tier.Schedule, error) {
	ctx, span := s.start(ctx, "groupbuy.RegisterSchedule", in.ProductID)
	defer span.End()

	in.ProductID = strings.TrimSpace(in.ProductID)
	sched, err := tier.New(in)
	if err != nil {
		return tier.Schedule{}, s.fail(span, err, in.ProductID)
	}
	if err := s.Engine.RegisterSchedule(sched); err != nil {
		return tier.Schedule{}, s.fail(span, err, in.ProductID)
	}
	s.Logger.Info().
		Str("product_id", sched.ProductID()).
		Int64("regular_price", sched.RegularPrice()).
		Int("tiers", len(sched.Tiers())).
		Msg("tier schedule registered")
	s.emit(ctx, events.TopicScheduleRegistered, sched.ProductID(), map[string]any{
		"product_id":    sched.ProductID(),
		"regular_price": sched.RegularPrice(),
		"tiers":         sched.Tiers(),
	})
	return sched, nil
}

// SeedBaseline records previously committed demand for the product.
func (s *Service) SeedBaseline(ctx context.Context, productID string, qty int) error {
	_, span := s.start(ctx, "groupbuy.SeedBaseline", productID)
	defer span.End()
	if err := s.Engine.SeedBaseline(productID, qty); err != nil {
		return s.fail(span, err, productID)
	}
	s.Logger.Info().Str("product_id", productID).Int("baseline", qty).Msg("baseline seeded")
	return nil
}

// SetQuantity upserts the contributor's desired quantity.
func (s *Service) SetQuantity(ctx context.Context, contributorID, productID string, qty int) (UpsertResult, error) {
	_, span := s.start(ctx, "groupbuy.SetQuantity", productID)
	defer span.End()

	res, err := s.Engine.Upsert(contributorID, productID, qty)
	if err != nil {
		countUpsert("error")
		return UpsertResult{}, s.fail(span, err, productID)
	}
	result := "set"
	if qty == 0 {
		result = "removed"
	}
	countUpsert(result)
	span.SetAttributes(attribute.Int("groupbuy.total_quantity", res.TotalQuantity))
	s.Logger.Debug().
		Str("product_id", productID).
		Str("contributor_id", contributorID).
		Int("quantity", qty).
		Int("total_quantity", res.TotalQuantity).
		Msg("contribution updated")
	return res, nil
}

// Status returns the pricing view of the product.
func (s *Service) Status(ctx context.Context, productID string) (View, error) {
	_, span := s.start(ctx, "groupbuy.Status", productID)
	defer span.End()
	snap, top, err := s.Engine.Overview(productID)
	if err != nil {
		return View{}, s.fail(span, err, productID)
	}
	return View{Snapshot: snap, TopContributor: top}, nil
}

// TopContributor returns the leading contributor or nil.
func (s *Service) TopContributor(ctx context.Context, productID string) (*TopContributor, error) {
	_, span := s.start(ctx, "groupbuy.TopContributor", productID)
	defer span.End()
	top, err := s.Engine.TopContributor(productID)
	if err != nil {
		return nil, s.fail(span, err, productID)
	}
	return top, nil
}

// Finalize settles the open batch, opening an empty one first if the product
// never had a batch. When batchID is set it must match the open batch.
// Archival and event fan-out run after the finalize lock is released. The
// settlement stays authoritative even if archival fails; archive errors are
// logged and counted, not returned.
func (s *Service) Finalize(ctx context.Context, productID, batchID string) (Settlement, error) {
	ctx, span := s.start(ctx, "groupbuy.Finalize", productID)
	defer span.End()

	var settled Settlement
	run := func(context.Context) error {
		if _, err := s.Engine.OpenBatch(productID); err != nil {
			return err
		}
		var err error
		settled, err = s.Engine.FinalizeBatch(productID, batchID)
		return err
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, FinalizeLockKey(productID), s.LockTTL, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Settlement{}, s.fail(span, err, productID)
	}
	s.archive(ctx, settled)
	s.emit(ctx, events.TopicBatchFinalized, productID, settled)

	if obs.BatchFinalizedTotal != nil {
		obs.BatchFinalizedTotal.WithLabelValues(strconv.FormatBool(settled.GotDiscount)).Inc()
		obs.BatchSettledQuantity.Observe(float64(settled.TotalQuantity))
		obs.BatchDiscountPercent.Observe(settled.DiscountPercentage)
	}
	span.SetAttributes(
		attribute.String("groupbuy.batch_id", settled.BatchID),
		attribute.Int64("groupbuy.settled_unit_price", settled.SettledUnitPrice),
	)
	s.Logger.Info().
		Str("product_id", productID).
		Str("batch_id", settled.BatchID).
		Str("next_batch_id", settled.NextBatchID).
		Int("total_quantity", settled.TotalQuantity).
		Int64("settled_unit_price", settled.SettledUnitPrice).
		Int("contributors", len(settled.Contributions)).
		Bool("got_discount", settled.GotDiscount).
		Msg("batch finalized")
	return settled, nil
}

// History returns the settlements still retained in memory.
func (s *Service) History(ctx context.Context, productID string) ([]Settlement, error) {
	_, span := s.start(ctx, "groupbuy.History", productID)
	defer span.End()
	out, err := s.Engine.History(productID)
	if err != nil {
		return nil, s.fail(span, err, productID)
	}
	return out, nil
}

// FinalizeLockKey is the lock key guarding finalization of a product.
func FinalizeLockKey(productID string) string {
	return "groupbuy:finalize:" + productID
}

func (s *Service) archive(ctx context.Context, st Settlement) {
	if s.Archiver == nil {
		return
	}
	if err := s.Archiver.Archive(ctx, st); err != nil {
		if obs.ArchiveFailuresTotal != nil {
			obs.ArchiveFailuresTotal.Inc()
		}
		s.Logger.Error().Err(err).Str("product_id", st.ProductID).Str("batch_id", st.BatchID).Msg("archive settlement")
	}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("emit event")
	}
}

// fail records err on the span and logs caller sequencing errors.
func (s *Service) fail(span trace.Span, err error, productID string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	code := ErrorCode(err)
	switch {
	case errors.Is(err, ErrNoOpenBatch):
		s.Logger.Error().Err(err).Str("product_id", productID).Str("code", code).Msg("lifecycle invariant violated")
	case errors.Is(err, ErrUnknownProduct), errors.Is(err, ErrBatchClosed):
		s.Logger.Warn().Err(err).Str("product_id", productID).Str("code", code).Msg("caller sequencing error")
	default:
		return err
	}
	if obs.SequencingErrorsTotal != nil {
		obs.SequencingErrorsTotal.WithLabelValues(code).Inc()
	}
	return err
}

func countUpsert(result string) {
	if obs.ContributionUpsertTotal != nil {
		obs.ContributionUpsertTotal.WithLabelValues(result).Inc()
	}
}

// ErrorCode maps domain errors to stable API codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProduct):
		return "UNKNOWN_PRODUCT"
	case errors.Is(err, ErrBatchClosed):
		return "BATCH_CLOSED"
	case errors.Is(err, ErrNoOpenBatch):
		return "NO_OPEN_BATCH"
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrQuantityLimit):
		return "QUANTITY_LIMIT"
	case errors.Is(err, ErrInvalidSchedule):
		return "INVALID_SCHEDULE"
	case errors.Is(err, ErrScheduleExists):
		return "SCHEDULE_EXISTS"
	default:
		return "INTERNAL"
	}
}
