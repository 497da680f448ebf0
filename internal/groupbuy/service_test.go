package groupbuy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/events"
	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
	"github.com/noah-isme/backend-groupbuy/internal/lock"
	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

type recordingArchiver struct {
	err      error
	archived []groupbuy.Settlement
}

func (a *recordingArchiver) Archive(_ context.Context, st groupbuy.Settlement) error {
	a.archived = append(a.archived, st)
	return a.err
}

type recordingEmitter struct {
	topics []string
}

func (e *recordingEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	e.topics = append(e.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

type countingLocker struct {
	inner lock.Local
	keys  []string
}

func (l *countingLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return l.inner.WithLock(ctx, key, ttl, fn)
}

func newService(t *testing.T) (*groupbuy.Service, *recordingArchiver, *recordingEmitter, *countingLocker) {
	t.Helper()
	arch := &recordingArchiver{}
	em := &recordingEmitter{}
	lk := &countingLocker{}
	svc := &groupbuy.Service{
		Engine:   newEngine(t),
		Locker:   lk,
		LockTTL:  time.Second,
		Archiver: arch,
		Events:   em,
		Logger:   zerolog.Nop(),
	}
	return svc, arch, em, lk
}

func TestServiceFinalizeArchivesAndEmits(t *testing.T) {
	svc, arch, em, lk := newService(t)
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, "userA", product, 12)
	require.NoError(t, err)

	settled, err := svc.Finalize(ctx, product, "")
	require.NoError(t, err)
	require.EqualValues(t, 90, settled.SettledUnitPrice)
	require.True(t, settled.GotDiscount)

	require.Len(t, arch.archived, 1)
	require.Equal(t, settled.BatchID, arch.archived[0].BatchID)
	require.Equal(t, []string{events.TopicBatchFinalized}, em.topics)
	require.Equal(t, []string{groupbuy.FinalizeLockKey(product)}, lk.keys)
}

func TestServiceArchiveFailureDoesNotFailFinalize(t *testing.T) {
	svc, arch, _, _ := newService(t)
	arch.err = errors.New("db down")
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, "userA", product, 3)
	require.NoError(t, err)
	settled, err := svc.Finalize(ctx, product, "")
	require.NoError(t, err)
	require.Len(t, arch.archived, 1)

	hist, err := svc.History(ctx, product)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, settled.BatchID, hist[0].BatchID)
}

func TestServiceFinalizeStaleBatch(t *testing.T) {
	svc, arch, em, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, "userA", product, 3)
	require.NoError(t, err)
	first, err := svc.Finalize(ctx, product, "")
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, product, first.BatchID)
	require.ErrorIs(t, err, groupbuy.ErrBatchClosed)
	require.Len(t, arch.archived, 1)
	require.Len(t, em.topics, 1)
}

func TestServiceFinalizeRightAfterRegister(t *testing.T) {
	svc, arch, em, _ := newService(t)

	settled, err := svc.Finalize(context.Background(), product, "")
	require.NoError(t, err)
	require.EqualValues(t, 100, settled.SettledUnitPrice)
	require.False(t, settled.GotDiscount)
	require.Empty(t, settled.Contributions)
	require.NotEmpty(t, settled.NextBatchID)
	require.Len(t, arch.archived, 1)
	require.Equal(t, []string{events.TopicBatchFinalized}, em.topics)
}

// heldLocker tracks whether its lock is currently held and for how long.
type heldLocker struct {
	mu      sync.Mutex
	held    bool
	holdFor time.Duration
}

func (l *heldLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	start := time.Now()
	err := fn(ctx)
	l.mu.Lock()
	l.held = false
	l.holdFor = time.Since(start)
	l.mu.Unlock()
	return err
}

func (l *heldLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type slowEmitter struct {
	delay      time.Duration
	lock       *heldLocker
	heldOnEmit []bool
}

func (e *slowEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	e.heldOnEmit = append(e.heldOnEmit, e.lock.isHeld())
	time.Sleep(e.delay)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func TestServiceSlowSubscriberDoesNotHoldFinalizeLock(t *testing.T) {
	lk := &heldLocker{}
	em := &slowEmitter{delay: 200 * time.Millisecond, lock: lk}
	svc := &groupbuy.Service{Engine: newEngine(t), Locker: lk, LockTTL: time.Second, Events: em, Logger: zerolog.Nop()}
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, "userA", product, 12)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, product, "")
	require.NoError(t, err)

	require.Equal(t, []bool{false}, em.heldOnEmit)
	require.Less(t, lk.holdFor, em.delay)
}

func TestServiceRegisterScheduleEmits(t *testing.T) {
	svc, _, em, _ := newService(t)
	ctx := context.Background()

	sched, err := svc.RegisterSchedule(ctx, tier.Input{
		ProductID:    "  vitamin-c  ",
		RegularPrice: 50,
		Tiers:        []tier.Tier{{Threshold: 5, UnitPrice: 45}},
	})
	require.NoError(t, err)
	require.Equal(t, "vitamin-c", sched.ProductID())
	require.Equal(t, []string{events.TopicScheduleRegistered}, em.topics)

	_, err = svc.RegisterSchedule(ctx, tier.Input{ProductID: "vitamin-c", RegularPrice: 50})
	require.ErrorIs(t, err, groupbuy.ErrScheduleExists)

	_, err = svc.RegisterSchedule(ctx, tier.Input{ProductID: "bad", RegularPrice: 0})
	require.ErrorIs(t, err, groupbuy.ErrInvalidSchedule)
}

func TestServiceStatusIncludesLeader(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	view, err := svc.Status(ctx, product)
	require.NoError(t, err)
	require.Nil(t, view.TopContributor)

	_, err = svc.SetQuantity(ctx, "userA", product, 4)
	require.NoError(t, err)
	_, err = svc.SetQuantity(ctx, "userB", product, 6)
	require.NoError(t, err)

	view, err = svc.Status(ctx, product)
	require.NoError(t, err)
	require.NotNil(t, view.TopContributor)
	require.Equal(t, "userB", view.TopContributor.ContributorID)
	require.Equal(t, 10, view.TotalQuantity)
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		groupbuy.ErrUnknownProduct:  "UNKNOWN_PRODUCT",
		groupbuy.ErrBatchClosed:     "BATCH_CLOSED",
		groupbuy.ErrNoOpenBatch:     "NO_OPEN_BATCH",
		groupbuy.ErrInvalidQuantity: "INVALID_QUANTITY",
		groupbuy.ErrQuantityLimit:   "QUANTITY_LIMIT",
		groupbuy.ErrInvalidSchedule: "INVALID_SCHEDULE",
		groupbuy.ErrScheduleExists:  "SCHEDULE_EXISTS",
		errors.New("boom"):          "INTERNAL",
	}
	for err, code := range cases {
		require.Equal(t, code, groupbuy.ErrorCode(err), err.Error())
		require.Equal(t, code, groupbuy.ErrorCode(fmt.Errorf("wrapped: %w", err)))
	}
}
