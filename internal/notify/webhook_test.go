package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/events"
	"github.com/noah-isme/backend-groupbuy/internal/notify"
	"github.com/noah-isme/backend-groupbuy/internal/resilience"
)

func sampleEvent() events.Event {
	return events.Event{
		ID:          "evt-1",
		Topic:       events.TopicBatchFinalized,
		AggregateID: "widget",
		Payload:     json.RawMessage(`{"batch_id":"batch-1"}`),
		OccurredAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	now := time.Unix(1700000000, 0)
	hook := &notify.Webhook{
		URL:    srv.URL,
		Secret: "secret",
		Client: srv.Client(),
		Caller: resilience.Caller{MaxAttempts: 1, Timeout: time.Second},
		Now:    func() time.Time { return now },
	}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))

	got := <-received
	require.Equal(t, "evt-1", got.req.Header.Get("X-Event-ID"))
	require.Equal(t, events.TopicBatchFinalized, got.req.Header.Get("X-Event-Topic"))
	require.Equal(t, strconv.FormatInt(now.Unix(), 10), got.req.Header.Get("X-Timestamp"))
	require.Equal(t, notify.ComputeSignature("secret", now.Unix(), "evt-1", got.body), got.req.Header.Get("X-Signature"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.body, &payload))
	require.Equal(t, "widget", payload["aggregateId"])
	require.Equal(t, map[string]any{"batch_id": "batch-1"}, payload["data"])
}

func TestTopicFilterSkipsOtherTopics(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{URL: srv.URL, Client: srv.Client(), Topics: []string{events.TopicScheduleRegistered}}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.Zero(t, calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		URL:    srv.URL,
		Client: srv.Client(),
		Caller: resilience.Caller{MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second},
	}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		URL:    srv.URL,
		Client: srv.Client(),
		Caller: resilience.Caller{MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second},
	}
	err := hook.Notify(context.Background(), sampleEvent())
	var statusErr *notify.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.Code)
	require.Equal(t, "nope", statusErr.Body)
	require.EqualValues(t, 1, calls.Load())
}

func TestReplayGuardSuppressesDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		URL:       srv.URL,
		Client:    srv.Client(),
		Replay:    notify.RedisReplayProtector{Client: rdb},
		ReplayTTL: time.Minute,
	}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.EqualValues(t, 1, calls.Load())
}

func TestFailedDeliveryReleasesReplayGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		URL:       srv.URL,
		Client:    srv.Client(),
		Replay:    notify.RedisReplayProtector{Client: rdb},
		ReplayTTL: time.Minute,
	}
	require.Error(t, hook.Notify(context.Background(), sampleEvent()))
	require.False(t, mr.Exists("wh:evt-1"))
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, notify.ValidateURL("https://hooks.example.com/groupbuy"))
	require.NoError(t, notify.ValidateURL("http://localhost:8080/hook"))
	require.Error(t, notify.ValidateURL("http://hooks.example.com/groupbuy"))
	require.Error(t, notify.ValidateURL("ftp://hooks.example.com"))
	require.Error(t, notify.ValidateURL("https://"))
}

func TestConcurrentDeliveriesWithoutClient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{URL: srv.URL, Caller: resilience.Caller{MaxAttempts: 1, Timeout: time.Second}}
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := sampleEvent()
			ev.ID = "evt-" + strconv.Itoa(i)
			errs <- hook.Notify(context.Background(), ev)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 8, calls.Load())
	require.Nil(t, hook.Client)
}
