package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &events.MemoryStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	payload := map[string]any{"batch_id": "b-1"}
	event, err := bus.Emit(context.Background(), events.TopicBatchFinalized, "ibuprofen-400", payload)
	require.NoError(t, err)
	require.Len(t, store.Events(), 1)
	require.Equal(t, events.TopicBatchFinalized, store.Events()[0].Topic)
	require.JSONEq(t, `{"batch_id":"b-1"}`, string(store.Events()[0].Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "b-1", decoded["batch_id"])
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &events.MemoryStore{}}
	_, err := bus.Emit(context.Background(), " ", "agg", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicBatchFinalized, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicBatchFinalized, "agg", "not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicBatchFinalized, "agg", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("boom")}
	bus := events.Bus{Store: &events.MemoryStore{}, Notifiers: []events.Notifier{failing, nil}}
	ev, err := bus.Emit(context.Background(), events.TopicScheduleRegistered, "agg", nil)
	require.Error(t, err)
	require.NotEmpty(t, ev.ID)
	require.JSONEq(t, `{}`, string(ev.Payload))
}
