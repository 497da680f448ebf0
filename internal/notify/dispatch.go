package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-groupbuy/internal/events"
)

// TypeWebhookDelivery is the asynq task type carrying one event to the webhook endpoint.
const TypeWebhookDelivery = "groupbuy:webhook_delivery"

// NewDeliveryTask builds the delivery task for an event. The event ID keys the
// task so an event is queued at most once.
func NewDeliveryTask(ev events.Event, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("webhook: encode task: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID("webhook:" + ev.ID), asynq.MaxRetry(6)}, opts...)
	return asynq.NewTask(TypeWebhookDelivery, payload, opts...), nil
}

// TaskEnqueuer is the subset of asynq.Client used by Dispatcher.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher implements events.Notifier by queueing deliveries for the worker,
// keeping HTTP calls to subscribers out of the request path.
type Dispatcher struct {
	Client TaskEnqueuer
	Queue  string
	// Topics limits which events are queued. Empty queues every topic.
	Topics []string
}

// Notify enqueues the event for delivery.
func (d Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	if d.Client == nil || !subscribed(d.Topics, ev.Topic) {
		return nil
	}
	if ev.ID == "" {
		return errors.New("webhook: event without id")
	}
	var opts []asynq.Option
	if d.Queue != "" {
		opts = append(opts, asynq.Queue(d.Queue))
	}
	task, err := NewDeliveryTask(ev, opts...)
	if err != nil {
		return err
	}
	if _, err := d.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("webhook: enqueue: %w", err)
	}
	countDelivery("queued")
	return nil
}

// DeliveryWorker sends queued events to the webhook endpoint.
type DeliveryWorker struct {
	Webhook *Webhook
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler. Client errors from the endpoint are not
// retried; transport failures and 5xx responses are left to asynq's backoff.
func (w DeliveryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("webhook: decode task: %v: %w", err, asynq.SkipRetry)
	}
	if ev.ID == "" {
		return fmt.Errorf("webhook: task without event id: %w", asynq.SkipRetry)
	}
	if err := w.Webhook.Notify(ctx, ev); err != nil {
		w.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook delivery failed")
		if !retryable(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
