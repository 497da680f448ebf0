package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
)

// TypeArchiveBatch is the asynq task type for archiving a finalized batch.
const TypeArchiveBatch = "groupbuy:archive_batch"

// NewArchiveTask builds the task for a settlement. The batch ID doubles as the
// task ID so a batch is enqueued at most once.
func NewArchiveTask(st groupbuy.Settlement, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("archive: encode task: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(st.BatchID), asynq.MaxRetry(10)}, opts...)
	return asynq.NewTask(TypeArchiveBatch, payload, opts...), nil
}

// TaskEnqueuer is the subset of asynq.Client used by Enqueuer.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer implements groupbuy.Archiver by handing the settlement to a worker.
type Enqueuer struct {
	Client TaskEnqueuer
	Queue  string
}

// Archive enqueues the settlement for asynchronous persistence.
func (e Enqueuer) Archive(ctx context.Context, st groupbuy.Settlement) error {
	if e.Client == nil {
		return errors.New("archive: task client not configured")
	}
	var opts []asynq.Option
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	task, err := NewArchiveTask(st, opts...)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("archive: enqueue: %w", err)
	}
	return nil
}

// Saver persists settlements.
type Saver interface {
	SaveBatch(ctx context.Context, st groupbuy.Settlement) error
}

// TaskHandler processes archive tasks on the worker.
type TaskHandler struct {
	Store  Saver
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var st groupbuy.Settlement
	if err := json.Unmarshal(t.Payload(), &st); err != nil {
		return fmt.Errorf("archive: decode task: %v: %w", err, asynq.SkipRetry)
	}
	if st.BatchID == "" {
		return fmt.Errorf("archive: task without batch id: %w", asynq.SkipRetry)
	}
	if err := h.Store.SaveBatch(ctx, st); err != nil {
		h.Logger.Error().Err(err).Str("batch_id", st.BatchID).Str("product_id", st.ProductID).Msg("archive batch")
		return err
	}
	h.Logger.Info().
		Str("batch_id", st.BatchID).
		Str("product_id", st.ProductID).
		Int("contributions", len(st.Contributions)).
		Msg("batch archived")
	return nil
}
