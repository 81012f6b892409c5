package venue

import (
	"context"
	"log/slog"
)

// Worker consumes confirmation nudges and runs assignments off the join
// path. Nudges are fire-and-forget: a full queue drops the nudge and the
// cleanup scheduler re-feeds pending groups from the store, so no
// confirmation is ever lost, only delayed.
type Worker struct {
	assigner *Assigner
	jobs     chan string
}

func NewWorker(assigner *Assigner, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Worker{
		assigner: assigner,
		jobs:     make(chan string, buffer),
	}
}

// Nudge queues a group for assignment without blocking the caller.
func (w *Worker) Nudge(groupID string) {
	select {
	case w.jobs <- groupID:
	default:
		slog.Warn("venue queue full, deferring to scheduler", "group_id", groupID)
	}
}

// Run processes nudges until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case groupID := <-w.jobs:
			w.assigner.Assign(ctx, groupID)
		}
	}
}
