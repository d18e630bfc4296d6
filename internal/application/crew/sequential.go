package crew

import (
	"context"
	"time"
)

// runSequential drains the graph one task at a time in readiness order.
// Each task runs on its assigned executor; downstream readiness is
// recomputed after every completion.
func (c *Crew) runSequential(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return c.cancelledError()
		}

		ready := c.graph.ReadyTasks()
		if len(ready) == 0 {
			return nil
		}
		task := ready[0]

		if err := c.limiter.Wait(ctx); err != nil {
			return c.cancelledError()
		}
		if err := c.graph.MarkRunning(task.ID); err != nil {
			return err
		}
		c.publish(ctx, "task.started", task.ID, nil)

		started := time.Now()
		result, execErr := c.executeTask(ctx, task, task.ExecutorName)
		c.applyOutcome(ctx, task.ID, result, execErr, started)

		// A task interrupted by run cancellation is recorded as failed,
		// but the run itself reports cancellation.
		if execErr != nil && ctx.Err() != nil {
			return c.cancelledError()
		}
	}
}
