package crew

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

type taskOutcome struct {
	taskID  string
	result  string
	err     error
	started time.Time
}

// runHierarchical routes every ready task through the manager for a
// delegation decision, then dispatches it to the worker pool. The
// coordinator goroutine is the single writer of graph state and results;
// workers only execute and report back.
func (c *Crew) runHierarchical(ctx context.Context) error {
	manager, _ := c.registry.Delegator(c.cfg.ManagerName)

	// Executor invocations run on their own context so that cancellation
	// of the run can grant in-flight tasks a grace period before cutting
	// them off.
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()

	// Buffered to graph size so workers never block reporting outcomes,
	// even after the coordinator has given up on the run.
	outcomes := make(chan taskOutcome, c.graph.Len())
	inflight := 0

	for {
		if ctx.Err() != nil {
			return c.awaitGrace(outcomes, inflight, execCancel)
		}

		for _, task := range c.graph.ReadyTasks() {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.awaitGrace(outcomes, inflight, execCancel)
			}

			executorName, derr := c.delegate(ctx, manager, task)
			if err := c.graph.MarkRunning(task.ID); err != nil {
				return err
			}
			if derr != nil {
				c.applyOutcome(ctx, task.ID, "", fmt.Errorf("delegation: %w", derr), time.Now())
				continue
			}
			c.publish(ctx, "task.started", task.ID, nil)

			t := task
			name := executorName
			input := c.dependencyContext(t)
			mem := c.loadMemory(ctx)
			started := time.Now()
			job := func(context.Context) {
				result, err := c.invokeExecutor(execCtx, t, name, input, mem)
				outcomes <- taskOutcome{taskID: t.ID, result: result, err: err, started: started}
			}
			if err := c.pool.Submit(ctx, job); err != nil {
				c.applyOutcome(ctx, t.ID, "", fmt.Errorf("dispatch: %w", err), started)
				continue
			}
			inflight++
		}

		if inflight == 0 {
			if len(c.graph.ReadyTasks()) == 0 {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return c.awaitGrace(outcomes, inflight, execCancel)
		case o := <-outcomes:
			inflight--
			c.applyOutcome(ctx, o.taskID, o.result, o.err, o.started)
		}
	}
}

// delegate asks the manager which executor should take the task. The call
// goes through the resilient invoker under the manager's own breaker key.
// An unknown pick falls back to the task's assigned executor when one
// exists.
func (c *Crew) delegate(ctx context.Context, manager ports.Delegator, task domain.Task) (string, error) {
	candidates := make([]string, 0, len(c.registry.Names()))
	for _, name := range c.registry.Names() {
		if name != manager.Name() {
			candidates = append(candidates, name)
		}
	}

	key := resilience.BreakerKey(manager.Name(), "delegate")
	choice, err := c.invoker.Invoke(ctx, key, c.cfg.Resilience, func(callCtx context.Context) (string, error) {
		return manager.Delegate(callCtx, task.Description, candidates)
	})
	if err != nil {
		if task.ExecutorName != "" {
			c.logger.Warn("delegation failed, using assigned executor",
				zap.String("task_id", task.ID),
				zap.String("executor", task.ExecutorName),
				zap.Error(err))
			return task.ExecutorName, nil
		}
		return "", err
	}
	if _, ok := c.registry.Get(choice); !ok {
		if task.ExecutorName != "" {
			c.logger.Warn("manager picked unknown executor, using assigned one",
				zap.String("task_id", task.ID),
				zap.String("choice", choice),
				zap.String("executor", task.ExecutorName))
			return task.ExecutorName, nil
		}
		return "", fmt.Errorf("manager picked unknown executor %q", choice)
	}
	return choice, nil
}

// awaitGrace lets in-flight tasks finish within the cancellation grace
// period, then interrupts the rest and reports the run as cancelled.
func (c *Crew) awaitGrace(outcomes <-chan taskOutcome, inflight int, execCancel context.CancelFunc) error {
	if inflight > 0 {
		c.logger.Info("run cancelled, draining in-flight tasks",
			zap.Int("inflight", inflight),
			zap.Duration("grace", c.cfg.CancelGrace))
	}
	grace := time.NewTimer(c.cfg.CancelGrace)
	defer grace.Stop()

	for inflight > 0 {
		select {
		case o := <-outcomes:
			inflight--
			c.applyOutcome(context.Background(), o.taskID, o.result, o.err, o.started)
		case <-grace.C:
			// Grace expired: interrupt stragglers and collect their
			// failures briefly so the report reflects them.
			execCancel()
			cutoff := time.NewTimer(2 * time.Second)
			defer cutoff.Stop()
			for inflight > 0 {
				select {
				case o := <-outcomes:
					inflight--
					c.applyOutcome(context.Background(), o.taskID, o.result, o.err, o.started)
				case <-cutoff.C:
					return c.cancelledError()
				}
			}
			return c.cancelledError()
		}
	}
	return c.cancelledError()
}
