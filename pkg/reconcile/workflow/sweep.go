package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/airtimehq/airtime/pkg/reconcile/activity"
)

// SweepWorkflowName is the registered name used by the sweep schedule.
const SweepWorkflowName = "SweepWorkflow"

// Context wires the workflow to its activity context.
type Context struct {
	ActivityContext *activity.Context
}

// SweepWorkflow executes one reconciliation pass as a single activity.
func (c *Context) SweepWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
		TaskQueue: c.ActivityContext.TemporalClient.SweepQueue,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, (*activity.Context).SweepAllCommunities).Get(ctx, nil)
}
