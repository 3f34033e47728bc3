package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/airtimehq/airtime/pkg/utils"
)

// Client wraps the Temporal client plus the queue and schedule identifiers
// shared between the sweeper worker and the query API.
type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string

	// Task queues
	SweepQueue string

	// Schedule IDs
	SweepScheduleID string
}

// NewClient connects to Temporal using TEMPORAL_HOSTPORT and
// TEMPORAL_NAMESPACE.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "airtime")
	loggerWrapper := NewLogAdapter(logger)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, loggerWrapper)
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		TClient:   tClient,
		TSClient:  tClient.ScheduleClient(),
		Namespace: ns,
		// hardcoded for now, could be configurable if we need it
		SweepQueue:      "sweep",
		SweepScheduleID: "sweep:all",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// EnsureNamespace registers the namespace if it doesn't exist yet.
func EnsureNamespace(ctx context.Context, logger *zap.Logger, retention time.Duration) error {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "airtime")

	nsClient, err := client.NewNamespaceClient(client.Options{HostPort: host})
	if err != nil {
		return fmt.Errorf("failed to create namespace client: %w", err)
	}
	defer nsClient.Close()

	_, err = nsClient.Describe(ctx, ns)
	if err == nil {
		logger.Debug("Namespace already exists", zap.String("namespace", ns))
		return nil
	}

	var notFound *serviceerror.NamespaceNotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe namespace: %w", err)
	}

	logger.Info("Creating namespace", zap.String("namespace", ns))
	err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        ns,
		WorkflowExecutionRetentionPeriod: durationpb.New(retention),
	})
	if err != nil {
		return fmt.Errorf("failed to register namespace: %w", err)
	}

	// Registration is eventually consistent, give the cluster a moment.
	time.Sleep(2 * time.Second)
	return nil
}

// GetScheduleSpec returns a schedule spec for the given interval.
func (c *Client) GetScheduleSpec(interval time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: interval}}}
}

// EnsureSweepSchedule creates the periodic sweep schedule if it does not
// already exist.
func (c *Client) EnsureSweepSchedule(ctx context.Context, logger *zap.Logger, workflowName string, interval time.Duration) error {
	id := c.SweepScheduleID
	h := c.TSClient.GetHandle(ctx, id)
	_, err := h.Describe(ctx)
	if err == nil {
		logger.Info("Sweep schedule already exists",
			zap.String("id", id),
			zap.String("namespace", c.Namespace))
		return nil
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		logger.Info("Creating sweep schedule",
			zap.String("id", id),
			zap.String("namespace", c.Namespace),
			zap.Duration("interval", interval))
		_, scheduleErr := c.TSClient.Create(
			ctx, client.ScheduleOptions{
				ID:   id,
				Spec: c.GetScheduleSpec(interval),
				Action: &client.ScheduleWorkflowAction{
					Workflow:                 workflowName,
					TaskQueue:                c.SweepQueue,
					WorkflowExecutionTimeout: 10 * time.Minute,
					WorkflowTaskTimeout:      2 * time.Minute,
				},
			},
		)
		return scheduleErr
	}
	return err
}

// Close closes the underlying Temporal client.
func (c *Client) Close() {
	if c.TClient != nil {
		c.TClient.Close()
	}
}
