package activity

import (
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/reconcile"
	"github.com/airtimehq/airtime/pkg/temporal"
)

// Context carries the dependencies sweep activities run against.
type Context struct {
	Logger         *zap.Logger
	Reconciler     *reconcile.Reconciler
	TemporalClient *temporal.Client
}
