package temporal

import "go.uber.org/zap"

// LogAdapter satisfies Temporal's log.Logger on top of zap. The SDK logs
// keyvals, so the adapter goes through the sugared API.
type LogAdapter struct {
	s *zap.SugaredLogger
}

// NewLogAdapter wraps a zap logger for the Temporal SDK.
func NewLogAdapter(logger *zap.Logger) *LogAdapter {
	return &LogAdapter{s: logger.Sugar()}
}

func (a *LogAdapter) Debug(msg string, keyvals ...interface{}) { a.s.Debugw(msg, keyvals...) }
func (a *LogAdapter) Info(msg string, keyvals ...interface{})  { a.s.Infow(msg, keyvals...) }
func (a *LogAdapter) Warn(msg string, keyvals ...interface{})  { a.s.Warnw(msg, keyvals...) }
func (a *LogAdapter) Error(msg string, keyvals ...interface{}) { a.s.Errorw(msg, keyvals...) }
