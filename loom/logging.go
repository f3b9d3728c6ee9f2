package loom

import "go.uber.org/zap"

// NewDevelopmentLogger is a convenience constructor for callers that want
// human-readable session diagnostics (session creation, rejected metadata
// blocks, reconciliation of drifted types) without hand-rolling a zap
// config. Production
// callers should build their own *zap.Logger and pass it via WithLogger.
func NewDevelopmentLogger() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
