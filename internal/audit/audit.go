// Package audit provides structured logging for execution audit.
package audit

import "go.uber.org/zap"

// Log writes an audit event under the "audit" logger name.
// Events are emitted at debug level; fields describe the task or build.
func Log(logger *zap.Logger, event string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	logger.Named("audit").Debug(event, fields...)
}
