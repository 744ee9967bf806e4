package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends log.Helper with typed methods. Each method tags the line
// with a "type" field that the console encoder turns into an emoji.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{Helper: log.NewHelper(logger)}
}

func typed(logType, msg string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, log.DefaultMessageKey, msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// Request logs a completed HTTP request.
func (h *LogHelper) Request(method, path string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, path, status, durationMs)
	kvs = append(kvs, "method", method, "path", path, "status", status, "duration_ms", durationMs)
	h.Infow(typed("request", msg, kvs)...)
}

// Success logs a completed operation.
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(typed("success", msg, kvs)...)
}

// Audit logs audit log housekeeping (flushes, reports).
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(typed("audit", msg, kvs)...)
}

// Security logs integrity and persistence escalations. Always at error level
// so the line reaches stderr.
func (h *LogHelper) Security(msg string, kvs ...interface{}) {
	h.Errorw(typed("security", msg, kvs)...)
}

// Workflow logs phase transitions.
func (h *LogHelper) Workflow(msg string, kvs ...interface{}) {
	h.Infow(typed("workflow", msg, kvs)...)
}

// Action logs a single phase action outcome.
func (h *LogHelper) Action(msg string, kvs ...interface{}) {
	h.Debugw(typed("action", msg, kvs)...)
}

// Scheduler logs timers and cron jobs.
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed("scheduler", msg, kvs)...)
}

// Startup logs process lifecycle.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed("startup", msg, kvs)...)
}

// Database logs SQL store activity.
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed("database", msg, kvs)...)
}

// Redis logs Redis activity.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed("redis", msg, kvs)...)
}

// Broadcast logs real-time fan-out.
func (h *LogHelper) Broadcast(msg string, kvs ...interface{}) {
	h.Debugw(typed("broadcast", msg, kvs)...)
}

// Predict logs calls to the prediction service.
func (h *LogHelper) Predict(msg string, kvs ...interface{}) {
	h.Infow(typed("predict", msg, kvs)...)
}
