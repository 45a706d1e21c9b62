package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger based on format settings.
// format: "text" (default) or "json"
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	SetLevelFromString(level)
	SetOutput(format, os.Stderr)
}

// OpWithRun returns the operational logger tagged with a pipeline run id and
// the trace id of the run when tracing is enabled.
func OpWithRun(runID, traceID string) *slog.Logger {
	l := opLogger.Load()
	args := []any{"run_id", runID}
	if traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	return l.With(args...)
}
