package action

import (
	"context"
	"log/slog"

	"github.com/clinicore/actiongate/internal/domain/tool"
)

// rollback compensates the successful steps before failedIdx, newest first.
// Steps without a rollback procedure stay committed and are logged.
// Compensation bypasses the kill switch: a stop must never prevent undoing.
func (e *Executor) rollback(ctx context.Context, logger *slog.Logger, plan *ActionPlan, res *ExecutionResult, failedIdx int) {
	for i := failedIdx - 1; i >= 0; i-- {
		sr := &res.StepResults[i]
		if !sr.Success {
			continue
		}
		proc := plan.Steps[i].RollbackProcedure
		if proc == nil {
			logger.Warn("step left committed, no rollback procedure",
				"step", sr.StepNumber, "tool", sr.ToolName)
			continue
		}

		out, err := e.tools.ExecuteTool(ctx, proc.ToolName, proc.Parameters, tool.ModeExecute, plan.ToolSchemaVersions[proc.ToolName])
		switch {
		case err != nil:
			sr.RollbackError = err.Error()
		case !out.Success:
			sr.RollbackError = out.Error
		default:
			sr.RollbackExecuted = true
			sr.Status = StepRolledBack
		}

		if sr.RollbackError != "" {
			logger.Error("rollback failed",
				"step", sr.StepNumber, "tool", sr.ToolName,
				"rollback_tool", proc.ToolName, "error", sr.RollbackError)
			continue
		}
		logger.Info("step rolled back", "step", sr.StepNumber, "tool", sr.ToolName, "rollback_tool", proc.ToolName)
	}
}
