package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
	"github.com/optiqlabs/optiq/internal/notify"
	"github.com/optiqlabs/optiq/internal/resource"
)

// RunContext is handed to stages during execution. It carries the run's
// resource handle and the event emitters; stages never touch the
// notifier or factory directly.
type RunContext struct {
	UserID   string
	ThreadID string
	RunID    string

	handle   *resource.Handle
	notifier *notify.Notifier

	stage     string
	toolCalls int
}

// Think emits an agent_thinking update. Delivery failures are logged and
// never surface to the stage.
func (rc *RunContext) Think(text string) {
	if err := rc.notifier.Emit(rc.ThreadID, rc.RunID, domain.EventTypeAgentThinking, domain.ThinkingPayload{
		Stage: rc.stage,
		Text:  text,
	}); err != nil {
		log.Printf("WARN: failed to emit agent_thinking for run %s: %v", rc.RunID, err)
	}
}

// CallTool performs one tool call through the run's resource handle,
// bracketing it with paired tool_executing / tool_completed events that
// carry the same tool identifier.
func (rc *RunContext) CallTool(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	if err := rc.notifier.Emit(rc.ThreadID, rc.RunID, domain.EventTypeToolExecuting, domain.ToolExecutingPayload{
		Tool:  tool,
		Stage: rc.stage,
		Args:  args,
	}); err != nil {
		log.Printf("WARN: failed to emit tool_executing for run %s: %v", rc.RunID, err)
	}

	start := time.Now()
	result, err := rc.handle.Exec(ctx, tool, args)
	rc.toolCalls++

	completed := domain.ToolCompletedPayload{
		Tool:       tool,
		Stage:      rc.stage,
		OK:         err == nil,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		completed.Error = err.Error()
	}
	if emitErr := rc.notifier.Emit(rc.ThreadID, rc.RunID, domain.EventTypeToolCompleted, completed); emitErr != nil {
		log.Printf("WARN: failed to emit tool_completed for run %s: %v", rc.RunID, emitErr)
	}

	return result, err
}

// ToolCalls returns the number of tool calls performed so far.
func (rc *RunContext) ToolCalls() int { return rc.toolCalls }
