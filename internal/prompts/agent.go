package prompts

import (
	"fmt"
	"strings"
	"time"
)

// FallbackReply is returned when the model produces nothing usable even
// after the forced final call.
const FallbackReply = "Sorry, I wasn't able to put together an answer this time. Please try again."

// ForceFinalAnswer is injected after the last allowed tool round.
const ForceFinalAnswer = "You have used all available tool rounds. Answer the user now using only what you already have. Do not write any {{tool:...}} directives."

// ToolResults wraps dispatch results into the synthetic user turn fed
// back to the model.
func ToolResults(results []string) string {
	var sb strings.Builder
	sb.WriteString("Tool results:\n\n")
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(r)
	}
	sb.WriteString("\n\nUse these results to continue.")
	return sb.String()
}

// ProactiveResults introduces results of tools run before the first
// model call.
func ProactiveResults(results []string) string {
	return "Context gathered automatically for this message:\n\n" + strings.Join(results, "\n\n")
}

// System concatenates the persona, the tool policy, and the rendered
// tool list.
func System(persona, toolPolicy, toolList string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(Or("persona", persona)))
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(Or("tool_policy", toolPolicy)))
	if toolList = strings.TrimSpace(toolList); toolList != "" {
		sb.WriteString("\n\nAvailable tools:\n")
		sb.WriteString(toolList)
	}
	sb.WriteString("\n")
	return sb.String()
}

// Heartbeat builds the synthetic user prompt for a heartbeat tick.
func Heartbeat(doc string, now time.Time) string {
	return fmt.Sprintf("%s\n\nCurrent time: %s",
		strings.TrimSpace(Or("heartbeat", doc)),
		now.Format("Monday, 2 January 2006 15:04 MST"))
}
