package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

// ToolCall is a function-call request extracted from an upstream event.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Result is a dispatched tool call: the input/output item pair that
// must reach the upstream conversation, plus handoff metadata when the
// call hit a route tool.
type Result struct {
	Input  realtime.Item
	Output realtime.Item

	// Route is true when the call resolved to a route tool.
	Route bool
	// PassedValidation is false when a route call was missing required
	// arguments; the pair then carries the validation error.
	PassedValidation bool
	// RouteArgs holds the parsed arguments of a valid route call.
	RouteArgs map[string]any
	// TargetField names the argument carrying the handoff target.
	TargetField string
}

// Dispatch resolves and invokes a tool call. It never returns an error:
// the upstream conversation stalls unless it receives some function
// result, so every failure mode degrades into an error-bearing result
// pair instead.
func Dispatch(ctx context.Context, call ToolCall, toolMap map[string]Tool, notification string, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	tool, ok := toolMap[call.Name]
	if !ok {
		logger.Error("tool call for unresolved tool", "tool", call.Name, "call_id", call.CallID)
		return resultPair(call, fmt.Sprintf("Error: unknown tool %q", call.Name))
	}

	switch t := tool.(type) {
	case *UserTool:
		output, err := t.Handler(ctx, json.RawMessage(call.Arguments))
		if err != nil {
			logger.Error("user tool failed", "tool", t.Name, "call_id", call.CallID, "error", err)
			output = "Error: " + err.Error()
		}
		return resultPair(call, output)

	case *RouteTool:
		return dispatchRoute(ctx, call, t, notification, logger)

	default:
		logger.Error("tool has unknown kind", "tool", call.Name)
		return resultPair(call, fmt.Sprintf("Error: tool %q cannot be invoked", call.Name))
	}
}

func dispatchRoute(ctx context.Context, call ToolCall, rt *RouteTool, notification string, logger *slog.Logger) Result {
	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			logger.Error("route tool arguments are not valid json", "tool", rt.Name, "error", err)
			res := resultPair(call, "Error: arguments must be a JSON object")
			res.Route = true
			return res
		}
	}

	var missing []string
	for _, field := range rt.RequiredFields() {
		if _, ok := args[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		logger.Warn("route tool call missing required fields", "tool", rt.Name, "missing", missing)
		res := resultPair(call, fmt.Sprintf("Error: missing required fields: %s", strings.Join(missing, ", ")))
		res.Route = true
		return res
	}

	// Side effect only. A failed side effect is logged and the handoff
	// proceeds; the model never sees this function's return value.
	if rt.Handler != nil {
		if _, err := rt.Handler(ctx, routeCallFromArgs(rt, args)); err != nil {
			logger.Error("route tool side effect failed", "tool", rt.Name, "error", err)
		}
	}

	res := resultPair(call, notification)
	res.Route = true
	res.PassedValidation = true
	res.RouteArgs = args
	res.TargetField = rt.Params.TargetAgentField
	return res
}

func routeCallFromArgs(rt *RouteTool, args map[string]any) RouteCall {
	return RouteCall{
		CurrentAgent: stringArg(args, rt.Params.CurrentAgentField),
		TargetAgent:  stringArg(args, rt.Params.TargetAgentField),
		Summary:      stringArg(args, "summary"),
		Reason:       stringArg(args, "reason"),
		Args:         args,
	}
}

func stringArg(args map[string]any, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func resultPair(call ToolCall, output string) Result {
	return Result{
		Input:  realtime.FunctionCallItem(call.CallID, call.Name, call.Arguments),
		Output: realtime.FunctionOutputItem(call.CallID, output),
	}
}
