package agent

import (
	"strings"
)

// IntentType is the coarse classification of a user request.
type IntentType string

// Intent types. Unknown intents are treated as action tasks: acting when a
// query would have sufficed is recoverable, the reverse is not.
const (
	IntentActionTask IntentType = "action_task"
	IntentQueryOnly  IntentType = "query_only"
)

var actionVerbs = []string{
	"打开", "关闭", "设置", "调节", "控制", "启动", "停止", "发送", "创建", "删除",
	"修改", "调高", "调低", "拉开", "拉上",
	"open", "close", "set", "adjust", "control", "start", "stop", "send",
	"create", "delete", "modify", "turn on", "turn off", "turn up", "turn down",
}

var queryVerbs = []string{
	"查", "看", "显示", "获取", "列出", "是什么", "是多少", "有没有", "告诉我",
	"look", "check", "display", "get", "list", "show", "what is", "how many",
	"are there", "tell me",
}

// ClassifyIntent classifies a user's intent text by verb keywords.
func ClassifyIntent(text string) IntentType {
	lower := strings.ToLower(text)
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			return IntentActionTask
		}
	}
	for _, verb := range queryVerbs {
		if strings.Contains(lower, verb) {
			return IntentQueryOnly
		}
	}
	return IntentActionTask
}

// ToolClass is the behavioral class of a tool, inferred from its name.
type ToolClass string

// Tool classes per the name-keyword heuristic.
const (
	ToolClassQuery  ToolClass = "query"
	ToolClassAction ToolClass = "action"
	ToolClassHybrid ToolClass = "hybrid"
)

var queryToolKeywords = []string{
	"get", "list", "query", "find", "search", "fetch", "describe", "show",
}

var actionToolKeywords = []string{
	"set", "create", "update", "delete", "turn", "start", "stop", "execute",
	"send", "run", "call", "invoke",
}

// ClassifyTool classifies a tool by name keywords. Query wins over action so
// tools like GetTurnSchedule stay queries.
func ClassifyTool(toolName string) ToolClass {
	lower := strings.ToLower(toolName)
	for _, kw := range queryToolKeywords {
		if strings.Contains(lower, kw) {
			return ToolClassQuery
		}
	}
	for _, kw := range actionToolKeywords {
		if strings.Contains(lower, kw) {
			return ToolClassAction
		}
	}
	return ToolClassHybrid
}

// CompletionVerdict is the outcome of legacy-mode completion evaluation.
type CompletionVerdict struct {
	Completed  bool
	Confidence float64
	Reason     string
}

// EvaluateCompletion decides, after one tool execution, whether a legacy
// goal-driven task is done.
func EvaluateCompletion(toolName string, intentType IntentType, result map[string]any) CompletionVerdict {
	class := ClassifyTool(toolName)

	switch class {
	case ToolClassQuery:
		if intentType == IntentQueryOnly {
			// A pure query task is done as soon as a query returns.
			return CompletionVerdict{Completed: true, Confidence: 0.95, Reason: "query_answered"}
		}
		// The query was preparation for an action.
		return CompletionVerdict{Completed: false, Confidence: 0.5, Reason: "query_preparation"}

	case ToolClassAction:
		state, hasState := resultState(result)
		if !hasState {
			return CompletionVerdict{Completed: true, Confidence: 0.7, Reason: "action_done_no_state"}
		}
		if stateMatchesTool(toolName, state) {
			return CompletionVerdict{Completed: true, Confidence: 0.95, Reason: "state_verified"}
		}
		return CompletionVerdict{Completed: true, Confidence: 0.85, Reason: "state_mismatch"}
	}

	return CompletionVerdict{Completed: false, Confidence: 0.5, Reason: "hybrid_undecided"}
}

func resultState(result map[string]any) (string, bool) {
	if result == nil {
		return "", false
	}
	if s, ok := result["state"].(string); ok {
		return s, true
	}
	if nested, ok := result["result"].(map[string]any); ok {
		return resultState(nested)
	}
	return "", false
}

// stateMatchesTool checks the expected post-state for on/off style tools.
func stateMatchesTool(toolName, state string) bool {
	lower := strings.ToLower(toolName)
	state = strings.ToLower(state)
	switch {
	case strings.Contains(lower, "turnon") || strings.Contains(lower, "turn_on"):
		return state == "on" || state == "open"
	case strings.Contains(lower, "turnoff") || strings.Contains(lower, "turn_off"):
		return state == "off" || state == "closed"
	default:
		// No expectation known; treat any reported state as matching.
		return true
	}
}
