package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/events"
	"github.com/homefox/homefox/pkg/llm"
	"github.com/homefox/homefox/pkg/task"
)

// Action names the conversation loop depends on. Both are opaque
// capabilities: listen yields {"text": ...}, speak consumes {"text": ...}.
const (
	ActionListen = "listen"
	ActionSpeak  = "speak"
)

// Conversation sub-task parameters.
const (
	subTaskPriority = 7
	subTaskTimeout  = 3000 * time.Second
	subTaskMaxSteps = 5
	subTaskPoll     = 1 * time.Second
)

// Execution modes for the conversation task, read from execution_data.
const (
	ModeLoop = "loop"
	ModeOnce = "once"
)

// standbyPoll is how often the executor re-checks the listening flag while
// the wake loop is paused.
const standbyPoll = 1 * time.Second

// farewellPhrases close a conversation window when spoken.
var farewellPhrases = []string{
	"再见", "拜拜", "byebye", "goodbye", "886", "结束", "停止", "退出", "你退下吧",
}

// TaskStore is the sub-task handle the conversation needs: submit and follow.
type TaskStore interface {
	Enqueue(t *task.Task) error
	GetByID(taskID string) *task.Task
}

// ChatMessage is one entry of the broadcastable message log.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationExecutor runs the wake-word-gated voice loop: wait for a wake
// word, hold a bounded conversation window, answer simple chat directly, and
// delegate task requests to MCP sub-tasks.
type ConversationExecutor struct {
	cfg      config.ConversationConfig
	llm      llm.Client
	actions  *ActionRegistry
	store    TaskStore
	notifier *events.Notifier
	logger   *slog.Logger

	mu                 sync.Mutex
	listening          bool
	totalConversations int
	messages           []ChatMessage
	history            []llm.Message
}

// NewConversationExecutor wires the executor.
func NewConversationExecutor(
	cfg config.ConversationConfig,
	client llm.Client,
	actions *ActionRegistry,
	store TaskStore,
	notifier *events.Notifier,
) *ConversationExecutor {
	return &ConversationExecutor{
		cfg:      cfg,
		llm:      client,
		actions:  actions,
		store:    store,
		notifier: notifier,
		logger:   slog.With("component", "conversation"),
	}
}

// Execute runs the wake loop. In loop mode the task never completes on its
// own: stopping the listener parks the loop in standby, and a later start
// resumes it on the same task. In once mode the task completes after a single
// conversation window. Returning ctx.Err() lets the scheduler map
// cancellation to the Cancelled status.
func (c *ConversationExecutor) Execute(ctx context.Context, t *task.Task) error {
	mode, _ := t.ExecutionData["mode"].(string)
	if mode == "" {
		mode = ModeLoop
	}
	c.StartListening()
	defer c.StopListening()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !c.IsListening() {
			// Standby: stay alive so a later /listening/start resumes the
			// wake loop on this task.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(standbyPoll):
			}
			continue
		}

		c.notifier.Emit(events.StateWaitingWake, map[string]any{
			"wake_words": c.cfg.WakeWords,
		})
		text := c.listen(ctx, c.cfg.WakeListenTimeout.Std())
		if text == "" {
			continue
		}
		if !c.matchesWakeWord(text) {
			continue
		}
		c.runConversation(ctx)

		if mode == ModeOnce {
			t.SetResult(map[string]any{
				"success":             true,
				"total_conversations": c.TotalConversations(),
			})
			_ = t.TransitionTo(task.StatusCompleted, "single conversation finished")
			return nil
		}
	}
}

func (c *ConversationExecutor) matchesWakeWord(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range c.cfg.WakeWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// runConversation holds one conversation window: bounded rounds, idle
// tracking, farewell detection.
func (c *ConversationExecutor) runConversation(ctx context.Context) {
	c.mu.Lock()
	c.totalConversations++
	total := c.totalConversations
	c.history = nil
	c.mu.Unlock()

	c.notifier.Emit(events.StateAwakened, map[string]any{
		"total_conversations": total,
	})
	c.speak(ctx, c.cfg.Welcome)
	c.appendMessage("assistant", c.cfg.Welcome)

	idle := 0
	for round := 1; round <= c.cfg.MaxRounds; round++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		text := c.listen(ctx, c.cfg.IdleTimeout.Std())
		if text == "" {
			idle++
			c.notifier.Emit(events.StateIdle, map[string]any{
				"idle_count": idle,
			})
			if idle >= c.cfg.MaxIdleRounds {
				c.closeConversation(ctx, "idle")
				return
			}
			round--
			continue
		}
		idle = 0

		if isFarewell(text) {
			c.appendMessage("user", text)
			c.closeConversation(ctx, "farewell")
			return
		}

		reply := c.handleInput(ctx, text)
		c.speak(ctx, reply)
		c.notifier.Emit(events.StateConversing, map[string]any{
			"user_input":   text,
			"bot_response": reply,
			"round":        round,
		})
	}
	c.closeConversation(ctx, "max_rounds")
}

func (c *ConversationExecutor) closeConversation(ctx context.Context, reason string) {
	c.speak(ctx, c.cfg.Farewell)
	c.appendMessage("assistant", c.cfg.Farewell)
	c.notifier.Emit(events.StateGoodbye, map[string]any{"reason": reason})
	c.notifier.Emit(events.StateCompleted, map[string]any{
		"total_conversations": c.TotalConversations(),
	})
}

func isFarewell(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range farewellPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// intentAnalysis is the JSON shape the intent prompt returns.
type intentAnalysis struct {
	IntentType string `json:"intent_type"`
	Response   string `json:"response"`
	TaskInfo   struct {
		ExecutorType string `json:"executor_type"`
		Parameters   struct {
			UserIntent string         `json:"user_intent"`
			Context    map[string]any `json:"context"`
		} `json:"parameters"`
	} `json:"task_info"`
}

const intentSystemPrompt = `You are the dialogue brain of a smart-home voice assistant.
Classify the user's utterance and reply with JSON only:
{"intent_type": "simple_chat" | "task_request",
 "response": "<spoken reply for simple_chat, or a short acknowledgement for task_request>",
 "task_info": {"executor_type": "mcp" | "action",
               "parameters": {"user_intent": "<what the user wants done>", "context": {}}}}
simple_chat covers greetings, small talk, and questions you can answer directly.
task_request covers anything that needs devices queried or controlled, or external tools.`

const fallbackReply = "抱歉，我没有听清，请再说一遍。"

// handleInput classifies one utterance and produces the spoken reply,
// delegating task requests to a sub-task.
func (c *ConversationExecutor) handleInput(ctx context.Context, text string) string {
	c.appendMessage("user", text)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: intentSystemPrompt}}
	messages = append(messages, c.recentHistory()...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := c.llm.Chat(ctx, llm.Request{
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Warn("Intent analysis failed", "error", err)
		return c.finishTurn(text, fallbackReply)
	}

	var analysis intentAnalysis
	if err := llm.ParseJSON(resp.Content, &analysis); err != nil {
		// The model answered in prose; treat it as the chat reply.
		return c.finishTurn(text, strings.TrimSpace(resp.Content))
	}

	if analysis.IntentType != "task_request" {
		reply := analysis.Response
		if reply == "" {
			reply = fallbackReply
		}
		return c.finishTurn(text, reply)
	}

	reply := c.runTaskRequest(ctx, text, analysis)
	return c.finishTurn(text, reply)
}

// finishTurn records the exchange in the LLM history and the message log.
func (c *ConversationExecutor) finishTurn(userText, reply string) string {
	c.mu.Lock()
	c.history = append(c.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if window := c.cfg.HistoryWindow * 2; window > 0 && len(c.history) > window {
		c.history = c.history[len(c.history)-window:]
	}
	c.mu.Unlock()

	c.appendMessage("assistant", reply)
	return reply
}

func (c *ConversationExecutor) recentHistory() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

// runTaskRequest submits the sub-task and waits for the chain to finish.
func (c *ConversationExecutor) runTaskRequest(ctx context.Context, text string, analysis intentAnalysis) string {
	userIntent := analysis.TaskInfo.Parameters.UserIntent
	if userIntent == "" {
		userIntent = text
	}

	if analysis.TaskInfo.ExecutorType == "action" {
		out, err := c.actions.Execute(ctx, userIntent, analysis.TaskInfo.Parameters.Context)
		if err != nil {
			return "操作失败：" + err.Error()
		}
		return c.synthesizeReply(ctx, text, out)
	}

	sub := task.New(task.TypeMCPCall)
	sub.Priority = subTaskPriority
	sub.Timeout = subTaskTimeout
	sub.ExecutionData["goal"] = userIntent
	sub.ExecutionData["user_intent"] = userIntent
	sub.ExecutionData["max_steps"] = subTaskMaxSteps
	for k, v := range analysis.TaskInfo.Parameters.Context {
		sub.Context[k] = v
	}

	if err := c.store.Enqueue(sub); err != nil {
		c.logger.Error("Sub-task enqueue failed", "error", err)
		return "任务提交失败，请稍后再试。"
	}

	final, ok := c.waitForChain(ctx, sub)
	if !ok {
		return "任务处理超时，请稍后再试。"
	}
	if final.CurrentStatus() == task.StatusFailed {
		snap := final.Snapshot()
		if msg := task.GetString(snap.Result, "error"); msg != "" {
			return "任务执行失败：" + msg
		}
		return "任务执行失败。"
	}
	return c.synthesizeReply(ctx, text, final.Snapshot().Result)
}

// waitForChain polls the sub-task every second, following successor handoffs,
// until the chain reaches a real terminal state or the wait budget runs out.
func (c *ConversationExecutor) waitForChain(ctx context.Context, sub *task.Task) (*task.Task, bool) {
	deadline := time.Now().Add(c.cfg.SubTaskWait.Std())
	current := sub

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(subTaskPoll):
		}

		if !current.IsTerminal() {
			continue
		}
		snap := current.Snapshot()
		if next := successorID(snap); next != "" {
			succ := c.store.GetByID(next)
			if succ == nil {
				// Cleanup only purges terminal tasks, so a missing successor
				// means the chain already finished. The parent's interim
				// result is the best answer left.
				return current, true
			}
			current = succ
			continue
		}
		return current, true
	}
	return nil, false
}

func successorID(snap *task.Task) string {
	for i := len(snap.History) - 1; i >= 0; i-- {
		if snap.History[i].Event == "handoff" {
			id, _ := snap.History[i].Details["successor_id"].(string)
			return id
		}
	}
	return ""
}

const replySystemPrompt = `You are a smart-home voice assistant.
Given the user's request and the tool result, answer in one or two short spoken sentences, in the user's language.
Do not mention tools, JSON, or internal details.`

// synthesizeReply turns a tool result into a short spoken answer.
func (c *ConversationExecutor) synthesizeReply(ctx context.Context, text string, result map[string]any) string {
	summary := formatResult(task.ExtractOutput(result))
	if summary == "" {
		summary = "操作已完成"
	}

	resp, err := c.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: replySystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Request: %s\nResult: %s", text, summary)},
		},
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		c.logger.Warn("Reply synthesis failed", "error", err)
		return summary
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return summary
	}
	return reply
}

// formatResult renders a tool output for the synthesis prompt. Lists keep
// only the first three entries, preferring title/snippet fields.
func formatResult(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var parts []string
		for i, item := range v {
			if i == 3 {
				break
			}
			if m, ok := item.(map[string]any); ok {
				title := task.GetString(m, "title")
				snippet := task.GetString(m, "snippet")
				switch {
				case title != "" && snippet != "":
					parts = append(parts, title+": "+snippet)
				case title != "":
					parts = append(parts, title)
				default:
					parts = append(parts, compactJSON(m))
				}
				continue
			}
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		return compactJSON(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// listen invokes the listen action with a timeout, returning recognized text
// or "" on silence or error.
func (c *ConversationExecutor) listen(ctx context.Context, timeout time.Duration) string {
	listenCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.actions.Execute(listenCtx, ActionListen, map[string]any{
		"timeout_seconds": int(timeout.Seconds()),
	})
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("Listen returned no input", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(task.GetString(out, "text"))
}

// speak invokes the speak action; failures are logged, never fatal.
func (c *ConversationExecutor) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := c.actions.Execute(ctx, ActionSpeak, map[string]any{"text": text}); err != nil {
		c.logger.Warn("Speak failed", "error", err)
	}
}

// StartListening enables the wake loop.
func (c *ConversationExecutor) StartListening() {
	c.mu.Lock()
	already := c.listening
	c.listening = true
	c.mu.Unlock()
	if !already {
		c.notifier.Emit(events.StateListeningStarted, nil)
	}
}

// StopListening disables the wake loop; the Execute loop observes the flag on
// its next iteration.
func (c *ConversationExecutor) StopListening() {
	c.mu.Lock()
	was := c.listening
	c.listening = false
	c.mu.Unlock()
	if was {
		c.notifier.Emit(events.StateListeningStopped, nil)
	}
}

// IsListening reports whether the wake loop is active.
func (c *ConversationExecutor) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// TotalConversations returns the number of completed wake-ups.
func (c *ConversationExecutor) TotalConversations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalConversations
}

// Messages returns a copy of the message log.
func (c *ConversationExecutor) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.messages...)
}

// ClearMessages empties the message log.
func (c *ConversationExecutor) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
	c.notifier.Emit(events.StateMessagesCleared, nil)
}

// appendMessage records a log entry and broadcasts it, trimming to the cap.
func (c *ConversationExecutor) appendMessage(role, content string) {
	msg := ChatMessage{Role: role, Content: content, Timestamp: time.Now()}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	if limit := c.cfg.MessageLogCap; limit > 0 && len(c.messages) > limit {
		c.messages = c.messages[len(c.messages)-limit:]
	}
	c.mu.Unlock()

	c.notifier.Emit(events.StateMessage, map[string]any{
		"role":    role,
		"content": content,
	})
}
