package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homefox/homefox/pkg/agent"
	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/task"
)

func (s *Server) submitTask(c *gin.Context) {
	var env agent.TaskEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	t, err := s.agent.SubmitTask(env)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidEnvelope) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Task submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task submission failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":  t.ID,
		"status":   string(t.Status),
		"priority": t.Priority,
	})
}

func (s *Server) listTasks(c *gin.Context) {
	tasks := s.agent.ListTasks()
	out := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskSummary(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out, "count": len(out)})
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.agent.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) cancelTask(c *gin.Context) {
	err := s.agent.CancelTask(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	case errors.Is(err, agent.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, task.ErrTerminalStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "task is not in a cancellable state"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
	}
}

func (s *Server) statistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.agent.Statistics())
}

func (s *Server) listTools(c *gin.Context) {
	index := s.agent.ToolIndex()
	c.JSON(http.StatusOK, gin.H{
		"tools":     index.All(),
		"count":     index.Len(),
		"last_sync": index.LastSync(),
	})
}

func (s *Server) health(c *gin.Context) {
	statuses := s.agent.ServerStatuses()
	healthy := true
	for _, state := range statuses {
		if state == mcp.StateError {
			healthy = false
		}
	}

	status := http.StatusOK
	label := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		label = "degraded"
	}
	c.JSON(status, gin.H{
		"status":      label,
		"mcp_servers": statuses,
		"ws_clients":  s.hub.ClientCount(),
	})
}

func (s *Server) startConversation(c *gin.Context) {
	t, err := s.agent.StartConversationLoop()
	if err != nil {
		s.logger.Error("Conversation start failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation start failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID})
}

func (s *Server) startListening(c *gin.Context) {
	s.agent.Conversation().StartListening()
	c.JSON(http.StatusOK, gin.H{"listening": true})
}

func (s *Server) stopListening(c *gin.Context) {
	s.agent.Conversation().StopListening()
	c.JSON(http.StatusOK, gin.H{"listening": false})
}

func (s *Server) getMessages(c *gin.Context) {
	messages := s.agent.Conversation().Messages()
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (s *Server) clearMessages(c *gin.Context) {
	s.agent.Conversation().ClearMessages()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) conversationStatus(c *gin.Context) {
	conv := s.agent.Conversation()
	c.JSON(http.StatusOK, gin.H{
		"listening":           conv.IsListening(),
		"total_conversations": conv.TotalConversations(),
		"message_count":       len(conv.Messages()),
	})
}

// taskSummary renders the list view of a task snapshot.
func taskSummary(t *task.Task) gin.H {
	out := gin.H{
		"task_id":    t.ID,
		"task_type":  string(t.Type),
		"status":     string(t.Status),
		"priority":   t.Priority,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.Plan != nil {
		out["plan_steps"] = len(t.Plan.Steps)
		out["current_step"] = t.Plan.CurrentStepIndex
	}
	return out
}
