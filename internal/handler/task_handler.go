package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-enrollment-api/internal/service"
	"github.com/noah-isme/training-enrollment-api/pkg/response"
)

type taskDispatcher interface {
	Dispatch(ctx context.Context, name string) error
	Kinds() []service.TaskKind
}

// TaskHandler triggers maintenance tasks on demand.
type TaskHandler struct {
	tasks taskDispatcher
}

// NewTaskHandler constructs the handler.
func NewTaskHandler(tasks taskDispatcher) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List godoc
// @Summary List maintenance tasks
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.tasks.Kinds(), nil)
}

// Run godoc
// @Summary Run a maintenance task now
// @Tags Admin
// @Produce json
// @Param name path string true "Task name"
// @Success 200 {object} response.Envelope
// @Router /admin/tasks/{name} [post]
func (h *TaskHandler) Run(c *gin.Context) {
	name := c.Param("name")
	if err := h.tasks.Dispatch(c.Request.Context(), name); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"task": name, "status": "completed"}, nil)
}
