package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/koshelf/koshelf/internal/tasks"
)

// TasksController exposes the background task queue to administrators:
// triggering enrichment runs and checking task status.
type TasksController struct {
	client *tasks.Client
}

func NewTasksController(client *tasks.Client) *TasksController {
	return &TasksController{client: client}
}

// TaskTypeInfo describes an available task type.
type TaskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ListTaskTypes handles GET /api/tasks/types
func (tc *TasksController) ListTaskTypes(c *gin.Context) {
	types := []TaskTypeInfo{
		{
			Type:        "enrich_book",
			Description: "Enrich a single book's metadata from OpenLibrary",
		},
		{
			Type:        "enrich_all_books",
			Description: "Enrich all books missing metadata",
		},
		{
			Type:        "cleanup_audit_events",
			Description: "Remove audit events past the retention period",
		},
	}

	c.JSON(http.StatusOK, gin.H{"task_types": types})
}

// GetTaskStatus handles GET /api/tasks/:id
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	if !tc.available(c) {
		return
	}

	taskID := c.Param("id")
	if taskID == "" {
		respondBadRequest(c, "task ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := tc.client.Status(ctx, taskID)
	if err != nil {
		respondInternalError(c, err, "task status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     taskID,
		"status": taskStatusToString(status),
	})
}

type runTaskBody struct {
	// BookID is required for the enrich_book task.
	BookID uint `json:"book_id,omitempty" form:"book_id"`
	// RetentionDays overrides the default for cleanup_audit_events.
	RetentionDays int `json:"retention_days,omitempty" form:"retention_days"`
}

// RunTask handles POST /api/tasks/:type/run
func (tc *TasksController) RunTask(c *gin.Context) {
	if !tc.available(c) {
		return
	}

	var body runTaskBody
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBind(&body)
	}

	var task backlite.Task
	taskType := c.Param("type")
	switch taskType {
	case "enrich_book":
		if body.BookID == 0 {
			respondBadRequest(c, "book_id is required for enrich_book task")
			return
		}
		task = tasks.EnrichBookTask{BookID: body.BookID}

	case "enrich_all_books":
		task = tasks.EnrichAllBooksTask{}

	case "cleanup_audit_events":
		task = tasks.CleanupAuditEventsTask{RetentionDays: body.RetentionDays}

	default:
		respondBadRequest(c, fmt.Sprintf("unknown task type: %s", taskType))
		return
	}

	ids, err := tc.client.Add(task).Save()
	if err != nil {
		respondInternalError(c, err, "enqueue task")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": ids[0],
		"type":    taskType,
		"message": "task enqueued",
	})
}

func (tc *TasksController) available(c *gin.Context) bool {
	if tc.client == nil {
		respondError(c, http.StatusNotImplemented, "task queue is disabled")
		return false
	}
	return true
}

func taskStatusToString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
