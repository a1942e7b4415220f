package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/internal/transport/middleware"
	"github.com/ds124wfegd/library-reservations/pkg/queue"
)

// QueueInspector is the part of the task queue exposed to librarians.
type QueueInspector interface {
	Stats(ctx context.Context) (*queue.QueueStats, error)
	DLQ() queue.DLQHandler
}

type QueueHandler struct {
	queue QueueInspector
}

// NewQueueHandler accepts a nil inspector when redis is disabled.
func NewQueueHandler(q QueueInspector) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) Stats(c *gin.Context) {
	if !h.available(c) {
		return
	}

	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, entity.NewResult(entity.CodeReadSuccess, locale.Msg(middleware.Lang(c), entity.CodeReadSuccess), stats))
}

func (h *QueueHandler) FailedTasks(c *gin.Context) {
	if !h.available(c) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	ctx := c.Request.Context()
	tasks, err := h.queue.DLQ().GetFailedTasks(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.queue.DLQ().GetDLQStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, entity.NewResult(entity.CodeReadSuccess, locale.Msg(middleware.Lang(c), entity.CodeReadSuccess), gin.H{
		"tasks": tasks,
		"stats": stats,
	}))
}

func (h *QueueHandler) Requeue(c *gin.Context) {
	if !h.available(c) {
		return
	}

	lang := middleware.Lang(c)
	taskID := c.Param("task_id")
	if err := h.queue.DLQ().RequeueFailedTask(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			respondError(c, entity.NewDomainError(entity.KindNotFound, entity.CodeNotFound, locale.Msg(lang, entity.CodeNotFound, locale.Msg(lang, locale.NounTask))))
			return
		}
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, entity.NewResult(entity.CodeUpdateSuccess, locale.Msg(lang, entity.CodeUpdateSuccess), gin.H{"task_id": taskID}))
}

func (h *QueueHandler) available(c *gin.Context) bool {
	if h.queue == nil || h.queue.DLQ() == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "task queue is disabled"})
		return false
	}
	return true
}
