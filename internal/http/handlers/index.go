package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mingainspire/prplx/internal/http/response"
	"github.com/mingainspire/prplx/internal/indexing"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

type IndexHandler struct {
	log       *logger.Logger
	scheduler *indexing.Scheduler
}

func NewIndexHandler(baseLog *logger.Logger, scheduler *indexing.Scheduler) *IndexHandler {
	return &IndexHandler{
		log:       baseLog.With("handler", "IndexHandler"),
		scheduler: scheduler,
	}
}

type createTasksReq struct {
	DocumentIDs []string `json:"document_ids"`
	IndexID     string   `json:"index_id"`
}

// POST /api/index/tasks
func (h *IndexHandler) CreateTasks(c *gin.Context) {
	var req createTasksReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.DocumentIDs) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_documents", errors.New("document_ids required"))
		return
	}
	ids, err := h.scheduler.CreateTasks(c.Request.Context(), req.DocumentIDs, req.IndexID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_tasks_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"task_ids": ids})
}

type runTasksReq struct {
	MaxCount int `json:"max_count"`
}

// POST /api/index/tasks/run
func (h *IndexHandler) RunTasks(c *gin.Context) {
	var req runTasksReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.MaxCount <= 0 {
		req.MaxCount = 10
	}
	report, err := h.scheduler.RunTasks(c.Request.Context(), req.MaxCount)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "run_tasks_failed", err)
		return
	}
	response.RespondOK(c, report)
}
