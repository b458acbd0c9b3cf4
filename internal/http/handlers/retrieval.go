package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mingainspire/prplx/internal/http/response"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
)

type RetrievalHandler struct {
	log          *logger.Logger
	orchestrator *retrieval.Orchestrator
}

func NewRetrievalHandler(baseLog *logger.Logger, orchestrator *retrieval.Orchestrator) *RetrievalHandler {
	return &RetrievalHandler{
		log:          baseLog.With("handler", "RetrievalHandler"),
		orchestrator: orchestrator,
	}
}

type searchReq struct {
	retrieval.Request
	Graph retrieval.Options `json:"graph"`
}

// POST /api/retrieval/search
func (h *RetrievalHandler) Search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.TopK <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_top_k", errors.New("top_k must be positive"))
		return
	}
	resp, err := h.orchestrator.Retrieve(c.Request.Context(), req.Request, req.Graph, nil)
	if err != nil {
		h.log.Warn("retrieval search failed", "error", err)
		response.RespondError(c, statusOf(err), "search_failed", err)
		return
	}
	response.RespondOK(c, resp)
}
