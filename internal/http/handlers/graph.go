package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mingainspire/prplx/internal/http/response"
	"github.com/mingainspire/prplx/internal/platform/graphapi"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

// GraphHandler passes knowledge-graph reads and curation writes through to
// the graph service.
type GraphHandler struct {
	log   *logger.Logger
	graph *graphapi.Client
}

func NewGraphHandler(baseLog *logger.Logger, graph *graphapi.Client) *GraphHandler {
	return &GraphHandler{
		log:   baseLog.With("handler", "GraphHandler"),
		graph: graph,
	}
}

// POST /api/graph/search
func (h *GraphHandler) Search(c *gin.Context) {
	var opts graphapi.SearchOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.graph.Search(c.Request.Context(), opts)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "graph_search_failed", err)
		return
	}
	response.RespondOK(c, result)
}

// POST /api/graph/feedback
func (h *GraphHandler) Feedback(c *gin.Context) {
	var opts graphapi.FeedbackOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.graph.Feedback(c.Request.Context(), opts); err != nil {
		response.RespondError(c, http.StatusBadGateway, "graph_feedback_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "ok"})
}

// GET /api/graph/entities/:id
func (h *GraphHandler) GetEntity(c *gin.Context) {
	id, ok := graphID(c)
	if !ok {
		return
	}
	entity, err := h.graph.GetEntity(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "get_entity_failed", err)
		return
	}
	response.RespondOK(c, entity)
}

// PUT /api/graph/entities/:id
func (h *GraphHandler) UpdateEntity(c *gin.Context) {
	id, ok := graphID(c)
	if !ok {
		return
	}
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	entity, err := h.graph.UpdateEntity(c.Request.Context(), id, data)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "update_entity_failed", err)
		return
	}
	response.RespondOK(c, entity)
}

// GET /api/graph/entities/:id/subgraph
func (h *GraphHandler) GetEntitySubgraph(c *gin.Context) {
	id, ok := graphID(c)
	if !ok {
		return
	}
	subgraph, err := h.graph.GetEntitySubgraph(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "entity_subgraph_failed", err)
		return
	}
	response.RespondOK(c, subgraph)
}

// GET /api/graph/relationships/:id
func (h *GraphHandler) GetRelationship(c *gin.Context) {
	id, ok := graphID(c)
	if !ok {
		return
	}
	relationship, err := h.graph.GetRelationship(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "get_relationship_failed", err)
		return
	}
	response.RespondOK(c, relationship)
}

// PUT /api/graph/relationships/:id
func (h *GraphHandler) UpdateRelationship(c *gin.Context) {
	id, ok := graphID(c)
	if !ok {
		return
	}
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	relationship, err := h.graph.UpdateRelationship(c.Request.Context(), id, data)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "update_relationship_failed", err)
		return
	}
	response.RespondOK(c, relationship)
}

func graphID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return 0, false
	}
	return id, true
}
