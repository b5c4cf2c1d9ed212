package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardterm/relay/internal/relay"
)

// reservedListID is the :embedId value that dispatches to the pending-request
// list. gin cannot register a static segment next to a path parameter, so the
// reserved id is routed inside the handler instead of before the pattern.
const reservedListID = "requests"

// ContextHandler handles the context relay endpoints used by the two embed
// front-ends to exchange documents and viewport data.
type ContextHandler struct {
	store *relay.Store
}

// NewContextHandler creates a new ContextHandler.
func NewContextHandler(store *relay.Store) *ContextHandler {
	return &ContextHandler{store: store}
}

// pushRequest is the body of POST /api/context/:embedId. Docs and Viewport
// are kept raw so shape validation stays under the handler's control: a
// non-list docs is a 400, while a malformed viewport is merely discarded.
type pushRequest struct {
	Docs     json.RawMessage `json:"docs"`
	Viewport json.RawMessage `json:"viewport"`
}

// Push handles POST /api/context/:embedId - stores the context record.
func (h *ContextHandler) Push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	trimmed := bytes.TrimSpace(req.Docs)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "docs must be an array")
		return
	}

	var docs []relay.Doc
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "docs must be an array of documents: "+err.Error())
		return
	}

	count := h.store.Push(c.Param("embedId"), docs, relay.ParseViewport(req.Viewport))
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": count})
}

// Pull handles GET /api/context/:embedId - returns the stored record, or the
// empty default when nothing was ever pushed. The reserved id "requests"
// returns the pending refresh requests instead.
func (h *ContextHandler) Pull(c *gin.Context) {
	embedID := c.Param("embedId")
	if embedID == reservedListID {
		h.listRequests(c)
		return
	}

	c.JSON(http.StatusOK, h.store.Pull(embedID))
}

// Request handles POST /api/context/:embedId/request - marks the embed as
// wanting a refresh.
func (h *ContextHandler) Request(c *gin.Context) {
	h.store.RequestRefresh(c.Param("embedId"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// listRequests serves GET /api/context/requests.
func (h *ContextHandler) listRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"embedIds": h.store.ListPending(time.Now())})
}

// RegisterRoutes registers the context relay routes on a Gin router group.
func (h *ContextHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ctx := rg.Group("/context")
	{
		ctx.POST("/:embedId", h.Push)
		ctx.GET("/:embedId", h.Pull)
		ctx.POST("/:embedId/request", h.Request)
	}
}
