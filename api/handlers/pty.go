// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardterm/relay/internal/session"
	"github.com/boardterm/relay/internal/token"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// PTYHandler handles HTTP requests for terminal session management.
type PTYHandler struct {
	sessions *session.Manager
	tokens   *token.Codec
	tokenTTL time.Duration
}

// NewPTYHandler creates a new PTYHandler.
func NewPTYHandler(sessions *session.Manager, tokens *token.Codec, tokenTTL time.Duration) *PTYHandler {
	return &PTYHandler{
		sessions: sessions,
		tokens:   tokens,
		tokenTTL: tokenTTL,
	}
}

// StartRequest is the body of POST /api/pty/start. Every field is optional.
type StartRequest struct {
	SID  string `json:"sid"`
	CWD  string `json:"cwd"`
	Name string `json:"name"`
}

// StartResponse carries the resolved session id and the URLs a client needs
// to attach, token included.
type StartResponse struct {
	SID   string `json:"sid"`
	URL   string `json:"url"`
	WSURL string `json:"wsUrl"`
}

// Start handles POST /api/pty/start - creates or reuses a session and issues
// a fresh token scoped to it.
func (h *PTYHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessions.StartOrAttach(req.SID, req.CWD, req.Name)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "SPAWN_FAILED", "Failed to start session: "+err.Error())
		return
	}

	tok := h.tokens.Issue(sess.ID, h.tokenTTL)
	query := url.Values{"sid": {sess.ID}, "token": {tok}}.Encode()

	httpScheme, wsScheme := "http", "ws"
	if c.Request.TLS != nil {
		httpScheme, wsScheme = "https", "wss"
	}
	host := c.Request.Host

	c.JSON(http.StatusOK, StartResponse{
		SID:   sess.ID,
		URL:   httpScheme + "://" + host + "/terminal?" + query,
		WSURL: wsScheme + "://" + host + "/ws?" + query,
	})
}

// Close handles DELETE /api/pty/close?sid= - idempotent session teardown.
func (h *PTYHandler) Close(c *gin.Context) {
	sid := c.Query("sid")
	if sid == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "sid query parameter is required")
		return
	}

	if err := h.sessions.Close(sid); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sid+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to close session: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RegisterRoutes registers the PTY routes on a Gin router group.
func (h *PTYHandler) RegisterRoutes(rg *gin.RouterGroup) {
	pty := rg.Group("/pty")
	{
		pty.POST("/start", h.Start)
		pty.DELETE("/close", h.Close)
	}
}
