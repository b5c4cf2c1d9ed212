//go:build !windows

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardterm/relay/internal/relay"
	"github.com/boardterm/relay/internal/session"
	"github.com/boardterm/relay/internal/token"
)

func newTestRouter(t *testing.T) (*gin.Engine, *session.Manager, *relay.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := session.NewManager(session.Config{
		AllowedRoot: t.TempDir(),
		IdleTimeout: time.Hour,
	})
	t.Cleanup(manager.Shutdown)

	store := relay.NewStore()
	codec := token.NewCodec("handlers-test-secret")

	r := gin.New()
	r.Use(CORSMiddleware([]string{"localhost", "boards.example.io"}))
	r.GET("/health", NewHealthHandler(manager).Health)

	api := r.Group("/api")
	NewPTYHandler(manager, codec, time.Minute).RegisterRoutes(api)
	NewContextHandler(store).RegisterRoutes(api)

	return r, manager, store
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartAndClose(t *testing.T) {
	r, manager, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/pty/start", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", w.Code, w.Body.String())
	}

	var resp StartResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad start response: %v", err)
	}
	if resp.SID == "" {
		t.Error("sid should not be empty")
	}
	if !strings.Contains(resp.WSURL, "sid=") || !strings.Contains(resp.WSURL, "token=") {
		t.Errorf("wsUrl should carry sid and token, got %s", resp.WSURL)
	}
	if !strings.HasPrefix(resp.WSURL, "ws://") {
		t.Errorf("wsUrl should use the ws scheme, got %s", resp.WSURL)
	}
	if manager.Count() != 1 {
		t.Errorf("expected 1 live session, got %d", manager.Count())
	}

	w = doRequest(r, http.MethodDelete, "/api/pty/close?sid="+resp.SID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("close returned %d: %s", w.Code, w.Body.String())
	}
	if manager.Count() != 0 {
		t.Errorf("expected 0 live sessions after close, got %d", manager.Count())
	}

	// Idempotent close: same not-found result both times.
	for i := 0; i < 2; i++ {
		w = doRequest(r, http.MethodDelete, "/api/pty/close?sid="+resp.SID, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("close of gone session returned %d, expected 404", w.Code)
		}
	}
}

func TestStartReusesSession(t *testing.T) {
	r, manager, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/pty/start", `{"sid":"board-7"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start returned %d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/api/pty/start", `{"sid":"board-7"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second start returned %d", w.Code)
	}

	var resp StartResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SID != "board-7" {
		t.Errorf("expected sid board-7, got %s", resp.SID)
	}
	if manager.Count() != 1 {
		t.Errorf("reuse should not spawn a second session, have %d", manager.Count())
	}
}

func TestStartWithEmptyBody(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/pty/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start with empty body returned %d: %s", w.Code, w.Body.String())
	}
}

func TestCloseRequiresSID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, http.MethodDelete, "/api/pty/close", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("close without sid returned %d, expected 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}

	var resp struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Uptime   int64  `json:"uptime"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestContextPushPull(t *testing.T) {
	r, _, _ := newTestRouter(t)

	t.Run("pull before any push returns defaults", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/api/context/e1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("pull returned %d", w.Code)
		}
		var rec struct {
			Docs      []relay.Doc     `json:"docs"`
			Viewport  *relay.Viewport `json:"viewport"`
			UpdatedAt *time.Time      `json:"updatedAt"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
			t.Fatalf("bad pull response: %v", err)
		}
		if rec.Docs == nil || len(rec.Docs) != 0 || rec.Viewport != nil || rec.UpdatedAt != nil {
			t.Errorf("expected empty default record, got %s", w.Body.String())
		}
	})

	t.Run("push then pull round-trips", func(t *testing.T) {
		body := `{"docs":[{"id":"d1","content":"link://a","type":"doc"}],"viewport":{"x":1,"y":2,"width":3,"height":4}}`
		w := doRequest(r, http.MethodPost, "/api/context/e1", body)
		if w.Code != http.StatusOK {
			t.Fatalf("push returned %d: %s", w.Code, w.Body.String())
		}
		var pushResp struct {
			OK    bool `json:"ok"`
			Count int  `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &pushResp)
		if !pushResp.OK || pushResp.Count != 1 {
			t.Errorf("unexpected push response: %s", w.Body.String())
		}

		w = doRequest(r, http.MethodGet, "/api/context/e1", "")
		var rec relay.Record
		if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
			t.Fatalf("bad pull response: %v", err)
		}
		if len(rec.Docs) != 1 || rec.Docs[0].ID != "d1" || rec.Viewport == nil || rec.UpdatedAt == nil {
			t.Errorf("unexpected record: %s", w.Body.String())
		}
	})

	t.Run("push rejects non-array docs", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/context/e1", `{"docs":"not-an-array"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-array docs, got %d", w.Code)
		}

		w = doRequest(r, http.MethodPost, "/api/context/e1", `{"docs":null}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for null docs, got %d", w.Code)
		}
	})

	t.Run("malformed viewport is discarded, not rejected", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/context/e2", `{"docs":[],"viewport":{"x":1,"y":2,"width":"wide","height":4}}`)
		if w.Code != http.StatusOK {
			t.Fatalf("push returned %d: %s", w.Code, w.Body.String())
		}

		w = doRequest(r, http.MethodGet, "/api/context/e2", "")
		var rec relay.Record
		json.Unmarshal(w.Body.Bytes(), &rec)
		if rec.Viewport != nil {
			t.Errorf("malformed viewport should be stored as null, got %+v", rec.Viewport)
		}
	})
}

func TestContextRequests(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/context/e1/request", "")
	if w.Code != http.StatusOK {
		t.Fatalf("request returned %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/api/context/requests", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list requests returned %d", w.Code)
	}

	var resp struct {
		EmbedIDs []string `json:"embedIds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad list response: %v", err)
	}
	if len(resp.EmbedIDs) != 1 || resp.EmbedIDs[0] != "e1" {
		t.Errorf("expected [e1], got %v", resp.EmbedIDs)
	}
}

func TestCORS(t *testing.T) {
	r, _, _ := newTestRouter(t)

	t.Run("allowed origin gets headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.boards.example.io")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.boards.example.io" {
			t.Errorf("expected origin echoed back, got %q", got)
		}
	})

	t.Run("disallowed origin gets none", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("disallowed origin must get no CORS headers, got %q", got)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/pty/start", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("preflight returned %d, expected 204", w.Code)
		}
	})
}
