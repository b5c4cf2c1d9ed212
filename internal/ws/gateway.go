package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/boardterm/relay/internal/protocol"
	"github.com/boardterm/relay/internal/session"
	"github.com/boardterm/relay/internal/token"
)

// Inbound frame rate limit per client. Interactive typing sits well under
// this; a flooding client has its excess frames dropped.
const (
	inboundRate  = 200
	inboundBurst = 500
)

// Gateway authenticates WebSocket upgrade requests and bridges the resulting
// connections to terminal sessions.
type Gateway struct {
	sessions *session.Manager
	tokens   *token.Codec
	upgrader websocket.Upgrader
}

// NewGateway creates a Gateway. allowedOrigins are substrings matched against
// the Origin header; requests without an Origin header (non-browser clients)
// are accepted.
func NewGateway(sessions *session.Manager, tokens *token.Codec, allowedOrigins []string) *Gateway {
	return &Gateway{
		sessions: sessions,
		tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if strings.Contains(origin, allowed) {
						return true
					}
				}
				return false
			},
		},
	}
}

// HandleUpgrade authorizes and upgrades a connection, then attaches it to the
// named session. Both sid and token must be present as query parameters, and
// the token must verify against the sid; no unauthenticated socket ever
// reaches the session logic.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	tok := r.URL.Query().Get("token")

	if sid == "" || tok == "" {
		http.Error(w, "missing sid or token", http.StatusUnauthorized)
		return
	}
	if !g.tokens.Verify(sid, tok, time.Now()) {
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := newClient(conn)
	go client.writePump()

	if err := g.sessions.Attach(sid, client); err != nil {
		// Token verified but the session was reaped in the race
		// window. Tell the client instead of leaving the socket open.
		client.Send(protocol.Error("session not found"))
		client.Close()
		return
	}

	go g.readPump(client, sid)
}

// readPump pumps inbound frames from the connection to the session until the
// socket closes, then detaches the client. Malformed frames are logged and
// dropped; one bad frame must not sever an interactive session.
func (g *Gateway) readPump(client *Client, sid string) {
	defer func() {
		g.sessions.Detach(sid, client)
		client.Close()
		client.conn.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session %s: websocket error: %v", sid, err)
			}
			return
		}

		if !limiter.Allow() {
			log.Printf("session %s: inbound frame rate exceeded, dropping", sid)
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("session %s: malformed frame: %v", sid, err)
			continue
		}

		if done := g.handleMessage(client, sid, &msg); done {
			return
		}
	}
}

// handleMessage dispatches one inbound envelope. It returns true when the
// connection should close.
func (g *Gateway) handleMessage(client *Client, sid string, msg *protocol.Message) bool {
	switch msg.Type {
	case protocol.MessageTypeInput:
		if msg.Data == "" {
			return false
		}
		if err := g.sessions.Write(sid, []byte(msg.Data)); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				client.Send(protocol.Error("session not found"))
				return true
			}
			log.Printf("session %s: write failed: %v", sid, err)
		}
	case protocol.MessageTypeResize:
		// Zero dimensions also cover payloads that failed to decode as
		// integers; both are dropped without erroring the connection.
		if msg.Cols == 0 || msg.Rows == 0 {
			return false
		}
		if err := g.sessions.Resize(sid, msg.Cols, msg.Rows); err != nil {
			log.Printf("session %s: resize failed: %v", sid, err)
		}
	case protocol.MessageTypePing:
		client.Send(protocol.Pong())
	default:
		log.Printf("session %s: ignoring unknown message type %q", sid, msg.Type)
	}
	return false
}
