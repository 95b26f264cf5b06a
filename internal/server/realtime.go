package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/users"
)

// Application close codes, sent after the upgrade so clients can tell an
// auth failure from a missing room.
const (
	closeUnauthenticated = 4001
	closeUnknownRoom     = 4004
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origins are enforced by the CORS layer on the REST surface;
	// socket auth rides on the session token instead.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts one websocket to the hub's delivery contract. Writes are
// serialized: the hub fan-out and the read-loop replies share the socket.
type wsConn struct {
	mu     sync.Mutex
	socket *websocket.Conn
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.socket.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) sendJSON(message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

func (c *wsConn) closeWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.socket.Close()
}

type inboundEnvelope struct {
	Type    string       `json:"type"`
	SheetID string       `json:"sheet_id"`
	Patch   *grid.Patch  `json:"patch"`
	Patches []grid.Patch `json:"patches"`
}

func (h *httpHandler) handleWorkspaceSocket(c *gin.Context) {
	workspaceID := c.Param("workspaceID")

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{socket: socket}

	actor, ok := h.socketActor(c)
	if !ok {
		conn.closeWithCode(closeUnauthenticated, "unauthenticated")
		return
	}
	if _, _, _, err := h.gridService.GetWorkspace(c.Request.Context(), workspaceID); err != nil {
		conn.closeWithCode(closeUnknownRoom, "unknown workspace")
		return
	}

	h.hub.Join(workspaceID, conn)
	defer h.hub.Leave(workspaceID, conn)

	if err := conn.sendJSON(gin.H{"type": "connected", "room": workspaceID}); err != nil {
		return
	}

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			return
		}
		var envelope inboundEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			_ = conn.sendJSON(gin.H{"type": "error", "error": "malformed message"})
			continue
		}

		switch envelope.Type {
		case "ping":
			_ = conn.sendJSON(gin.H{"type": "pong"})
		case "patch":
			if envelope.Patch == nil {
				_ = conn.sendJSON(gin.H{"type": "error", "error": "patch is required"})
				continue
			}
			h.applySocketPatches(c, conn, workspaceID, envelope.SheetID, []grid.Patch{*envelope.Patch}, actor)
		case "batch_patch":
			if len(envelope.Patches) == 0 {
				_ = conn.sendJSON(gin.H{"type": "error", "error": "patches are required"})
				continue
			}
			h.applySocketPatches(c, conn, workspaceID, envelope.SheetID, envelope.Patches, actor)
		default:
			_ = conn.sendJSON(gin.H{"type": "error", "error": "unknown message type"})
		}
	}
}

// applySocketPatches runs the patch engine for a live connection. The
// sender is excluded from the resulting broadcast; failures go back to the
// sender alone, never to the room.
func (h *httpHandler) applySocketPatches(c *gin.Context, conn *wsConn, workspaceID, sheetID string, patches []grid.Patch, actor *users.User) {
	if sheetID == "" {
		_ = conn.sendJSON(gin.H{"type": "error", "error": "sheet_id is required"})
		return
	}
	applied, err := h.gridService.ApplyPatches(c.Request.Context(), workspaceID, sheetID, patches, actor, conn)
	if err != nil {
		_ = conn.sendJSON(gin.H{"type": "error", "error": socketErrorText(err)})
		return
	}
	_ = conn.sendJSON(gin.H{"type": "ack", "applied_count": len(applied)})
}

func socketErrorText(err error) string {
	var notFound *grid.NotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	var permission *grid.PermissionError
	if errors.As(err, &permission) {
		return permission.Error()
	}
	var validation *grid.ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	return "internal error"
}

func (h *httpHandler) handleDocumentSocket(c *gin.Context) {
	documentID := c.Param("documentID")

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{socket: socket}

	if _, ok := h.socketActor(c); !ok {
		conn.closeWithCode(closeUnauthenticated, "unauthenticated")
		return
	}
	if _, _, err := h.docsService.Get(c.Request.Context(), documentID); err != nil {
		conn.closeWithCode(closeUnknownRoom, "unknown document")
		return
	}

	room := docs.Room(documentID)
	h.hub.Join(room, conn)
	defer h.hub.Leave(room, conn)

	if err := conn.sendJSON(gin.H{"type": "connected", "room": room}); err != nil {
		return
	}

	// Document saves travel over REST; the socket is a receive channel
	// plus keepalive.
	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			return
		}
		var envelope inboundEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		if envelope.Type == "ping" {
			_ = conn.sendJSON(gin.H{"type": "pong"})
		}
	}
}

// socketActor resolves the session token passed in the query string.
// Sockets cannot set an Authorization header from the browser API, so the
// token rides on the URL.
func (h *httpHandler) socketActor(c *gin.Context) (*users.User, bool) {
	token := c.Query("token")
	if token == "" {
		return nil, false
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	user, err := h.usersService.GetByID(c.Request.Context(), subject)
	if err != nil {
		return nil, false
	}
	return user, true
}
