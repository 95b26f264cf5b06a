package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event type discriminators carried in the envelope's "type" field.
const (
	EventBatchPatch         = "batch_patch"
	EventRowInsert          = "row_insert"
	EventRowDelete          = "row_delete"
	EventColInsert          = "col_insert"
	EventColDelete          = "col_delete"
	EventReload             = "reload"
	EventDocUpdated         = "doc_updated"
	EventSheetConfigUpdated = "sheet_config_updated"
	EventSheetAdded         = "sheet_added"
	EventSheetRenamed       = "sheet_renamed"
	EventSheetDeleted       = "sheet_deleted"
	EventWorkspaceStatus    = "workspace_status"
)

// Conn is the delivery endpoint for one subscriber. A failed Send marks
// the connection dead for all subsequent publishes to its rooms.
type Conn interface {
	Send(payload []byte) error
}

// Hub is an in-memory per-room broadcaster. Single process only; callers
// hold a reference, there is no package-level instance.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[Conn]struct{}
	logger *zap.Logger
}

// New constructs an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[Conn]struct{}),
		logger: logger,
	}
}

// Join registers a connection under a room. Idempotent per connection.
func (h *Hub) Join(room string, conn Conn) {
	if room == "" || conn == nil {
		return
	}
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[Conn]struct{})
		h.rooms[room] = members
	}
	members[conn] = struct{}{}
	total := len(members)
	h.mu.Unlock()
	h.logger.Debug("subscriber joined", zap.String("room", room), zap.Int("total", total))
}

// Leave deregisters a connection. The room entry is removed once empty.
func (h *Hub) Leave(room string, conn Conn) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("subscriber left", zap.String("room", room))
}

// Publish serializes message once and delivers it to every member of the
// room except exclude. A send failure drops only that subscriber; failed
// connections are removed after the delivery pass so membership is never
// mutated while being iterated.
func (h *Hub) Publish(room string, message any, exclude Conn) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.Lock()
	members := h.rooms[room]
	targets := make([]Conn, 0, len(members))
	for conn := range members {
		if conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	var dead []Conn
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		if members, ok := h.rooms[room]; ok {
			for _, conn := range dead {
				delete(members, conn)
			}
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		h.mu.Unlock()
		h.logger.Debug("dropped dead subscribers",
			zap.String("room", room), zap.Int("count", len(dead)))
	}
	return nil
}

// Size reports the current subscriber count of a room, for diagnostics.
func (h *Hub) Size(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
