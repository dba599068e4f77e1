package ws_room

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rankparty/core/internal/model"
	usecase_watch "github.com/rankparty/core/internal/usecase/watch"
)

const (
	EventRoomUpdate    = "ROOM_UPDATE"
	EventAllSubmitted  = "ALL_SUBMITTED"
	EventRoomRestarted = "ROOM_RESTARTED"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	RoomCode model.RoomCode
}

// RoomStream is the repository-side snapshot feed one room watch runs on.
type RoomStream interface {
	Watch(code model.RoomCode, fn func(model.Room)) (func(), error)
}

// Hub keeps the set of connected clients per room and one store watch per
// room: it starts with the first client and is released with the last, so
// an idle server holds no subscriptions.
type Hub struct {
	mu sync.RWMutex

	rooms  map[model.RoomCode]*roomState
	stream RoomStream
	logger *slog.Logger
}

type roomState struct {
	clients map[*Client]bool
	watcher *usecase_watch.Watcher
}

type HubOption func(*Hub)

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func New(stream RoomStream, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:  make(map[model.RoomCode]*roomState),
		stream: stream,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) RegisterClient(client *Client) error {
	h.mu.Lock()
	state, ok := h.rooms[client.RoomCode]
	if !ok {
		state = &roomState{clients: make(map[*Client]bool)}
		h.rooms[client.RoomCode] = state
	}
	state.clients[client] = true
	needsWatch := state.watcher == nil
	if needsWatch {
		state.watcher = h.buildWatcher(client.RoomCode)
	}
	watcher := state.watcher
	h.mu.Unlock()

	if needsWatch {
		release, err := h.stream.Watch(client.RoomCode, watcher.Observe)
		if err != nil {
			watcher.Close()
			h.mu.Lock()
			delete(state.clients, client)
			state.watcher = nil
			if len(state.clients) == 0 {
				delete(h.rooms, client.RoomCode)
			}
			h.mu.Unlock()
			return err
		}
		watcher.Bind(release)
	}

	h.logger.Info("client registered", "room_code", client.RoomCode)
	return nil
}

func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	var watcher *usecase_watch.Watcher
	if state, ok := h.rooms[client.RoomCode]; ok {
		if state.clients[client] {
			delete(state.clients, client)
			close(client.Send)
		}
		if len(state.clients) == 0 {
			watcher = state.watcher
			delete(h.rooms, client.RoomCode)
		}
	}
	h.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	h.logger.Info("client unregistered", "room_code", client.RoomCode)
}

func (h *Hub) buildWatcher(code model.RoomCode) *usecase_watch.Watcher {
	return usecase_watch.New(
		usecase_watch.OnSnapshot(func(room model.Room) {
			h.BroadcastToRoom(code, Event{Type: EventRoomUpdate, Payload: room})
		}),
		usecase_watch.OnAllSubmitted(func(room model.Room) {
			h.BroadcastToRoom(code, Event{Type: EventAllSubmitted, Payload: map[string]any{
				"room_code":       code,
				"submitted_count": room.SubmittedCount(),
			}})
		}),
		usecase_watch.OnRestart(func(room model.Room) {
			h.BroadcastToRoom(code, Event{Type: EventRoomRestarted, Payload: map[string]any{
				"room_code":    code,
				"restarted_at": room.RestartedAt,
			}})
		}),
		usecase_watch.WithLogger(h.logger),
	)
}

func (h *Hub) BroadcastToRoom(code model.RoomCode, event Event) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.rooms[code]
	if !ok {
		return
	}
	for client := range state.clients {
		select {
		case client.Send <- messageBytes:
		default:
			close(client.Send)
			delete(state.clients, client)
		}
	}
}

func (h *Hub) StartClientReading(client *Client) {
	defer func() {
		h.RemoveClient(client)
		client.Conn.Close()
	}()

	for {
		_, _, err := client.Conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (h *Hub) StartClientWriting(client *Client) {
	defer client.Conn.Close()

	for message := range client.Send {
		err := client.Conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			break
		}
	}
}
