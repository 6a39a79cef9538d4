package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/teamdock/portal/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub maintains active WebSocket connections, grouped by user. Every
// signed-in user has one logical channel carrying the job events of
// everything that user has started.
type Hub struct {
	// Clients grouped by user ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to a user's subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	UserID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for user %s", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.UserID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.UserID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from user %s", client.UserID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.UserID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProgress sends a job progress frame to all of a user's tabs.
func (h *Hub) BroadcastProgress(userID string, job *model.Job) {
	pct := job.Percentage
	msg := model.TaskProgressFrame{
		Type:       model.FrameTypeTaskProgress,
		TaskID:     job.ID,
		Action:     job.Action,
		Step:       job.Step,
		TotalSteps: job.TotalSteps,
		StepName:   job.StepName,
		Percentage: &pct,
	}
	switch job.EntityKind {
	case model.EntityTeam:
		msg.TeamSlug = job.EntitySlug
	default:
		msg.WorkspaceSlug = job.EntitySlug
		msg.SandboxSlug = job.SubEntitySlug
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal progress frame: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{UserID: userID, Message: data}
}

// BroadcastCompleted sends a completion frame to all of a user's tabs.
func (h *Hub) BroadcastCompleted(userID, taskID string, result interface{}) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		log.Printf("Failed to marshal completion result: %v", err)
		return
	}
	msg := model.TaskCompletedFrame{
		Type:   model.FrameTypeTaskCompleted,
		TaskID: taskID,
		Result: resultBytes,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal completion frame: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{UserID: userID, Message: data}
}

// BroadcastFailed sends a failure frame to all of a user's tabs.
func (h *Hub) BroadcastFailed(userID, taskID, errMsg string) {
	msg := model.TaskFailedFrame{
		Type:   model.FrameTypeTaskFailed,
		TaskID: taskID,
		Error:  errMsg,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal failure frame: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{UserID: userID, Message: data}
}

// HandleConnection handles a WebSocket connection. The first frame the
// client sends must be the {"user_id": ...} handshake; the hub replies
// with a subscribed acknowledgement naming the logical channel and then
// starts streaming events. Events may race the acknowledgement.
func (h *Hub) HandleConnection(c *websocket.Conn) {
	c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, first, err := c.ReadMessage()
	if err != nil {
		return
	}
	var sub model.SubscribeFrame
	if err := json.Unmarshal(first, &sub); err != nil || sub.UserID == "" {
		log.Printf("WebSocket handshake rejected: %v", err)
		c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected user_id handshake"))
		return
	}
	c.SetReadDeadline(time.Time{})

	client := &Client{
		UserID: sub.UserID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	ack := model.SubscribedFrame{
		Type:    model.FrameTypeSubscribed,
		Channel: "user:" + sub.UserID,
	}
	ackData, _ := json.Marshal(ack)
	client.Send <- ackData

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop; the handshake is the only meaningful client frame.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
