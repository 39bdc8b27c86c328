package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Monitor message types. Progress types mirror the run service events.
const (
	MsgResponseStarted MessageType = "response_started"
	MsgStepCompleted   MessageType = "step_completed"
	MsgSurveyFinished  MessageType = "survey_finished"
	MsgSurveyRestarted MessageType = "survey_restarted"
	MsgMonitorCount    MessageType = "monitor_count"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans survey progress out to monitor connections
type Hub struct {
	// Survey -> connections
	monitors map[string]map[*Connection]bool

	mu  sync.RWMutex
	log zerolog.Logger

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	closeOnce  sync.Once
	stopped    chan struct{}
}

// Connection represents a WebSocket connection
type Connection struct {
	SurveyID string
	Send     chan []byte
	Hub      *Hub
}

// BroadcastMessage is a message to broadcast
type BroadcastMessage struct {
	SurveyID string
	Message  *Message
}

// NewHub creates a new WebSocket hub
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		monitors:   make(map[string]map[*Connection]bool),
		log:        log,
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go h.run()
	return h
}

// NewConnection creates a monitor connection for surveyID
func (h *Hub) NewConnection(surveyID string) *Connection {
	return &Connection{
		SurveyID: surveyID,
		Send:     make(chan []byte, 256),
		Hub:      h,
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.monitors[conn.SurveyID] == nil {
				h.monitors[conn.SurveyID] = make(map[*Connection]bool)
			}
			h.monitors[conn.SurveyID][conn] = true
			count := len(h.monitors[conn.SurveyID])
			h.mu.Unlock()
			h.log.Debug().Str("survey", conn.SurveyID).Int("monitors", count).Msg("monitor connected")
			h.deliver(conn.SurveyID, monitorCount(count))

		case conn := <-h.unregister:
			h.mu.Lock()
			conns, ok := h.monitors[conn.SurveyID]
			if ok && conns[conn] {
				delete(conns, conn)
				close(conn.Send)
				if len(conns) == 0 {
					delete(h.monitors, conn.SurveyID)
				}
			}
			count := len(h.monitors[conn.SurveyID])
			h.mu.Unlock()
			if ok {
				h.log.Debug().Str("survey", conn.SurveyID).Int("monitors", count).Msg("monitor disconnected")
				h.deliver(conn.SurveyID, monitorCount(count))
			}

		case msg := <-h.broadcast:
			h.deliver(msg.SurveyID, msg.Message)

		case <-h.done:
			h.mu.Lock()
			for _, conns := range h.monitors {
				for conn := range conns {
					close(conn.Send)
				}
			}
			h.monitors = make(map[string]map[*Connection]bool)
			h.mu.Unlock()
			return
		}
	}
}

func monitorCount(n int) *Message {
	data, _ := json.Marshal(map[string]int{"monitors": n})
	return &Message{Type: MsgMonitorCount, Payload: data}
}

func (h *Hub) deliver(surveyID string, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode monitor message")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.monitors[surveyID] {
		select {
		case conn.Send <- data:
		default:
			// Drop message if buffer full
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BroadcastToSurvey sends a message to every monitor of a survey (implements service.Broadcaster)
func (h *Hub) BroadcastToSurvey(surveyID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("failed to encode payload")
		return
	}
	msg := &BroadcastMessage{
		SurveyID: surveyID,
		Message: &Message{
			Type:    MessageType(msgType),
			Payload: data,
		},
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Monitors returns the number of monitors connected to a survey
func (h *Hub) Monitors(surveyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.monitors[surveyID])
}

// Close stops the hub and closes every monitor's send channel
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}
