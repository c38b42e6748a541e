// Package sse provides Server-Sent Events fan-out keyed by topic.
package sse

import (
	"strings"
	"sync"

	"storefront_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventInvalidated    EventType = "invalidated"
	EventOrderStatus    EventType = "order_status_changed"
	EventPaymentSettled EventType = "payment_settled"
	EventAlertFired     EventType = "alert_fired"
)

// Topic names.
const (
	TopicAdmin = "admin"
)

// OrderTopic is the topic of one order.
func OrderTopic(id string) string { return "order:" + id }

// PaymentTopic is the topic of one payment reference.
func PaymentTopic(ref string) string { return "payment:" + ref }

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	Topic   string      `json:"topic"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

const clientBuffer = 32

// client represents a connected SSE client
type client struct {
	id     uuid.UUID
	userID uuid.UUID
	topics []string
	events chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[string]map[uuid.UUID]*client // topic -> clients
	closed  bool
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		clients: make(map[string]map[uuid.UUID]*client),
		log:     log,
	}
}

// subscribe registers a client on its topics. It returns nil after Close.
func (s *Service) subscribe(userID uuid.UUID, topics []string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	c := &client{id: uuid.New(), userID: userID, topics: topics, events: make(chan Event, clientBuffer)}
	for _, topic := range topics {
		set, ok := s.clients[topic]
		if !ok {
			set = make(map[uuid.UUID]*client)
			s.clients[topic] = set
		}
		set[c.id] = c
	}
	return c
}

// unsubscribe removes a client and closes its channel once.
func (s *Service) unsubscribe(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := false
	for _, topic := range c.topics {
		set := s.clients[topic]
		if _, ok := set[c.id]; ok {
			registered = true
			delete(set, c.id)
		}
		if len(set) == 0 {
			delete(s.clients, topic)
		}
	}
	if registered {
		close(c.events)
	}
}

// Publish sends event to every client watching topic and returns the number
// of clients reached. Slow clients drop events rather than block.
func (s *Service) Publish(topic string, event Event) int {
	event.Topic = topic

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for _, c := range s.clients[topic] {
		select {
		case c.events <- event:
			sent++
		default:
			s.log.Warn("sse buffer full, dropping event", "topic", topic, "user_id", c.userID, "type", event.Type)
		}
	}
	return sent
}

// Subscribe registers a listener on topics outside of an HTTP stream. The
// channel closes after cancel or Close.
func (s *Service) Subscribe(userID uuid.UUID, topics []string) (<-chan Event, func()) {
	cl := s.subscribe(userID, topics)
	if cl == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return cl.events, func() { s.unsubscribe(cl) }
}

// Subscribers reports how many clients watch topic.
func (s *Service) Subscribers(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[topic])
}

// ParseTopics splits a comma separated topic list, dropping blanks and
// duplicates.
func ParseTopics(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Stream serves topics to the request in c until the client disconnects or
// the service closes.
func (s *Service) Stream(c *gin.Context, userID uuid.UUID, topics []string) {
	cl := s.subscribe(userID, topics)
	if cl == nil {
		return
	}
	defer s.unsubscribe(cl)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"userId": userID, "topics": topics})
	c.Writer.Flush()
	s.log.Debug("sse client connected", "user_id", userID, "topics", topics)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			s.log.Debug("sse client disconnected", "user_id", userID)
			return
		case event, ok := <-cl.events:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	done := make(map[uuid.UUID]bool)
	for _, set := range s.clients {
		for id, c := range set {
			if !done[id] {
				done[id] = true
				close(c.events)
			}
		}
	}
	s.clients = make(map[string]map[uuid.UUID]*client)
}
