// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
)

// Message types pushed to websocket clients.
const (
	MessageTypePunch        = "punch"
	MessageTypePollResult   = "poll_result"
	MessageTypeDeviceStatus = "device_status"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is one websocket frame payload.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of connected websocket clients and broadcasts
// acquisition events to them. It implements Sink.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until the context is canceled, then closes every
// client and returns ctx.Err(). Designed to run as a supervised service.
//
// Lifecycle events are drained before broadcasts so client state is settled
// when a message fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// broadcastToClients fans one message out in client-id order. A client with
// a full send buffer is dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	logging.Info().
		Str("component", "notify-hub").
		Int("clients_closed", n).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
	}
}

// PunchRecorded implements Sink.
func (h *Hub) PunchRecorded(punch models.NormalizedPunch) {
	h.publish(Message{Type: MessageTypePunch, Data: punch})
}

// PollResultData is the payload of a poll_result message.
type PollResultData struct {
	DeviceID   string `json:"device_id"`
	Fetched    int    `json:"fetched"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// PollCompleted implements Sink.
func (h *Hub) PollCompleted(deviceID string, fetched, processed, failed int, took time.Duration) {
	h.publish(Message{Type: MessageTypePollResult, Data: PollResultData{
		DeviceID:   deviceID,
		Fetched:    fetched,
		Processed:  processed,
		Failed:     failed,
		DurationMs: took.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}})
}

// DeviceStatusData is the payload of a device_status message.
type DeviceStatusData struct {
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// DeviceStatus implements Sink.
func (h *Hub) DeviceStatus(deviceID, status string) {
	h.publish(Message{Type: MessageTypeDeviceStatus, Data: DeviceStatusData{
		DeviceID:  deviceID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}
