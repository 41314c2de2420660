/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flyerpro/internal/placeholder"
)

// Message is pushed to preview clients.
type Message struct {
	Type      string                  `json:"type"`
	Kind      string                  `json:"kind,omitempty"`
	HTML      string                  `json:"html"`
	Variables placeholder.VariableSet `json:"variables"`
	Theme     string                  `json:"themeColor"`
}

const (
	msgRender = "render"

	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingEvery    = 45 * time.Second
	clientBuffer   = 16
)

// wsConn serializes writes to a gorilla connection, which panics on
// concurrent writers.
type wsConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// preview is read-only; same-origin checks would break the local UI on other ports
	CheckOrigin: func(*http.Request) bool { return true },
}

func upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

func (cw *wsConn) writeJSON(v any) error {
	if cw == nil || cw.c == nil {
		return errors.New("websocket: connection is closed")
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	_ = cw.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return cw.c.WriteJSON(v)
}

func (cw *wsConn) ping() error {
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	return cw.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (cw *wsConn) close() error {
	cw.writeMu.Lock()
	_ = cw.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	cw.writeMu.Unlock()
	return cw.c.Close()
}

// Hub fans messages out to registered preview clients. A client whose
// buffer is full misses the message; the next one carries the full state.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]chan Message
	nextID  int
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub { return &Hub{clients: make(map[int]chan Message)} }

// Register adds a client and returns its channel and id.
func (h *Hub) Register() (int, <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Message, clientBuffer)
	if h.closed {
		close(ch)
		return -1, ch
	}
	h.nextID++
	h.clients[h.nextID] = ch
	return h.nextID, ch
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Broadcast delivers msg to every client without blocking. It returns the
// number of clients that received it.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, ch := range h.clients {
		select {
		case ch <- msg:
			n++
		default:
		}
	}
	return n
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.closed = true
}
