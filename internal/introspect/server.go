// Package introspect streams live Scheduler.Snapshot() values to
// connected clients over WebSocket, for the serve subcommand.
package introspect

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recera/fiberpool/pkg/fiberpool"
)

// Server upgrades HTTP connections to WebSocket sessions and pushes a
// snapshot of the scheduler's state to every connected client on a
// fixed interval.
type Server struct {
	upgrader websocket.Upgrader
	sched    *fiberpool.Scheduler
	interval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer returns a Server that polls sched.Snapshot() every
// interval and fans it out to all connected sessions.
func NewServer(sched *fiberpool.Scheduler, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sched:    sched,
		interval: interval,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go s.broadcastLoop()
	return s
}

// Close stops the broadcast loop and every live session.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, sess := range s.sessions {
			sess.close()
			delete(s.sessions, id)
		}
	})
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			snap := s.sched.Snapshot()
			data, err := json.Marshal(snap)
			if err != nil {
				log.Printf("[introspect] failed to marshal snapshot: %v", err)
				continue
			}
			s.mu.RLock()
			for _, sess := range s.sessions {
				sess.send(data)
			}
			s.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the request and registers a new Session
// under the client-supplied id path segment. An empty id is rejected
// with 400 Bad Request.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[introspect] upgrade failed: %v", err)
		return
	}

	sess := newSession(sessionID, conn)

	s.mu.Lock()
	if old, exists := s.sessions[sessionID]; exists {
		old.close()
	}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	go func() {
		sess.run()
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()
}

// Session is one live WebSocket client receiving scheduler snapshots.
type Session struct {
	id   string
	conn *websocket.Conn

	sendChan chan []byte

	closeOnce sync.Once
	closeChan chan struct{}
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		sendChan:  make(chan []byte, 32),
		closeChan: make(chan struct{}),
	}
}

// send enqueues a snapshot for delivery, dropping it if the session's
// buffer is full rather than blocking the broadcast loop on one slow
// client.
func (sess *Session) send(data []byte) {
	select {
	case sess.sendChan <- data:
	default:
		log.Printf("[introspect session %s] send buffer full, dropping snapshot", sess.id)
	}
}

func (sess *Session) close() {
	sess.closeOnce.Do(func() {
		close(sess.closeChan)
		sess.conn.Close()
	})
}

// run drives both the write pump and the read loop (which exists only
// to notice the client going away); it returns once the connection is
// closed.
func (sess *Session) run() {
	defer sess.close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writePump()
	}()

	sess.conn.SetReadDeadline(time.Now().Add(300 * time.Second))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(300 * time.Second))
		return nil
	})

	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			break
		}
	}
	<-writerDone
}

func (sess *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sess.sendChan:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.closeChan:
			return
		}
	}
}
