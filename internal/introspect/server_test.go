package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recera/fiberpool/pkg/fiberpool"
)

func TestServerStreamsSnapshots(t *testing.T) {
	sched := fiberpool.NewScheduler(2)
	defer sched.Close()

	srv := NewServer(sched, 20*time.Millisecond)
	defer srv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/introspect/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/introspect/")
		srv.HandleWebSocket(w, r, id)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/introspect/test-session"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var snap fiberpool.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Workers) != 2 {
		t.Fatalf("Workers = %d, want 2", len(snap.Workers))
	}
}

func TestHandleWebSocketRejectsEmptySessionID(t *testing.T) {
	sched := fiberpool.NewScheduler(1)
	defer sched.Close()

	srv := NewServer(sched, time.Second)
	defer srv.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/introspect/", nil)
	srv.HandleWebSocket(rec, req, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
