package app

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/tracklight/tracklight/internal/tracker/domain"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type helloPayload struct {
	Document domain.Document `json:"document"`
}

func (h *handler) wsHandler() http.Handler {
	wsServe := websocket.Handler(h.handleWSConn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.hub == nil {
			http.Error(w, "event feed is not configured", http.StatusServiceUnavailable)
			return
		}
		wsServe.ServeHTTP(w, r)
	})
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	// Subscribe before snapshotting so no event between the hello
	// frame and the feed is lost.
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	encoder := json.NewEncoder(conn)
	hello := wsFrame{
		Type:    "tracker.hello",
		Payload: h.mustJSON(helloPayload{Document: h.serializer.Document()}),
	}
	if err := encoder.Encode(hello); err != nil {
		return
	}

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	// The feed is one-way; inbound frames are drained only to detect
	// the peer closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		decoder := json.NewDecoder(conn)
		for {
			var frame wsFrame
			if err := decoder.Decode(&frame); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			frame := wsFrame{Type: "tracker.event", Payload: h.mustJSON(event)}
			if err := encoder.Encode(frame); err != nil {
				return
			}
		}
	}
}

func (h *handler) mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("tracker: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
