package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/gt"

	"github.com/t-bank-sirius/LTM/lexical"
	"github.com/t-bank-sirius/LTM/server"
)

func dial(t *testing.T) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(server.New(newManager(t, true), lexical.New(), quietLogger()).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

type wsReply struct {
	ID     string                 `json:"id"`
	Op     string                 `json:"op"`
	Status string                 `json:"status"`
	Result map[string]interface{} `json:"result"`
	Error  *server.ErrorResponse  `json:"error"`
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame any) wsReply {
	t.Helper()
	gt.NoError(t, conn.WriteJSON(frame))

	var reply wsReply
	gt.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebsocketOperations(t *testing.T) {
	conn := dial(t)

	reply := roundTrip(t, conn, map[string]any{
		"id": "1",
		"op": "store_memory",
		"payload": map[string]any{
			"user_id": "u1",
			"content": "Learned quicksort complexity O(n log n)",
			"context": "programming",
		},
	})
	gt.Equal(t, reply.ID, "1")
	gt.Equal(t, reply.Status, "ok")
	gt.Equal(t, reply.Result["status"], interface{}("success"))

	gt.NoError(t, conn.WriteJSON(map[string]any{
		"id": "2",
		"op": "search_memory",
		"payload": map[string]any{
			"user_id":   "u1",
			"query":     "sorting algorithm",
			"min_score": 0.1,
		},
	}))
	var search struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Result []struct {
			Content string `json:"content"`
		} `json:"result"`
	}
	gt.NoError(t, conn.ReadJSON(&search))
	gt.Equal(t, search.ID, "2")
	gt.Equal(t, search.Status, "ok")
	gt.A(t, search.Result).Length(1)
	gt.Equal(t, search.Result[0].Content, "Learned quicksort complexity O(n log n)")

	reply = roundTrip(t, conn, map[string]any{
		"id":      "3",
		"op":      "memory_stats",
		"payload": map[string]any{"user_id": "u1"},
	})
	gt.Equal(t, reply.Status, "ok")
	gt.Equal(t, reply.Result["total_memories"], interface{}(float64(1)))
}

func TestWebsocketErrors(t *testing.T) {
	conn := dial(t)

	reply := roundTrip(t, conn, map[string]any{"id": "a", "op": "drop_everything", "payload": map[string]any{}})
	gt.Equal(t, reply.ID, "a")
	gt.Equal(t, reply.Status, "error")
	gt.V(t, reply.Error).NotNil()
	gt.Equal(t, reply.Error.Code, server.CodeValidationError)

	reply = roundTrip(t, conn, map[string]any{
		"id":      "b",
		"op":      "add_face",
		"payload": map[string]any{"user_id": "u1"},
	})
	gt.Equal(t, reply.Status, "error")
	gt.Equal(t, reply.Error.Code, server.CodeValidationError)

	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var malformed wsReply
	gt.NoError(t, conn.ReadJSON(&malformed))
	gt.Equal(t, malformed.Status, "error")

	// The connection survives bad frames.
	reply = roundTrip(t, conn, map[string]any{
		"id":      "c",
		"op":      "find_face",
		"payload": map[string]any{"user_id": "u1", "query": "nobody"},
	})
	gt.Equal(t, reply.Status, "ok")
	gt.Equal(t, reply.Result["status"], interface{}("not_found"))
}
