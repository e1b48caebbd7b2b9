package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Frame is a websocket request.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Reply is a websocket response. Exactly one of Result and Error is set.
type Reply struct {
	ID     string         `json:"id,omitempty"`
	Op     string         `json:"op"`
	Status string         `json:"status"`
	Result any            `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

var (
	// ErrUnknownOperation is returned for frames naming an operation that does not exist.
	ErrUnknownOperation = goerr.New("unknown operation")
	// ErrMalformedFrame is returned for frames that are not a JSON object.
	ErrMalformedFrame = goerr.New("malformed frame")
)

// handleWebsocket upgrades the connection and answers frames one at a time,
// in the order they arrive.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("websocket connected")

	conn.SetReadLimit(s.maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("websocket disconnected")
			return
		}

		var reply Reply
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			reply = s.errorReply(frame, goerr.Wrap(ErrMalformedFrame, err.Error()))
		} else {
			reply = s.dispatch(ctx, frame)
		}

		if err := s.writeReply(conn, reply); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, frame Frame) Reply {
	op, ok := s.ops[frame.Op]
	if !ok {
		return s.errorReply(frame, goerr.Wrap(ErrUnknownOperation, frame.Op))
	}
	if len(frame.Payload) == 0 {
		frame.Payload = json.RawMessage("{}")
	}

	result, err := op(ctx, frame.Payload)
	if err != nil {
		s.logger.Warn("websocket operation failed", "op", frame.Op, "error", err)
		return s.errorReply(frame, err)
	}
	return Reply{
		ID:     frame.ID,
		Op:     frame.Op,
		Status: "ok",
		Result: result,
	}
}

func (s *Server) errorReply(frame Frame, err error) Reply {
	code, message := CodeValidationError, err.Error()
	if !errors.Is(err, ErrUnknownOperation) && !errors.Is(err, ErrMalformedFrame) {
		_, code, message = classify(err)
	}
	return Reply{
		ID:     frame.ID,
		Op:     frame.Op,
		Status: "error",
		Error: &ErrorResponse{
			Status:  "error",
			Code:    code,
			Message: message,
		},
	}
}

func (s *Server) writeReply(conn *websocket.Conn, reply Reply) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(reply); err != nil {
		return goerr.Wrap(err, "failed to write websocket reply", goerr.V("op", reply.Op))
	}
	return nil
}
