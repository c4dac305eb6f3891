// Package ws exposes the game loop over a websocket: one OP frame in, one
// RESULT frame out, in order, per connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"herovault.gg/internal/protocol"
)

// Doer submits ops to the game loop.
type Doer interface {
	Do(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error)
}

type Server struct {
	game Doer
	log  *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(game Doer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		game: game,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan protocol.ResultMsg, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case res, ok := <-out:
					if !ok {
						return
					}
					b, err := json.Marshal(res)
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			out <- s.handle(ctx, msg)
		}
	}
}

func (s *Server) handle(ctx context.Context, raw []byte) protocol.ResultMsg {
	ref := frameRef(raw)
	if err := protocol.ValidateOpFrame(raw); err != nil {
		return protocol.ErrorResult(ref, protocol.Errf(protocol.ErrProtoBadRequest, "%s", err.Error()))
	}
	var op protocol.OpMsg
	if err := json.Unmarshal(raw, &op); err != nil {
		return protocol.ErrorResult(ref, protocol.Errf(protocol.ErrProtoBadRequest, "malformed frame"))
	}
	res, err := s.game.Do(ctx, op)
	if err != nil {
		return protocol.ErrorResult(op.ID, protocol.Errf(protocol.ErrProtoBadRequest, "game unavailable"))
	}
	return res
}

// frameRef pulls the request id out of a frame that may not validate, so
// error replies still correlate.
func frameRef(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ID
}
