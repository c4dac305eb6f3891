// Package oracle runs the randomness worker. It polls the game for
// pending box-open requests and fulfills each with a fresh seed, filling
// the role an external randomness provider plays in production.
package oracle

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"time"

	"go.uber.org/zap"

	"herovault.gg/internal/protocol"
)

// Doer submits ops to the game loop.
type Doer interface {
	Do(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error)
}

type Worker struct {
	game      Doer
	principal string
	interval  time.Duration
	log       *zap.Logger
}

func New(game Doer, principal string, interval time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Worker{game: game, principal: principal, interval: interval, log: log}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	list := protocol.OpMsg{
		Type:            protocol.TypeOp,
		ProtocolVersion: protocol.Version,
		Op:              protocol.OpBoxPending,
		Caller:          w.principal,
	}
	res, err := w.game.Do(ctx, list)
	if err != nil || !res.OK {
		return
	}
	reqs, _ := res.Data["requests"].([]map[string]any)
	for _, req := range reqs {
		id, _ := req["request_id"].(string)
		if id == "" {
			continue
		}
		w.fulfill(ctx, id)
	}
}

func (w *Worker) fulfill(ctx context.Context, requestID string) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		w.log.Error("seed generation failed", zap.Error(err))
		return
	}
	op := protocol.OpMsg{
		Type:            protocol.TypeOp,
		ProtocolVersion: protocol.Version,
		Op:              protocol.OpBoxFulfill,
		Caller:          w.principal,
		RequestID:       requestID,
		Seed:            binary.BigEndian.Uint64(buf[:]),
	}
	res, err := w.game.Do(ctx, op)
	if err != nil {
		return
	}
	if !res.OK {
		// A racing fulfillment is fine; anything else is worth a look.
		if res.Code != protocol.ErrAlreadyFulfilled {
			w.log.Warn("fulfill rejected",
				zap.String("request_id", requestID),
				zap.String("code", res.Code),
				zap.String("message", res.Message))
		}
		return
	}
	w.log.Info("randomness fulfilled", zap.String("request_id", requestID))
}
