package game

import (
	"context"

	"herovault.gg/internal/protocol"
)

// OpEnvelope carries one op into the loop. Reply may be nil for
// fire-and-forget submissions.
type OpEnvelope struct {
	Op    protocol.OpMsg
	Reply chan protocol.ResultMsg
}

// Run drains the inbox until the context is cancelled or Stop is called.
// It owns all game state; nothing else may touch the engines while it runs.
func (g *Game) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case env := <-g.inbox:
			res := g.Dispatch(env.Op)
			if env.Reply != nil {
				env.Reply <- res
			}
		}
	}
}

func (g *Game) Stop() { close(g.stop) }

// Do submits an op to the loop and waits for its result.
func (g *Game) Do(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error) {
	reply := make(chan protocol.ResultMsg, 1)
	select {
	case g.inbox <- OpEnvelope{Op: op, Reply: reply}:
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	case <-g.stop:
		return protocol.ResultMsg{}, context.Canceled
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	}
}
