package oracle

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"herovault.gg/internal/core/game"
	"herovault.gg/internal/core/tuning"
	"herovault.gg/internal/protocol"
)

func op(name, caller string) protocol.OpMsg {
	return protocol.OpMsg{
		Type:            protocol.TypeOp,
		ProtocolVersion: protocol.Version,
		Op:              name,
		Caller:          caller,
	}
}

func mustDo(t *testing.T, g *game.Game, ctx context.Context, msg protocol.OpMsg) protocol.ResultMsg {
	t.Helper()
	res, err := g.Do(ctx, msg)
	if err != nil {
		t.Fatalf("%s: %v", msg.Op, err)
	}
	if !res.OK {
		t.Fatalf("%s: %s %s", msg.Op, res.Code, res.Message)
	}
	return res
}

func TestWorkerFulfillsPendingRequests(t *testing.T) {
	cfg := tuning.Tuning{
		ProtocolVersion: protocol.Version,
		Admin:           "deployer",
		Treasury:        "treasury",
		WindowSeconds:   3600,
		Issuance:        map[string]string{"addr2": "1000"},
		Oracle:          tuning.Oracle{Principal: "oracle"},
	}
	g, err := game.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new game: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = g.Run(ctx) }()

	set := op(protocol.OpBoxSetInfo, "deployer")
	set.Price = "10"
	set.PayAsset = game.FunAsset
	set.ReceivingAddr = "receiving"
	set.Weights = []uint64{60, 25, 10, 5}
	mustDo(t, g, ctx, set)

	supply := op(protocol.OpBoxAddMaxSupply, "deployer")
	supply.Amount = 10
	mustDo(t, g, ctx, supply)

	approve := op(protocol.OpTokenApprove, "addr2")
	approve.Asset = game.FunAsset
	approve.To = game.BoxEnginePrincipal
	approve.Value = "1000"
	mustDo(t, g, ctx, approve)

	buy := op(protocol.OpBoxBuy, "addr2")
	buy.Amount = 2
	instances := mustDo(t, g, ctx, buy).Data["instance_ids"].([]uint64)

	open := op(protocol.OpBoxOpen, "addr2")
	open.ItemIDs = instances
	mustDo(t, g, ctx, open)

	w := New(g, "oracle", 10*time.Millisecond, zap.NewNop())
	wctx, wcancel := context.WithCancel(ctx)
	defer wcancel()
	go func() { _ = w.Run(wctx) }()

	// The worker should drain the pending queue and mint the heroes.
	toks := op(protocol.OpRegistryTokensOf, "addr2")
	toks.Registry = "heroes"
	toks.Size = 10
	deadline := time.After(5 * time.Second)
	for {
		ids := mustDo(t, g, ctx, toks).Data["ids"].([]uint64)
		if len(ids) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("heroes never minted, have %v", ids)
		case <-time.After(20 * time.Millisecond):
		}
	}

	pending := mustDo(t, g, ctx, op(protocol.OpBoxPending, "oracle"))
	if reqs := pending.Data["requests"].([]map[string]any); len(reqs) != 0 {
		t.Fatalf("pending = %v", reqs)
	}
}
