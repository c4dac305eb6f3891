package game

import (
	"encoding/binary"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/core/market"
	"herovault.gg/internal/protocol"
)

// readOps never mutate state and are left out of the audit stream.
var readOps = map[string]bool{
	protocol.OpMarketListings:    true,
	protocol.OpBoxWhitelisted:    true,
	protocol.OpBoxPending:        true,
	protocol.OpBoxInfo:           true,
	protocol.OpBoxLeftSupply:     true,
	protocol.OpBoxUserHourlyLeft: true,
	protocol.OpShardCraftPrice:   true,
	protocol.OpRegistryTokensOf:  true,
	protocol.OpTokenBalance:      true,
}

// Dispatch applies one op and shapes the reply frame. It must only be
// called from the Run goroutine.
func (g *Game) Dispatch(op protocol.OpMsg) protocol.ResultMsg {
	data, err := g.apply(op)
	var res protocol.ResultMsg
	if err != nil {
		res = protocol.ErrorResult(op.ID, err)
		g.log.Debug("op rejected",
			zap.String("op", op.Op),
			zap.String("caller", op.Caller),
			zap.String("code", res.Code))
	} else {
		res = protocol.Result(op.ID, data)
	}
	if !readOps[op.Op] {
		g.audit(op, res)
	}
	return res
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, protocol.Errf(protocol.ErrInvalidAmount, "bad amount %q", raw)
	}
	return d, nil
}

func itemRefs(registries []string, ids []uint64) ([]market.ItemRef, error) {
	if len(registries) != len(ids) {
		return nil, protocol.Errf(protocol.ErrInvalidInput, "length mismatch")
	}
	refs := make([]market.ItemRef, len(ids))
	for i := range ids {
		refs[i] = market.ItemRef{Registry: registries[i], ID: ids[i]}
	}
	return refs, nil
}

func uintAmount(v int64) (uint64, error) {
	if v <= 0 {
		return 0, protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	return uint64(v), nil
}

func (g *Game) apply(op protocol.OpMsg) (map[string]any, error) {
	if op.ProtocolVersion != protocol.Version {
		return nil, protocol.Errf(protocol.ErrProtoBadRequest, "unsupported protocol version %q", op.ProtocolVersion)
	}
	if op.Caller == "" {
		return nil, protocol.Errf(protocol.ErrProtoBadRequest, "caller must be set")
	}

	switch op.Op {
	case protocol.OpMarketSell:
		refs, err := itemRefs(op.Registries, op.ItemIDs)
		if err != nil {
			return nil, err
		}
		prices := make([]decimal.Decimal, len(op.Prices))
		for i, raw := range op.Prices {
			if prices[i], err = parseAmount(raw); err != nil {
				return nil, err
			}
		}
		if err := g.market.Sell(op.Caller, refs, op.PayAssets, prices); err != nil {
			return nil, err
		}
		return map[string]any{"listed": len(refs)}, nil

	case protocol.OpMarketCancel:
		refs, err := itemRefs(op.Registries, op.ItemIDs)
		if err != nil {
			return nil, err
		}
		if err := g.market.Cancel(op.Caller, refs); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": len(refs)}, nil

	case protocol.OpMarketBuy:
		refs, err := itemRefs(op.Registries, op.ItemIDs)
		if err != nil {
			return nil, err
		}
		value, err := parseAmount(op.Value)
		if err != nil {
			return nil, err
		}
		if err := g.market.Buy(op.Caller, refs, value); err != nil {
			return nil, err
		}
		return map[string]any{"bought": len(refs)}, nil

	case protocol.OpMarketSetFee:
		return nil, g.market.SetFee(op.Caller, op.FeeBps)

	case protocol.OpMarketSetAddrs:
		return nil, g.market.SetAddrs(op.Caller, op.Treasury)

	case protocol.OpMarketListings:
		all := g.market.Listings()
		type row struct {
			ref market.ItemRef
			l   market.Listing
		}
		rows := make([]row, 0, len(all))
		for ref, l := range all {
			rows = append(rows, row{ref, l})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].ref.Registry != rows[j].ref.Registry {
				return rows[i].ref.Registry < rows[j].ref.Registry
			}
			return rows[i].ref.ID < rows[j].ref.ID
		})
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, map[string]any{
				"registry":  r.ref.Registry,
				"id":        r.ref.ID,
				"seller":    r.l.Seller,
				"pay_asset": r.l.PayAsset,
				"price":     r.l.Price.String(),
			})
		}
		return map[string]any{"listings": out}, nil

	case protocol.OpBoxSetInfo:
		price, err := parseAmount(op.Price)
		if err != nil {
			return nil, err
		}
		return nil, g.boxEng.SetBoxInfo(op.Caller, op.BoxID, price, op.PayAsset, op.ReceivingAddr, op.HourlyLimit, op.WhitelistOn, op.Weights)

	case protocol.OpBoxAddMaxSupply:
		amount, err := uintAmount(op.Amount)
		if err != nil {
			return nil, err
		}
		return nil, g.boxEng.AddBoxesMaxSupply(op.Caller, op.BoxID, amount)

	case protocol.OpBoxAddWhitelist:
		return nil, g.boxEng.AddWhiteList(op.Caller, op.BoxID, op.Principals)

	case protocol.OpBoxRemoveWhitelist:
		return nil, g.boxEng.RemoveWhiteList(op.Caller, op.BoxID, op.Principals)

	case protocol.OpBoxWhitelisted:
		return map[string]any{"whitelisted": g.boxEng.WhiteListExistence(op.BoxID, op.Principal)}, nil

	case protocol.OpBoxBuy:
		amount, err := uintAmount(op.Amount)
		if err != nil {
			return nil, err
		}
		value, err := parseAmount(op.Value)
		if err != nil {
			return nil, err
		}
		ids, err := g.boxEng.BuyBoxes(op.Caller, op.BoxID, amount, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"instance_ids": ids}, nil

	case protocol.OpBoxOpen:
		reqID, err := g.boxEng.OpenBoxes(op.Caller, op.ItemIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"request_id": reqID}, nil

	case protocol.OpBoxFulfill:
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], op.Seed)
		heroIDs, err := g.boxEng.FulfillRandomness(op.Caller, op.RequestID, seed[:])
		if err != nil {
			return nil, err
		}
		return map[string]any{"hero_ids": heroIDs}, nil

	case protocol.OpBoxPending:
		reqs := g.boxEng.PendingRequests()
		out := make([]map[string]any, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, map[string]any{
				"request_id": r.ID,
				"owner":      r.Owner,
				"instances":  r.Instances,
			})
		}
		return map[string]any{"requests": out}, nil

	case protocol.OpBoxInfo:
		bt, ok := g.boxEng.BoxInfo(op.BoxID)
		if !ok {
			return nil, protocol.Errf(protocol.ErrNotFound, "box %d not found", op.BoxID)
		}
		return map[string]any{
			"price":          bt.Price.String(),
			"pay_asset":      bt.PayAsset,
			"receiving_addr": bt.ReceivingAddr,
			"hourly_limit":   bt.HourlyLimit,
			"whitelist_on":   bt.WhitelistOn,
			"weights":        bt.Weights,
			"max_supply":     bt.MaxSupply,
			"minted":         bt.Minted,
		}, nil

	case protocol.OpBoxLeftSupply:
		return map[string]any{"left": g.boxEng.BoxesLeftSupply(op.BoxID)}, nil

	case protocol.OpBoxUserHourlyLeft:
		return map[string]any{"left": g.boxEng.UserHourlyBoxesLeftSupply(op.BoxID, op.Principal)}, nil

	case protocol.OpBoxClearNative:
		return nil, g.boxEng.ClearNativeCoin(op.Caller, op.To)

	case protocol.OpBoxSetAddrs:
		return nil, g.boxEng.SetAddrs(op.Caller, op.BoxID, op.ReceivingAddr)

	case protocol.OpShardSetPrices:
		table := make([]int64, len(op.PriceTable))
		for i, v := range op.PriceTable {
			table[i] = int64(v)
		}
		return nil, g.shardEng.SetPrices(op.Caller, table)

	case protocol.OpShardSpawn:
		ids, err := g.shardEng.SpawnShards(op.Caller, op.Recipient, op.Tiers)
		if err != nil {
			return nil, err
		}
		return map[string]any{"shard_ids": ids}, nil

	case protocol.OpShardCraft:
		heroIDs, err := g.shardEng.Craft(op.Caller, op.ShardIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"hero_ids": heroIDs}, nil

	case protocol.OpShardCraftPrice:
		price, err := g.shardEng.CraftPrice(op.ShardIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"price": price.String()}, nil

	case protocol.OpRegistryTransferBatch:
		reg, err := g.registry(op.Registry)
		if err != nil {
			return nil, err
		}
		from := op.From
		if from == "" {
			from = op.Caller
		}
		if err := reg.TransferBatch(op.Caller, from, op.To, op.ItemIDs); err != nil {
			return nil, err
		}
		return map[string]any{"transferred": len(op.ItemIDs)}, nil

	case protocol.OpRegistryApproveAll:
		reg, err := g.registry(op.Registry)
		if err != nil {
			return nil, err
		}
		reg.SetApprovalForAll(op.Caller, op.Operator, op.Approved)
		return nil, nil

	case protocol.OpRegistryTokensOf:
		reg, err := g.registry(op.Registry)
		if err != nil {
			return nil, err
		}
		owner := op.Owner
		if owner == "" {
			owner = op.Caller
		}
		ids, next := reg.TokensOfOwnerBySize(owner, op.Cursor, op.Size)
		return map[string]any{"ids": ids, "next_cursor": next}, nil

	case protocol.OpTokenApprove:
		if op.Asset == "" {
			return nil, protocol.Errf(protocol.ErrInvalidInput, "native coin does not support allowances")
		}
		l, err := g.ledger(op.Asset)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(op.Value)
		if err != nil {
			return nil, err
		}
		return nil, l.Approve(op.Caller, op.To, amount)

	case protocol.OpTokenTransfer:
		l, err := g.ledger(op.Asset)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(op.Value)
		if err != nil {
			return nil, err
		}
		return nil, l.Transfer(op.Caller, op.To, amount)

	case protocol.OpTokenBalance:
		l, err := g.ledger(op.Asset)
		if err != nil {
			return nil, err
		}
		owner := op.Owner
		if owner == "" {
			owner = op.Caller
		}
		return map[string]any{"balance": l.BalanceOf(owner).String()}, nil

	case protocol.OpAccessGrant:
		gate, err := g.gate(op.Scope)
		if err != nil {
			return nil, err
		}
		return nil, gate.Grant(op.Caller, op.Principal, access.Capability(op.Capability))

	case protocol.OpAccessRevoke:
		gate, err := g.gate(op.Scope)
		if err != nil {
			return nil, err
		}
		return nil, gate.Revoke(op.Caller, op.Principal, access.Capability(op.Capability))
	}
	return nil, protocol.Errf(protocol.ErrProtoBadRequest, "unknown op %q", op.Op)
}
