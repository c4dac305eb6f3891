// Package game assembles the economy: the asset registries, token
// ledgers, marketplace, box engine, and shard engine behind a single
// serialized op loop. All state mutation happens on that loop's
// goroutine, so none of the component packages carry locks.
package game

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/core/asset"
	"herovault.gg/internal/core/box"
	"herovault.gg/internal/core/market"
	"herovault.gg/internal/core/shard"
	"herovault.gg/internal/core/token"
	"herovault.gg/internal/core/tuning"
	"herovault.gg/internal/protocol"
)

// Principals the engines act as inside the registries and ledgers.
const (
	MarketPrincipal      = "market"
	BoxEnginePrincipal   = "box-engine"
	ShardEnginePrincipal = "shard-engine"
)

// FunAsset is the fungible game token. The empty string is the native coin.
const FunAsset = "FUN"

// AuditEntry records one mutating op after dispatch.
type AuditEntry struct {
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Op      string         `json:"op"`
	Caller  string         `json:"caller"`
	Ref     string         `json:"ref,omitempty"`
	OK      bool           `json:"ok"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AuditLogger receives entries in dispatch order.
type AuditLogger interface {
	WriteAudit(AuditEntry) error
}

type Game struct {
	log *zap.Logger
	cfg tuning.Tuning

	gates      map[string]*access.Set
	native     *token.Ledger
	ledgers    map[string]*token.Ledger
	registries map[string]*asset.Registry

	market   *market.Market
	boxEng   *box.Engine
	shardEng *shard.Engine

	auditLogger AuditLogger
	auditSeq    uint64

	inbox chan OpEnvelope
	stop  chan struct{}

	// now is swappable in tests; the box engine shares it.
	now func() time.Time
}

type Option func(*Game)

// WithAuditLogger attaches a sink for mutating-op audit entries.
func WithAuditLogger(l AuditLogger) Option {
	return func(g *Game) { g.auditLogger = l }
}

// WithClock overrides the wall clock for the hourly purchase windows.
func WithClock(now func() time.Time) Option {
	return func(g *Game) { g.now = now }
}

func New(cfg tuning.Tuning, log *zap.Logger, opts ...Option) (*Game, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Game{
		log:   log,
		cfg:   cfg,
		inbox: make(chan OpEnvelope, 256),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	admin := cfg.Admin
	g.gates = map[string]*access.Set{
		"market": access.NewSet("market", admin),
		"box":    access.NewSet("box", admin),
		"shard":  access.NewSet("shard", admin),
		"boxes":  access.NewSet("boxes", admin),
		"heroes": access.NewSet("heroes", admin),
		"shards": access.NewSet("shards", admin),
	}

	g.native = token.NewLedger("NATIVE")
	fun := token.NewLedger(FunAsset)
	g.ledgers = map[string]*token.Ledger{FunAsset: fun}

	g.registries = map[string]*asset.Registry{
		"boxes":  asset.NewRegistry("boxes", g.gates["boxes"]),
		"heroes": asset.NewRegistry("heroes", g.gates["heroes"]),
		"shards": asset.NewRegistry("shards", g.gates["shards"]),
	}

	// Genesis capability grants: the engines spawn into their
	// registries, the oracle principal fulfills randomness, the admin
	// may seed shards directly.
	grants := []struct {
		scope, principal string
		cap              access.Capability
	}{
		{"boxes", BoxEnginePrincipal, access.Spawner},
		{"heroes", BoxEnginePrincipal, access.Spawner},
		{"heroes", ShardEnginePrincipal, access.Spawner},
		{"shards", ShardEnginePrincipal, access.Spawner},
		{"box", cfg.Oracle.Principal, access.Oracle},
		{"shard", admin, access.Spawner},
	}
	for _, gr := range grants {
		if err := g.gates[gr.scope].Grant(admin, gr.principal, gr.cap); err != nil {
			return nil, fmt.Errorf("genesis grant %s/%s: %w", gr.scope, gr.principal, err)
		}
	}

	marketRegs := make(map[string]market.Registry, len(g.registries))
	boxLedgers := map[string]box.Ledger{FunAsset: fun}
	marketLedgers := map[string]market.Ledger{FunAsset: fun}
	for name, reg := range g.registries {
		marketRegs[name] = reg
	}

	g.market = market.New(market.Config{
		Gate:       g.gates["market"],
		Principal:  MarketPrincipal,
		Registries: marketRegs,
		Ledgers:    marketLedgers,
		Native:     g.native,
		Treasury:   cfg.Treasury,
		FeeBps:     cfg.FeeBps,
	})
	g.boxEng = box.New(box.Config{
		Gate:          g.gates["box"],
		Principal:     BoxEnginePrincipal,
		Boxes:         g.registries["boxes"],
		Heroes:        g.registries["heroes"],
		Ledgers:       boxLedgers,
		Native:        g.native,
		WindowSeconds: cfg.WindowSeconds,
		Now:           func() time.Time { return g.now() },
	})
	g.shardEng = shard.New(shard.Config{
		Gate:        g.gates["shard"],
		Principal:   ShardEnginePrincipal,
		Shards:      g.registries["shards"],
		Heroes:      g.registries["heroes"],
		Pay:         fun,
		Beneficiary: cfg.Treasury,
	})

	if len(cfg.CraftPrices) > 0 {
		if err := g.shardEng.SetPrices(admin, cfg.CraftPrices); err != nil {
			return nil, fmt.Errorf("craft prices: %w", err)
		}
	}
	for principal, raw := range cfg.Issuance {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("issuance for %s: %w", principal, err)
		}
		if err := fun.Mint(principal, amount); err != nil {
			return nil, fmt.Errorf("issuance for %s: %w", principal, err)
		}
	}
	return g, nil
}

func (g *Game) registry(name string) (*asset.Registry, error) {
	r, ok := g.registries[name]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown registry %q", name)
	}
	return r, nil
}

func (g *Game) ledger(asset string) (*token.Ledger, error) {
	if asset == "" {
		return g.native, nil
	}
	l, ok := g.ledgers[asset]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown asset %q", asset)
	}
	return l, nil
}

func (g *Game) gate(scope string) (*access.Set, error) {
	s, ok := g.gates[scope]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown scope %q", scope)
	}
	return s, nil
}

func (g *Game) audit(op protocol.OpMsg, res protocol.ResultMsg) {
	if g.auditLogger == nil {
		return
	}
	g.auditSeq++
	entry := AuditEntry{
		Seq:     g.auditSeq,
		Time:    g.now(),
		Op:      op.Op,
		Caller:  op.Caller,
		Ref:     op.ID,
		OK:      res.OK,
		Code:    res.Code,
		Message: res.Message,
	}
	if err := g.auditLogger.WriteAudit(entry); err != nil {
		g.log.Warn("audit write failed", zap.String("op", op.Op), zap.Error(err))
	}
}
