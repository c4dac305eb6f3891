// Package shard implements hero-shard crafting: shards accumulate in
// groups of ten and are forged into heroes against a tiered price table,
// with master shards acting as free wildcards.
package shard

import (
	"github.com/shopspring/decimal"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/protocol"
)

const (
	// GroupSize is the number of shards one craft consumes per hero.
	GroupSize = 10
	// MaxCraftInput caps a single craft call.
	MaxCraftInput = 100
	// MasterTier marks the wildcard tier. Shards at or above it craft
	// for free and stand in for any tier within a group.
	MasterTier = 100
	// TierCount is the length of the craft price table.
	TierCount = 15
)

// defaultPrices is the launch price table in whole tokens per shard,
// indexed by hero tier.
var defaultPrices = [TierCount]int64{5, 7, 10, 12, 15, 17, 20, 25, 30, 40, 50, 65, 80, 100, 120}

// Registry is the slice of the asset registry the engine drives.
type Registry interface {
	Mint(caller, to string, hero int) (uint64, error)
	Burn(caller string, id uint64) error
	OwnerOf(id uint64) (string, error)
	Hero(id uint64) (int, error)
}

// Ledger is the slice of the token ledger craft fees settle against.
type Ledger interface {
	BalanceOf(principal string) decimal.Decimal
	Allowance(owner, spender string) decimal.Decimal
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
}

type Config struct {
	Gate        *access.Set
	Principal   string
	Shards      Registry
	Heroes      Registry
	Pay         Ledger
	Beneficiary string
}

type Engine struct {
	gate        *access.Set
	principal   string
	shards      Registry
	heroes      Registry
	pay         Ledger
	beneficiary string
	prices      [TierCount]int64
}

func New(cfg Config) *Engine {
	return &Engine{
		gate:        cfg.Gate,
		principal:   cfg.Principal,
		shards:      cfg.Shards,
		heroes:      cfg.Heroes,
		pay:         cfg.Pay,
		beneficiary: cfg.Beneficiary,
		prices:      defaultPrices,
	}
}

func (e *Engine) Principal() string { return e.principal }

// Prices returns the current per-tier price table in whole tokens.
func (e *Engine) Prices() []int64 {
	out := make([]int64, TierCount)
	copy(out, e.prices[:])
	return out
}

// SetPrices replaces the whole price table.
func (e *Engine) SetPrices(caller string, table []int64) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	if len(table) != TierCount {
		return protocol.Errf(protocol.ErrInvalidInput, "price table must have %d entries", TierCount)
	}
	for i, v := range table {
		if v < 0 {
			return protocol.Errf(protocol.ErrInvalidAmount, "price table entry %d must not be negative", i)
		}
	}
	copy(e.prices[:], table)
	return nil
}

// SetAddrs points craft payments at a new beneficiary.
func (e *Engine) SetAddrs(caller, beneficiary string) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	e.beneficiary = beneficiary
	return nil
}

// SpawnShards mints shards of the given hero tiers to a recipient.
func (e *Engine) SpawnShards(caller, to string, tiers []int) ([]uint64, error) {
	if err := e.gate.Require(caller, access.Spawner); err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	for _, tier := range tiers {
		if tier < 0 {
			return nil, protocol.Errf(protocol.ErrInvalidHeroTier, "hero tier must not be negative")
		}
	}
	ids := make([]uint64, 0, len(tiers))
	for _, tier := range tiers {
		id, err := e.shards.Mint(e.principal, to, tier)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// tierPrice converts a shard's hero tier into its craft fee. Master shards
// are free; tiers past the table are not craftable.
func (e *Engine) tierPrice(tier int) (decimal.Decimal, error) {
	if tier >= MasterTier {
		return decimal.Zero, nil
	}
	if tier < 0 || tier >= TierCount {
		return decimal.Decimal{}, protocol.Errf(protocol.ErrInvalidHeroTier, "no craft price for hero tier %d", tier)
	}
	return decimal.New(e.prices[tier], 18), nil
}

// CraftPrice quotes the total fee for crafting the given shards.
func (e *Engine) CraftPrice(shardIDs []uint64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, id := range shardIDs {
		tier, err := e.shards.Hero(id)
		if err != nil {
			return decimal.Decimal{}, err
		}
		p, err := e.tierPrice(tier)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(p)
	}
	return total, nil
}

// Craft burns the caller's shards in consecutive groups of ten and mints
// one hero per group. Every shard in a group must share a hero tier; at
// most one master wildcard may stand in per group. The full fee is charged
// up front to the configured beneficiary.
func (e *Engine) Craft(caller string, shardIDs []uint64) ([]uint64, error) {
	if len(shardIDs) == 0 {
		return nil, protocol.Errf(protocol.ErrInvalidAmount, "CsIds length must > 0")
	}
	if len(shardIDs) > MaxCraftInput {
		return nil, protocol.Errf(protocol.ErrInputTooLarge, "CsIds length must <= 100")
	}
	if len(shardIDs)%GroupSize != 0 {
		return nil, protocol.Errf(protocol.ErrInvalidGroupSize, "CsIds length %% 10 must == 0")
	}

	seen := make(map[uint64]bool, len(shardIDs))
	tiers := make([]int, len(shardIDs))
	total := decimal.Zero
	for i, id := range shardIDs {
		if seen[id] {
			return nil, protocol.Errf(protocol.ErrInvalidInput, "duplicate shard id %d", id)
		}
		seen[id] = true
		owner, err := e.shards.OwnerOf(id)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, protocol.Errf(protocol.ErrNotOwner, "This NFT is not own")
		}
		tier, err := e.shards.Hero(id)
		if err != nil {
			return nil, err
		}
		p, err := e.tierPrice(tier)
		if err != nil {
			return nil, err
		}
		tiers[i] = tier
		total = total.Add(p)
	}

	// Resolve each group to the hero tier it crafts.
	groupTiers := make([]int, 0, len(shardIDs)/GroupSize)
	for g := 0; g < len(shardIDs); g += GroupSize {
		groupTier := -1
		masters := 0
		for _, tier := range tiers[g : g+GroupSize] {
			if tier >= MasterTier {
				masters++
				continue
			}
			if groupTier == -1 {
				groupTier = tier
			} else if tier != groupTier {
				return nil, protocol.Errf(protocol.ErrHeroMismatch, "Cs hero mismatch")
			}
		}
		if masters > 1 || groupTier == -1 {
			return nil, protocol.Errf(protocol.ErrInvalidHeroTier, "Hero must < 100")
		}
		groupTiers = append(groupTiers, groupTier)
	}

	if total.IsPositive() {
		if e.pay.Allowance(caller, e.principal).Cmp(total) < 0 {
			return nil, protocol.Errf(protocol.ErrInsufficientAllowance, "insufficient allowance for %s", total)
		}
		if e.pay.BalanceOf(caller).Cmp(total) < 0 {
			return nil, protocol.Errf(protocol.ErrInsufficientBalance, "insufficient balance for %s", total)
		}
		if err := e.pay.TransferFrom(e.principal, caller, e.beneficiary, total); err != nil {
			return nil, err
		}
	}

	heroIDs := make([]uint64, 0, len(groupTiers))
	for g, tier := range groupTiers {
		for _, id := range shardIDs[g*GroupSize : (g+1)*GroupSize] {
			if err := e.shards.Burn(e.principal, id); err != nil {
				return nil, err
			}
		}
		heroID, err := e.heroes.Mint(e.principal, caller, tier)
		if err != nil {
			return nil, err
		}
		heroIDs = append(heroIDs, heroID)
	}
	return heroIDs, nil
}
