// Package market implements the peer-to-peer listing ledger. Items stay in
// the seller's custody while listed; settlement happens at purchase time
// through the market's operator authority over the listed registry.
package market

import (
	"github.com/shopspring/decimal"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/protocol"
)

// NativeAsset is the pay-asset sentinel for the native settlement channel.
const NativeAsset = ""

const feeDenominator = 10000

// Registry is the slice of the asset-registry capability the market needs.
type Registry interface {
	OwnerOf(id uint64) (string, error)
	IsApprovedForAll(owner, operator string) bool
	TransferBatch(caller, from, to string, ids []uint64) error
}

// Ledger is the settlement-asset capability used for non-native payments.
type Ledger interface {
	BalanceOf(principal string) decimal.Decimal
	Allowance(owner, spender string) decimal.Decimal
	Transfer(from, to string, amount decimal.Decimal) error
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
}

type Gate interface {
	Require(principal string, c access.Capability) error
}

type ItemRef struct {
	Registry string
	ID       uint64
}

// Listing records the caller who listed as Seller; an approved operator
// listing on an owner's behalf is the seller of record and receives the
// proceeds. Owner pins who held the item at listing time, so a transfer
// after listing marks the listing stale.
type Listing struct {
	Seller   string
	Owner    string
	PayAsset string
	Price    decimal.Decimal
}

type Market struct {
	gate      Gate
	principal string

	registries map[string]Registry
	ledgers    map[string]Ledger
	native     Ledger

	treasury string
	feeBps   uint64

	listings map[ItemRef]Listing
}

type Config struct {
	Gate       Gate
	Principal  string
	Registries map[string]Registry
	Ledgers    map[string]Ledger
	Native     Ledger
	Treasury   string
	FeeBps     uint64
}

func New(cfg Config) *Market {
	return &Market{
		gate:       cfg.Gate,
		principal:  cfg.Principal,
		registries: cfg.Registries,
		ledgers:    cfg.Ledgers,
		native:     cfg.Native,
		treasury:   cfg.Treasury,
		feeBps:     cfg.FeeBps,
		listings:   make(map[ItemRef]Listing),
	}
}

func (m *Market) Principal() string { return m.principal }
func (m *Market) Treasury() string  { return m.treasury }
func (m *Market) FeeBps() uint64    { return m.feeBps }

func (m *Market) Listing(ref ItemRef) (Listing, bool) {
	l, ok := m.listings[ref]
	return l, ok
}

// Listings returns every open listing. Iteration-order independence is the
// caller's concern; the read surface sorts before rendering.
func (m *Market) Listings() map[ItemRef]Listing {
	out := make(map[ItemRef]Listing, len(m.listings))
	for k, v := range m.listings {
		out[k] = v
	}
	return out
}

// SetFee sets the fee ratio in basis points. Capped at 50%.
func (m *Market) SetFee(caller string, bps uint64) error {
	if err := m.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	if bps > feeDenominator/2 {
		return protocol.Errf(protocol.ErrInvalidAmount, "The fee ratio cannot exceed 50%%")
	}
	m.feeBps = bps
	return nil
}

// SetAddrs points fee extraction at a new treasury.
func (m *Market) SetAddrs(caller, treasury string) error {
	if err := m.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	if treasury == "" {
		return protocol.Errf(protocol.ErrInvalidInput, "empty treasury")
	}
	m.treasury = treasury
	return nil
}

func (m *Market) registry(name string) (Registry, error) {
	r, ok := m.registries[name]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown registry %q", name)
	}
	return r, nil
}

func (m *Market) ledger(asset string) (Ledger, error) {
	if asset == NativeAsset {
		return m.native, nil
	}
	l, ok := m.ledgers[asset]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown settlement asset %q", asset)
	}
	return l, nil
}

// Sell records one listing per item. The caller must own (or operate for
// the owner of) each item and the market principal must already hold
// operator approval, so a listing exists iff the market can settle it.
// Re-listing an item overwrites its previous listing.
func (m *Market) Sell(caller string, items []ItemRef, payAssets []string, prices []decimal.Decimal) error {
	if len(items) != len(payAssets) || len(items) != len(prices) {
		return protocol.Errf(protocol.ErrInvalidInput, "length mismatch")
	}
	if len(items) == 0 {
		return protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}

	type staged struct {
		ref     ItemRef
		listing Listing
	}
	plan := make([]staged, 0, len(items))
	for i, ref := range items {
		reg, err := m.registry(ref.Registry)
		if err != nil {
			return err
		}
		owner, err := reg.OwnerOf(ref.ID)
		if err != nil {
			return err
		}
		if caller != owner && !reg.IsApprovedForAll(owner, caller) {
			return protocol.Errf(protocol.ErrNotAuthorized,
				"%s is neither owner nor approved operator for %s item %d", caller, ref.Registry, ref.ID)
		}
		if !reg.IsApprovedForAll(owner, m.principal) {
			return protocol.Errf(protocol.ErrNotAuthorized,
				"market is not approved to transfer %s item %d", ref.Registry, ref.ID)
		}
		if _, err := m.ledger(payAssets[i]); err != nil {
			return err
		}
		if prices[i].IsNegative() {
			return protocol.Errf(protocol.ErrInvalidAmount, "negative price")
		}
		plan = append(plan, staged{ref, Listing{Seller: caller, Owner: owner, PayAsset: payAssets[i], Price: prices[i]}})
	}

	for _, s := range plan {
		m.listings[s.ref] = s.listing
	}
	return nil
}

// Cancel deletes the caller's listings. Batch-atomic.
func (m *Market) Cancel(caller string, items []ItemRef) error {
	if len(items) == 0 {
		return protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	for _, ref := range items {
		l, ok := m.listings[ref]
		if !ok || l.Seller != caller {
			return protocol.Errf(protocol.ErrNotOwner, "This NFT is not own")
		}
	}
	for _, ref := range items {
		delete(m.listings, ref)
	}
	return nil
}

type settlement struct {
	ref      ItemRef
	reg      Registry
	seller   string
	owner    string
	payAsset string
	toSeller decimal.Decimal
	fee      decimal.Decimal
}

// FeeSplit computes (sellerAmount, feeAmount) for a price under the current
// ratio. feeAmount truncates toward zero; the pair always sums to price.
func (m *Market) FeeSplit(price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	fee, _ := price.Mul(decimal.NewFromInt(int64(m.feeBps))).
		QuoRem(decimal.NewFromInt(feeDenominator), 0)
	return price.Sub(fee), fee
}

// Buy settles a batch of listings. The whole batch is validated before any
// state moves: listings clear first, then funds, then the items, so a
// re-entering payee observes no listing it could double-settle.
func (m *Market) Buy(caller string, items []ItemRef, nativeValue decimal.Decimal) error {
	if len(items) == 0 {
		return protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}

	plan := make([]settlement, 0, len(items))
	nativeSum := decimal.Zero
	fungible := make(map[string]decimal.Decimal) // total price per pay asset
	seen := make(map[ItemRef]struct{}, len(items))
	for _, ref := range items {
		if _, dup := seen[ref]; dup {
			return protocol.Errf(protocol.ErrInvalidInput, "duplicate listing %s item %d", ref.Registry, ref.ID)
		}
		seen[ref] = struct{}{}
		l, ok := m.listings[ref]
		if !ok {
			return protocol.Errf(protocol.ErrNotFound, "%s item %d is not listed", ref.Registry, ref.ID)
		}
		reg, err := m.registry(ref.Registry)
		if err != nil {
			return err
		}
		owner, err := reg.OwnerOf(ref.ID)
		if err != nil {
			return err
		}
		// An item moved or de-approved after listing leaves a stale
		// listing behind; buying it must fail, not half-settle.
		if owner != l.Owner || !reg.IsApprovedForAll(owner, m.principal) {
			return protocol.Errf(protocol.ErrNotAuthorized,
				"listing for %s item %d is stale", ref.Registry, ref.ID)
		}
		toSeller, fee := m.FeeSplit(l.Price)
		if l.PayAsset == NativeAsset {
			nativeSum = nativeSum.Add(l.Price)
		} else {
			fungible[l.PayAsset] = fungible[l.PayAsset].Add(l.Price)
		}
		plan = append(plan, settlement{ref, reg, l.Seller, l.Owner, l.PayAsset, toSeller, fee})
	}

	if nativeValue.Cmp(nativeSum) != 0 {
		return protocol.Errf(protocol.ErrPriceMismatch, "Price mismatch")
	}
	if nativeSum.IsPositive() && m.native.BalanceOf(caller).Cmp(nativeSum) < 0 {
		return protocol.Errf(protocol.ErrPriceMismatch, "Price mismatch")
	}
	for asset, total := range fungible {
		led, err := m.ledger(asset)
		if err != nil {
			return err
		}
		if led.Allowance(caller, m.principal).Cmp(total) < 0 ||
			led.BalanceOf(caller).Cmp(total) < 0 {
			return protocol.Errf(protocol.ErrPriceMismatch, "Price mismatch")
		}
	}

	// Commit: listings first.
	for _, s := range plan {
		delete(m.listings, s.ref)
	}
	for _, s := range plan {
		led, err := m.ledger(s.payAsset)
		if err != nil {
			return err
		}
		if s.payAsset == NativeAsset {
			if err := led.Transfer(caller, s.seller, s.toSeller); err != nil {
				return err
			}
			if s.fee.IsPositive() {
				if err := led.Transfer(caller, m.treasury, s.fee); err != nil {
					return err
				}
			}
		} else {
			if err := led.TransferFrom(m.principal, caller, s.seller, s.toSeller); err != nil {
				return err
			}
			if s.fee.IsPositive() {
				if err := led.TransferFrom(m.principal, caller, m.treasury, s.fee); err != nil {
					return err
				}
			}
		}
		if err := s.reg.TransferBatch(m.principal, s.owner, caller, []uint64{s.ref.ID}); err != nil {
			return err
		}
	}
	return nil
}
