// Package asset implements the shared ownership-registry primitive. Three
// instances exist at stand-up: boxes, shards and heroes. Items carry a
// fixed attribute schema (hero tier plus a combat-stat vector) rather than
// open string-keyed storage; the set of attributes the game reads is
// closed and known.
package asset

import (
	"herovault.gg/internal/core/access"
	"herovault.gg/internal/protocol"
)

// Gate is the capability check consulted before privileged mutations.
type Gate interface {
	Require(principal string, c access.Capability) error
}

type Item struct {
	ID     uint64
	Owner  string
	Hero   int
	Combat []int64
}

type Registry struct {
	name   string
	gate   Gate
	nextID uint64

	items map[uint64]*Item
	// owned keeps per-owner ids in acquisition order so cursor pagination
	// is stable across calls.
	owned     map[string][]uint64
	operators map[string]map[string]bool
}

func NewRegistry(name string, gate Gate) *Registry {
	return &Registry{
		name:      name,
		gate:      gate,
		items:     make(map[uint64]*Item),
		owned:     make(map[string][]uint64),
		operators: make(map[string]map[string]bool),
	}
}

func (r *Registry) Name() string { return r.name }

func (r *Registry) notFound(id uint64) error {
	return protocol.Errf(protocol.ErrNotFound, "%s item %d does not exist", r.name, id)
}

// Mint creates a new item owned by to. Spawner-gated; engines hold the
// spawner capability on the registries they mint into.
func (r *Registry) Mint(caller, to string, hero int) (uint64, error) {
	if err := r.gate.Require(caller, access.Spawner); err != nil {
		return 0, err
	}
	if to == "" {
		return 0, protocol.Errf(protocol.ErrInvalidInput, "mint to empty principal")
	}
	id := r.nextID
	r.nextID++
	r.items[id] = &Item{ID: id, Owner: to, Hero: hero}
	r.owned[to] = append(r.owned[to], id)
	return id, nil
}

// Burn destroys an item. Spawner-gated like Mint.
func (r *Registry) Burn(caller string, id uint64) error {
	if err := r.gate.Require(caller, access.Spawner); err != nil {
		return err
	}
	it, ok := r.items[id]
	if !ok {
		return r.notFound(id)
	}
	delete(r.items, id)
	r.removeOwned(it.Owner, id)
	return nil
}

func (r *Registry) removeOwned(owner string, id uint64) {
	ids := r.owned[owner]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.owned, owner)
		return
	}
	r.owned[owner] = ids
}

func (r *Registry) Exists(id uint64) bool {
	_, ok := r.items[id]
	return ok
}

func (r *Registry) OwnerOf(id uint64) (string, error) {
	it, ok := r.items[id]
	if !ok {
		return "", r.notFound(id)
	}
	return it.Owner, nil
}

func (r *Registry) BalanceOf(owner string) int { return len(r.owned[owner]) }

func (r *Registry) TotalSupply() int { return len(r.items) }

func (r *Registry) SetApprovalForAll(owner, operator string, approved bool) {
	m := r.operators[owner]
	if m == nil {
		if !approved {
			return
		}
		m = make(map[string]bool)
		r.operators[owner] = m
	}
	if approved {
		m[operator] = true
		return
	}
	delete(m, operator)
}

func (r *Registry) IsApprovedForAll(owner, operator string) bool {
	return r.operators[owner][operator]
}

func (r *Registry) authorized(caller, owner string) bool {
	return caller == owner || r.IsApprovedForAll(owner, caller)
}

// TransferBatch moves ids from from to to. The whole batch is validated
// before any item moves; any bad id aborts with no change.
func (r *Registry) TransferBatch(caller, from, to string, ids []uint64) error {
	if len(ids) == 0 {
		return protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	if to == "" {
		return protocol.Errf(protocol.ErrInvalidInput, "transfer to empty principal")
	}
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return protocol.Errf(protocol.ErrInvalidInput, "duplicate %s item %d", r.name, id)
		}
		seen[id] = true
		it, ok := r.items[id]
		if !ok {
			return r.notFound(id)
		}
		if it.Owner != from {
			return protocol.Errf(protocol.ErrNotOwner, "%s item %d is not owned by %s", r.name, id, from)
		}
		if !r.authorized(caller, from) {
			return protocol.Errf(protocol.ErrNotAuthorized,
				"%s is neither owner nor approved operator for %s", caller, from)
		}
	}
	for _, id := range ids {
		it := r.items[id]
		r.removeOwned(from, id)
		it.Owner = to
		r.owned[to] = append(r.owned[to], id)
	}
	return nil
}

func (r *Registry) Hero(id uint64) (int, error) {
	it, ok := r.items[id]
	if !ok {
		return 0, r.notFound(id)
	}
	return it.Hero, nil
}

// SetHero rewrites the hero tier. Setter-gated.
func (r *Registry) SetHero(caller string, id uint64, hero int) error {
	if err := r.gate.Require(caller, access.Setter); err != nil {
		return err
	}
	it, ok := r.items[id]
	if !ok {
		return r.notFound(id)
	}
	it.Hero = hero
	return nil
}

func (r *Registry) Combat(id uint64) ([]int64, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, r.notFound(id)
	}
	out := make([]int64, len(it.Combat))
	copy(out, it.Combat)
	return out, nil
}

// SetCombat replaces the combat-stat vector. Setter-gated.
func (r *Registry) SetCombat(caller string, id uint64, stats []int64) error {
	if err := r.gate.Require(caller, access.Setter); err != nil {
		return err
	}
	it, ok := r.items[id]
	if !ok {
		return r.notFound(id)
	}
	it.Combat = make([]int64, len(stats))
	copy(it.Combat, stats)
	return nil
}

// TokensOfOwnerBySize returns a window of the owner's ids starting at
// logical offset cursor, capped at size, plus the offset to resume from.
func (r *Registry) TokensOfOwnerBySize(owner string, cursor, size uint64) ([]uint64, uint64) {
	ids := r.owned[owner]
	total := uint64(len(ids))
	if cursor >= total || size == 0 {
		return nil, cursor
	}
	n := size
	if cursor+n > total {
		n = total - cursor
	}
	out := make([]uint64, n)
	copy(out, ids[cursor:cursor+n])
	return out, cursor + n
}
