// Package box implements the collectible box line: configurable supply
// runs, whitelisted rate-limited purchases, and randomness-driven opening
// that converts a box into a hero of a weighted tier.
package box

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/protocol"
)

// NativeAsset is the pay-asset name for the chain's native coin.
const NativeAsset = ""

// State tracks a box instance through its lifecycle.
type State int

const (
	Unopened State = iota
	PendingRandomness
	Opened
)

// Registry is the slice of the asset registry the engine drives. It holds
// the spawner capability on both the box and hero registries.
type Registry interface {
	Mint(caller, to string, hero int) (uint64, error)
	Burn(caller string, id uint64) error
	OwnerOf(id uint64) (string, error)
}

// Ledger is the slice of the token ledger used for purchases and sweeps.
type Ledger interface {
	BalanceOf(principal string) decimal.Decimal
	Allowance(owner, spender string) decimal.Decimal
	Transfer(from, to string, amount decimal.Decimal) error
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
}

// BoxType is the per-box-id sale configuration.
type BoxType struct {
	Price         decimal.Decimal
	PayAsset      string
	ReceivingAddr string
	HourlyLimit   uint64
	WhitelistOn   bool
	Weights       []uint64
	MaxSupply     uint64
	Minted        uint64
}

// RandomnessRequest is an open request waiting on a seed. The instances
// stay locked until an oracle fulfills or the request is abandoned. Weights
// are snapshotted per box id at open time, so reconfiguring a box while a
// request is pending cannot change or zero a pending draw.
type RandomnessRequest struct {
	ID        string
	Owner     string
	Instances []uint64
	Weights   map[uint64][]uint64
}

type windowKey struct {
	Box       uint64
	Principal string
}

type window struct {
	Bucket int64
	Count  uint64
}

// Config wires an Engine. Now and WindowSeconds default to the wall clock
// and one hour when zero.
type Config struct {
	Gate          *access.Set
	Principal     string
	Boxes         Registry
	Heroes        Registry
	Ledgers       map[string]Ledger
	Native        Ledger
	WindowSeconds int64
	Now           func() time.Time
}

type Engine struct {
	gate      *access.Set
	principal string
	boxes     Registry
	heroes    Registry
	ledgers   map[string]Ledger
	native    Ledger

	types       map[uint64]*BoxType
	whitelist   map[uint64]map[string]bool
	states      map[uint64]State
	instanceBox map[uint64]uint64
	pending     map[string]*RandomnessRequest
	fulfilled   map[string]bool
	windows     map[windowKey]*window

	windowSeconds int64
	now           func() time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		gate:          cfg.Gate,
		principal:     cfg.Principal,
		boxes:         cfg.Boxes,
		heroes:        cfg.Heroes,
		ledgers:       cfg.Ledgers,
		native:        cfg.Native,
		types:         make(map[uint64]*BoxType),
		whitelist:     make(map[uint64]map[string]bool),
		states:        make(map[uint64]State),
		instanceBox:   make(map[uint64]uint64),
		pending:       make(map[string]*RandomnessRequest),
		fulfilled:     make(map[string]bool),
		windows:       make(map[windowKey]*window),
		windowSeconds: cfg.WindowSeconds,
		now:           cfg.Now,
	}
	if e.ledgers == nil {
		e.ledgers = make(map[string]Ledger)
	}
	if e.windowSeconds <= 0 {
		e.windowSeconds = 3600
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Principal() string { return e.principal }

func (e *Engine) typeOf(boxID uint64) *BoxType {
	bt, ok := e.types[boxID]
	if !ok {
		bt = &BoxType{PayAsset: NativeAsset}
		e.types[boxID] = bt
	}
	return bt
}

func (e *Engine) ledger(asset string) (Ledger, error) {
	if asset == NativeAsset {
		return e.native, nil
	}
	l, ok := e.ledgers[asset]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown pay asset %q", asset)
	}
	return l, nil
}

// SetBoxInfo replaces the sale configuration of a box id. Supply counters
// survive reconfiguration.
func (e *Engine) SetBoxInfo(caller string, boxID uint64, price decimal.Decimal, payAsset, receivingAddr string, hourlyLimit uint64, whitelistOn bool, weights []uint64) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	if price.IsNegative() {
		return protocol.Errf(protocol.ErrInvalidAmount, "price must not be negative")
	}
	if _, err := e.ledger(payAsset); err != nil {
		return err
	}
	if len(weights) > 0 {
		var sum uint64
		for _, w := range weights {
			sum += w
		}
		if sum == 0 {
			return protocol.Errf(protocol.ErrInvalidInput, "weights must not sum to zero")
		}
	}
	bt := e.typeOf(boxID)
	bt.Price = price
	bt.PayAsset = payAsset
	bt.ReceivingAddr = receivingAddr
	bt.HourlyLimit = hourlyLimit
	bt.WhitelistOn = whitelistOn
	bt.Weights = append([]uint64(nil), weights...)
	return nil
}

// SetAddrs points a box id at a new receiving address.
func (e *Engine) SetAddrs(caller string, boxID uint64, receivingAddr string) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	e.typeOf(boxID).ReceivingAddr = receivingAddr
	return nil
}

func (e *Engine) AddBoxesMaxSupply(caller string, boxID, amount uint64) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	if amount == 0 {
		return protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	e.typeOf(boxID).MaxSupply += amount
	return nil
}

func (e *Engine) AddWhiteList(caller string, boxID uint64, addrs []string) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	wl, ok := e.whitelist[boxID]
	if !ok {
		wl = make(map[string]bool)
		e.whitelist[boxID] = wl
	}
	for _, a := range addrs {
		wl[a] = true
	}
	return nil
}

func (e *Engine) RemoveWhiteList(caller string, boxID uint64, addrs []string) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	wl := e.whitelist[boxID]
	for _, a := range addrs {
		delete(wl, a)
	}
	return nil
}

func (e *Engine) WhiteListExistence(boxID uint64, addr string) bool {
	return e.whitelist[boxID][addr]
}

func (e *Engine) TotalBoxesLength() int { return len(e.types) }

func (e *Engine) BoxInfo(boxID uint64) (BoxType, bool) {
	bt, ok := e.types[boxID]
	if !ok {
		return BoxType{}, false
	}
	out := *bt
	out.Weights = append([]uint64(nil), bt.Weights...)
	return out, true
}

func (e *Engine) BoxesLeftSupply(boxID uint64) uint64 {
	bt, ok := e.types[boxID]
	if !ok {
		return 0
	}
	return bt.MaxSupply - bt.Minted
}

func (e *Engine) windowCount(boxID uint64, principal string) uint64 {
	w := e.windows[windowKey{Box: boxID, Principal: principal}]
	if w == nil || w.Bucket != e.bucket() {
		return 0
	}
	return w.Count
}

func (e *Engine) bucket() int64 { return e.now().Unix() / e.windowSeconds }

// UserHourlyBoxesLeftSupply reports how many boxes the principal may still
// buy in the current window. A zero hourly limit means the window does not
// constrain the purchase, only remaining supply does.
func (e *Engine) UserHourlyBoxesLeftSupply(boxID uint64, principal string) uint64 {
	bt, ok := e.types[boxID]
	if !ok {
		return 0
	}
	if bt.HourlyLimit == 0 {
		return e.BoxesLeftSupply(boxID)
	}
	used := e.windowCount(boxID, principal)
	if used >= bt.HourlyLimit {
		return 0
	}
	return bt.HourlyLimit - used
}

// InstanceState reports the lifecycle state of a minted box instance.
func (e *Engine) InstanceState(instanceID uint64) (State, bool) {
	s, ok := e.states[instanceID]
	return s, ok
}

// BuyBoxes sells amount instances of a box id to the caller and returns the
// minted instance ids. The price is settled against the box's pay asset; a
// native sale requires the declared value to match the total exactly.
func (e *Engine) BuyBoxes(caller string, boxID, amount uint64, value decimal.Decimal) ([]uint64, error) {
	if amount == 0 {
		return nil, protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	bt, ok := e.types[boxID]
	if !ok || bt.Minted+amount > bt.MaxSupply {
		return nil, protocol.Errf(protocol.ErrNoSupply, "Not enough boxes supply")
	}
	if !bt.Price.IsPositive() {
		return nil, protocol.Errf(protocol.ErrUnconfigured, "The box price of this box has not been set")
	}
	if bt.ReceivingAddr == "" {
		return nil, protocol.Errf(protocol.ErrUnconfigured, "The receiving address of this box has not been set")
	}
	if len(bt.Weights) == 0 {
		return nil, protocol.Errf(protocol.ErrUnconfigured, "The hero probability of this box has not been set")
	}
	if bt.WhitelistOn && !e.whitelist[boxID][caller] {
		return nil, protocol.Errf(protocol.ErrNotWhitelisted, "Your address must be on the whitelist")
	}

	total := bt.Price.Mul(decimal.NewFromInt(int64(amount)))
	if bt.PayAsset == NativeAsset {
		if !value.Equal(total) {
			return nil, protocol.Errf(protocol.ErrPriceMismatch, "Price mismatch")
		}
		if e.native.BalanceOf(caller).Cmp(total) < 0 {
			return nil, protocol.Errf(protocol.ErrInsufficientBalance, "insufficient balance for %s", total)
		}
	} else {
		l, err := e.ledger(bt.PayAsset)
		if err != nil {
			return nil, err
		}
		if l.Allowance(caller, e.principal).Cmp(total) < 0 {
			return nil, protocol.Errf(protocol.ErrInsufficientAllowance, "insufficient allowance for %s", total)
		}
		if l.BalanceOf(caller).Cmp(total) < 0 {
			return nil, protocol.Errf(protocol.ErrInsufficientBalance, "insufficient balance for %s", total)
		}
	}

	if bt.HourlyLimit > 0 {
		if e.windowCount(boxID, caller)+amount > bt.HourlyLimit {
			return nil, protocol.Errf(protocol.ErrHourlyLimit, "Amount exceeds the hourly buy limit")
		}
	}

	// Commit. Counters move first so a ledger fault cannot replay the window.
	if bt.HourlyLimit > 0 {
		key := windowKey{Box: boxID, Principal: caller}
		w := e.windows[key]
		if w == nil || w.Bucket != e.bucket() {
			w = &window{Bucket: e.bucket()}
			e.windows[key] = w
		}
		w.Count += amount
	}
	bt.Minted += amount

	if bt.PayAsset == NativeAsset {
		if err := e.native.Transfer(caller, bt.ReceivingAddr, total); err != nil {
			return nil, err
		}
	} else {
		l, _ := e.ledger(bt.PayAsset)
		if err := l.TransferFrom(e.principal, caller, bt.ReceivingAddr, total); err != nil {
			return nil, err
		}
	}

	ids := make([]uint64, 0, amount)
	for i := uint64(0); i < amount; i++ {
		id, err := e.boxes.Mint(e.principal, caller, 0)
		if err != nil {
			return nil, err
		}
		e.states[id] = Unopened
		e.instanceBox[id] = boxID
		ids = append(ids, id)
	}
	return ids, nil
}

// OpenBoxes locks the given unopened instances behind a randomness request
// and returns the request id an oracle must fulfill.
func (e *Engine) OpenBoxes(caller string, instanceIDs []uint64) (string, error) {
	if len(instanceIDs) == 0 {
		return "", protocol.Errf(protocol.ErrInvalidAmount, "Amount must > 0")
	}
	seen := make(map[uint64]bool, len(instanceIDs))
	weights := make(map[uint64][]uint64)
	for _, id := range instanceIDs {
		if seen[id] {
			return "", protocol.Errf(protocol.ErrInvalidInput, "duplicate box instance %d", id)
		}
		seen[id] = true
		st, ok := e.states[id]
		if !ok {
			return "", protocol.Errf(protocol.ErrNotFound, "box instance %d not found", id)
		}
		if st != Unopened {
			return "", protocol.Errf(protocol.ErrInvalidInput, "box instance %d is not unopened", id)
		}
		owner, err := e.boxes.OwnerOf(id)
		if err != nil {
			return "", err
		}
		if owner != caller {
			return "", protocol.Errf(protocol.ErrNotOwner, "This NFT is not own")
		}
		boxID := e.instanceBox[id]
		if _, ok := weights[boxID]; !ok {
			w := e.typeOf(boxID).Weights
			if len(w) == 0 {
				return "", protocol.Errf(protocol.ErrUnconfigured, "The hero probability of this box has not been set")
			}
			weights[boxID] = append([]uint64(nil), w...)
		}
	}

	req := &RandomnessRequest{
		ID:        uuid.NewString(),
		Owner:     caller,
		Instances: append([]uint64(nil), instanceIDs...),
		Weights:   weights,
	}
	for _, id := range instanceIDs {
		e.states[id] = PendingRandomness
	}
	e.pending[req.ID] = req
	return req.ID, nil
}

// PendingRequests returns a stable snapshot of unfulfilled requests.
func (e *Engine) PendingRequests() []RandomnessRequest {
	out := make([]RandomnessRequest, 0, len(e.pending))
	for _, req := range e.pending {
		cp := *req
		cp.Instances = append([]uint64(nil), req.Instances...)
		cp.Weights = make(map[uint64][]uint64, len(req.Weights))
		for box, w := range req.Weights {
			cp.Weights[box] = append([]uint64(nil), w...)
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// draw maps a seed and instance id onto a weight index. The first eight
// bytes of sha256(seed || instanceID) are reduced modulo the weight sum and
// the index of the first cumulative interval past the draw wins.
func draw(seed []byte, instanceID uint64, weights []uint64) int {
	h := sha256.New()
	h.Write(seed)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], instanceID)
	h.Write(buf[:])
	digest := h.Sum(nil)

	var sum uint64
	for _, w := range weights {
		sum += w
	}
	roll := binary.BigEndian.Uint64(digest[:8]) % sum
	var cum uint64
	for i, w := range weights {
		cum += w
		if roll < cum {
			return i
		}
	}
	return len(weights) - 1
}

// FulfillRandomness consumes a pending request exactly once: each locked
// instance is burned and a hero of the drawn tier is minted to its owner.
// Returns the minted hero ids in instance order.
func (e *Engine) FulfillRandomness(caller, requestID string, seed []byte) ([]uint64, error) {
	if err := e.gate.Require(caller, access.Oracle); err != nil {
		return nil, err
	}
	req, ok := e.pending[requestID]
	if !ok {
		if e.fulfilled[requestID] {
			return nil, protocol.Errf(protocol.ErrAlreadyFulfilled, "request %s already fulfilled", requestID)
		}
		return nil, protocol.Errf(protocol.ErrNotFound, "request %s not found", requestID)
	}
	heroIDs := make([]uint64, 0, len(req.Instances))
	for _, id := range req.Instances {
		tier := draw(seed, id, req.Weights[e.instanceBox[id]]) + 1
		heroID, err := e.heroes.Mint(e.principal, req.Owner, tier)
		if err != nil {
			return nil, err
		}
		if err := e.boxes.Burn(e.principal, id); err != nil {
			return nil, err
		}
		e.states[id] = Opened
		heroIDs = append(heroIDs, heroID)
	}
	delete(e.pending, requestID)
	e.fulfilled[requestID] = true
	return heroIDs, nil
}

// ClearNativeCoin sweeps native coin parked on the engine principal.
func (e *Engine) ClearNativeCoin(caller, to string) error {
	if err := e.gate.Require(caller, access.Manager); err != nil {
		return err
	}
	bal := e.native.BalanceOf(e.principal)
	if !bal.IsPositive() {
		return nil
	}
	return e.native.Transfer(e.principal, to, bal)
}
