package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"herovault.gg/internal/core/access"
	"herovault.gg/internal/core/asset"
	"herovault.gg/internal/core/token"
	"herovault.gg/internal/protocol"
)

type fixture struct {
	market *Market
	shards *asset.Registry
	fun    *token.Ledger
	native *token.Ledger
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	shardGate := access.NewSet("shards", "deployer")
	if err := shardGate.Grant("deployer", "spawner", access.Spawner); err != nil {
		t.Fatalf("grant: %v", err)
	}
	shards := asset.NewRegistry("shards", shardGate)
	fun := token.NewLedger("FUN")
	native := token.NewLedger("NATIVE")
	m := New(Config{
		Gate:       access.NewSet("market", "deployer"),
		Principal:  "market",
		Registries: map[string]Registry{"shards": shards},
		Ledgers:    map[string]Ledger{"FUN": fun},
		Native:     native,
		Treasury:   "treasury",
		FeeBps:     0,
	})
	return &fixture{market: m, shards: shards, fun: fun, native: native}
}

func (f *fixture) spawn(t *testing.T, to string, tiers ...int) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, len(tiers))
	for _, tier := range tiers {
		id, err := f.shards.Mint("spawner", to, tier)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func ref(id uint64) ItemRef { return ItemRef{Registry: "shards", ID: id} }

func TestSetFee(t *testing.T) {
	f := newFixture(t)
	if err := f.market.SetFee("mallory", 2000); protocol.CodeOf(err) != protocol.ErrAccessDenied {
		t.Fatalf("ungated setFee should fail, got %v", err)
	}
	if err := f.market.SetFee("deployer", 6000); protocol.CodeOf(err) != protocol.ErrInvalidAmount {
		t.Fatalf("fee above 50%% should fail, got %v", err)
	}
	if err := f.market.SetFee("deployer", 2000); err != nil {
		t.Fatalf("setFee: %v", err)
	}
	if f.market.FeeBps() != 2000 {
		t.Fatalf("fee = %d", f.market.FeeBps())
	}
}

func TestSetAddrs(t *testing.T) {
	f := newFixture(t)
	if err := f.market.SetAddrs("mallory", "t2"); protocol.CodeOf(err) != protocol.ErrAccessDenied {
		t.Fatalf("ungated setAddrs should fail, got %v", err)
	}
	if err := f.market.SetAddrs("deployer", "t2"); err != nil {
		t.Fatalf("setAddrs: %v", err)
	}
	if f.market.Treasury() != "t2" {
		t.Fatalf("treasury = %s", f.market.Treasury())
	}
}

func TestSellRequiresApproval(t *testing.T) {
	f := newFixture(t)
	ids := f.spawn(t, "addr2", 14)

	err := f.market.Sell("addr2", []ItemRef{ref(ids[0])}, []string{"FUN"}, []decimal.Decimal{d(1)})
	if protocol.CodeOf(err) != protocol.ErrNotAuthorized {
		t.Fatalf("sell without market approval should fail, got %v", err)
	}

	f.shards.SetApprovalForAll("addr2", "market", true)
	if err := f.market.Sell("addr2", []ItemRef{ref(ids[0])}, []string{"FUN"}, []decimal.Decimal{d(1)}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	l, ok := f.market.Listing(ref(ids[0]))
	if !ok || l.Seller != "addr2" || l.PayAsset != "FUN" || !l.Price.Equal(d(1)) {
		t.Fatalf("listing = %+v ok=%v", l, ok)
	}

	// A stranger cannot list someone else's item.
	err = f.market.Sell("mallory", []ItemRef{ref(ids[0])}, []string{"FUN"}, []decimal.Decimal{d(1)})
	if protocol.CodeOf(err) != protocol.ErrNotAuthorized {
		t.Fatalf("stranger sell should fail, got %v", err)
	}

	// Parallel array mismatch.
	err = f.market.Sell("addr2", []ItemRef{ref(ids[0])}, []string{"FUN", "FUN"}, []decimal.Decimal{d(1)})
	if protocol.CodeOf(err) != protocol.ErrInvalidInput {
		t.Fatalf("length mismatch should fail, got %v", err)
	}

	// Re-listing overwrites.
	if err := f.market.Sell("addr2", []ItemRef{ref(ids[0])}, []string{NativeAsset}, []decimal.Decimal{d(10)}); err != nil {
		t.Fatalf("re-sell: %v", err)
	}
	l, _ = f.market.Listing(ref(ids[0]))
	if l.PayAsset != NativeAsset || !l.Price.Equal(d(10)) {
		t.Fatalf("re-listing did not overwrite: %+v", l)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	a3 := f.spawn(t, "addr3", 14)
	a2 := f.spawn(t, "addr2", 11, 12, 13)
	f.shards.SetApprovalForAll("addr3", "market", true)
	f.shards.SetApprovalForAll("addr2", "market", true)

	mustSell := func(caller string, ids []uint64, price int64) {
		refs := make([]ItemRef, len(ids))
		assets := make([]string, len(ids))
		prices := make([]decimal.Decimal, len(ids))
		for i, id := range ids {
			refs[i], assets[i], prices[i] = ref(id), "FUN", d(price+int64(i))
		}
		if err := f.market.Sell(caller, refs, assets, prices); err != nil {
			t.Fatalf("sell: %v", err)
		}
	}
	mustSell("addr3", a3, 5)
	mustSell("addr2", a2, 1)

	// addr2 cannot cancel addr3's listing; the whole batch aborts.
	err := f.market.Cancel("addr2", []ItemRef{ref(a3[0]), ref(a2[2])})
	if protocol.CodeOf(err) != protocol.ErrNotOwner {
		t.Fatalf("want %s, got %v", protocol.ErrNotOwner, err)
	}
	if _, ok := f.market.Listing(ref(a2[2])); !ok {
		t.Fatalf("failed cancel must not delete listings")
	}

	if err := f.market.Cancel("addr2", []ItemRef{ref(a2[1]), ref(a2[2])}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, id := range a2[1:] {
		if _, ok := f.market.Listing(ref(id)); ok {
			t.Fatalf("listing %d should be gone", id)
		}
	}
	if _, ok := f.market.Listing(ref(a2[0])); !ok {
		t.Fatalf("uncancelled listing should remain")
	}
	// Ownership never moved.
	if f.shards.BalanceOf("addr2") != 3 {
		t.Fatalf("cancel must not move items")
	}
}

func TestBuyNativeAndFungible(t *testing.T) {
	f := newFixture(t)
	ids := f.spawn(t, "addr2", 5, 11, 12, 13)
	f.shards.SetApprovalForAll("addr2", "market", true)
	if err := f.market.SetFee("deployer", 2000); err != nil { // 20%
		t.Fatalf("setFee: %v", err)
	}

	refs := []ItemRef{ref(ids[0]), ref(ids[1]), ref(ids[2]), ref(ids[3])}
	assets := []string{"FUN", NativeAsset, "FUN", "FUN"}
	prices := []decimal.Decimal{d(5), d(10), d(2), d(3)}
	if err := f.market.Sell("addr2", refs, assets, prices); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if err := f.fun.Mint("buyer", d(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.native.Mint("buyer", d(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.fun.Approve("buyer", "market", d(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Declared native value must equal the native-priced sum exactly.
	err := f.market.Buy("buyer", []ItemRef{ref(ids[0]), ref(ids[1])}, d(9))
	if protocol.CodeOf(err) != protocol.ErrPriceMismatch {
		t.Fatalf("want %s, got %v", protocol.ErrPriceMismatch, err)
	}

	if err := f.market.Buy("buyer", []ItemRef{ref(ids[0]), ref(ids[1])}, d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// FUN item: price 5, fee 1, seller 4. Native item: price 10, fee 2, seller 8.
	if !f.fun.BalanceOf("addr2").Equal(d(4)) {
		t.Fatalf("seller FUN = %s, want 4", f.fun.BalanceOf("addr2"))
	}
	if !f.fun.BalanceOf("treasury").Equal(d(1)) {
		t.Fatalf("treasury FUN = %s, want 1", f.fun.BalanceOf("treasury"))
	}
	if !f.native.BalanceOf("addr2").Equal(d(8)) {
		t.Fatalf("seller native = %s, want 8", f.native.BalanceOf("addr2"))
	}
	if !f.native.BalanceOf("treasury").Equal(d(2)) {
		t.Fatalf("treasury native = %s, want 2", f.native.BalanceOf("treasury"))
	}
	if !f.native.BalanceOf("buyer").Equal(d(90)) || !f.fun.BalanceOf("buyer").Equal(d(95)) {
		t.Fatalf("buyer balances = %s native / %s fun", f.native.BalanceOf("buyer"), f.fun.BalanceOf("buyer"))
	}

	for _, id := range ids[:2] {
		if owner, _ := f.shards.OwnerOf(id); owner != "buyer" {
			t.Fatalf("item %d owner = %s, want buyer", id, owner)
		}
		if _, ok := f.market.Listing(ref(id)); ok {
			t.Fatalf("listing %d should be cleared", id)
		}
	}
	// Unbought listings untouched.
	if owner, _ := f.shards.OwnerOf(ids[2]); owner != "addr2" {
		t.Fatalf("unbought item moved")
	}
}

func TestBuyBatchAtomicity(t *testing.T) {
	f := newFixture(t)
	ids := f.spawn(t, "addr2", 5, 6)
	f.shards.SetApprovalForAll("addr2", "market", true)
	refs := []ItemRef{ref(ids[0]), ref(ids[1])}
	if err := f.market.Sell("addr2", refs, []string{"FUN", "FUN"}, []decimal.Decimal{d(5), d(5)}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Seller moves item 1 away after listing: the whole batch must abort.
	if err := f.shards.TransferBatch("addr2", "addr2", "elsewhere", []uint64{ids[1]}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := f.fun.Mint("buyer", d(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.fun.Approve("buyer", "market", d(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	err := f.market.Buy("buyer", refs, decimal.Zero)
	if protocol.CodeOf(err) != protocol.ErrNotAuthorized {
		t.Fatalf("stale batch should abort, got %v", err)
	}
	if _, ok := f.market.Listing(ref(ids[0])); !ok {
		t.Fatalf("aborted buy must not delete listings")
	}
	if !f.fun.BalanceOf("buyer").Equal(d(100)) {
		t.Fatalf("aborted buy must not move funds")
	}
	if owner, _ := f.shards.OwnerOf(ids[0]); owner != "addr2" {
		t.Fatalf("aborted buy must not move items")
	}

	// Unlisted item in the batch.
	err = f.market.Buy("buyer", []ItemRef{ref(ids[0]), {Registry: "shards", ID: 99}}, decimal.Zero)
	if protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("unlisted item should abort batch, got %v", err)
	}
}

func TestBuyRejectsDuplicateItems(t *testing.T) {
	f := newFixture(t)
	ids := f.spawn(t, "addr2", 5)
	f.shards.SetApprovalForAll("addr2", "market", true)
	if err := f.market.Sell("addr2", []ItemRef{ref(ids[0])}, []string{NativeAsset}, []decimal.Decimal{d(10)}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if err := f.native.Mint("buyer", d(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Naming one listing twice doubles it into the payment totals; the
	// batch must abort in validation, not after the first settlement.
	err := f.market.Buy("buyer", []ItemRef{ref(ids[0]), ref(ids[0])}, d(20))
	if protocol.CodeOf(err) != protocol.ErrInvalidInput {
		t.Fatalf("duplicate item should fail, got %v", err)
	}
	if _, ok := f.market.Listing(ref(ids[0])); !ok {
		t.Fatalf("failed buy must not delete the listing")
	}
	if !f.native.BalanceOf("buyer").Equal(d(100)) || !f.native.BalanceOf("addr2").Equal(d(0)) {
		t.Fatalf("failed buy must not move funds: buyer=%s seller=%s",
			f.native.BalanceOf("buyer"), f.native.BalanceOf("addr2"))
	}
	if owner, _ := f.shards.OwnerOf(ids[0]); owner != "addr2" {
		t.Fatalf("failed buy must not move items")
	}

	if err := f.market.Buy("buyer", []ItemRef{ref(ids[0])}, d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
}

func TestOperatorSellOnOwnersBehalf(t *testing.T) {
	f := newFixture(t)
	ids := f.spawn(t, "addr2", 5, 6)
	f.shards.SetApprovalForAll("addr2", "market", true)
	f.shards.SetApprovalForAll("addr2", "agent", true)

	// The approved operator is the seller of record, not the owner.
	if err := f.market.Sell("agent", []ItemRef{ref(ids[0]), ref(ids[1])}, []string{"FUN", "FUN"}, []decimal.Decimal{d(10), d(10)}); err != nil {
		t.Fatalf("operator sell: %v", err)
	}
	l, ok := f.market.Listing(ref(ids[0]))
	if !ok || l.Seller != "agent" {
		t.Fatalf("listing = %+v ok=%v, want seller agent", l, ok)
	}

	// Only the seller of record may cancel.
	if err := f.market.Cancel("addr2", []ItemRef{ref(ids[1])}); protocol.CodeOf(err) != protocol.ErrNotOwner {
		t.Fatalf("owner cancel of operator listing should fail, got %v", err)
	}
	if err := f.market.Cancel("agent", []ItemRef{ref(ids[1])}); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}

	if err := f.fun.Mint("buyer", d(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.fun.Approve("buyer", "market", d(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.market.Buy("buyer", []ItemRef{ref(ids[0])}, decimal.Zero); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Proceeds go to the seller of record; the item leaves the owner.
	if !f.fun.BalanceOf("agent").Equal(d(10)) {
		t.Fatalf("agent = %s, want 10", f.fun.BalanceOf("agent"))
	}
	if owner, _ := f.shards.OwnerOf(ids[0]); owner != "buyer" {
		t.Fatalf("item owner = %s, want buyer", owner)
	}
}

func TestFeeConservation(t *testing.T) {
	f := newFixture(t)
	for _, bps := range []uint64{0, 1, 2, 250, 2000, 5000} {
		if err := f.market.SetFee("deployer", bps); err != nil {
			t.Fatalf("setFee(%d): %v", bps, err)
		}
		for _, price := range []int64{0, 1, 3, 7, 10, 9999, 123457} {
			toSeller, fee := f.market.FeeSplit(d(price))
			if !toSeller.Add(fee).Equal(d(price)) {
				t.Fatalf("bps=%d price=%d: %s + %s != price", bps, price, toSeller, fee)
			}
			if fee.IsNegative() || fee.Mul(d(2)).Cmp(d(price)) > 0 {
				t.Fatalf("bps=%d price=%d: fee %s above half", bps, price, fee)
			}
		}
	}
}
