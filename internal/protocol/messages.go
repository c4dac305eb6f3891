package protocol

// Operation names carried in OpMsg.Op.
const (
	// Marketplace.
	OpMarketSell     = "MARKET_SELL"
	OpMarketCancel   = "MARKET_CANCEL"
	OpMarketBuy      = "MARKET_BUY"
	OpMarketSetFee   = "MARKET_SET_FEE"
	OpMarketSetAddrs = "MARKET_SET_ADDRS"
	OpMarketListings = "MARKET_LISTINGS"

	// Box engine.
	OpBoxSetInfo         = "BOX_SET_INFO"
	OpBoxAddMaxSupply    = "BOX_ADD_MAX_SUPPLY"
	OpBoxAddWhitelist    = "BOX_ADD_WHITELIST"
	OpBoxRemoveWhitelist = "BOX_REMOVE_WHITELIST"
	OpBoxWhitelisted     = "BOX_WHITELISTED"
	OpBoxBuy             = "BOX_BUY"
	OpBoxOpen            = "BOX_OPEN"
	OpBoxFulfill         = "BOX_FULFILL"
	OpBoxPending         = "BOX_PENDING"
	OpBoxInfo            = "BOX_INFO"
	OpBoxLeftSupply      = "BOX_LEFT_SUPPLY"
	OpBoxUserHourlyLeft  = "BOX_USER_HOURLY_LEFT"
	OpBoxClearNative     = "BOX_CLEAR_NATIVE"
	OpBoxSetAddrs        = "BOX_SET_ADDRS"

	// Shard engine.
	OpShardSetPrices  = "SHARD_SET_PRICES"
	OpShardSpawn      = "SHARD_SPAWN"
	OpShardCraft      = "SHARD_CRAFT"
	OpShardCraftPrice = "SHARD_CRAFT_PRICE"

	// Registries and ledgers.
	OpRegistryTransferBatch = "REGISTRY_TRANSFER_BATCH"
	OpRegistryApproveAll    = "REGISTRY_APPROVE_ALL"
	OpRegistryTokensOf      = "REGISTRY_TOKENS_OF"
	OpTokenApprove          = "TOKEN_APPROVE"
	OpTokenTransfer         = "TOKEN_TRANSFER"
	OpTokenBalance          = "TOKEN_BALANCE"

	// Capability grants.
	OpAccessGrant  = "ACCESS_GRANT"
	OpAccessRevoke = "ACCESS_REVOKE"
)

// OpMsg is the single request frame for every operation. Fields are a
// union; the schema plus the dispatcher decide which ones an op reads.
type OpMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Op              string `json:"op"`
	Caller          string `json:"caller"`
	Value           string `json:"value,omitempty"` // native coin supplied with the call

	// Marketplace batches (parallel arrays).
	Registries []string `json:"registries,omitempty"`
	ItemIDs    []uint64 `json:"item_ids,omitempty"`
	PayAssets  []string `json:"pay_assets,omitempty"`
	Prices     []string `json:"prices,omitempty"`
	FeeBps     uint64   `json:"fee_bps,omitempty"`
	Treasury   string   `json:"treasury,omitempty"`

	// Box engine.
	BoxID         uint64   `json:"box_id,omitempty"`
	Amount        int64    `json:"amount,omitempty"`
	Price         string   `json:"price,omitempty"`
	PayAsset      string   `json:"pay_asset,omitempty"`
	ReceivingAddr string   `json:"receiving_addr,omitempty"`
	HourlyLimit   uint64   `json:"hourly_limit,omitempty"`
	WhitelistOn   bool     `json:"whitelist_on,omitempty"`
	Weights       []uint64 `json:"weights,omitempty"`
	Principals    []string `json:"principals,omitempty"`
	RequestID     string   `json:"request_id,omitempty"`
	Seed          uint64   `json:"seed,omitempty"`

	// Shard engine.
	Tiers      []int    `json:"tiers,omitempty"`
	ShardIDs   []uint64 `json:"shard_ids,omitempty"`
	PriceTable []uint64 `json:"price_table,omitempty"`
	Recipient  string   `json:"recipient,omitempty"`

	// Registry/ledger ops and reads.
	Registry string `json:"registry,omitempty"`
	Asset    string `json:"asset,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Operator string `json:"operator,omitempty"`
	Approved bool   `json:"approved,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Cursor   uint64 `json:"cursor,omitempty"`
	Size     uint64 `json:"size,omitempty"`

	// Capability grants.
	Scope      string `json:"scope,omitempty"`
	Principal  string `json:"principal,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// ResultMsg is the reply frame for every operation.
type ResultMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Ref             string         `json:"ref,omitempty"`
	OK              bool           `json:"ok"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

func Result(ref string, data map[string]any) ResultMsg {
	return ResultMsg{Type: TypeResult, ProtocolVersion: Version, Ref: ref, OK: true, Data: data}
}

func ErrorResult(ref string, err error) ResultMsg {
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		Ref:             ref,
		OK:              false,
		Code:            CodeOf(err),
		Message:         MessageOf(err),
	}
}
