// entities.go classifies Polygon addresses as known entities (CEX hot
// wallets, bridges, DEX routers, token contracts) to terminate funding
// chain traces and score funding origins.
//
// Address sources: Etherscan labels, Arkham Intelligence, official
// protocol documentation.
package chain

import "strings"

func lower(s string) string { return strings.ToLower(s) }

// EntityType classifies a known blockchain address.
type EntityType string

const (
	// Centralized exchanges
	EntityCEXBinance   EntityType = "cex_binance"
	EntityCEXCoinbase  EntityType = "cex_coinbase"
	EntityCEXKraken    EntityType = "cex_kraken"
	EntityCEXOKX       EntityType = "cex_okx"
	EntityCEXKuCoin    EntityType = "cex_kucoin"
	EntityCEXBybit     EntityType = "cex_bybit"
	EntityCEXCryptoCom EntityType = "cex_crypto_com"
	EntityCEXOther     EntityType = "cex_other"

	// Bridges
	EntityBridgePolygon    EntityType = "bridge_polygon"
	EntityBridgeMultichain EntityType = "bridge_multichain"
	EntityBridgeStargate   EntityType = "bridge_stargate"
	EntityBridgeHop        EntityType = "bridge_hop"
	EntityBridgeOther      EntityType = "bridge_other"

	// Decentralized exchanges
	EntityDEXUniswap   EntityType = "dex_uniswap"
	EntityDEXSushiswap EntityType = "dex_sushiswap"
	EntityDEXQuickswap EntityType = "dex_quickswap"
	EntityDEX1inch     EntityType = "dex_1inch"
	EntityDEXOther     EntityType = "dex_other"

	// Token contracts
	EntityTokenUSDC   EntityType = "token_usdc"
	EntityTokenUSDT   EntityType = "token_usdt"
	EntityTokenWETH   EntityType = "token_weth"
	EntityTokenWMATIC EntityType = "token_wmatic"

	// Lending / DeFi
	EntityDeFiAave     EntityType = "defi_aave"
	EntityDeFiCompound EntityType = "defi_compound"
	EntityDeFiOther    EntityType = "defi_other"

	EntityContract EntityType = "contract"
	EntityUnknown  EntityType = "unknown"
)

// IsCEXType reports whether the type is an exchange classification.
func (e EntityType) IsCEXType() bool { return strings.HasPrefix(string(e), "cex") }

// IsBridgeType reports whether the type is a bridge classification.
func (e EntityType) IsBridgeType() bool { return strings.HasPrefix(string(e), "bridge") }

// IsDEXType reports whether the type is a DEX classification.
func (e EntityType) IsDEXType() bool { return strings.HasPrefix(string(e), "dex") }

// defaultEntities maps lowercase Polygon addresses to their classification.
var defaultEntities = map[string]EntityType{
	// Binance
	"0x28c6c06298d514db089934071355e5743bf21d60": EntityCEXBinance,
	"0x21a31ee1afc51d94c2efccaa2092ad1028285549": EntityCEXBinance,
	"0xf89d7b9c864f589bbf53a82105107622b35eaa40": EntityCEXBinance,
	"0xdfd5293d8e347dfe59e90efd55b2956a1343963d": EntityCEXBinance,
	// Coinbase
	"0x503828976d22510aad0339f595f37cc4e4645c80": EntityCEXCoinbase,
	"0x71660c4005ba85c37ccec55d0c4493e66fe775d3": EntityCEXCoinbase,
	"0xa9d1e08c7793af67e9d92fe308d5697fb81d3e43": EntityCEXCoinbase,
	// Kraken
	"0x2910543af39aba0cd09dbb2d50200b3e800a63d2": EntityCEXKraken,
	"0x0a869d79a7052c7f1b55a8ebabbea3420f0d1e13": EntityCEXKraken,
	// OKX
	"0x5041ed759dd4afc3a72b8192c143f72f4724081a": EntityCEXOKX,
	"0x6cc5f688a315f3dc28a7781717a9a798a59fda7b": EntityCEXOKX,
	// KuCoin
	"0xf16e9b0d03470827a95cdfd0cb8a8a3b46969b91": EntityCEXKuCoin,
	"0xd6216fc19db775df9774a6e33526131da7d19a2c": EntityCEXKuCoin,
	// Bybit
	"0xf89e6d82be28f5cc97a9e6a94a16a17e5be73e78": EntityCEXBybit,
	// Crypto.com
	"0x6262998ced04146fa42253a5c0af90ca02dfd2a3": EntityCEXCryptoCom,
	"0x46340b20830761efd32832a74d7169b29feb9758": EntityCEXCryptoCom,

	// Polygon PoS bridge
	"0xa0c68c638235ee32657e8f720a23cec1bfc77c77": EntityBridgePolygon,
	"0x401f6c983ea34274ec46f84d70b31c151321188b": EntityBridgePolygon,
	// Multichain (formerly AnySwap)
	"0x4f3aff3a747fcade12598081e80c6605a8be192f": EntityBridgeMultichain,
	// Stargate
	"0x45a01e4e04f14f7a4a6880d0cbaf2c3c1acfbed4": EntityBridgeStargate,
	// Hop Protocol
	"0x76b22b8c1079a44f1211b0e72c5d26c5e3b3c3c9": EntityBridgeHop,

	// Uniswap V3 (SwapRouter, SwapRouter02)
	"0xe592427a0aece92de3edee1f18e0157c05861564": EntityDEXUniswap,
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": EntityDEXUniswap,
	// SushiSwap
	"0x1b02da8cb0d097eb8d57a175b88c7d8b47997506": EntityDEXSushiswap,
	// QuickSwap
	"0xa5e0829caced8ffdd4de3c43696c57f7d7a678ff": EntityDEXQuickswap,
	// 1inch
	"0x1111111254eeb25477b68fb85ed929f73a960582": EntityDEX1inch,

	// USDC (bridged, native)
	"0x2791bca1f2de4661ed88a30c99a7a9449aa84174": EntityTokenUSDC,
	"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359": EntityTokenUSDC,
	// USDT
	"0xc2132d05d31c914a87c6611c10748aeb04b58e8f": EntityTokenUSDT,
	// WETH
	"0x7ceb23fd6bc0add59e62ac25578270cff1b9f619": EntityTokenWETH,
	// WMATIC
	"0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270": EntityTokenWMATIC,

	// Aave V3 (Pool, PoolAddressesProvider)
	"0x794a61358d6845594f94dc1db02a252b5b4814ad": EntityDeFiAave,
	"0x8145edddf43f50276641b55bd3ad95944510021e": EntityDeFiAave,
}

// EntityRegistry maps addresses to known entity types with constant-time
// lookup. The default table ships compiled in; callers may extend or
// override it. Not safe for concurrent mutation after startup.
type EntityRegistry struct {
	entities map[string]EntityType
}

// NewEntityRegistry builds a registry with the built-in table plus any
// custom overrides.
func NewEntityRegistry(custom map[string]EntityType) *EntityRegistry {
	entities := make(map[string]EntityType, len(defaultEntities)+len(custom))
	for addr, kind := range defaultEntities {
		entities[addr] = kind
	}
	for addr, kind := range custom {
		entities[strings.ToLower(addr)] = kind
	}
	return &EntityRegistry{entities: entities}
}

// Classify returns the entity type for an address, or EntityUnknown.
func (r *EntityRegistry) Classify(address string) EntityType {
	if kind, ok := r.entities[strings.ToLower(address)]; ok {
		return kind
	}
	return EntityUnknown
}

// IsKnown reports whether the address is in the registry.
func (r *EntityRegistry) IsKnown(address string) bool {
	_, ok := r.entities[strings.ToLower(address)]
	return ok
}

// IsCEX reports whether the address is a known exchange hot wallet.
func (r *EntityRegistry) IsCEX(address string) bool {
	return r.Classify(address).IsCEXType()
}

// IsBridge reports whether the address is a known bridge contract.
func (r *EntityRegistry) IsBridge(address string) bool {
	return r.Classify(address).IsBridgeType()
}

// IsDEX reports whether the address is a known DEX contract.
func (r *EntityRegistry) IsDEX(address string) bool {
	return r.Classify(address).IsDEXType()
}

// IsTerminal reports whether a funding chain trace should stop at this
// address. CEX hot wallets and bridges are the practical origin of funds
// from the perspective of on-chain analysis.
func (r *EntityRegistry) IsTerminal(address string) bool {
	kind := r.Classify(address)
	return kind.IsCEXType() || kind.IsBridgeType()
}

// IsContract reports whether the address is a known smart contract
// (DEX router, token contract, or DeFi protocol).
func (r *EntityRegistry) IsContract(address string) bool {
	switch kind := r.Classify(address); {
	case kind.IsDEXType():
		return true
	case strings.HasPrefix(string(kind), "token"):
		return true
	case strings.HasPrefix(string(kind), "defi"):
		return true
	case kind == EntityContract:
		return true
	}
	return false
}

// Category returns a coarse human-readable bucket for an address:
// cex, bridge, dex, token, defi, contract, or unknown.
func (r *EntityRegistry) Category(address string) string {
	kind := r.Classify(address)
	switch {
	case kind.IsCEXType():
		return "cex"
	case kind.IsBridgeType():
		return "bridge"
	case kind.IsDEXType():
		return "dex"
	case strings.HasPrefix(string(kind), "token"):
		return "token"
	case strings.HasPrefix(string(kind), "defi"):
		return "defi"
	case kind == EntityContract:
		return "contract"
	}
	return "unknown"
}

// Add inserts or overrides an entity mapping.
func (r *EntityRegistry) Add(address string, kind EntityType) {
	r.entities[strings.ToLower(address)] = kind
}

// Remove deletes an entity mapping, reporting whether it existed.
func (r *EntityRegistry) Remove(address string) bool {
	key := strings.ToLower(address)
	if _, ok := r.entities[key]; ok {
		delete(r.entities, key)
		return true
	}
	return false
}

// Len returns the number of known entities.
func (r *EntityRegistry) Len() int { return len(r.entities) }
