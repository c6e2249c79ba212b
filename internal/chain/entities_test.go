package chain

import "testing"

func TestRegistryClassify(t *testing.T) {
	t.Parallel()
	r := NewEntityRegistry(nil)

	// Binance hot wallet, case-insensitive
	if got := r.Classify("0x28C6C06298D514DB089934071355E5743BF21D60"); got != EntityCEXBinance {
		t.Errorf("Classify = %s, want %s", got, EntityCEXBinance)
	}
	if got := r.Classify("0x0000000000000000000000000000000000000001"); got != EntityUnknown {
		t.Errorf("Classify unknown = %s", got)
	}
}

func TestRegistryPredicates(t *testing.T) {
	t.Parallel()
	r := NewEntityRegistry(nil)

	binance := "0x28c6c06298d514db089934071355e5743bf21d60"
	bridge := "0xa0c68c638235ee32657e8f720a23cec1bfc77c77"
	uniswap := "0xe592427a0aece92de3edee1f18e0157c05861564"
	usdc := "0x2791bca1f2de4661ed88a30c99a7a9449aa84174"
	unknown := "0x00000000000000000000000000000000000000ff"

	if !r.IsCEX(binance) || r.IsBridge(binance) {
		t.Error("binance misclassified")
	}
	if !r.IsBridge(bridge) || r.IsCEX(bridge) {
		t.Error("bridge misclassified")
	}
	if !r.IsDEX(uniswap) {
		t.Error("uniswap not a dex")
	}
	if !r.IsContract(usdc) || !r.IsContract(uniswap) {
		t.Error("contracts not recognized")
	}

	// Terminal = CEX or bridge; DEXes and tokens do not stop traces.
	if !r.IsTerminal(binance) || !r.IsTerminal(bridge) {
		t.Error("terminal entities not recognized")
	}
	if r.IsTerminal(uniswap) || r.IsTerminal(usdc) || r.IsTerminal(unknown) {
		t.Error("non-terminal address marked terminal")
	}
}

func TestRegistryCategory(t *testing.T) {
	t.Parallel()
	r := NewEntityRegistry(nil)

	cases := map[string]string{
		"0x28c6c06298d514db089934071355e5743bf21d60": "cex",
		"0xa0c68c638235ee32657e8f720a23cec1bfc77c77": "bridge",
		"0xe592427a0aece92de3edee1f18e0157c05861564": "dex",
		"0x2791bca1f2de4661ed88a30c99a7a9449aa84174": "token",
		"0x794a61358d6845594f94dc1db02a252b5b4814ad": "defi",
		"0x00000000000000000000000000000000000000ff": "unknown",
	}
	for addr, want := range cases {
		if got := r.Category(addr); got != want {
			t.Errorf("Category(%s) = %s, want %s", addr, got, want)
		}
	}
}

func TestRegistryOverrides(t *testing.T) {
	t.Parallel()

	addr := "0xAAAA000000000000000000000000000000000001"
	r := NewEntityRegistry(map[string]EntityType{addr: EntityCEXOther})
	if !r.IsCEX(addr) {
		t.Error("custom entity not applied")
	}
	if !r.IsTerminal(addr) {
		t.Error("custom CEX should be terminal")
	}

	r.Add("0xBBBB000000000000000000000000000000000002", EntityBridgeOther)
	if !r.IsBridge("0xbbbb000000000000000000000000000000000002") {
		t.Error("Add not case-normalized")
	}
	if !r.Remove(addr) {
		t.Error("Remove existing returned false")
	}
	if r.Remove(addr) {
		t.Error("Remove missing returned true")
	}
}

func TestTransferTopic(t *testing.T) {
	t.Parallel()
	// keccak256("Transfer(address,address,uint256)")
	want := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if got := TransferTopic.Hex(); got != want {
		t.Errorf("TransferTopic = %s, want %s", got, want)
	}
}
