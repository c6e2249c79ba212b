package profiler

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/chain"
	"polymarket-tracker/pkg/types"
)

// DefaultMaxHops bounds how far back a funding trace follows transfers.
const DefaultMaxHops = 3

// Tracer follows USDC transfers backwards from a target wallet to find
// where its funds originated, stopping at known entities (CEX hot
// wallets, bridges) or at the hop limit.
type Tracer struct {
	client   *chain.Client
	registry *chain.EntityRegistry
	maxHops  int
	usdc     []string // lowercase contract addresses
	logger   *slog.Logger
}

// NewTracer creates a funding tracer. registry may be nil for the
// built-in entity table; maxHops <= 0 takes the default.
func NewTracer(client *chain.Client, registry *chain.EntityRegistry, maxHops int, logger *slog.Logger) *Tracer {
	if registry == nil {
		registry = chain.NewEntityRegistry(nil)
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Tracer{
		client:   client,
		registry: registry,
		maxHops:  maxHops,
		usdc: []string{
			strings.ToLower(chain.USDCBridged),
			strings.ToLower(chain.USDCNative),
		},
		logger: logger.With("component", "funding"),
	}
}

// Trace follows the first USDC transfer into the wallet, then the
// source wallet's first inbound transfer, until reaching a known
// entity, an address with no inbound USDC, or maxHops.
func (t *Tracer) Trace(ctx context.Context, address string) types.FundingChain {
	target := strings.ToLower(address)

	var hops []types.FundingTransfer
	current := target
	originAddress := target
	originType := types.OriginUnknown

	for hop := 0; hop < t.maxHops; hop++ {
		if t.registry.IsTerminal(current) {
			originAddress = current
			originType = string(t.registry.Classify(current))
			t.logger.Debug("trace terminated at known entity",
				"address", current, "origin_type", originType)
			break
		}

		transfer := t.FirstUSDCTransfer(ctx, current)
		if transfer == nil {
			t.logger.Debug("no inbound USDC transfer", "address", current, "hop", hop)
			originAddress = current
			break
		}

		hops = append(hops, *transfer)
		originAddress = transfer.From
		current = transfer.From

		if t.registry.IsTerminal(originAddress) {
			originType = string(t.registry.Classify(originAddress))
			t.logger.Debug("trace found terminal entity",
				"address", originAddress, "origin_type", originType)
			break
		}
	}

	return types.FundingChain{
		TargetAddress: target,
		Chain:         hops,
		OriginAddress: originAddress,
		OriginType:    originType,
		HopCount:      len(hops),
		TracedAt:      time.Now().UTC(),
	}
}

// FirstUSDCTransfer returns the earliest USDC transfer into a wallet,
// checking the bridged contract first, then native. Nil when no
// transfer is found or the log query fails.
func (t *Tracer) FirstUSDCTransfer(ctx context.Context, address string) *types.FundingTransfer {
	to := strings.ToLower(address)
	for _, token := range t.usdc {
		if transfer := t.firstTokenTransfer(ctx, to, token); transfer != nil {
			return transfer
		}
	}
	return nil
}

func (t *Tracer) firstTokenTransfer(ctx context.Context, to, token string) *types.FundingTransfer {
	padded := common.BytesToHash(common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32))

	// Topic filter: Transfer signature, any sender, fixed recipient.
	logs, err := t.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		Addresses: []common.Address{common.HexToAddress(token)},
		Topics: [][]common.Hash{
			{chain.TransferTopic},
			nil,
			{padded},
		},
	})
	if err != nil {
		t.logger.Warn("transfer log query failed", "address", to, "token", token, "error", err)
		return nil
	}
	if len(logs) == 0 {
		return nil
	}

	transfer := t.logToTransfer(ctx, logs[0], token)
	return &transfer
}

func (t *Tracer) logToTransfer(ctx context.Context, log ethtypes.Log, token string) types.FundingTransfer {
	from := common.BytesToAddress(log.Topics[1].Bytes()).Hex()
	to := common.BytesToAddress(log.Topics[2].Bytes()).Hex()
	amount := new(big.Int).SetBytes(log.Data)

	ts := time.Now().UTC()
	if block, err := t.client.Block(ctx, log.BlockNumber); err == nil {
		ts = time.Unix(int64(block.Timestamp), 0).UTC()
	}

	symbol := "OTHER"
	for _, usdc := range t.usdc {
		if strings.EqualFold(token, usdc) {
			symbol = "USDC"
			break
		}
	}

	return types.FundingTransfer{
		From:        strings.ToLower(from),
		To:          strings.ToLower(to),
		Amount:      decimal.NewFromBigInt(amount, 0),
		Token:       symbol,
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		Timestamp:   ts,
	}
}

// TraceBatch traces funding chains concurrently, one entry per address.
func (t *Tracer) TraceBatch(ctx context.Context, addresses []string) map[string]types.FundingChain {
	chains := make(map[string]types.FundingChain, len(addresses))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			c := t.Trace(ctx, addr)
			mu.Lock()
			chains[strings.ToLower(addr)] = c
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return chains
}

// SuspiciousnessScore maps a funding chain to [0,1]. CEX origins are
// least suspicious, bridges slightly more, and unknown origins scale
// with how little of the chain could be resolved.
func (t *Tracer) SuspiciousnessScore(c types.FundingChain) float64 {
	if c.IsCEXOrigin() {
		return 0.1
	}
	if c.IsBridgeOrigin() {
		return 0.3
	}
	if c.HopCount == 0 {
		// No inbound transfers at all: a brand-new or contract wallet.
		return 1.0
	}
	if c.HopCount >= t.maxHops {
		return 0.7
	}
	return 0.5 + 0.3*(1.0-float64(c.HopCount)/float64(t.maxHops))
}
