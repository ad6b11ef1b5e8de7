package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"wallet-migrator/internal/chain/abis"
	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"
	walletrpc "wallet-migrator/internal/rpc"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var _ interfaces.ChainClient = (*Client)(nil)

// Client reads ERC-20 state and gas prices from one EVM network
type Client struct {
	network models.NetworkName
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// Dial connects to the network's RPC endpoint, authenticating with the
// descriptor's API key when one is configured.
func Dial(desc models.NetworkDescriptor, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	if desc.RpcEndpoint == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for %s", desc.Name)
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &walletrpc.CustomTransport{
			Base:   http.DefaultTransport,
			ApiKey: desc.ApiKey,
		},
	}

	rpcClient, err := rpc.DialHTTPWithClient(desc.RpcEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client for %s: %w", desc.Name, err)
	}

	limit := rate.Limit(desc.RateLimit)
	if desc.RateLimit <= 0 {
		limit = rate.Inf
	}

	l := logger.With().Str("network", desc.Name.String()).Logger()
	return &Client{
		network:  desc.Name,
		rpc:      rpcClient,
		eth:      ethclient.NewClient(rpcClient),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   &l,
		decimals: make(map[common.Address]uint8),
	}, nil
}

func (c *Client) Network() models.NetworkName {
	return c.network
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.ChainID(ctx)
}

func (c *Client) BlockHead(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.BlockNumber(ctx)
}

// Call runs a read-only eth_call against the latest block
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := abis.ERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	out, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}

	values, err := abis.ERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf %s: %w", token.Hex(), err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// TokenDecimals reads decimals() once per token; the value is immutable.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	c.mu.RLock()
	d, ok := c.decimals[token]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	data, err := abis.ERC20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals: %w", err)
	}

	out, err := c.Call(ctx, token, data)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}

	values, err := abis.ERC20.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("failed to decode decimals %s: %w", token.Hex(), err)
	}
	d, ok = values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result type %T", values[0])
	}

	c.mu.Lock()
	c.decimals[token] = d
	c.mu.Unlock()

	c.logger.Debug().
		Str("token", token.Hex()).
		Uint8("decimals", d).
		Msg("Cached token decimals")
	return d, nil
}

type latestBlock struct {
	BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
}

// SuggestGasFees returns EIP-1559 fee caps: twice the latest base fee plus the
// suggested priority fee.
func (c *Client) SuggestGasFees(ctx context.Context) (*big.Int, *big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var block latestBlock
	if err := c.rpc.CallContext(ctx, &block, "eth_getBlockByNumber", "latest", false); err != nil {
		return nil, nil, fmt.Errorf("failed to get latest block: %w", err)
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get priority fee: %w", err)
	}

	baseFee := new(big.Int)
	if block.BaseFeePerGas != nil {
		baseFee = block.BaseFeePerGas.ToInt()
	}

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return maxFee, tip, nil
}

func (c *Client) Close() {
	c.eth.Close()
}
