package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"wallet-migrator/internal/chain/abis"
	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/networks"
	"wallet-migrator/internal/rpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

var (
	ErrNoActiveChain     = errors.New("smart account has no active chain")
	ErrBundlerNotSet     = errors.New("no bundler configured for network")
	ErrReceiptTimeout    = errors.New("timed out waiting for user operation receipt")
	ErrChainIDMismatch   = errors.New("RPC endpoint reports an unexpected chain id")
	ErrEmptyBatch        = errors.New("batch has no calls")
	ErrUserOpHashMissing = errors.New("bundler returned no user operation hash")
)

var _ interfaces.SmartWallet = (*SmartAccount)(nil)

// Options configure a SmartAccount
type Options struct {
	EntryPoint     common.Address
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	HTTPTimeout    time.Duration
}

type activeChain struct {
	network   models.NetworkName
	chainID   *big.Int
	client    interfaces.ChainClient
	bundler   *rpc.Client
	paymaster *rpc.Client
}

// SmartAccount drives an ERC-4337 SimpleAccount. Only one chain is active at
// a time; SwitchChain must precede every submission.
type SmartAccount struct {
	address  common.Address
	owner    interfaces.MessageSigner
	registry *networks.Registry
	chains   interfaces.ChainProvider
	opts     Options
	logger   *zerolog.Logger

	mu     sync.Mutex
	active *activeChain
}

func NewSmartAccount(address common.Address, owner interfaces.MessageSigner, registry *networks.Registry, chains interfaces.ChainProvider, opts Options, logger *zerolog.Logger) *SmartAccount {
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = 3 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 5 * time.Minute
	}
	return &SmartAccount{
		address:  address,
		owner:    owner,
		registry: registry,
		chains:   chains,
		opts:     opts,
		logger:   logger,
	}
}

func (a *SmartAccount) Address() common.Address {
	return a.address
}

// SwitchChain makes network the active chain after checking the endpoint
// serves the expected chain id.
func (a *SmartAccount) SwitchChain(ctx context.Context, network models.NetworkName) error {
	desc, ok := a.registry.Get(network)
	if !ok {
		return fmt.Errorf("network %s is not registered", network)
	}
	if desc.BundlerURL == "" {
		return fmt.Errorf("%w: %s", ErrBundlerNotSet, network)
	}

	client, err := a.chains.Get(ctx, network)
	if err != nil {
		return err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id for %s: %w", network, err)
	}
	if chainID.Uint64() != desc.ChainID {
		return fmt.Errorf("%w: %s expected %d got %s", ErrChainIDMismatch, network, desc.ChainID, chainID)
	}

	l := a.logger.With().Str("network", network.String()).Logger()
	next := &activeChain{
		network:   network,
		chainID:   chainID,
		client:    client,
		bundler:   rpc.NewClient(desc.BundlerURL, "", desc.RateLimit, a.opts.MaxRetries, a.opts.RetryDelay, a.opts.HTTPTimeout, &l),
		paymaster: rpc.NewClient(desc.PaymasterURL, "", desc.RateLimit, a.opts.MaxRetries, a.opts.RetryDelay, a.opts.HTTPTimeout, &l),
	}

	a.mu.Lock()
	prev := a.active
	a.active = next
	a.mu.Unlock()

	if prev != nil {
		prev.bundler.Close()
		prev.paymaster.Close()
	}

	a.logger.Info().
		Str("network", network.String()).
		Uint64("chainId", desc.ChainID).
		Msg("Switched active chain")
	return nil
}

func (a *SmartAccount) ActiveChain() (models.NetworkName, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", false
	}
	return a.active.network, true
}

func (a *SmartAccount) current() (*activeChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil, ErrNoActiveChain
	}
	return a.active, nil
}

// SendSponsoredBatch submits calls as one executeBatch user operation paid by
// the network's paymaster and returns the user operation hash.
func (a *SmartAccount) SendSponsoredBatch(ctx context.Context, calls []models.WalletCall) (string, error) {
	if len(calls) == 0 {
		return "", ErrEmptyBatch
	}
	active, err := a.current()
	if err != nil {
		return "", err
	}

	op, err := a.buildUserOperation(ctx, active, calls)
	if err != nil {
		return "", err
	}

	var sponsorship SponsorResult
	if err := active.paymaster.Call(ctx, &sponsorship, "pm_sponsorUserOperation", op, a.opts.EntryPoint); err != nil {
		return "", fmt.Errorf("paymaster rejected user operation: %w", err)
	}
	op.ApplySponsorship(&sponsorship)

	hash, err := op.Hash(a.opts.EntryPoint, active.chainID)
	if err != nil {
		return "", fmt.Errorf("failed to hash user operation: %w", err)
	}
	sig, err := a.owner.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to sign user operation: %w", err)
	}
	op.Signature = sig

	var userOpHash string
	if err := active.bundler.Call(ctx, &userOpHash, "eth_sendUserOperation", op, a.opts.EntryPoint); err != nil {
		return "", fmt.Errorf("bundler rejected user operation: %w", err)
	}
	if userOpHash == "" {
		return "", ErrUserOpHashMissing
	}

	a.logger.Info().
		Str("network", active.network.String()).
		Str("userOpHash", userOpHash).
		Int("calls", len(calls)).
		Msg("Submitted sponsored user operation")
	return userOpHash, nil
}

func (a *SmartAccount) buildUserOperation(ctx context.Context, active *activeChain, calls []models.WalletCall) (*UserOperation, error) {
	dests := make([]common.Address, len(calls))
	datas := make([][]byte, len(calls))
	for i, c := range calls {
		dests[i] = c.To
		datas[i] = c.Data
	}
	callData, err := abis.SimpleAccount.Pack("executeBatch", dests, datas)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeBatch: %w", err)
	}

	nonce, err := a.nonce(ctx, active.client)
	if err != nil {
		return nil, err
	}

	maxFee, tip, err := active.client.SuggestGasFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to price gas: %w", err)
	}

	return &UserOperation{
		Sender:               a.address,
		Nonce:                hexBig(nonce),
		InitCode:             hexutil.Bytes{},
		CallData:             callData,
		CallGasLimit:         hexBig(nil),
		VerificationGasLimit: hexBig(nil),
		PreVerificationGas:   hexBig(nil),
		MaxFeePerGas:         hexBig(maxFee),
		MaxPriorityFeePerGas: hexBig(tip),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            dummySignature,
	}, nil
}

func (a *SmartAccount) nonce(ctx context.Context, client interfaces.ChainClient) (*big.Int, error) {
	data, err := abis.EntryPoint.Pack("getNonce", a.address, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	out, err := client.Call(ctx, a.opts.EntryPoint, data)
	if err != nil {
		return nil, fmt.Errorf("failed to read account nonce: %w", err)
	}
	values, err := abis.EntryPoint.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account nonce: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result type %T", values[0])
	}
	return nonce, nil
}

type userOpReceipt struct {
	UserOpHash string `json:"userOpHash"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	Receipt    struct {
		TransactionHash string `json:"transactionHash"`
	} `json:"receipt"`
}

// WaitForConfirmation polls the active chain's bundler until the user
// operation is included. A reverted operation returns a receipt with
// Success false, not an error.
func (a *SmartAccount) WaitForConfirmation(ctx context.Context, userOpHash string) (*models.UserOpReceipt, error) {
	active, err := a.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(a.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		var receipt *userOpReceipt
		err := active.bundler.Call(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash)
		if err != nil {
			a.logger.Warn().
				Err(err).
				Str("network", active.network.String()).
				Str("userOpHash", userOpHash).
				Msg("Failed to fetch user operation receipt")
		} else if receipt != nil {
			return &models.UserOpReceipt{
				UserOpHash: userOpHash,
				TxHash:     receipt.Receipt.TransactionHash,
				Success:    receipt.Success,
				Reason:     receipt.Reason,
			}, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, userOpHash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
