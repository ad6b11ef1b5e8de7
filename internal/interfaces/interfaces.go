package interfaces

import (
	"context"
	"math/big"

	"wallet-migrator/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// EventEmitter defines the interface for emitting migration events
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.MigrationEvent) error
}

// ChainReader reads token state from one network
type ChainReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	// TokenDecimals returns the token's on-chain decimals.
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	BlockHead(ctx context.Context) (uint64, error)
}

// ChainClient is a ChainReader that can also run calls and price gas
type ChainClient interface {
	ChainReader
	ChainID(ctx context.Context) (*big.Int, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	SuggestGasFees(ctx context.Context) (maxFee, maxPriorityFee *big.Int, err error)
}

// ChainProvider hands out a client per registered network
type ChainProvider interface {
	Get(ctx context.Context, network models.NetworkName) (ChainClient, error)
}

// MessageSigner signs EIP-191 personal messages with the wallet owner's key
type MessageSigner interface {
	Address() common.Address
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SmartWallet is a single-chain-active smart account able to submit
// sponsored batched calls
type SmartWallet interface {
	Address() common.Address
	SwitchChain(ctx context.Context, network models.NetworkName) error
	ActiveChain() (models.NetworkName, bool)
	SendSponsoredBatch(ctx context.Context, calls []models.WalletCall) (string, error)
	WaitForConfirmation(ctx context.Context, userOpHash string) (*models.UserOpReceipt, error)
}
