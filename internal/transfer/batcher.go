package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"wallet-migrator/internal/chain/abis"
	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletUnavailable = errors.New("smart wallet client is not available")
	ErrWalletMismatch    = errors.New("smart wallet address does not match the migrating wallet")
	ErrUserOpReverted    = errors.New("user operation reverted")
)

// Result is the outcome of one TransferAll call
type Result struct {
	Batches []models.TransferBatch
	// Skipped lists networks with nothing to move or no usable snapshot.
	Skipped []models.NetworkName
}

// Confirmed returns the batches that reached confirmation.
func (r *Result) Confirmed() []models.TransferBatch {
	var out []models.TransferBatch
	for _, b := range r.Batches {
		if b.Confirmed() {
			out = append(out, b)
		}
	}
	return out
}

// Failed returns the batches that did not confirm.
func (r *Result) Failed() []models.TransferBatch {
	var out []models.TransferBatch
	for _, b := range r.Batches {
		if !b.Confirmed() {
			out = append(out, b)
		}
	}
	return out
}

// Batcher moves every non-zero token balance from the smart wallet to the
// new wallet, one sponsored batch per network.
type Batcher struct {
	wallet interfaces.SmartWallet
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBatcher(wallet interfaces.SmartWallet, logger *zerolog.Logger) *Batcher {
	return &Batcher{wallet: wallet, logger: logger, now: time.Now}
}

// TransferAll processes networks strictly one after another since the wallet
// has a single active chain. Per-network failures are recorded on the batch;
// an error is returned only when the wallet itself cannot be used.
func (b *Batcher) TransferAll(ctx context.Context, snapshots []models.BalanceSnapshot, oldAddress, newAddress common.Address) (*Result, error) {
	if b.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	if b.wallet.Address() != oldAddress {
		return nil, fmt.Errorf("%w: wallet %s, migrating %s", ErrWalletMismatch, b.wallet.Address().Hex(), oldAddress.Hex())
	}
	if newAddress == (common.Address{}) || newAddress == oldAddress {
		return nil, fmt.Errorf("invalid destination address %s", newAddress.Hex())
	}

	result := &Result{}
	for _, snapshot := range snapshots {
		if !snapshot.HasFunds() {
			result.Skipped = append(result.Skipped, snapshot.Network)
			continue
		}

		batch := b.transferNetwork(ctx, snapshot, newAddress)
		result.Batches = append(result.Batches, batch)
	}

	b.logger.Info().
		Int("batches", len(result.Batches)).
		Int("confirmed", len(result.Confirmed())).
		Int("skipped", len(result.Skipped)).
		Msg("Transfers finished")
	return result, nil
}

func (b *Batcher) transferNetwork(ctx context.Context, snapshot models.BalanceSnapshot, to common.Address) models.TransferBatch {
	batch := models.TransferBatch{
		Network: snapshot.Network,
		ChainID: snapshot.ChainID,
		Status:  models.BatchPending,
	}
	fail := func(err error) models.TransferBatch {
		batch.Status = models.BatchFailed
		batch.Err = err
		b.logger.Error().
			Err(err).
			Str("network", snapshot.Network.String()).
			Str("userOpHash", batch.UserOpHash).
			Msg("Network transfer failed")
		return batch
	}

	transfers, calls, err := BuildTransfers(snapshot, to)
	if err != nil {
		return fail(err)
	}
	batch.Transfers = transfers

	if err := b.wallet.SwitchChain(ctx, snapshot.Network); err != nil {
		return fail(fmt.Errorf("switch chain: %w", err))
	}

	batch.SubmittedAt = b.now()
	userOpHash, err := b.wallet.SendSponsoredBatch(ctx, calls)
	if err != nil {
		return fail(fmt.Errorf("submit batch: %w", err))
	}
	batch.UserOpHash = userOpHash

	receipt, err := b.wallet.WaitForConfirmation(ctx, userOpHash)
	if err != nil {
		return fail(fmt.Errorf("await confirmation: %w", err))
	}
	batch.TxHash = receipt.TxHash
	if !receipt.Success {
		return fail(fmt.Errorf("%w: %s", ErrUserOpReverted, receipt.Reason))
	}

	batch.Status = models.BatchConfirmed
	batch.ConfirmedAt = b.now()
	b.logger.Info().
		Str("network", snapshot.Network.String()).
		Str("txHash", batch.TxHash).
		Int("tokens", len(batch.Transfers)).
		Msg("Network transfer confirmed")
	return batch
}

// BuildTransfers encodes one ERC-20 transfer per non-zero token, ordered by symbol.
func BuildTransfers(snapshot models.BalanceSnapshot, to common.Address) ([]models.TokenTransfer, []models.WalletCall, error) {
	symbols := make([]string, 0, len(snapshot.Balances))
	for symbol, balance := range snapshot.Balances {
		if balance.Amount.Sign() > 0 {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	transfers := make([]models.TokenTransfer, 0, len(symbols))
	calls := make([]models.WalletCall, 0, len(symbols))
	for _, symbol := range symbols {
		balance := snapshot.Balances[symbol]
		amount, err := ToBaseUnits(balance.Amount, balance.Decimals)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", symbol, err)
		}
		data, err := EncodeTransfer(to, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", symbol, err)
		}

		transfers = append(transfers, models.TokenTransfer{
			Token:  balance.Token.Address,
			Symbol: symbol,
			Amount: amount,
		})
		calls = append(calls, models.WalletCall{
			To:    balance.Token.Address,
			Value: new(big.Int),
			Data:  data,
		})
	}
	return transfers, calls, nil
}

// ToBaseUnits converts a whole-unit amount to the token's integer base units
// without passing through floating point.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return abis.ERC20.Pack("transfer", to, amount)
}
