package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Token is an ERC-20 token tracked on one network
type Token struct {
	Symbol  string         `json:"symbol"`
	Address common.Address `json:"address"`
	// PeggedCurrency is set for stable tokens pegged to a non-USD currency
	// (e.g. "KES"); their USD value needs a rate conversion.
	PeggedCurrency string `json:"peggedCurrency,omitempty"`
}

func (t Token) IsPegged() bool {
	return t.PeggedCurrency != ""
}

// NetworkDescriptor describes one supported chain
type NetworkDescriptor struct {
	Name            NetworkName `json:"name"`
	ChainID         uint64      `json:"chainId"`
	NativeSymbol    string      `json:"nativeSymbol"`
	RpcEndpoint     string      `json:"rpcEndpoint"`
	ApiKey          string      `json:"-"`
	RateLimit       float64     `json:"-"`
	BundlerURL      string      `json:"bundlerUrl,omitempty"`
	PaymasterURL    string      `json:"paymasterUrl,omitempty"`
	ExplorerBaseURL string      `json:"explorerBaseUrl"`
	Tokens          []Token     `json:"tokens"`
}

// PeggedCurrency returns the currency of the first pegged token on the network.
func (n NetworkDescriptor) PeggedCurrency() string {
	for _, t := range n.Tokens {
		if t.IsPegged() {
			return t.PeggedCurrency
		}
	}
	return ""
}

func (n NetworkDescriptor) Token(symbol string) (Token, bool) {
	for _, t := range n.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

func (n NetworkDescriptor) ExplorerURL(txHash string) string {
	return n.ExplorerBaseURL + "/" + txHash
}

// TokenBalance is the balance of one token, in whole units
type TokenBalance struct {
	Token    Token           `json:"token"`
	Decimals uint8           `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
}

// BalanceSnapshot holds balances on one network for one address
type BalanceSnapshot struct {
	Network  NetworkName             `json:"network"`
	ChainID  uint64                  `json:"chainId"`
	Address  common.Address          `json:"address"`
	Balances map[string]TokenBalance `json:"balances"`
	// Total is the USD-equivalent value of Balances.
	Total decimal.Decimal `json:"total"`
	// Approximate is true when a pegged token was added without a rate.
	Approximate bool      `json:"approximate"`
	Err         error     `json:"-"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

func (s BalanceSnapshot) OK() bool {
	return s.Err == nil
}

// HasFunds reports whether any token balance is non-zero.
func (s BalanceSnapshot) HasFunds() bool {
	if s.Err != nil {
		return false
	}
	for _, b := range s.Balances {
		if b.Amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the snapshot.
func (s BalanceSnapshot) Clone() BalanceSnapshot {
	out := s
	out.Balances = make(map[string]TokenBalance, len(s.Balances))
	for k, v := range s.Balances {
		out.Balances[k] = v
	}
	return out
}

type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchConfirmed BatchStatus = "CONFIRMED"
	BatchFailed    BatchStatus = "FAILED"
)

// TokenTransfer is one ERC-20 transfer call inside a batch
type TokenTransfer struct {
	Token  common.Address `json:"token"`
	Symbol string         `json:"symbol"`
	Amount *big.Int       `json:"amount"`
}

// TransferBatch is one submitted batched transaction on one network
type TransferBatch struct {
	Network     NetworkName     `json:"network"`
	ChainID     uint64          `json:"chainId"`
	Transfers   []TokenTransfer `json:"transfers"`
	UserOpHash  string          `json:"userOpHash,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	Status      BatchStatus     `json:"status"`
	Err         error           `json:"-"`
	SubmittedAt time.Time       `json:"submittedAt"`
	ConfirmedAt time.Time       `json:"confirmedAt,omitempty"`
}

func (b TransferBatch) Confirmed() bool {
	return b.Status == BatchConfirmed
}

// DeprecationRecord is the backend's durable record of a completed migration
type DeprecationRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"userId"`
	OldAddress string    `json:"oldAddress"`
	NewAddress string    `json:"newAddress"`
	TxHash     *string   `json:"txHash"`
	TxHashes   []string  `json:"txHashes"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MigrationEvent is emitted on every migration session transition
type MigrationEvent struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	OldAddress  string    `json:"oldAddress"`
	NewAddress  string    `json:"newAddress"`
	Step        string    `json:"step"`
	FailureKind string    `json:"failureKind,omitempty"`
	Error       string    `json:"error,omitempty"`
	TxHashes    []string  `json:"txHashes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// WalletCall is one call executed by the smart account
type WalletCall struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}

// UserOpReceipt is the outcome of an included user operation
type UserOpReceipt struct {
	UserOpHash string `json:"userOpHash"`
	TxHash     string `json:"txHash"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
}
